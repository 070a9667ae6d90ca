package usbreader

import (
	"errors"
	"sync"
)

// memTag is an in-memory NTAG215.
type memTag struct {
	uid string

	mu        sync.Mutex
	pages     [135][4]byte
	writes    int
	failWrite int // fail the nth write, 1-based; 0 never
	connected bool
}

func newMemTag(uid string) *memTag {
	t := &memTag{uid: uid}
	t.pages[ccPage] = [4]byte{ccMagic, 0x10, 0x3E, 0x00}
	t.pages[userStartPage] = [4]byte{tlvNDEF, 0x00, tlvTerminator, 0x00}
	return t
}

func (t *memTag) UID() string { return t.uid }

func (t *memTag) Connect() error {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *memTag) Disconnect() error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	return nil
}

func (t *memTag) ReadPage(page byte) ([4]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return [4]byte{}, errors.New("not connected")
	}
	if int(page) >= len(t.pages) {
		return [4]byte{}, errors.New("page out of range")
	}
	return t.pages[page], nil
}

func (t *memTag) WritePage(page byte, data [4]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return errors.New("not connected")
	}
	t.writes++
	if t.failWrite == t.writes {
		return errors.New("tag removed")
	}
	t.pages[page] = data
	return nil
}

func (t *memTag) Writes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes
}

// fakePoller returns tags once a given number of polls have happened.
type fakePoller struct {
	mu     sync.Mutex
	tags   []PageTag
	after  int
	polls  int
	err    error
	closed bool
}

func (p *fakePoller) Poll() ([]PageTag, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if p.err != nil {
		return nil, p.err
	}
	if p.polls <= p.after {
		return nil, nil
	}
	return p.tags, nil
}

func (p *fakePoller) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
