// Package usbreader drives a USB NFC reader through libnfc and freefare.
//
// Desktop readers have no session concept, so Reader emulates one: a
// session polls the field until a tag appears, reports it, and then waits
// for its owner to invalidate it. Only NTAG21x and MIFARE Ultralight tags
// are supported.
package usbreader

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"

	davinfc "github.com/dotside-studios/davi-pay/nfc"
)

const (
	DefaultPollInterval   = 250 * time.Millisecond
	DefaultSessionTimeout = 60 * time.Second

	// DeviceEnumRetries is how often device listing is attempted.
	DeviceEnumRetries = 3

	// maxPollErrors ends a session after this many consecutive poll failures.
	maxPollErrors = 5
)

// Invalidation reasons reported by this reader.
const (
	ReasonFirstRead = "Session is invalidated after first NDEF tag read"
	ReasonTimeout   = "Session timeout"
)

// ErrClosed is returned by Begin after Close.
var ErrClosed = errors.New("reader closed")

// Poller finds tags in the reader's field.
type Poller interface {
	Poll() ([]PageTag, error)
	Close() error
}

// ListDevices returns the connection strings of attached readers.
func ListDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < DeviceEnumRetries; i++ {
		devices, err = nfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", DeviceEnumRetries, err)
}

// libnfcPoller polls a libnfc device through freefare.
type libnfcPoller struct {
	dev nfc.Device
}

func (p *libnfcPoller) Poll() ([]PageTag, error) {
	tags, err := freefare.GetTags(p.dev)
	if err != nil {
		return nil, err
	}
	var out []PageTag
	for _, t := range tags {
		if ul, ok := t.(freefare.UltralightTag); ok {
			out = append(out, ul)
			continue
		}
		log.Printf("[usb] Ignoring unsupported tag %s (%T)", t.UID(), t)
	}
	return out, nil
}

func (p *libnfcPoller) Close() error { return p.dev.Close() }

// Option configures a Reader.
type Option func(*Reader)

// WithPollInterval sets how often the field is polled.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reader) { r.pollInterval = d }
}

// WithSessionTimeout sets how long a session waits for a tag.
func WithSessionTimeout(d time.Duration) Option {
	return func(r *Reader) { r.sessionTimeout = d }
}

// Reader is a USB reader implementing nfc.Reader.
type Reader struct {
	poller         Poller
	name           string
	pollInterval   time.Duration
	sessionTimeout time.Duration

	hw sync.Mutex // serializes exchanges with the device

	mu     sync.Mutex
	closed bool
	active *usbSession
}

var _ davinfc.Reader = (*Reader)(nil)

// Open connects to the reader at connstring, or the first attached reader
// when connstring is empty.
func Open(connstring string, opts ...Option) (*Reader, error) {
	if connstring == "" {
		devices, err := ListDevices()
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, errors.New("no NFC devices found")
		}
		connstring = devices[0]
		log.Printf("[usb] No device specified, using first available: %s", connstring)
	}

	dev, err := nfc.Open(connstring)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", connstring, err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to initialize device %s: %w", connstring, err)
	}
	log.Printf("[usb] Connected to %s", dev)
	return NewReader(&libnfcPoller{dev: dev}, dev.String(), opts...), nil
}

// NewReader creates a Reader polling p.
func NewReader(p Poller, name string, opts ...Option) *Reader {
	r := &Reader{
		poller:         p,
		name:           name,
		pollInterval:   DefaultPollInterval,
		sessionTimeout: DefaultSessionTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the device name.
func (r *Reader) Name() string { return r.name }

func (r *Reader) ReadingAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// Begin starts polling for a tag.
func (r *Reader) Begin(opts davinfc.SessionOptions, events chan<- davinfc.Event) (davinfc.ReaderSession, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	prev := r.active
	s := &usbSession{reader: r, opts: opts, events: events, stop: make(chan struct{})}
	r.active = s
	r.mu.Unlock()

	if prev != nil {
		prev.end("")
	}
	if opts.AlertMessage != "" {
		log.Printf("[usb] %s", opts.AlertMessage)
	}
	s.deliver(davinfc.Event{Kind: davinfc.EventActive})
	go s.run()
	return s, nil
}

// Close ends any open session and releases the device.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	s := r.active
	r.active = nil
	r.mu.Unlock()

	if s != nil {
		s.end("")
	}
	r.hw.Lock()
	defer r.hw.Unlock()
	return r.poller.Close()
}

func (r *Reader) poll() ([]PageTag, error) {
	r.hw.Lock()
	defer r.hw.Unlock()
	return r.poller.Poll()
}

func (r *Reader) read(tag PageTag) (*davinfc.NDEFMessage, error) {
	r.hw.Lock()
	defer r.hw.Unlock()
	return readMessage(tag)
}

func (r *Reader) release(s *usbSession) {
	r.mu.Lock()
	if r.active == s {
		r.active = nil
	}
	r.mu.Unlock()
}
