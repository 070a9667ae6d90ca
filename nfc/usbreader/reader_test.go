package usbreader

import (
	"errors"
	"sync"
	"testing"
	"time"

	davinfc "github.com/dotside-studios/davi-pay/nfc"
)

const testTimeout = 2 * time.Second

func newTestReader(p Poller, opts ...Option) *Reader {
	opts = append([]Option{WithPollInterval(time.Millisecond)}, opts...)
	return NewReader(p, "test reader", opts...)
}

func waitEnded(t *testing.T, op *davinfc.Operation) davinfc.Result {
	t.Helper()
	select {
	case <-op.Ended():
		return op.Result()
	case <-time.After(testTimeout):
		t.Fatal("session did not end")
	}
	return davinfc.Result{}
}

func TestReadSession(t *testing.T) {
	mem := newMemTag("04AABBCC")
	tag := &ntagTag{tag: mem, hw: new(sync.Mutex)}
	if err := tag.WriteNDEF(t.Context(), davinfc.NewTextMessage("recipient=MerchantA&amount=3.50&coinType=SUI", "en")); err != nil {
		t.Fatal(err)
	}

	reader := newTestReader(&fakePoller{tags: []PageTag{mem}, after: 3})
	session := davinfc.NewSession(reader)
	op, err := session.StartRead()
	if err != nil {
		t.Fatalf("StartRead() error = %v", err)
	}

	res := waitEnded(t, op)
	if res.Err != nil {
		t.Fatalf("read error = %v", res.Err)
	}
	if res.Intent.RecipientLabel != "MerchantA" || res.Intent.Amount != "3.50" {
		t.Errorf("intent = %+v", res.Intent)
	}
	if _, active := session.Active(); active {
		t.Error("session still active")
	}
}

func TestReadSessionBlankTag(t *testing.T) {
	mem := newMemTag("04")
	mem.pages[userStartPage] = [4]byte{tlvTerminator}

	session := davinfc.NewSession(newTestReader(&fakePoller{tags: []PageTag{mem}}))
	op, err := session.StartRead()
	if err != nil {
		t.Fatalf("StartRead() error = %v", err)
	}
	res := waitEnded(t, op)
	if !errors.Is(res.Err, davinfc.ErrInvalidData) {
		t.Errorf("err = %v, want invalid data", res.Err)
	}
}

func TestWriteSession(t *testing.T) {
	mem := newMemTag("04AABBCC")
	session := davinfc.NewSession(newTestReader(&fakePoller{tags: []PageTag{mem}, after: 2}))

	text := "recipient=shop&merchant=&amount=1&coinType=SUI"
	op, err := session.StartWrite(davinfc.NewTagWritePayload(text, ""))
	if err != nil {
		t.Fatalf("StartWrite() error = %v", err)
	}
	res := waitEnded(t, op)
	if res.Err != nil || !res.Written || res.Presumed {
		t.Fatalf("result = %+v", res)
	}

	msg, err := readMessage(mem)
	if err != nil {
		t.Fatalf("readMessage() error = %v", err)
	}
	record, _ := msg.FirstRecord()
	if got, _ := record.PayloadText(); got != text {
		t.Errorf("tag holds %q, want %q", got, text)
	}
}

func TestSessionTimeout(t *testing.T) {
	reader := newTestReader(&fakePoller{}, WithSessionTimeout(20*time.Millisecond))
	op, err := davinfc.NewSession(reader).StartRead()
	if err != nil {
		t.Fatalf("StartRead() error = %v", err)
	}
	res := waitEnded(t, op)
	if davinfc.GetErrorCode(res.Err) != davinfc.ErrCodeSessionFailed {
		t.Errorf("err = %v, want session failure", res.Err)
	}
}

func TestPollErrorsEndSession(t *testing.T) {
	reader := newTestReader(&fakePoller{err: errors.New("usb stall")})
	op, err := davinfc.NewSession(reader).StartRead()
	if err != nil {
		t.Fatalf("StartRead() error = %v", err)
	}
	res := waitEnded(t, op)
	if res.Err == nil {
		t.Fatal("expected error after repeated poll failures")
	}
}

func TestOwnerInvalidateStopsPolling(t *testing.T) {
	poller := &fakePoller{after: 1 << 30}
	session := davinfc.NewSession(newTestReader(poller))
	op, err := session.StartRead()
	if err != nil {
		t.Fatalf("StartRead() error = %v", err)
	}
	session.Invalidate()
	if res := waitEnded(t, op); !res.Cancelled {
		t.Errorf("result = %+v, want cancelled", res)
	}
}

func TestClose(t *testing.T) {
	poller := &fakePoller{after: 1 << 30}
	reader := newTestReader(poller)
	op, err := davinfc.NewSession(reader).StartRead()
	if err != nil {
		t.Fatalf("StartRead() error = %v", err)
	}

	if err := reader.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	waitEnded(t, op)
	if reader.ReadingAvailable() {
		t.Error("ReadingAvailable() = true after Close")
	}
	if !poller.closed {
		t.Error("poller not closed")
	}
	if _, err := reader.Begin(davinfc.SessionOptions{}, make(chan davinfc.Event, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Begin() after Close error = %v, want ErrClosed", err)
	}
}
