package nfc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/dotside-studios/davi-pay/payload"
)

// eventBuffer is the capacity of a session's hardware event channel.
const eventBuffer = 8

// Mode is what an active session is for.
type Mode int

const (
	ModeRead Mode = iota + 1
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	}
	return "idle"
}

// Alerts are the messages shown by the platform during a session.
type Alerts struct {
	Scan         string
	Write        string
	ReadSuccess  string
	WriteSuccess string
	Presumed     string
}

// DefaultAlerts are used by NewSession.
var DefaultAlerts = Alerts{
	Scan:         "Hold your phone near the payment tag",
	Write:        "Hold your phone near a tag to write the payment",
	ReadSuccess:  "Payment tag read",
	WriteSuccess: "Payment tag written",
	Presumed:     "Tag may have been written",
}

// Result is the outcome of one read or write session.
type Result struct {
	// Intent is the decoded payment of a successful read.
	Intent payload.TransferIntent
	// Raw is the text read from the tag, when one was read.
	Raw string

	// Written is set when a write session wrote the tag.
	Written bool
	// Presumed is set when Written was inferred from a cancellation that
	// arrived while the write was outstanding.
	Presumed bool

	// Cancelled is set when the user dismissed the session.
	Cancelled bool

	// Message is a short human-readable summary.
	Message string

	// Err is the failure, if any. Decode failures are *payload.DecodeError,
	// everything else is *NFCError.
	Err error
}

// Operation is the caller's side of one hardware session. It resolves
// exactly once, then ends when the hardware session has been invalidated.
type Operation struct {
	ID   string
	Mode Mode

	done   chan struct{}
	ended  chan struct{}
	result Result

	resolveOnce sync.Once
	endOnce     sync.Once
}

func newOperation(mode Mode) *Operation {
	return &Operation{
		ID:    uuid.New().String(),
		Mode:  mode,
		done:  make(chan struct{}),
		ended: make(chan struct{}),
	}
}

// Done is closed once the result is available.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Ended is closed once the session is back to idle. It always closes after Done.
func (o *Operation) Ended() <-chan struct{} { return o.ended }

// Result returns the outcome. Only valid after Done is closed.
func (o *Operation) Result() Result {
	<-o.done
	return o.result
}

// Wait blocks until the operation resolves or ctx is done.
func (o *Operation) Wait(ctx context.Context) (Result, error) {
	select {
	case <-o.done:
		return o.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (o *Operation) resolve(r Result) bool {
	resolved := false
	o.resolveOnce.Do(func() {
		o.result = r
		close(o.done)
		resolved = true
	})
	return resolved
}

func (o *Operation) resolved() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

func (o *Operation) end() {
	o.endOnce.Do(func() { close(o.ended) })
}

// activeSession is the ownership token for the hardware reader. Only the
// goroutine running Session.run touches its mutable fields.
type activeSession struct {
	op      *Operation
	hw      ReaderSession
	events  chan Event
	payload TagWritePayload

	writeDone     chan error
	tagHandled    bool
	writeInFlight bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Session owns the NFC reader and runs at most one hardware session at a
// time. Starting a session while one is active fails with ErrSessionBusy
// rather than queuing.
//
// Hardware callbacks for one session are processed by a single goroutine,
// in order. A read session handles the first detected tag only; a write
// session reports at most one write outcome.
//
// Example:
//
//	session := nfc.NewSession(reader)
//	op, err := session.StartRead()
//	if err != nil {
//	    return err
//	}
//	res, _ := op.Wait(ctx)
type Session struct {
	reader Reader

	mu      sync.Mutex
	current *activeSession
	stale   ReaderSession
	alerts  Alerts
}

// NewSession creates a Session driving reader.
func NewSession(reader Reader) *Session {
	return &Session{reader: reader, alerts: DefaultAlerts}
}

// SetAlerts replaces the platform alert messages.
func (s *Session) SetAlerts(a Alerts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = a
}

// Active reports the mode of the current session, if any.
func (s *Session) Active() (Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0, false
	}
	return s.current.op.Mode, true
}

// StartRead opens a read session. The decoded intent, or the reason none
// could be decoded, is the operation's result.
func (s *Session) StartRead() (*Operation, error) {
	return s.start(ModeRead, TagWritePayload{})
}

// StartWrite opens a write session that writes p to the first tag presented.
func (s *Session) StartWrite(p TagWritePayload) (*Operation, error) {
	if p.Text == "" {
		return nil, newError(ErrInvalidData, "StartWrite", errors.New("payload text is empty"))
	}
	return s.start(ModeWrite, p)
}

// Invalidate asks the hardware to close the current session, as if the user
// dismissed it. The session returns to idle when the hardware confirms.
func (s *Session) Invalidate() {
	s.mu.Lock()
	as := s.current
	s.mu.Unlock()
	if as == nil {
		return
	}
	log.Printf("[session] %s: invalidation requested", as.op.ID)
	as.hw.Invalidate("")
}

func (s *Session) start(mode Mode, p TagWritePayload) (*Operation, error) {
	op := "StartRead"
	alert := s.alerts.Scan
	if mode == ModeWrite {
		op = "StartWrite"
		alert = s.alerts.Write
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return nil, newError(ErrSessionBusy, op, nil)
	}
	if !s.reader.ReadingAvailable() {
		return nil, newError(ErrReaderUnavailable, op, nil)
	}
	if s.stale != nil {
		s.stale.Invalidate("")
		s.stale = nil
	}

	events := make(chan Event, eventBuffer)
	hw, err := s.reader.Begin(SessionOptions{
		InvalidateAfterFirstRead: mode == ModeRead,
		AlertMessage:             alert,
	}, events)
	if err != nil {
		return nil, newError(ErrSessionFailed, op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	as := &activeSession{
		op:        newOperation(mode),
		hw:        hw,
		events:    events,
		payload:   p,
		writeDone: make(chan error, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.current = as

	log.Printf("[session] %s: %s session started", as.op.ID, mode)
	go s.run(as)
	return as.op, nil
}

func (s *Session) run(as *activeSession) {
	for {
		select {
		case ev, ok := <-as.events:
			if !ok {
				log.Printf("[session] %s: reader closed events without invalidating", as.op.ID)
				s.finish(as, Result{Err: newError(ErrSessionFailed, "session", errors.New("reader stopped reporting"))}, true)
				return
			}
			switch ev.Kind {
			case EventActive:
				log.Printf("[session] %s: hardware session active", as.op.ID)
			case EventTagDetected:
				if as.tagHandled {
					log.Printf("[session] %s: ignoring additional tag", as.op.ID)
					continue
				}
				as.tagHandled = true
				if as.op.Mode == ModeRead {
					s.handleRead(as, ev)
				} else {
					s.handleWrite(as, ev)
				}
			case EventInvalidated:
				s.finish(as, s.invalidationResult(as, ev.Reason), false)
				return
			}
		case err := <-as.writeDone:
			s.handleWriteDone(as, err)
		}
	}
}

// finish returns the session to idle, then resolves the operation if it is
// still pending and ends it.
func (s *Session) finish(as *activeSession, r Result, stale bool) {
	as.cancel()

	s.mu.Lock()
	if s.current == as {
		s.current = nil
	}
	if stale {
		s.stale = as.hw
	}
	s.mu.Unlock()

	if as.op.resolve(r) && r.Err != nil {
		log.Printf("[session] %s: %v", as.op.ID, r.Err)
	}
	as.op.end()
	log.Printf("[session] %s: session ended", as.op.ID)
}

func (s *Session) handleRead(as *activeSession, ev Event) {
	res := readResult(ev.Messages)
	as.op.resolve(res)
	if res.Err != nil {
		log.Printf("[session] %s: read failed: %v", as.op.ID, res.Err)
		as.hw.InvalidateWithError(res.Message)
		return
	}
	log.Printf("[session] %s: read %s", as.op.ID, res.Intent)
	as.hw.Invalidate(s.alerts.ReadSuccess)
}

func readResult(messages []*NDEFMessage) Result {
	if len(messages) == 0 {
		err := newError(ErrInvalidData, "ReadTag", errors.New("no NDEF message on tag"))
		return Result{Err: err, Message: err.Error()}
	}
	record, ok := messages[0].FirstRecord()
	if !ok {
		err := newError(ErrInvalidData, "ReadTag", errors.New("NDEF message has no records"))
		return Result{Err: err, Message: err.Error()}
	}
	text, err := record.PayloadText()
	if err != nil {
		return Result{Err: err, Message: err.Error()}
	}
	intent, err := payload.Decode(text)
	if err != nil {
		return Result{Raw: text, Err: err, Message: err.Error()}
	}
	return Result{Intent: intent, Raw: text, Message: "Payment tag read"}
}

func (s *Session) handleWrite(as *activeSession, ev Event) {
	fail := func(err error) {
		log.Printf("[session] %s: write failed: %v", as.op.ID, err)
		as.op.resolve(Result{Err: err, Message: err.Error()})
		as.hw.InvalidateWithError(err.Error())
	}

	tag := ev.Tag
	if tag == nil {
		fail(newError(ErrInvalidData, "WriteTag", errors.New("no tag connected")))
		return
	}

	status, capacity, err := tag.QueryNDEFStatus(as.ctx)
	if err != nil {
		fail(newError(ErrSessionFailed, "QueryNDEFStatus", err))
		return
	}

	switch status {
	case NDEFNotSupported:
		fail(newError(ErrTagNotNDEF, "WriteTag", nil))
		return
	case NDEFReadOnly:
		fail(newError(ErrTagReadOnly, "WriteTag", nil))
		return
	}

	if capacity <= 0 {
		log.Printf("[session] %s: tag %s reported no capacity, writing without a size check", as.op.ID, tag.UID())
	}
	if size := as.payload.Size(); capacity > 0 && size > capacity {
		fail(&NFCError{
			Code:    ErrCodeCapacityExceeded,
			Op:      "WriteTag",
			Message: fmt.Sprintf("payload is %d bytes, tag holds %d", size, capacity),
		})
		return
	}

	msg := as.payload.Message()
	as.writeInFlight = true
	log.Printf("[session] %s: writing %d bytes to tag %s", as.op.ID, as.payload.Size(), tag.UID())
	go func() {
		as.writeDone <- tag.WriteNDEF(as.ctx, msg)
	}()
}

func (s *Session) handleWriteDone(as *activeSession, err error) {
	as.writeInFlight = false
	if as.op.resolved() {
		return
	}
	if err != nil {
		werr := newError(ErrWriteFailed, "WriteNDEF", err)
		log.Printf("[session] %s: %v", as.op.ID, werr)
		as.op.resolve(Result{Err: werr, Message: werr.Error()})
		as.hw.InvalidateWithError(werr.Error())
		return
	}
	log.Printf("[session] %s: tag written", as.op.ID)
	as.op.resolve(Result{Written: true, Message: s.alerts.WriteSuccess})
	as.hw.Invalidate(s.alerts.WriteSuccess)
}

// invalidationResult turns an invalidation reason into the operation's
// result. It only matters when the operation has not resolved yet.
func (s *Session) invalidationResult(as *activeSession, reason string) Result {
	class := Classify(reason, as.writeInFlight)
	log.Printf("[session] %s: invalidated (%s): %q", as.op.ID, class, reason)

	switch class {
	case InvalidationClosed, InvalidationUserCancelled:
		return Result{Cancelled: true, Message: "Scan cancelled"}
	case InvalidationWritePresumed:
		return Result{Written: true, Presumed: true, Message: s.alerts.Presumed}
	case InvalidationTransient:
		err := &NFCError{Code: ErrCodeTransient, Op: "session", Message: ErrTransient.Message, Cause: errors.New(reason)}
		return Result{Err: err, Message: err.Error()}
	}
	return Result{Err: &NFCError{Code: ErrCodeSessionFailed, Op: "session", Message: reason}, Message: reason}
}
