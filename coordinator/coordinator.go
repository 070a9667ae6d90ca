// Package coordinator is the single source of truth for what the agent is
// doing right now: connecting a wallet, scanning a tag, waiting for the user
// to confirm, or processing a transfer.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dotside-studios/davi-pay/clock"
	"github.com/dotside-studios/davi-pay/nfc"
	"github.com/dotside-studios/davi-pay/payload"
	"github.com/dotside-studios/davi-pay/transfer"
)

var (
	// ErrClosed is returned by methods called after Close.
	ErrClosed = errors.New("coordinator closed")
	// ErrInvalidPhase is returned when an action does not apply to the
	// current phase.
	ErrInvalidPhase = errors.New("action not allowed now")
	// ErrWalletNoAddress is reported when a wallet connects without an
	// address.
	ErrWalletNoAddress = errors.New("wallet returned no address")
)

// subscriberBuffer is the state channel capacity of one subscriber.
const subscriberBuffer = 16

// Scanner opens NFC read sessions. *nfc.Session implements it.
type Scanner interface {
	StartRead() (*nfc.Operation, error)
	Invalidate()
}

// Submitter runs a transfer to completion. *transfer.Pipeline implements it.
type Submitter interface {
	Submit(ctx context.Context, intent payload.TransferIntent, sender string) (*transfer.Attempt, error)
}

// DefaultScanRetry retries a transient scan failure twice, one second apart.
var DefaultScanRetry = transfer.RetryPolicy{Attempts: 2, Pacing: time.Second}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for scan retry pacing.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithScanRetry replaces DefaultScanRetry. Attempts may be zero.
func WithScanRetry(rp transfer.RetryPolicy) Option {
	return func(co *Coordinator) {
		if rp.Attempts >= 0 {
			co.scanRetry = rp
		}
	}
}

// WithSender starts the coordinator with a connected wallet address.
func WithSender(addr string) Option {
	return func(co *Coordinator) { co.state.Sender = addr }
}

// Coordinator serializes every action and every asynchronous completion onto
// one goroutine that owns the state. Methods block until their action has
// been applied and return ErrInvalidPhase when it does not apply.
//
// Example:
//
//	c := coordinator.New(session, pipeline, coordinator.WithSender(addr))
//	defer c.Close()
//	states, cancel := c.Subscribe()
//	defer cancel()
//	_ = c.StartScan()
type Coordinator struct {
	scanner   Scanner
	submitter Submitter
	clock     clock.Clock
	scanRetry transfer.RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	done   chan struct{}

	// Owned by the loop goroutine.
	state    State
	gen      uint64
	subs     map[int]chan State
	nextSub  int
	lastScan *nfc.Operation

	mu       sync.RWMutex
	snapshot State
}

// New creates a Coordinator and starts its loop.
func New(scanner Scanner, submitter Submitter, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		scanner:   scanner,
		submitter: submitter,
		clock:     clock.NewReal(),
		scanRetry: DefaultScanRetry,
		ctx:       ctx,
		cancel:    cancel,
		cmds:      make(chan func()),
		done:      make(chan struct{}),
		subs:      make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snapshot = c.state
	go c.loop()
	return c
}

// Close stops the loop and dismisses any open scan. In-flight transfers are
// abandoned.
func (c *Coordinator) Close() {
	_ = c.do(func() error {
		if c.state.Phase == PhaseScanning {
			c.scanner.Invalidate()
		}
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		return nil
	})
	c.cancel()
	<-c.done
}

func (c *Coordinator) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.ctx.Done():
			return
		}
	}
}

// do runs fn on the loop and waits for it.
func (c *Coordinator) do(fn func() error) error {
	result := make(chan error, 1)
	select {
	case c.cmds <- func() { result <- fn() }:
		return <-result
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// post queues fn on the loop without waiting.
func (c *Coordinator) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.ctx.Done():
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Subscribe returns a channel of state changes, starting with the current
// state. Slow subscribers miss intermediate states but always get the
// latest. The channel is closed by cancel or Close.
func (c *Coordinator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberBuffer)
	var id int
	err := c.do(func() error {
		id = c.nextSub
		c.nextSub++
		c.subs[id] = ch
		ch <- c.state
		return nil
	})
	if err != nil {
		close(ch)
		return ch, func() {}
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			_ = c.do(func() error {
				if sub, ok := c.subs[id]; ok {
					close(sub)
					delete(c.subs, id)
				}
				return nil
			})
		})
	}
}

func (c *Coordinator) setState(s State) {
	s.Version = c.state.Version + 1
	if s.Phase != c.state.Phase {
		log.Printf("[coordinator] %s -> %s", c.state.Phase, s.Phase)
	}
	c.state = s

	c.mu.Lock()
	c.snapshot = s
	c.mu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func (c *Coordinator) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidPhase, action, c.state.Phase)
}

// idleLike reports whether a new flow can start from the current phase.
func (c *Coordinator) idleLike() bool {
	switch c.state.Phase {
	case PhaseIdle, PhaseCompleted, PhaseFailed:
		return true
	}
	return false
}

// BeginWalletConnect records that a wallet connection has started.
func (c *Coordinator) BeginWalletConnect() error {
	return c.do(func() error {
		if !c.idleLike() {
			return c.invalid("connect a wallet")
		}
		c.gen++
		c.setState(State{Phase: PhaseAuthenticating, Sender: c.state.Sender, Message: "Connecting wallet"})
		return nil
	})
}

// WalletConnected records the connected wallet address and returns to Idle.
func (c *Coordinator) WalletConnected(addr string) error {
	return c.do(func() error {
		if c.state.Phase != PhaseAuthenticating {
			return c.invalid("finish a wallet connection")
		}
		if addr == "" {
			c.setState(failedState(State{}, ErrWalletNoAddress))
			return nil
		}
		log.Printf("[coordinator] wallet connected: %s", addr)
		c.setState(State{Phase: PhaseIdle, Sender: addr})
		return nil
	})
}

// WalletConnectFailed records a failed wallet connection.
func (c *Coordinator) WalletConnectFailed(err error) error {
	return c.do(func() error {
		if c.state.Phase != PhaseAuthenticating {
			return c.invalid("fail a wallet connection")
		}
		if err == nil {
			err = errors.New("wallet connection failed")
		}
		log.Printf("[coordinator] wallet connection failed: %v", err)
		c.setState(failedState(c.state, err))
		return nil
	})
}

// StartScan starts reading a payment tag. Transient reader failures are
// retried automatically.
func (c *Coordinator) StartScan() error {
	return c.do(func() error {
		if !c.idleLike() {
			return c.invalid("scan")
		}
		c.gen++
		gen := c.gen
		if prev := c.lastScan; prev != nil && !ended(prev) {
			c.setState(State{Phase: PhaseScanning, Sender: c.state.Sender, Message: "Waiting for the reader to close the previous session"})
			go c.scanAfter(gen, 0, prev, 0)
			return nil
		}
		return c.scan(gen, 0)
	})
}

func ended(op *nfc.Operation) bool {
	select {
	case <-op.Ended():
		return true
	default:
		return false
	}
}

// scan opens a read session for generation gen. Runs on the loop.
func (c *Coordinator) scan(gen uint64, retries int) error {
	op, err := c.scanner.StartRead()
	if err != nil {
		log.Printf("[coordinator] scan failed to start: %v", err)
		c.setState(failedState(State{Sender: c.state.Sender}, err))
		return err
	}
	c.lastScan = op
	msg := "Hold the payment tag near the reader"
	if retries > 0 {
		msg = fmt.Sprintf("Reader was busy, retrying (%d/%d)", retries, c.scanRetry.Attempts)
	}
	c.setState(State{Phase: PhaseScanning, Sender: c.state.Sender, ScanRetries: retries, Message: msg})

	go func() {
		select {
		case <-op.Done():
		case <-c.ctx.Done():
			return
		}
		res := op.Result()
		c.post(func() { c.scanDone(gen, retries, op, res) })
	}()
	return nil
}

func (c *Coordinator) scanDone(gen uint64, retries int, op *nfc.Operation, res nfc.Result) {
	if gen != c.gen || c.state.Phase != PhaseScanning {
		return
	}

	switch {
	case res.Cancelled:
		c.setState(State{Phase: PhaseIdle, Sender: c.state.Sender})
	case res.Err == nil:
		intent := res.Intent
		c.setState(State{
			Phase:   PhaseAwaitingConfirmation,
			Sender:  c.state.Sender,
			Intent:  &intent,
			Message: "Confirm " + intent.String(),
		})
	case nfc.IsRetryable(res.Err) && retries < c.scanRetry.Attempts:
		log.Printf("[coordinator] transient scan failure, retry %d/%d: %v", retries+1, c.scanRetry.Attempts, res.Err)
		c.setState(State{
			Phase:       PhaseScanning,
			Sender:      c.state.Sender,
			ScanRetries: retries,
			Message:     "The NFC reader is busy, retrying",
		})
		go c.scanAfter(gen, retries+1, op, c.scanRetry.Pacing)
	default:
		fail := failedState(State{Sender: c.state.Sender}, res.Err)
		fail.ScanRetries = retries
		if nfc.IsRetryable(res.Err) {
			fail.Terminal = true
			fail.Message = "The NFC reader stayed busy. Try scanning again."
		}
		c.setState(fail)
	}
}

// scanAfter waits for the previous session to end and then for pacing,
// then starts the scan unless the coordinator moved on meanwhile.
func (c *Coordinator) scanAfter(gen uint64, retries int, prev *nfc.Operation, pacing time.Duration) {
	select {
	case <-prev.Ended():
	case <-c.ctx.Done():
		return
	}
	if pacing > 0 {
		if err := clock.Wait(c.ctx, c.clock, pacing); err != nil {
			return
		}
	}
	c.post(func() {
		if gen != c.gen || c.state.Phase != PhaseScanning {
			return
		}
		_ = c.scan(gen, retries)
	})
}

// Confirm approves the pending payment and starts the transfer.
func (c *Coordinator) Confirm() error {
	return c.do(func() error {
		if c.state.Phase != PhaseAwaitingConfirmation || c.state.Intent == nil {
			return c.invalid("confirm")
		}
		c.gen++
		gen := c.gen
		intent := *c.state.Intent
		sender := c.state.Sender
		c.setState(State{
			Phase:   PhaseProcessing,
			Sender:  sender,
			Intent:  c.state.Intent,
			Step:    transfer.StatusPreparing.String(),
			Message: "Processing payment",
		})

		go func() {
			attempt, err := c.submitter.Submit(c.ctx, intent, sender)
			c.post(func() { c.submitDone(gen, attempt, err) })
		}()
		return nil
	})
}

func (c *Coordinator) submitDone(gen uint64, attempt *transfer.Attempt, err error) {
	if gen != c.gen || c.state.Phase != PhaseProcessing {
		return
	}
	if err != nil {
		log.Printf("[coordinator] transfer failed: %v", err)
		c.setState(failedState(c.state, err))
		return
	}
	log.Printf("[coordinator] transfer completed: %s", attempt.TransactionID)
	c.setState(completedState(c.state, attempt))
}

// ObserveAttempt reflects pipeline progress while Processing. It can be used
// as a transfer.Observer.
func (c *Coordinator) ObserveAttempt(a transfer.Attempt) {
	if a.Status.Terminal() {
		return
	}
	c.post(func() {
		if c.state.Phase != PhaseProcessing {
			return
		}
		next := c.state
		next.Step = a.Status.String()
		c.setState(next)
	})
}

// Cancel dismisses a scan in progress or declines the pending payment.
func (c *Coordinator) Cancel() error {
	return c.do(func() error {
		switch c.state.Phase {
		case PhaseScanning:
			c.gen++
			c.scanner.Invalidate()
		case PhaseAwaitingConfirmation:
			c.gen++
			log.Printf("[coordinator] payment declined")
		default:
			return c.invalid("cancel")
		}
		c.setState(State{Phase: PhaseIdle, Sender: c.state.Sender})
		return nil
	})
}

// Reset returns to Idle from any phase except Processing.
func (c *Coordinator) Reset() error {
	return c.do(func() error {
		if c.state.Phase == PhaseProcessing {
			return c.invalid("reset")
		}
		if c.state.Phase == PhaseScanning {
			c.scanner.Invalidate()
		}
		c.gen++
		c.setState(State{Phase: PhaseIdle, Sender: c.state.Sender})
		return nil
	})
}
