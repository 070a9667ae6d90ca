package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dotside-studios/davi-pay/clock"
	"github.com/dotside-studios/davi-pay/payload"
)

// RetryPolicy bounds confirmation polling. Attempts is the number of polls;
// Pacing is the wait between two polls.
type RetryPolicy struct {
	Attempts int           `yaml:"attempts" json:"attempts"`
	Pacing   time.Duration `yaml:"pacing" json:"pacing"`
}

// DefaultConfirmPolicy polls three times, one second apart.
var DefaultConfirmPolicy = RetryPolicy{Attempts: 3, Pacing: time.Second}

// Observer is notified with a snapshot of the attempt each time it enters a
// new status.
type Observer func(Attempt)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for confirmation pacing.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithConfirmPolicy replaces DefaultConfirmPolicy.
func WithConfirmPolicy(rp RetryPolicy) Option {
	return func(p *Pipeline) {
		if rp.Attempts > 0 {
			p.policy = rp
		}
	}
}

// WithNetwork sets the network used for explorer URLs.
func WithNetwork(network string) Option {
	return func(p *Pipeline) { p.network = network }
}

// WithObserver registers a status observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// Pipeline submits transfer intents: validate, authenticate, sign and
// submit, then poll for confirmation.
//
// Confirmation is best effort. Once the ledger accepted the submission the
// attempt completes, with Unverified set if polling ran out.
//
// Example:
//
//	p := transfer.NewPipeline(ledger, auth, transfer.WithNetwork("testnet"))
//	attempt, err := p.Submit(ctx, intent, sender)
type Pipeline struct {
	ledger   Ledger
	auth     Authenticator
	clock    clock.Clock
	policy   RetryPolicy
	network  string
	observer Observer
}

// NewPipeline creates a Pipeline.
func NewPipeline(ledger Ledger, auth Authenticator, opts ...Option) *Pipeline {
	p := &Pipeline{
		ledger: ledger,
		auth:   auth,
		clock:  clock.NewReal(),
		policy: DefaultConfirmPolicy,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Network returns the network explorer URLs are built for.
func (p *Pipeline) Network() string {
	return p.network
}

// Submit runs one transfer to completion. It blocks until the attempt is
// Completed or Failed and always returns the attempt; err is non-nil exactly
// when the attempt failed, and is then an *Error.
func (p *Pipeline) Submit(ctx context.Context, intent payload.TransferIntent, sender string) (*Attempt, error) {
	run := &attemptRun{
		pipeline: p,
		attempt: &Attempt{
			ID:        uuid.New().String(),
			Intent:    intent,
			Sender:    strings.TrimSpace(sender),
			Network:   p.network,
			StartedAt: p.clock.Now(),
		},
	}
	run.enter(StatusPreparing)

	if err := p.validate(intent, run.attempt.Sender); err != nil {
		return run.fail(newError(ErrInvalidInput, "Submit", err))
	}

	run.enter(StatusSigning)
	if err := p.auth.Authenticate(ctx, AuthReason(intent)); err != nil {
		return run.fail(newError(ErrAuthDenied, "Authenticate", err))
	}

	txID, err := p.ledger.SignAndSubmit(ctx, SubmitRequest{
		Sender:    run.attempt.Sender,
		Recipient: intent.RecipientLabel,
		Amount:    intent.Amount,
		CoinType:  intent.Coin(),
	})
	if err == nil && txID == "" {
		err = errors.New("ledger returned no transaction id")
	}
	if err != nil {
		return run.fail(newError(ErrSubmit, "SignAndSubmit", err))
	}
	run.attempt.TransactionID = txID
	run.enter(StatusSubmitted)
	log.Printf("[pipeline] %s: submitted %s as %s", run.attempt.ID, intent, txID)

	run.enter(StatusConfirming)
	p.confirm(ctx, run.attempt)

	run.attempt.ExplorerURL = p.ledger.ExplorerURL(txID, p.network)
	run.attempt.FinishedAt = p.clock.Now()
	run.enter(StatusCompleted)
	if run.attempt.Unverified {
		log.Printf("[pipeline] %s: completed unverified after %d failed polls", run.attempt.ID, run.attempt.RetryCount)
	} else {
		log.Printf("[pipeline] %s: completed", run.attempt.ID)
	}
	return run.attempt, nil
}

func (p *Pipeline) validate(intent payload.TransferIntent, sender string) error {
	if sender == "" {
		return errors.New("no sender address; connect a wallet first")
	}
	if err := intent.Validate(); err != nil {
		return err
	}
	if err := p.ledger.ValidateAddress(intent.RecipientLabel); err != nil {
		return fmt.Errorf("recipient %q: %w", intent.RecipientLabel, err)
	}
	return nil
}

// confirm polls the ledger until it confirms the transaction or the policy
// runs out. Poll failures are recorded on the attempt but never fail it.
func (p *Pipeline) confirm(ctx context.Context, a *Attempt) {
	for i := 0; i < p.policy.Attempts; i++ {
		if i > 0 {
			if err := clock.Wait(ctx, p.clock, p.policy.Pacing); err != nil {
				log.Printf("[pipeline] %s: confirmation abandoned: %v", a.ID, err)
				break
			}
		}
		err := p.ledger.Confirm(ctx, a.TransactionID)
		if err == nil {
			a.Unverified = false
			return
		}
		a.RetryCount++
		a.LastError = err.Error()
		log.Printf("[pipeline] %s: confirmation poll %d/%d failed: %v", a.ID, i+1, p.policy.Attempts, err)
	}
	a.Unverified = true
}

// AuthReason is the prompt shown when approving intent.
func AuthReason(intent payload.TransferIntent) string {
	return "Send " + intent.String()
}

// attemptRun reports each status of one attempt to the observer once.
type attemptRun struct {
	pipeline *Pipeline
	attempt  *Attempt
	seen     [StatusFailed + 1]bool
}

func (r *attemptRun) enter(s Status) {
	r.attempt.Status = s
	if r.seen[s] {
		return
	}
	r.seen[s] = true
	if r.pipeline.observer != nil {
		r.pipeline.observer(*r.attempt)
	}
}

func (r *attemptRun) fail(err *Error) (*Attempt, error) {
	r.attempt.LastError = err.Error()
	r.attempt.FinishedAt = r.pipeline.clock.Now()
	r.enter(StatusFailed)
	log.Printf("[pipeline] %s: failed: %v", r.attempt.ID, err)
	return r.attempt, err
}
