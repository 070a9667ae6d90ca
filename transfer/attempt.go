package transfer

import (
	"fmt"
	"time"

	"github.com/dotside-studios/davi-pay/payload"
)

// Status is the stage of a transfer attempt.
type Status int

const (
	StatusPreparing Status = iota
	StatusSigning
	StatusSubmitted
	StatusConfirming
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPreparing:
		return "preparing"
	case StatusSigning:
		return "signing"
	case StatusSubmitted:
		return "submitted"
	case StatusConfirming:
		return "confirming"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal reports whether no further transitions follow s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Attempt tracks one submission of a transfer intent.
type Attempt struct {
	ID      string                 `json:"id"`
	Intent  payload.TransferIntent `json:"intent"`
	Sender  string                 `json:"sender"`
	Network string                 `json:"network,omitempty"`
	Status  Status                 `json:"status"`

	TransactionID string `json:"transactionId,omitempty"`
	ExplorerURL   string `json:"explorerUrl,omitempty"`

	// RetryCount is the number of confirmation polls that failed.
	RetryCount int    `json:"retryCount"`
	LastError  string `json:"lastError,omitempty"`

	// Unverified is set on a completed attempt whose confirmation polling
	// ran out before the ledger confirmed the transaction.
	Unverified bool `json:"unverified,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Duration returns how long the attempt ran, or 0 while it is running.
func (a *Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}
