package coordinator

import (
	"fmt"

	"github.com/dotside-studios/davi-pay/payload"
	"github.com/dotside-studios/davi-pay/transfer"
)

// Phase is where the overall transfer currently stands.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAuthenticating
	PhaseScanning
	PhaseAwaitingConfirmation
	PhaseProcessing
	PhaseCompleted
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseIdle:                 "idle",
	PhaseAuthenticating:       "authenticating",
	PhaseScanning:             "scanning",
	PhaseAwaitingConfirmation: "awaitingConfirmation",
	PhaseProcessing:           "processing",
	PhaseCompleted:            "completed",
	PhaseFailed:               "failed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// State is a snapshot of the coordinator.
type State struct {
	Phase Phase `json:"phase"`

	// Sender is the connected wallet address.
	Sender string `json:"sender,omitempty"`

	// Intent is the payment being confirmed, processed or completed.
	Intent *payload.TransferIntent `json:"intent,omitempty"`

	// Step is the pipeline status while Processing.
	Step string `json:"step,omitempty"`

	// ScanRetries counts automatic retries of the current scan.
	ScanRetries int `json:"scanRetries,omitempty"`

	TransactionID string `json:"transactionId,omitempty"`
	ExplorerURL   string `json:"explorerUrl,omitempty"`
	// Unverified marks a completion whose confirmation is still pending.
	Unverified bool `json:"unverified,omitempty"`

	// Message is a human-readable status or failure description.
	Message string `json:"message,omitempty"`
	// Terminal is set on failures that need the user to act.
	Terminal bool `json:"terminal,omitempty"`

	// Version increases with every state change.
	Version uint64 `json:"version"`
}

func completedState(prev State, attempt *transfer.Attempt) State {
	s := State{
		Phase:         PhaseCompleted,
		Sender:        prev.Sender,
		Intent:        prev.Intent,
		TransactionID: attempt.TransactionID,
		ExplorerURL:   attempt.ExplorerURL,
		Unverified:    attempt.Unverified,
		Message:       "Payment sent",
	}
	if attempt.Unverified {
		s.Message = "Payment sent. Confirmation is still pending."
	}
	return s
}

func failedState(prev State, err error) State {
	msg, terminal := Describe(err)
	return State{
		Phase:    PhaseFailed,
		Sender:   prev.Sender,
		Intent:   prev.Intent,
		Message:  msg,
		Terminal: terminal,
	}
}
