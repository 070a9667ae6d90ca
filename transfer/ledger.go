// Package transfer drives a tag's transfer intent from a decoded payload to
// a submitted, and ideally confirmed, ledger transaction.
package transfer

import (
	"context"
	"errors"
)

// SubmitRequest is what the ledger client needs to sign and execute one
// transfer.
type SubmitRequest struct {
	Sender    string
	Recipient string
	Amount    string
	CoinType  string
}

// Ledger is the external ledger client. Signing and transaction encoding
// happen behind it.
type Ledger interface {
	// SignAndSubmit signs and executes the transfer, returning its
	// transaction id.
	SignAndSubmit(ctx context.Context, req SubmitRequest) (string, error)

	// Confirm returns nil once the transaction is known to have executed.
	Confirm(ctx context.Context, txID string) error

	// ExplorerURL returns a link to the transaction, or "" if there is none.
	ExplorerURL(txID, network string) string

	// ValidateAddress reports whether a recipient is well-formed for this
	// ledger.
	ValidateAddress(address string) error
}

// Errors returned by Authenticator implementations.
var (
	ErrAuthRejected    = errors.New("authentication rejected")
	ErrAuthUnavailable = errors.New("authentication unavailable")
)

// Authenticator asks the user to approve a transfer, typically with a
// biometric prompt showing reason.
type Authenticator interface {
	Authenticate(ctx context.Context, reason string) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, reason string) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, reason string) error {
	return f(ctx, reason)
}
