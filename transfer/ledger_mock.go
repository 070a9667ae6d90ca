package transfer

import (
	"context"
	"errors"
	"sync"
)

// MockLedger is a test Ledger that records every call.
type MockLedger struct {
	// TxID is returned by SignAndSubmit unless SubmitError is set.
	TxID        string
	SubmitError error

	// ConfirmErrors are returned by successive Confirm calls; once
	// exhausted Confirm succeeds. ConfirmAlwaysFails overrides it.
	ConfirmErrors      []error
	ConfirmAlwaysFails bool

	// AddressError, if set, is returned by ValidateAddress.
	AddressError error

	// Explorer is the URL template used by ExplorerURL.
	Explorer string

	// Block, if set, holds SignAndSubmit until it is closed or ctx ends.
	Block chan struct{}

	mu       sync.Mutex
	submits  []SubmitRequest
	confirms []string
	validate []string
}

func (m *MockLedger) SignAndSubmit(ctx context.Context, req SubmitRequest) (string, error) {
	m.mu.Lock()
	m.submits = append(m.submits, req)
	block := m.Block
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.SubmitError != nil {
		return "", m.SubmitError
	}
	return m.TxID, nil
}

func (m *MockLedger) Confirm(ctx context.Context, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.confirms)
	m.confirms = append(m.confirms, txID)
	if m.ConfirmAlwaysFails {
		return errors.New("transaction not found")
	}
	if n < len(m.ConfirmErrors) {
		return m.ConfirmErrors[n]
	}
	return nil
}

func (m *MockLedger) ExplorerURL(txID, network string) string {
	return FormatExplorerURL(m.Explorer, network, txID)
}

func (m *MockLedger) ValidateAddress(address string) error {
	m.mu.Lock()
	m.validate = append(m.validate, address)
	m.mu.Unlock()
	if m.AddressError != nil {
		return m.AddressError
	}
	if address == "" {
		return errors.New("empty address")
	}
	return nil
}

// Submits returns every SignAndSubmit request.
func (m *MockLedger) Submits() []SubmitRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SubmitRequest(nil), m.submits...)
}

// Confirms returns the transaction id of every Confirm call.
func (m *MockLedger) Confirms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.confirms...)
}

// Calls returns the number of SignAndSubmit and Confirm calls.
func (m *MockLedger) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submits) + len(m.confirms)
}

// MockAuthenticator is a test Authenticator.
type MockAuthenticator struct {
	// Err, if set, is returned by Authenticate.
	Err error

	mu      sync.Mutex
	reasons []string
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, reason string) error {
	m.mu.Lock()
	m.reasons = append(m.reasons, reason)
	m.mu.Unlock()
	return m.Err
}

// Reasons returns the reason of every Authenticate call.
func (m *MockAuthenticator) Reasons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reasons...)
}
