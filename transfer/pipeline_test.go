package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/davi-pay/clock"
	"github.com/dotside-studios/davi-pay/payload"
)

const testSender = "0xSENDER"

var testIntent = payload.TransferIntent{
	RecipientLabel: "MerchantA",
	MerchantLabel:  "Coffee",
	Amount:         "3.50",
	CoinType:       "SUI",
}

type statusRecorder struct {
	statuses []Status
}

func (r *statusRecorder) observe(a Attempt) {
	r.statuses = append(r.statuses, a.Status)
}

func newTestPipeline(ledger Ledger, auth Authenticator, opts ...Option) (*Pipeline, *clock.Fake, *statusRecorder) {
	clk := clock.NewAutoFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &statusRecorder{}
	opts = append([]Option{WithClock(clk), WithObserver(rec.observe), WithNetwork("testnet")}, opts...)
	return NewPipeline(ledger, auth, opts...), clk, rec
}

func TestSubmitConfirmedFirstPoll(t *testing.T) {
	ledger := &MockLedger{TxID: "tx123", Explorer: "https://suiscan.xyz/{network}/tx/{id}"}
	auth := &MockAuthenticator{}
	p, clk, rec := newTestPipeline(ledger, auth)

	attempt, err := p.Submit(context.Background(), testIntent, testSender)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, attempt.Status)
	assert.Equal(t, "tx123", attempt.TransactionID)
	assert.Equal(t, "https://suiscan.xyz/testnet/tx/tx123", attempt.ExplorerURL)
	assert.False(t, attempt.Unverified)
	assert.Zero(t, attempt.RetryCount)
	assert.NotEmpty(t, attempt.ID)

	assert.Equal(t, []SubmitRequest{{
		Sender:    testSender,
		Recipient: "MerchantA",
		Amount:    "3.50",
		CoinType:  "SUI",
	}}, ledger.Submits())
	assert.Equal(t, []string{"tx123"}, ledger.Confirms())
	assert.Empty(t, clk.Waits(), "no pacing before the first poll")

	assert.Equal(t, []Status{
		StatusPreparing, StatusSigning, StatusSubmitted, StatusConfirming, StatusCompleted,
	}, rec.statuses)

	reasons := auth.Reasons()
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "3.50")
	assert.Contains(t, reasons[0], "SUI")
	assert.Contains(t, reasons[0], "MerchantA")
}

func TestSubmitInvalidInputMakesNoCalls(t *testing.T) {
	tests := []struct {
		name    string
		intent  payload.TransferIntent
		sender  string
		addrErr error
	}{
		{"zero amount", payload.NewTransferIntent("MerchantA", "", "0", ""), testSender, nil},
		{"negative amount", payload.NewTransferIntent("MerchantA", "", "-1", ""), testSender, nil},
		{"malformed amount", payload.NewTransferIntent("MerchantA", "", "abc", ""), testSender, nil},
		{"no sender", testIntent, "  ", nil},
		{"no recipient", payload.NewTransferIntent("", "", "1", ""), testSender, nil},
		{"bad address", testIntent, testSender, errors.New("not a Sui address")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &MockLedger{TxID: "tx", AddressError: tt.addrErr}
			auth := &MockAuthenticator{}
			p, _, rec := newTestPipeline(ledger, auth)

			attempt, err := p.Submit(context.Background(), tt.intent, tt.sender)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
			assert.Equal(t, StatusFailed, attempt.Status)
			assert.NotEmpty(t, attempt.LastError)

			assert.Zero(t, ledger.Calls())
			assert.Empty(t, auth.Reasons())
			assert.Equal(t, []Status{StatusPreparing, StatusFailed}, rec.statuses)
		})
	}
}

func TestSubmitAuthDenied(t *testing.T) {
	for _, authErr := range []error{ErrAuthRejected, ErrAuthUnavailable} {
		ledger := &MockLedger{TxID: "tx"}
		p, _, rec := newTestPipeline(ledger, &MockAuthenticator{Err: authErr})

		attempt, err := p.Submit(context.Background(), testIntent, testSender)
		assert.True(t, errors.Is(err, ErrAuthDenied))
		assert.True(t, errors.Is(err, authErr), "cause is kept")
		assert.Equal(t, StatusFailed, attempt.Status)
		assert.Empty(t, ledger.Submits())
		assert.Equal(t, []Status{StatusPreparing, StatusSigning, StatusFailed}, rec.statuses)
	}
}

func TestSubmitError(t *testing.T) {
	ledger := &MockLedger{SubmitError: errors.New("insufficient gas")}
	p, _, _ := newTestPipeline(ledger, &MockAuthenticator{})

	attempt, err := p.Submit(context.Background(), testIntent, testSender)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSubmit))
	assert.Contains(t, err.Error(), "insufficient gas")
	assert.Equal(t, ErrCodeSubmit, GetErrorCode(err))
	assert.Equal(t, StatusFailed, attempt.Status)
	assert.Empty(t, attempt.TransactionID)
	assert.Empty(t, ledger.Confirms())
}

func TestSubmitEmptyTransactionID(t *testing.T) {
	p, _, _ := newTestPipeline(&MockLedger{}, &MockAuthenticator{})
	_, err := p.Submit(context.Background(), testIntent, testSender)
	assert.True(t, errors.Is(err, ErrSubmit))
}

func TestSubmitUnverifiedAfterFailedPolls(t *testing.T) {
	ledger := &MockLedger{TxID: "tx123", ConfirmAlwaysFails: true}
	p, clk, rec := newTestPipeline(ledger, &MockAuthenticator{})

	attempt, err := p.Submit(context.Background(), testIntent, testSender)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, attempt.Status)
	assert.True(t, attempt.Unverified)
	assert.Equal(t, 3, attempt.RetryCount)
	assert.Equal(t, "transaction not found", attempt.LastError)
	assert.Len(t, ledger.Confirms(), 3)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clk.Waits())
	assert.Equal(t, StatusCompleted, rec.statuses[len(rec.statuses)-1])
	assert.NotContains(t, rec.statuses, StatusFailed)
}

func TestSubmitConfirmedAfterRetries(t *testing.T) {
	ledger := &MockLedger{
		TxID:          "tx9",
		ConfirmErrors: []error{errors.New("not indexed"), errors.New("not indexed")},
	}
	p, clk, _ := newTestPipeline(ledger, &MockAuthenticator{})

	attempt, err := p.Submit(context.Background(), testIntent, testSender)
	require.NoError(t, err)
	assert.False(t, attempt.Unverified)
	assert.Equal(t, 2, attempt.RetryCount)
	assert.Len(t, ledger.Confirms(), 3)
	assert.Len(t, clk.Waits(), 2)
}

func TestSubmitCustomConfirmPolicy(t *testing.T) {
	ledger := &MockLedger{TxID: "tx", ConfirmAlwaysFails: true}
	p, clk, _ := newTestPipeline(ledger, &MockAuthenticator{},
		WithConfirmPolicy(RetryPolicy{Attempts: 5, Pacing: 250 * time.Millisecond}))

	attempt, err := p.Submit(context.Background(), testIntent, testSender)
	require.NoError(t, err)
	assert.Equal(t, 5, attempt.RetryCount)
	assert.Len(t, clk.Waits(), 4)
	assert.Equal(t, 250*time.Millisecond, clk.Waits()[0])
}

func TestSubmitCancelledDuringConfirmIsUnverified(t *testing.T) {
	ledger := &MockLedger{TxID: "tx", ConfirmAlwaysFails: true}
	clk := clock.NewFake(time.Now())
	p := NewPipeline(ledger, &MockAuthenticator{}, WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempt, err := p.Submit(ctx, testIntent, testSender)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, attempt.Status)
	assert.True(t, attempt.Unverified)
	assert.Equal(t, 1, attempt.RetryCount)
}

func TestFormatExplorerURL(t *testing.T) {
	tmpl := "https://suiscan.xyz/{network}/tx/{id}"
	assert.Equal(t, "https://suiscan.xyz/mainnet/tx/abc", FormatExplorerURL(tmpl, "mainnet", "abc"))
	assert.Empty(t, FormatExplorerURL(tmpl, "mainnet", ""))
	assert.Empty(t, FormatExplorerURL("", "mainnet", "abc"))
}

func TestErrorCodeStrings(t *testing.T) {
	assert.Equal(t, "InvalidInput", ErrCodeInvalidInput.String())
	assert.Equal(t, "AuthDenied", ErrCodeAuthDenied.String())
	assert.Equal(t, "SubmitError", ErrCodeSubmit.String())
	assert.Equal(t, ErrorCode(0), GetErrorCode(errors.New("x")))
}
