// Package payload maps transfer intents to and from the text stored on a
// payment tag.
//
// The tag format is a list of key=value pairs joined by '&':
//
//	recipient=0xabc...&merchant=Coffee&amount=3.50&coinType=SUI
//
// Decode is deliberately forgiving: tags written by hand or by older
// writers are recovered where possible.
package payload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCoinType is used when a tag does not name a coin.
const DefaultCoinType = "SUI"

// Payload keys.
const (
	KeyRecipient = "recipient"
	KeyMerchant  = "merchant"
	KeyAmount    = "amount"
	KeyCoinType  = "coinType"
)

// TransferIntent is a requested transfer read from or written to a tag.
type TransferIntent struct {
	RecipientLabel string `json:"recipient"`
	MerchantLabel  string `json:"merchant,omitempty"`
	Amount         string `json:"amount"`
	CoinType       string `json:"coinType"`
}

// NewTransferIntent builds an intent, defaulting the coin type.
func NewTransferIntent(recipient, merchant, amount, coinType string) TransferIntent {
	if strings.TrimSpace(coinType) == "" {
		coinType = DefaultCoinType
	}
	return TransferIntent{
		RecipientLabel: strings.TrimSpace(recipient),
		MerchantLabel:  strings.TrimSpace(merchant),
		Amount:         strings.TrimSpace(amount),
		CoinType:       strings.TrimSpace(coinType),
	}
}

// AmountDecimal parses Amount.
func (t TransferIntent) AmountDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(t.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", t.Amount, err)
	}
	return d, nil
}

// Validate reports whether the intent can be submitted: a recipient must be
// present and the amount must be a positive decimal.
func (t TransferIntent) Validate() error {
	if strings.TrimSpace(t.RecipientLabel) == "" {
		return errors.New("recipient is required")
	}
	amount, err := t.AmountDecimal()
	if err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", t.Amount)
	}
	return nil
}

// Coin returns CoinType, or DefaultCoinType when empty.
func (t TransferIntent) Coin() string {
	if t.CoinType == "" {
		return DefaultCoinType
	}
	return t.CoinType
}

func (t TransferIntent) String() string {
	if t.MerchantLabel != "" {
		return fmt.Sprintf("%s %s to %s (%s)", t.Amount, t.Coin(), t.RecipientLabel, t.MerchantLabel)
	}
	return fmt.Sprintf("%s %s to %s", t.Amount, t.Coin(), t.RecipientLabel)
}
