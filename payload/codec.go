package payload

import (
	"regexp"
	"strings"
)

var (
	// addressPattern matches a hex account address embedded in free text.
	addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40,}`)

	// amountPattern matches digits with an optional fraction, also when
	// they touch a currency code such as "USD12.50" or "12.5SUI".
	amountPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// Encode renders an intent as tag text. It does not validate the intent.
func Encode(intent TransferIntent) string {
	var sb strings.Builder
	sb.WriteString(KeyRecipient)
	sb.WriteByte('=')
	sb.WriteString(intent.RecipientLabel)
	sb.WriteByte('&')
	sb.WriteString(KeyMerchant)
	sb.WriteByte('=')
	sb.WriteString(intent.MerchantLabel)
	sb.WriteByte('&')
	sb.WriteString(KeyAmount)
	sb.WriteByte('=')
	sb.WriteString(intent.Amount)
	sb.WriteByte('&')
	sb.WriteString(KeyCoinType)
	sb.WriteByte('=')
	sb.WriteString(intent.Coin())
	return sb.String()
}

// Decode recovers an intent from tag text.
//
// Structured key=value pairs are preferred. When the recipient or amount is
// missing, the raw text is scanned for a hex address and a decimal number.
// The coin type defaults to DefaultCoinType. Errors are *DecodeError.
func Decode(raw string) (TransferIntent, error) {
	if strings.TrimSpace(raw) == "" {
		return TransferIntent{}, &DecodeError{Code: ErrCodeEmptyPayload}
	}

	fields := parseFields(raw)

	recipient, hasRecipient := fields[KeyRecipient]
	if !hasRecipient {
		if m := addressPattern.FindString(raw); m != "" {
			recipient, hasRecipient = m, true
		}
	}

	amount, hasAmount := fields[KeyAmount]
	if !hasAmount {
		if m := amountPattern.FindString(amountScanText(raw)); m != "" {
			amount, hasAmount = m, true
		}
	}

	coinType, ok := fields[KeyCoinType]
	if !ok {
		coinType = DefaultCoinType
	}

	if !hasRecipient && len(fields) == 0 {
		return TransferIntent{}, &DecodeError{Code: ErrCodeUnrecognizedFormat, Raw: raw}
	}

	var missing []string
	if !hasRecipient {
		missing = append(missing, KeyRecipient)
	}
	if !hasAmount {
		missing = append(missing, KeyAmount)
	}
	if len(missing) > 0 {
		return TransferIntent{}, &DecodeError{Code: ErrCodeIncompleteFields, Missing: missing}
	}

	return TransferIntent{
		RecipientLabel: recipient,
		MerchantLabel:  fields[KeyMerchant],
		Amount:         amount,
		CoinType:       coinType,
	}, nil
}

// amountScanText returns raw with every address span and every recipient
// pair blanked, so their digits are never taken as the amount.
func amountScanText(raw string) string {
	scanned := addressPattern.ReplaceAllStringFunc(raw, func(m string) string {
		return strings.Repeat(" ", len(m))
	})
	segments := strings.Split(scanned, "&")
	for i, segment := range segments {
		key, _, found := strings.Cut(segment, "=")
		if found && strings.TrimSpace(key) == KeyRecipient {
			segments[i] = strings.Repeat(" ", len(segment))
		}
	}
	return strings.Join(segments, "&")
}

// parseFields collects key=value segments separated by '&'. Segments with an
// empty key or value are skipped; later keys overwrite earlier ones.
func parseFields(raw string) map[string]string {
	fields := make(map[string]string)
	for _, segment := range strings.Split(raw, "&") {
		key, value, found := strings.Cut(segment, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		fields[key] = value
	}
	return fields
}
