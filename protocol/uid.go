package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

var hexUID = regexp.MustCompile(`^[0-9A-F]+$`)

// ParseUID normalizes a UID from various formats to colon-separated uppercase hex.
// Supports: "04:AB:CD:EF", "04ABCDEF", "04 AB CD EF", "04-AB-CD-EF"
func ParseUID(uid string) (string, error) {
	cleaned := strings.NewReplacer(":", "", " ", "", "-", "").Replace(uid)
	cleaned = strings.ToUpper(cleaned)

	switch {
	case cleaned == "":
		return "", fmt.Errorf("empty UID")
	case !hexUID.MatchString(cleaned):
		return "", fmt.Errorf("UID contains invalid characters: %s", uid)
	case len(cleaned)%2 != 0:
		return "", fmt.Errorf("UID has odd number of hex characters: %s", uid)
	}

	var result strings.Builder
	for i := 0; i < len(cleaned); i += 2 {
		if i > 0 {
			result.WriteByte(':')
		}
		result.WriteString(cleaned[i : i+2])
	}
	return result.String(), nil
}
