package transfer

import "strings"

// Explorer URL template placeholders.
const (
	PlaceholderNetwork = "{network}"
	PlaceholderTxID    = "{id}"
)

// FormatExplorerURL fills an explorer URL template such as
// "https://suiscan.xyz/{network}/tx/{id}". An empty id or template yields "".
func FormatExplorerURL(template, network, txID string) string {
	if txID == "" || template == "" {
		return ""
	}
	r := strings.NewReplacer(PlaceholderNetwork, network, PlaceholderTxID, txID)
	return r.Replace(template)
}
