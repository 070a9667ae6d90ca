// Package suirpc is a transfer.Ledger for the Sui network.
//
// Transfers are signed and executed by a signing relay (POST /transfers);
// confirmation reads the transaction's effects over Sui JSON-RPC.
package suirpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dotside-studios/davi-pay/buildinfo"
	"github.com/dotside-studios/davi-pay/transfer"
)

// DefaultExplorer is the explorer URL template used when none is configured.
const DefaultExplorer = "https://suiscan.xyz/{network}/tx/{id}"

const defaultTimeout = 15 * time.Second

var (
	// ErrNotFound means the node does not know the transaction yet.
	ErrNotFound = errors.New("transaction not found")
	// ErrExecutionFailed means the transaction executed and aborted.
	ErrExecutionFailed = errors.New("transaction execution failed")
)

var (
	hexAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)
	suiNSPattern      = regexp.MustCompile(`^([a-z0-9][a-z0-9-]*\.)+sui$`)
)

// Config configures a Client.
type Config struct {
	// RPCURL is the Sui full node JSON-RPC endpoint.
	RPCURL string
	// RelayURL is the base URL of the signing relay.
	RelayURL string
	// Explorer is an explorer URL template, see transfer.FormatExplorerURL.
	Explorer string
	// Timeout bounds each HTTP request. Zero means 15s.
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client talks to a Sui node and a signing relay.
type Client struct {
	rpcURL   string
	relayURL string
	explorer string
	http     *http.Client
	nextID   atomic.Int64
}

var _ transfer.Ledger = (*Client)(nil)

// New creates a Client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	explorer := cfg.Explorer
	if explorer == "" {
		explorer = DefaultExplorer
	}
	return &Client{
		rpcURL:   cfg.RPCURL,
		relayURL: strings.TrimRight(cfg.RelayURL, "/"),
		explorer: explorer,
		http:     hc,
	}
}

type submitRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	CoinType  string `json:"coinType"`
}

type submitResponse struct {
	Digest string `json:"digest"`
	Error  string `json:"error,omitempty"`
}

// SignAndSubmit hands the transfer to the signing relay and returns the
// transaction digest.
func (c *Client) SignAndSubmit(ctx context.Context, req transfer.SubmitRequest) (string, error) {
	if c.relayURL == "" {
		return "", errors.New("no signing relay configured")
	}
	body, err := json.Marshal(submitRequest(req))
	if err != nil {
		return "", err
	}

	var resp submitResponse
	status, err := c.post(ctx, c.relayURL+"/transfers", body, &resp)
	if err != nil {
		return "", fmt.Errorf("relay: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("relay: %s", resp.Error)
	}
	if status/100 != 2 {
		return "", fmt.Errorf("relay: unexpected status %d", status)
	}
	if resp.Digest == "" {
		return "", errors.New("relay: response has no digest")
	}
	return resp.Digest, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type transactionBlock struct {
	Digest  string `json:"digest"`
	Effects *struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
	} `json:"effects"`
}

// Confirm returns nil when the node reports the transaction executed
// successfully.
func (c *Client) Confirm(ctx context.Context, txID string) error {
	var block transactionBlock
	err := c.call(ctx, "sui_getTransactionBlock", []any{txID, map[string]bool{"showEffects": true}}, &block)
	if err != nil {
		var rerr *rpcError
		if errors.As(err, &rerr) && strings.Contains(strings.ToLower(rerr.Message), "not found") {
			return fmt.Errorf("%s: %w", txID, ErrNotFound)
		}
		return err
	}
	if block.Effects == nil {
		return fmt.Errorf("%s: no effects yet", txID)
	}
	switch block.Effects.Status.Status {
	case "success":
		return nil
	case "failure":
		return fmt.Errorf("%s: %w: %s", txID, ErrExecutionFailed, block.Effects.Status.Error)
	}
	return fmt.Errorf("%s: unknown status %q", txID, block.Effects.Status.Status)
}

// ExplorerURL returns the explorer link for txID on network.
func (c *Client) ExplorerURL(txID, network string) string {
	return transfer.FormatExplorerURL(c.explorer, network, txID)
}

// ValidateAddress accepts a 0x-prefixed hex address of up to 32 bytes or a
// SuiNS name ending in .sui.
func (c *Client) ValidateAddress(address string) error {
	return ValidateAddress(address)
}

// ValidateAddress is Client.ValidateAddress without a client.
func ValidateAddress(address string) error {
	switch {
	case address == "":
		return errors.New("address is empty")
	case hexAddressPattern.MatchString(address):
		return nil
	case suiNSPattern.MatchString(strings.ToLower(address)):
		return nil
	}
	return fmt.Errorf("%q is not a Sui address or SuiNS name", address)
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if c.rpcURL == "" {
		return errors.New("no RPC endpoint configured")
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	var resp rpcResponse
	status, err := c.post(ctx, c.rpcURL, body, &resp)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if status/100 != 2 {
		return fmt.Errorf("%s: unexpected status %d", method, status)
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return fmt.Errorf("%s: empty result", method)
	}
	return json.Unmarshal(resp.Result, out)
}

// post sends a JSON body and decodes a JSON response. The response is
// decoded even on non-2xx statuses since both the relay and the node report
// errors in the body.
func (c *Client) post(ctx context.Context, url string, body []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode/100 != 2 {
			return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
		}
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
