package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/davi-pay/buildinfo"
	"github.com/dotside-studios/davi-pay/nfc"
)

// run executes the root command with args and returns its output.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("reader:\n  language: de\n"), 0o600))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestEncodeCommand(t *testing.T) {
	out, err := run(t, "", "encode", "--recipient", "0xabc", "--merchant", "Coffee", "--amount", "3.50")
	require.NoError(t, err)

	text := "recipient=0xabc&merchant=Coffee&amount=3.50&coinType=SUI"
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, text, lines[0])
	assert.Equal(t, fmt.Sprintf("NDEF message: %d bytes", nfc.NewTagWritePayload(text, "de").Size()), lines[1])
}

func TestEncodeCommandRejectsBadAmount(t *testing.T) {
	_, err := run(t, "", "encode", "--recipient", "shop", "--amount", "0")
	assert.ErrorContains(t, err, "amount must be positive")

	_, err = run(t, "", "encode", "--recipient", "shop")
	assert.Error(t, err, "amount is required")
}

func TestDecodeCommand(t *testing.T) {
	out, err := run(t, "", "decode", "recipient=MerchantA&merchant=Coffee&amount=3.50&coinType=SUI")
	require.NoError(t, err)
	assert.Contains(t, out, "Recipient: MerchantA")
	assert.Contains(t, out, "Merchant:  Coffee")
	assert.Contains(t, out, "Amount:    3.50 SUI")

	out, err = run(t, "recipient=shop&amount=2\n", "decode", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"recipient":"shop","amount":"2","coinType":"SUI"}`, out)

	_, err = run(t, "", "decode", "recipient=shop")
	assert.ErrorContains(t, err, "missing: amount")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, buildinfo.Name)
}

func TestWriteTag(t *testing.T) {
	reader := &nfc.MockReader{EchoInvalidation: true}
	session := nfc.NewSession(reader)
	p := nfc.NewTagWritePayload("recipient=shop&merchant=&amount=1&coinType=SUI", "en")
	tag := &nfc.MockTag{Status: nfc.NDEFReadWrite, Capacity: 504}

	go func() {
		for reader.Last() == nil {
			time.Sleep(time.Millisecond)
		}
		reader.Last().DetectTag(tag)
	}()

	var out bytes.Buffer
	require.NoError(t, writeTag(t.Context(), &out, session, p))
	assert.Contains(t, out.String(), "Tag written")
	require.NotNil(t, tag.Written())
}

func TestWriteTagReadOnly(t *testing.T) {
	reader := &nfc.MockReader{EchoInvalidation: true}
	session := nfc.NewSession(reader)

	go func() {
		for reader.Last() == nil {
			time.Sleep(time.Millisecond)
		}
		reader.Last().DetectTag(&nfc.MockTag{Status: nfc.NDEFReadOnly})
	}()

	err := writeTag(t.Context(), &bytes.Buffer{}, session, nfc.NewTagWritePayload("recipient=shop&amount=1", ""))
	assert.ErrorIs(t, err, nfc.ErrTagReadOnly)
}
