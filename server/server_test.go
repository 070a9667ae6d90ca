package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/davi-pay/clock"
	"github.com/dotside-studios/davi-pay/coordinator"
	"github.com/dotside-studios/davi-pay/nfc"
	"github.com/dotside-studios/davi-pay/protocol"
	"github.com/dotside-studios/davi-pay/transfer"
)

const (
	testSender  = "0xabc"
	coffeeTag   = "recipient=MerchantA&merchant=Coffee&amount=3.50&coinType=SUI"
	waitTimeout = 2 * time.Second
)

type fixture struct {
	reader *nfc.MockReader
	ledger *transfer.MockLedger
	coord  *coordinator.Coordinator
	server *Server
	http   *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		reader: &nfc.MockReader{EchoInvalidation: true},
		ledger: &transfer.MockLedger{TxID: "tx123"},
	}
	clk := clock.NewAutoFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	pipeline := transfer.NewPipeline(f.ledger, &transfer.MockAuthenticator{},
		transfer.WithClock(clk),
		transfer.WithObserver(func(a transfer.Attempt) { f.coord.ObserveAttempt(a) }),
	)
	f.coord = coordinator.New(nfc.NewSession(f.reader), pipeline,
		coordinator.WithClock(clk),
		coordinator.WithSender(testSender),
	)
	t.Cleanup(f.coord.Close)

	cfg.Coordinator = f.coord
	f.server = New(cfg)
	f.http = httptest.NewServer(f.server.Handler())
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) url(path string) string { return f.http.URL + path }

func (f *fixture) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws" + query
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.url(path), "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// uiConn is a UI client connection.
type uiConn struct {
	t    *testing.T
	conn *websocket.Conn
}

type uiMessage struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (f *fixture) dial(t *testing.T, query string) *uiConn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &uiConn{t: t, conn: conn}
}

func (c *uiConn) send(id, msgType string, payload any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(protocol.Message{ID: id, Type: msgType, Payload: payload}))
}

func (c *uiConn) read() uiMessage {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	var msg uiMessage
	require.NoError(c.t, c.conn.ReadJSON(&msg))
	return msg
}

// readUntil skips messages until one of msgType arrives.
func (c *uiConn) readUntil(msgType string) uiMessage {
	c.t.Helper()
	for {
		if msg := c.read(); msg.Type == msgType {
			return msg
		}
	}
}

// waitState reads state broadcasts until phase is reached.
func (c *uiConn) waitState(phase coordinator.Phase) coordinator.State {
	c.t.Helper()
	for {
		msg := c.readUntil(protocol.TypeState)
		var st coordinator.State
		require.NoError(c.t, json.Unmarshal(msg.Payload, &st))
		if st.Phase == phase {
			return st
		}
	}
}

func TestHealthAndRoot(t *testing.T) {
	f := newFixture(t, Config{})

	resp, err := http.Get(f.url("/api/v1/health"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	decodeBody(t, resp, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["dev"], "test binaries carry the default version")

	resp, err = http.Get(f.url("/"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetState(t *testing.T) {
	f := newFixture(t, Config{})

	resp, err := http.Get(f.url("/api/v1/state"))
	require.NoError(t, err)
	defer resp.Body.Close()
	var st coordinator.State
	decodeBody(t, resp, &st)
	assert.Equal(t, coordinator.PhaseIdle, st.Phase)
	assert.Equal(t, testSender, st.Sender)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{})

	req, err := http.NewRequest(http.MethodOptions, f.url("/api/v1/decode"), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CORSAllowOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, CORSAllowMethods, resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestDecode(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.post(t, "/api/v1/decode", `{"text":"`+coffeeTag+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var ok struct {
		Intent struct {
			Recipient string `json:"recipient"`
			Amount    string `json:"amount"`
		} `json:"intent"`
	}
	decodeBody(t, resp, &ok)
	assert.Equal(t, "MerchantA", ok.Intent.Recipient)
	assert.Equal(t, "3.50", ok.Intent.Amount)

	tests := []struct {
		name    string
		text    string
		code    string
		missing []string
	}{
		{"empty", "  ", protocol.CodeEmptyPayload, nil},
		{"incomplete", "recipient=shop", protocol.CodeIncompleteFields, []string{"amount"}},
		{"unrecognized", "hello world", protocol.CodeUnrecognizedFormat, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(protocol.DecodeRequest{Text: tt.text})
			resp := f.post(t, "/api/v1/decode", string(body))
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			var dr protocol.DecodeResponse
			decodeBody(t, resp, &dr)
			assert.Equal(t, tt.code, dr.Code)
			assert.Equal(t, tt.missing, dr.Missing)
			assert.NotEmpty(t, dr.Error)
		})
	}
}

func TestDecodeBadBody(t *testing.T) {
	f := newFixture(t, Config{})

	for _, body := range []string{`{`, `{"txt":"x"}`} {
		resp := f.post(t, "/api/v1/decode", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestEncode(t *testing.T) {
	f := newFixture(t, Config{Language: "fr"})

	resp := f.post(t, "/api/v1/encode", `{"recipient":"shop","amount":"1.25"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var er protocol.EncodeResponse
	decodeBody(t, resp, &er)
	assert.Equal(t, "recipient=shop&merchant=&amount=1.25&coinType=SUI", er.Text)
	assert.Equal(t, nfc.NewTagWritePayload(er.Text, "fr").Size(), er.Size)

	resp = f.post(t, "/api/v1/encode", `{"recipient":"shop","amount":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type fakePhones struct {
	devices []protocol.DeviceInfo
	served  int
}

func (p *fakePhones) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.served++
	w.WriteHeader(http.StatusTeapot)
}

func (p *fakePhones) Devices() []protocol.DeviceInfo { return p.devices }

func TestDevices(t *testing.T) {
	f := newFixture(t, Config{})
	resp, err := http.Get(f.url("/api/v1/devices"))
	require.NoError(t, err)
	defer resp.Body.Close()
	var list struct {
		Devices []protocol.DeviceInfo `json:"devices"`
	}
	decodeBody(t, resp, &list)
	assert.Empty(t, list.Devices)

	phones := &fakePhones{devices: []protocol.DeviceInfo{{DeviceID: "d1", DeviceName: "Pixel", Platform: "android"}}}
	f = newFixture(t, Config{Phones: phones})

	resp, err = http.Get(f.url("/api/v1/devices/d1"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var d protocol.DeviceInfo
	decodeBody(t, resp, &d)
	assert.Equal(t, "Pixel", d.DeviceName)

	resp, err = http.Get(f.url("/api/v1/devices/nope"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeviceConnectionsGoToPhones(t *testing.T) {
	phones := &fakePhones{}
	f := newFixture(t, Config{Phones: phones})

	resp, err := http.Get(f.url("/ws?mode=device"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, 1, phones.served)
	assert.Empty(t, f.server.sessions.Holder(), "phones do not claim the UI session")

	f = newFixture(t, Config{})
	resp, err = http.Get(f.url("/ws?mode=device"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketTransfer(t *testing.T) {
	f := newFixture(t, Config{})
	ui := f.dial(t, "")

	initial := ui.waitState(coordinator.PhaseIdle)
	assert.Equal(t, testSender, initial.Sender)

	ui.send("c1", protocol.TypeCommand, protocol.CommandPayload{Action: protocol.ActionStartScan})
	resp := ui.readUntil(protocol.TypeCommandResponse)
	assert.Equal(t, "c1", resp.ID)
	assert.True(t, resp.Success)
	var st coordinator.State
	require.NoError(t, json.Unmarshal(resp.Payload, &st))
	assert.Equal(t, coordinator.PhaseScanning, st.Phase)

	f.reader.Last().DetectMessages(nfc.NewTextMessage(coffeeTag, "en"))
	st = ui.waitState(coordinator.PhaseAwaitingConfirmation)
	require.NotNil(t, st.Intent)
	assert.Equal(t, "MerchantA", st.Intent.RecipientLabel)

	ui.send("c2", protocol.TypeCommand, protocol.CommandPayload{Action: protocol.ActionConfirm})
	st = ui.waitState(coordinator.PhaseCompleted)
	assert.Equal(t, "tx123", st.TransactionID)
}

func TestWebSocketErrors(t *testing.T) {
	f := newFixture(t, Config{})
	ui := f.dial(t, "")
	ui.waitState(coordinator.PhaseIdle)

	ui.send("c1", protocol.TypeCommand, protocol.CommandPayload{Action: protocol.ActionConfirm})
	msg := ui.readUntil(protocol.TypeError)
	assert.Equal(t, "c1", msg.ID)
	assert.Equal(t, protocol.ErrCodeNotAllowed, msg.Code)

	ui.send("c2", protocol.TypeCommand, protocol.CommandPayload{Action: "dance"})
	msg = ui.readUntil(protocol.TypeError)
	assert.Equal(t, protocol.ErrCodeInvalidRequest, msg.Code)

	ui.send("c3", "bogus", nil)
	msg = ui.readUntil(protocol.TypeError)
	assert.Equal(t, protocol.ErrCodeUnknownType, msg.Code)

	require.NoError(t, ui.conn.WriteMessage(websocket.TextMessage, []byte("{")))
	msg = ui.readUntil(protocol.TypeError)
	assert.Equal(t, protocol.ErrCodeParse, msg.Code)

	ui.send("c4", protocol.TypeState, nil)
	for msg = ui.readUntil(protocol.TypeState); msg.ID != "c4"; msg = ui.readUntil(protocol.TypeState) {
	}
	assert.Equal(t, "c4", msg.ID)
}

func TestSingleUISession(t *testing.T) {
	f := newFixture(t, Config{})
	first := f.dial(t, "")
	first.waitState(coordinator.PhaseIdle)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	first.conn.Close()
	require.Eventually(t, func() bool { return f.server.sessions.Holder() == "" }, waitTimeout, 5*time.Millisecond)
	second := f.dial(t, "")
	second.waitState(coordinator.PhaseIdle)
}

func TestAPISecret(t *testing.T) {
	f := newFixture(t, Config{APISecret: "s3cret"})

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("?secret=wrong"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ui := f.dial(t, "?secret=s3cret")
	ui.waitState(coordinator.PhaseIdle)
}

func TestCommandHTTP(t *testing.T) {
	f := newFixture(t, Config{APISecret: "s3cret"})

	send := func(token, body string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, f.url("/api/v1/commands"), bytes.NewBufferString(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := send("wrong", `{"action":"startScan"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = send("s3cret", `{"action":"startScan"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st coordinator.State
	decodeBody(t, resp, &st)
	assert.Equal(t, coordinator.PhaseScanning, st.Phase)

	resp = send("s3cret", `{"action":"confirm"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = send("s3cret", `{"action":"cancel"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCommandHTTPWhileUIConnected(t *testing.T) {
	f := newFixture(t, Config{})
	ui := f.dial(t, "")
	ui.waitState(coordinator.PhaseIdle)

	resp := f.post(t, "/api/v1/commands", `{"action":"startScan"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, coordinator.PhaseIdle, f.coord.State().Phase)
}

func TestStopClosesClients(t *testing.T) {
	f := newFixture(t, Config{})
	ui := f.dial(t, "")
	ui.waitState(coordinator.PhaseIdle)

	f.server.Stop()
	require.NoError(t, ui.conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := ui.conn.ReadMessage()
	assert.Error(t, err)
}
