package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/dotside-studios/davi-pay/buildinfo"
	"github.com/dotside-studios/davi-pay/nfc"
	"github.com/dotside-studios/davi-pay/payload"
	"github.com/dotside-studios/davi-pay/protocol"
)

const maxBodySize = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorResponse("", code, message))
}

// readJSON decodes the request body into v, rejecting unknown fields.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeParse, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// handleHealthCheck serves GET /api/v1/health.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   buildinfo.FullVersion(),
		"dev":       buildinfo.IsDev(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleState serves GET /api/v1/state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Coordinator.State())
}

// handleCommandHTTP serves POST /api/v1/commands for clients without a
// WebSocket. The secret is passed in the Authorization header.
func (s *Server) handleCommandHTTP(w http.ResponseWriter, r *http.Request) {
	if s.config.APISecret != "" && r.Header.Get("Authorization") != "Bearer "+s.config.APISecret {
		writeError(w, http.StatusUnauthorized, protocol.ErrCodeNotAllowed, "Unauthorized: Invalid API secret")
		return
	}
	if holder := s.sessions.Holder(); holder != "" {
		writeError(w, http.StatusConflict, protocol.ErrCodeNotAllowed, "Session claimed by "+holder)
		return
	}

	var cmd protocol.CommandPayload
	if !readJSON(w, r, &cmd) {
		return
	}
	if err := applyCommand(s.config.Coordinator, cmd); err != nil {
		status := http.StatusBadRequest
		if errorCode(err) == protocol.ErrCodeNotAllowed {
			status = http.StatusConflict
		}
		writeError(w, status, errorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.config.Coordinator.State())
}

// handleDecode serves POST /api/v1/decode.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	var req protocol.DecodeRequest
	if !readJSON(w, r, &req) {
		return
	}

	intent, err := payload.Decode(req.Text)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, protocol.DecodeResponse{
			Error:   err.Error(),
			Code:    decodeErrorCode(err),
			Missing: payload.MissingFields(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, protocol.DecodeResponse{Intent: intent})
}

func decodeErrorCode(err error) string {
	switch {
	case errors.Is(err, payload.ErrEmptyPayload):
		return protocol.CodeEmptyPayload
	case errors.Is(err, payload.ErrIncompleteFields):
		return protocol.CodeIncompleteFields
	}
	return protocol.CodeUnrecognizedFormat
}

// handleEncode serves POST /api/v1/encode.
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	var req protocol.EncodeRequest
	if !readJSON(w, r, &req) {
		return
	}

	intent := payload.NewTransferIntent(req.Recipient, req.Merchant, req.Amount, req.CoinType)
	if err := intent.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidPayload, err.Error())
		return
	}
	lang := req.Language
	if lang == "" {
		lang = s.config.Language
	}
	text := payload.Encode(intent)
	writeJSON(w, http.StatusOK, protocol.EncodeResponse{
		Text: text,
		Size: nfc.NewTagWritePayload(text, lang).Size(),
	})
}

// handleDevices serves GET /api/v1/devices.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := []protocol.DeviceInfo{}
	if s.config.Phones != nil {
		devices = s.config.Phones.Devices()
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// handleDevice serves GET /api/v1/devices/{id}.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.config.Phones != nil {
		for _, d := range s.config.Phones.Devices() {
			if d.DeviceID == id {
				writeJSON(w, http.StatusOK, d)
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, protocol.ErrCodeInvalidRequest, "Device not found: "+id)
}

// handleCACert serves the local CA certificate for phones to install.
func (s *Server) handleCACert(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.config.CACertFile)
	if err != nil {
		http.Error(w, "CA certificate not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", `attachment; filename="davi-pay-ca.pem"`)
	w.Write(data)
	log.Printf("[server] CA certificate downloaded by %s", r.RemoteAddr)
}
