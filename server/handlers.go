package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dotside-studios/davi-pay/coordinator"
	"github.com/dotside-studios/davi-pay/protocol"
)

var errUnknownAction = errors.New("unknown action")

// registerHandlers installs the WebSocket message handlers.
func (s *Server) registerHandlers() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(s.registry.Handle(protocol.TypeCommand, s.handleCommand))
	must(s.registry.Handle(protocol.TypeState, s.handleGetState))
}

// handleCommand applies a command and answers with the resulting state.
func (s *Server) handleCommand(ctx context.Context, c *Client, req protocol.Request) error {
	var cmd protocol.CommandPayload
	if err := req.DecodePayload(&cmd); err != nil {
		return err
	}
	if err := applyCommand(s.config.Coordinator, cmd); err != nil {
		return err
	}
	return c.Send(protocol.Response{
		ID:      req.ID,
		Type:    protocol.TypeCommandResponse,
		Success: true,
		Payload: s.config.Coordinator.State(),
	})
}

// handleGetState answers with the current state.
func (s *Server) handleGetState(ctx context.Context, c *Client, req protocol.Request) error {
	return c.Send(protocol.Message{ID: req.ID, Type: protocol.TypeState, Payload: s.config.Coordinator.State()})
}

// applyCommand runs one coordinator action.
func applyCommand(co Coordinator, cmd protocol.CommandPayload) error {
	switch cmd.Action {
	case protocol.ActionStartScan:
		return co.StartScan()
	case protocol.ActionConfirm:
		return co.Confirm()
	case protocol.ActionCancel:
		return co.Cancel()
	case protocol.ActionReset:
		return co.Reset()
	case protocol.ActionBeginWallet:
		return co.BeginWalletConnect()
	case protocol.ActionWalletConnected:
		return co.WalletConnected(strings.TrimSpace(cmd.Address))
	case protocol.ActionWalletFailed:
		msg := cmd.Error
		if msg == "" {
			msg = "wallet connection failed"
		}
		return co.WalletConnectFailed(errors.New(msg))
	}
	return fmt.Errorf("%w: %q", errUnknownAction, cmd.Action)
}

// errorCode maps a handler error to a protocol error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, coordinator.ErrInvalidPhase):
		return protocol.ErrCodeNotAllowed
	case errors.Is(err, errUnknownAction):
		return protocol.ErrCodeInvalidRequest
	case errors.Is(err, coordinator.ErrClosed):
		return protocol.ErrCodeInternal
	}
	return protocol.ErrCodeInvalidPayload
}
