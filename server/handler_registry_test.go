package server

import (
	"context"
	"reflect"
	"testing"

	"github.com/dotside-studios/davi-pay/protocol"
)

func nopHandler(ctx context.Context, c *Client, req protocol.Request) error { return nil }

func TestHandlerRegistry_Handle(t *testing.T) {
	registry := NewHandlerRegistry()

	if err := registry.Handle("test", nopHandler); err != nil {
		t.Fatalf("failed to register handler: %v", err)
	}
	if err := registry.Handle("nil", nil); err == nil {
		t.Error("expected error when registering nil handler")
	}
	if err := registry.Handle("", nopHandler); err == nil {
		t.Error("expected error when registering handler with empty message type")
	}
	if err := registry.Handle("test", nopHandler); err == nil {
		t.Error("expected error when registering duplicate handler")
	}
}

func TestHandlerRegistry_Get(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Handle("test", nopHandler)

	if h, ok := registry.Get("test"); !ok || h == nil {
		t.Error("registered handler not found")
	}
	if _, ok := registry.Get("missing"); ok {
		t.Error("unregistered handler found")
	}
}

func TestServerRegistersHandlers(t *testing.T) {
	s := New(Config{})
	want := []string{protocol.TypeCommand, protocol.TypeState}
	if got := s.Registry().MessageTypes(); !reflect.DeepEqual(got, want) {
		t.Errorf("MessageTypes() = %v, want %v", got, want)
	}
}
