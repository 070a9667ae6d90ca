// Package server exposes the agent to UI clients and companion phones.
//
// UI clients connect to /ws, receive every coordinator state change and
// send commands. Phones connect to the same endpoint with ?mode=device and
// are handed to the phone bridge. A small HTTP API under /api/v1 mirrors the
// state and offers tag payload encoding and decoding.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/davi-pay/buildinfo"
	"github.com/dotside-studios/davi-pay/coordinator"
	"github.com/dotside-studios/davi-pay/protocol"
)

// Coordinator is the part of *coordinator.Coordinator the server drives.
type Coordinator interface {
	State() coordinator.State
	Subscribe() (<-chan coordinator.State, func())
	BeginWalletConnect() error
	WalletConnected(addr string) error
	WalletConnectFailed(err error) error
	StartScan() error
	Confirm() error
	Cancel() error
	Reset() error
}

// Phones is the companion phone bridge. *phonenfc.Bridge implements it.
type Phones interface {
	http.Handler
	Devices() []protocol.DeviceInfo
}

// Config holds the server configuration
type Config struct {
	Coordinator Coordinator
	// Phones is nil when no phone backend is in use.
	Phones Phones

	Port      int
	APISecret string // optional secret UI clients pass as ?secret=
	Language  string // text record language for /api/v1/encode

	// MDNS advertises the agent as ServiceName.
	MDNS        bool
	ServiceName string

	// CertFile and KeyFile enable HTTPS. CACertFile is served at /ca.pem so
	// phones can trust the local CA.
	CertFile   string
	KeyFile    string
	CACertFile string
}

// Server manages the HTTP and WebSocket server
type Server struct {
	config   Config
	router   *mux.Router
	registry *HandlerRegistry
	sessions *SessionManager
	upgrader websocket.Upgrader

	mu         sync.Mutex
	httpServer *http.Server
	mdnsServer *zeroconf.Server
	clients    map[*Client]struct{}
}

// New creates a new server instance
func New(config Config) *Server {
	s := &Server{
		config:   config,
		registry: NewHandlerRegistry(),
		sessions: NewSessionManager(config.APISecret),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // UI runs from file:// and LAN origins
			},
		},
		clients: make(map[*Client]struct{}),
	}
	s.registerHandlers()
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Registry returns the WebSocket handler registry.
func (s *Server) Registry() *HandlerRegistry { return s.registry }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	api := r.PathPrefix(APIPrefix).Subrouter()
	api.HandleFunc("/health", s.handleHealthCheck).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/commands", s.handleCommandHTTP).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/decode", s.handleDecode).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/encode", s.handleEncode).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/devices/{id}", s.handleDevice).Methods(http.MethodGet, http.MethodOptions)

	if s.config.CACertFile != "" {
		r.HandleFunc("/ca.pem", s.handleCACert).Methods(http.MethodGet)
	}
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buildinfo.DisplayName + " agent running"))
	}).Methods(http.MethodGet)
	return r
}

// corsMiddleware adds CORS headers and answers preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln in the background.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	tlsEnabled := s.config.CertFile != "" && s.config.KeyFile != ""
	go func() {
		var err error
		if tlsEnabled {
			log.Printf("[server] Listening on https://%s", ln.Addr())
			err = srv.ServeTLS(ln, s.config.CertFile, s.config.KeyFile)
		} else {
			log.Printf("[server] Listening on http://%s", ln.Addr())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[server] HTTP server error: %v", err)
		}
	}()

	if s.config.MDNS {
		port := ln.Addr().(*net.TCPAddr).Port
		if err := s.startMDNS(port, tlsEnabled); err != nil {
			log.Printf("[server] Warning: failed to start mDNS service: %v", err)
			log.Printf("[server] Phones will need the agent address entered by hand")
		}
	}
	return nil
}

// Stop shuts the server down and disconnects every UI client.
func (s *Server) Stop() {
	s.mu.Lock()
	mdnsServer := s.mdnsServer
	s.mdnsServer = nil
	srv := s.httpServer
	s.httpServer = nil
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if mdnsServer != nil {
		mdnsServer.Shutdown()
		log.Printf("[server] mDNS service stopped")
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[server] Shutdown error: %v", err)
		}
	}
	// Hijacked WebSocket connections are not closed by Shutdown.
	for _, c := range clients {
		c.Close()
	}
}

// startMDNS registers the agent so the phone app can discover it.
func (s *Server) startMDNS(port int, tlsEnabled bool) error {
	name := s.config.ServiceName
	if name == "" {
		name = MDNSServiceName
	}
	scheme := "ws"
	if tlsEnabled {
		scheme = "wss"
	}
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=" + scheme,
		"path=/ws",
		"device_mode=?mode=device",
	}

	server, err := zeroconf.Register(name, MDNSServiceType, MDNSDomain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.mdnsServer = server
	s.mu.Unlock()
	log.Printf("[server] mDNS service registered: %s on port %d", name, port)
	return nil
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}
