package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/dotside-studios/davi-pay/buildinfo"
	"github.com/dotside-studios/davi-pay/config"
	"github.com/dotside-studios/davi-pay/coordinator"
	"github.com/dotside-studios/davi-pay/ledger/suirpc"
	"github.com/dotside-studios/davi-pay/nfc"
	"github.com/dotside-studios/davi-pay/nfc/phonenfc"
	"github.com/dotside-studios/davi-pay/nfc/usbreader"
	"github.com/dotside-studios/davi-pay/protocol"
	"github.com/dotside-studios/davi-pay/server"
	"github.com/dotside-studios/davi-pay/tlscert"
	"github.com/dotside-studios/davi-pay/transfer"
)

// Agent wires a reader backend, the transfer pipeline and the coordinator to
// the server.
type Agent struct {
	Logger    *log.Logger
	Config    *config.Config
	APISecret string

	bridge      *phonenfc.Bridge
	usb         *usbreader.Reader
	coordinator *coordinator.Coordinator
	server      *server.Server
}

func NewAgent(cfg *config.Config) *Agent {
	return &Agent{
		Logger: log.New(os.Stderr, "[agent] ", log.LstdFlags),
		Config: cfg,
	}
}

// Start builds every component and starts serving in the background.
func (a *Agent) Start() error {
	if a.server != nil {
		return errors.New("agent is already running")
	}
	cfg := a.Config

	reader, auth, err := a.openReader()
	if err != nil {
		return err
	}

	ledger := suirpc.New(suirpc.Config{
		RPCURL:   cfg.Ledger.RPCURL,
		RelayURL: cfg.Ledger.RelayURL,
		Explorer: cfg.Ledger.Explorer,
		Timeout:  cfg.Ledger.Timeout,
	})

	var coord *coordinator.Coordinator
	pipeline := transfer.NewPipeline(ledger, auth,
		transfer.WithConfirmPolicy(cfg.Transfer.Confirm),
		transfer.WithNetwork(cfg.Ledger.Network),
		transfer.WithObserver(func(at transfer.Attempt) { coord.ObserveAttempt(at) }),
	)
	opts := []coordinator.Option{coordinator.WithScanRetry(cfg.Transfer.ScanRetry)}
	if cfg.Wallet.Sender != "" {
		opts = append(opts, coordinator.WithSender(cfg.Wallet.Sender))
	}
	coord = coordinator.New(nfc.NewSession(reader), pipeline, opts...)
	a.coordinator = coord

	srvCfg := server.Config{
		Coordinator: coord,
		Port:        cfg.Server.Port,
		APISecret:   a.APISecret,
		Language:    cfg.Reader.Language,
		MDNS:        cfg.Server.MDNS,
		ServiceName: cfg.Server.Name,
	}
	if a.bridge != nil {
		srvCfg.Phones = a.bridge
	}
	if cfg.Server.TLS.Enabled {
		bundle, err := a.certificates()
		if err != nil {
			a.Stop()
			return err
		}
		srvCfg.CertFile = bundle.CertFile
		srvCfg.KeyFile = bundle.KeyFile
		srvCfg.CACertFile = bundle.CACertFile
	}

	a.server = server.New(srvCfg)
	if err := a.server.Start(); err != nil {
		a.Stop()
		return err
	}
	a.Logger.Printf("%s %s started with %s reader", buildinfo.DisplayName, buildinfo.FullVersion(), cfg.Reader.Backend)
	if buildinfo.IsDev() {
		a.Logger.Printf("Development build: set buildinfo.Version through ldflags for releases")
	}
	return nil
}

// openReader opens the configured backend. USB readers have no way to
// prompt the user, so the confirm command from the UI is the approval.
func (a *Agent) openReader() (nfc.Reader, transfer.Authenticator, error) {
	cfg := a.Config
	switch cfg.Reader.Backend {
	case config.BackendUSB:
		r, err := usbreader.Open(cfg.Reader.Device)
		if err != nil {
			a.Logger.Printf("Error initializing NFC reader: %v", err)
			return nil, nil, err
		}
		a.usb = r
		a.Logger.Printf("Using USB reader %s", r.Name())
		return r, transfer.AuthenticatorFunc(func(ctx context.Context, reason string) error {
			a.Logger.Printf("Approved from UI: %s", reason)
			return nil
		}), nil
	default:
		a.bridge = phonenfc.NewBridge(cfg.Reader.DeviceTimeout, protocol.ServerInfo{
			Name:    cfg.Server.Name,
			Version: buildinfo.Version,
		})
		a.Logger.Println("Waiting for a phone to connect")
		return a.bridge, a.bridge, nil
	}
}

func (a *Agent) certificates() (tlscert.Bundle, error) {
	dir := a.Config.Server.TLS.Dir
	if dir == "" {
		d, err := config.DefaultDir()
		if err != nil {
			return tlscert.Bundle{}, err
		}
		dir = d
	}
	return tlscert.NewManager(dir).Ensure()
}

// Stop shuts down the server, the coordinator and the reader.
func (a *Agent) Stop() {
	a.Logger.Println("Stopping agent...")

	if a.server != nil {
		a.server.Stop()
		a.server = nil
	}
	if a.coordinator != nil {
		a.coordinator.Close()
		a.coordinator = nil
	}
	if a.bridge != nil {
		a.bridge.Close()
		a.bridge = nil
	}
	if a.usb != nil {
		if err := a.usb.Close(); err != nil {
			a.Logger.Printf("Error closing reader: %v", err)
		}
		a.usb = nil
	}
	a.Logger.Println("Agent stopped successfully")
}
