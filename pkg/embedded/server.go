// Package embedded runs an in-process coordination server for host
// applications that do not want a separate daemon. It wires the same stack
// the serve command uses: resilient SQLite store, postmaster service,
// websocket hub and HTTP router.
package embedded

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mistakeknot/interlock/internal/auth"
	httpapi "github.com/mistakeknot/interlock/internal/http"
	"github.com/mistakeknot/interlock/internal/postmaster"
	"github.com/mistakeknot/interlock/internal/server"
	"github.com/mistakeknot/interlock/internal/storage/sqlite"
	"github.com/mistakeknot/interlock/internal/ws"
)

// Config configures the embedded server. Zero values take the defaults
// documented on each field.
type Config struct {
	// DBPath is the SQLite database file. Empty defaults to
	// ~/.interlock/interlock.db.
	DBPath string

	// Addr is the listen address. Empty defaults to 127.0.0.1:0, which
	// binds a free port; read the real address from Server.Addr after Start.
	Addr string

	// KeysFile enables API-key auth from the given keyring file. Empty
	// leaves the server open, which is the usual embedded setup where the
	// host process is the only caller.
	KeysFile string

	// SweepInterval runs the reservation sweeper when positive. Most hosts
	// leave it zero; expiry is lazy either way.
	SweepInterval time.Duration
	SweepGrace    time.Duration
}

// Server is an in-process coordination server with a Start/Stop lifecycle.
type Server struct {
	store *sqlite.Store
	hub   *ws.Hub
	svc   *postmaster.Service
	srv   *server.Server
	sweep *sqlite.Sweeper

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// New builds the server but does not start serving. The listener is bound
// here, so Addr reports the real port immediately.
func New(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".interlock", "interlock.db")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	resilient := sqlite.NewResilient(store)

	var authMW func(http.Handler) http.Handler
	if cfg.KeysFile != "" {
		ring, err := auth.LoadKeyring(cfg.KeysFile)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("load keyring: %w", err)
		}
		authMW = auth.Middleware(ring)
	}

	hub := ws.NewHub()
	svc := postmaster.NewService(resilient).WithBroadcaster(hub)
	router := httpapi.NewRouter(httpapi.NewHandler(svc), hub.Handler(), authMW)

	srv, err := server.New(server.Config{Addr: cfg.Addr, Handler: router})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init server: %w", err)
	}

	s := &Server{store: store, hub: hub, svc: svc, srv: srv}
	if cfg.SweepInterval > 0 {
		s.sweep = sqlite.NewSweeper(resilient, hub, cfg.SweepInterval, cfg.SweepGrace)
	}
	return s, nil
}

// Start begins serving in a background goroutine. Calling Start twice is a
// no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.sweep != nil {
		s.sweep.Start(ctx)
	}
	go func() {
		if err := s.srv.Start(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "interlock embedded server: %v\n", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully and closes the store.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	s.cancel()
	if s.sweep != nil {
		s.sweep.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// Addr returns the bound listen address, including the port picked for :0.
func (s *Server) Addr() string {
	return s.srv.Addr()
}

// URL returns the base HTTP URL of the server.
func (s *Server) URL() string {
	return "http://" + s.srv.Addr()
}

// Service exposes the coordination service for direct in-process calls,
// bypassing HTTP entirely.
func (s *Server) Service() *postmaster.Service {
	return s.svc
}
