// Package server owns the listen/serve/shutdown lifecycle for the
// coordination API. It binds a TCP listener and, optionally, a unix socket
// serving the same handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
)

type Config struct {
	// Addr is the TCP listen address, host:port. Port 0 picks a free port.
	Addr string
	// SocketPath, when set, serves the same handler on a unix socket.
	SocketPath string
	Handler    http.Handler
}

// Server serves HTTP on a TCP listener and an optional unix socket.
// Listeners are bound in New, so Addr is final before Start.
type Server struct {
	cfg    Config
	http   *http.Server
	tcpLn  net.Listener
	unix   *http.Server
	unixLn net.Listener
}

func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("addr required")
	}
	h := cfg.Handler
	if h == nil {
		h = http.NewServeMux()
	}

	tcpLn, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen: %w", err)
	}
	s := &Server{
		cfg:   cfg,
		http:  &http.Server{Handler: h},
		tcpLn: tcpLn,
	}

	if cfg.SocketPath != "" {
		// Remove stale socket file from previous run.
		if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
			tcpLn.Close()
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		ln, err := net.Listen("unix", cfg.SocketPath)
		if err != nil {
			tcpLn.Close()
			return nil, fmt.Errorf("unix listen: %w", err)
		}
		if err := os.Chmod(cfg.SocketPath, 0660); err != nil {
			ln.Close()
			tcpLn.Close()
			return nil, fmt.Errorf("chmod socket: %w", err)
		}
		s.unixLn = ln
		s.unix = &http.Server{Handler: h}
	}

	return s, nil
}

// Start serves until Shutdown is called. Returns http.ErrServerClosed after
// a clean shutdown, like http.Server.
func (s *Server) Start() error {
	if s.unixLn != nil {
		go func() {
			if err := s.unix.Serve(s.unixLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("unix socket serve", "path", s.cfg.SocketPath, "error", err)
			}
		}()
	}
	return s.http.Serve(s.tcpLn)
}

func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error

	if s.unix != nil {
		if err := s.unix.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.unixLn != nil {
		// No-op when Serve already closed it.
		if err := s.unixLn.Close(); err != nil && !errors.Is(err, net.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	if s.cfg.SocketPath != "" {
		os.Remove(s.cfg.SocketPath)
	}

	if err := s.http.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.tcpLn.Close(); err != nil && !errors.Is(err, net.ErrClosed) && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// Addr returns the bound TCP address, including the real port when the
// config asked for port 0.
func (s *Server) Addr() string {
	return s.tcpLn.Addr().String()
}

// SocketPath returns the configured socket path, or empty if not configured.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}
