package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mistakeknot/interlock/internal/auth"
	"github.com/mistakeknot/interlock/internal/config"
	httpapi "github.com/mistakeknot/interlock/internal/http"
	"github.com/mistakeknot/interlock/internal/postmaster"
	"github.com/mistakeknot/interlock/internal/server"
	"github.com/mistakeknot/interlock/internal/storage/sqlite"
	"github.com/mistakeknot/interlock/internal/ws"
	pkgconfig "github.com/mistakeknot/interlock/pkg/config"
)

type serveOptions struct {
	configPath string
	host       string
	port       int
	dbPath     string
	keysFile   string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination server",
		Long: "Starts the HTTP and WebSocket server plus the background reservation\n" +
			"sweeper. Flags override values from the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "listen port (overrides config)")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config)")
	cmd.Flags().StringVar(&opts.keysFile, "keys-file", "", "API keys file (overrides config)")
	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg := config.NewDefaultConfig()
	if opts.configPath != "" {
		if err := pkgconfig.Load(opts.configPath, cfg); err != nil {
			return err
		}
	}
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	if opts.dbPath != "" {
		cfg.Storage.Path = opts.dbPath
	}
	if opts.keysFile != "" {
		cfg.Auth.KeysFile = opts.keysFile
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.Level,
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("address", cfg.Server.Address()),
		slog.String("db_path", cfg.Storage.Path),
		slog.String("log_level", cfg.Log.Level.String()))

	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()
	resilient := sqlite.NewResilient(store)

	keysPath := cfg.Auth.KeysFile
	if keysPath == "" {
		keysPath = auth.ResolveKeysPath()
	}
	ring, err := auth.LoadKeyring(keysPath)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	hub := ws.NewHub()
	svc := postmaster.NewService(resilient).WithBroadcaster(hub)
	router := httpapi.NewRouter(httpapi.NewHandler(svc), hub.Handler(), auth.Middleware(ring))

	srv, err := server.New(server.Config{
		Addr:       cfg.Server.Address(),
		SocketPath: cfg.Server.UnixSocket,
		Handler:    router,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	sweeper := sqlite.NewSweeper(resilient, hub, cfg.Sweeper.IntervalDuration(), cfg.Sweeper.GraceDuration())
	sweeper.Start(gCtx)
	defer sweeper.Stop()

	g.Go(func() error {
		logger.Info("server starting", slog.String("address", cfg.Server.Address()))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("server stopped")
	return nil
}
