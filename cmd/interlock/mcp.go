package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/interlock/internal/config"
	"github.com/mistakeknot/interlock/internal/mcpserver"
	"github.com/mistakeknot/interlock/internal/postmaster"
	"github.com/mistakeknot/interlock/internal/storage/sqlite"
	pkgconfig "github.com/mistakeknot/interlock/pkg/config"
)

func newMCPCmd() *cobra.Command {
	var (
		configPath string
		dbPath     string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP stdio server",
		Long: "Serves the coordination tools over the Model Context Protocol on\n" +
			"stdin/stdout, against the same database the HTTP server uses.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(configPath, dbPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	return cmd
}

func runMCP(configPath, dbPath string) error {
	cfg := config.NewDefaultConfig()
	if configPath != "" {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return err
		}
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stdout carries the protocol; logs must go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Log.Level,
	}))
	slog.SetDefault(logger)

	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	svc := postmaster.NewService(sqlite.NewResilient(store))
	return mcpserver.New(svc).ServeStdio()
}
