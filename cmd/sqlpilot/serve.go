package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/presenter"
	"github.com/sqlpilot/sqlpilot/pkg/server"
	"github.com/sqlpilot/sqlpilot/pkg/session"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host string
	Port int
}

// NewServeConfig creates a new ServeConfig with default values
func NewServeConfig() *ServeConfig {
	return &ServeConfig{
		Host: "localhost",
		Port: 8000,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API used by web clients. Clients connect to a stored connection,
receive a session key, and send it back in the X-Session-Key header with every
query, execute and conversation request.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getServeConfigFromFlags(cmd)
		runServeCommand(ctx, config)
	},
}

func init() {
	defaults := NewServeConfig()
	serveCmd.Flags().String("host", defaults.Host, "Host to bind the server to (overrides server.host)")
	serveCmd.Flags().Int("port", defaults.Port, "Port to bind the server to (overrides server.port)")
}

// getServeConfigFromFlags reads the listen address from config, letting
// flags that were set explicitly win
func getServeConfigFromFlags(cmd *cobra.Command) *ServeConfig {
	config := NewServeConfig()

	if appConfig, err := getAppConfigFromViper(); err == nil {
		if appConfig.Server.Host != "" {
			config.Host = appConfig.Server.Host
		}
		if appConfig.Server.Port != 0 {
			config.Port = appConfig.Server.Port
		}
	}

	if cmd.Flags().Changed("host") {
		if host, err := cmd.Flags().GetString("host"); err == nil {
			config.Host = host
		}
	}
	if cmd.Flags().Changed("port") {
		if port, err := cmd.Flags().GetInt("port"); err == nil {
			config.Port = port
		}
	}

	return config
}

// runServeCommand starts the HTTP API and blocks until interrupted
func runServeCommand(ctx context.Context, config *ServeConfig) {
	serverConfig := &server.Config{Host: config.Host, Port: config.Port}
	if err := serverConfig.Validate(); err != nil {
		exitWithError(err, "invalid server configuration")
	}
	if config.Port < 1024 {
		logger.G(ctx).WithField("port", config.Port).Warn("using privileged port (< 1024) may require elevated permissions")
	}

	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	factory, err := a.factory(ctx)
	if err != nil {
		exitWithError(err, "failed to configure the completion provider")
	}

	sessions := session.NewMemoryStore()
	defer func() {
		if err := sessions.Close(context.Background()); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to close sessions")
		}
	}()

	srv, err := server.NewServer(serverConfig, a.connections, factory, sessions)
	if err != nil {
		exitWithError(err, "failed to create server")
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	presenter.Info("Press Ctrl+C to stop the server")

	if err := srv.Start(ctx); err != nil {
		logger.G(ctx).WithError(err).Error("server error")
		presenter.Error(err, "server failed")
		return
	}

	presenter.Info("Server stopped")
}
