package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/mcpserver"
	"github.com/sqlpilot/sqlpilot/pkg/presenter"
	"github.com/sqlpilot/sqlpilot/pkg/session"
	"github.com/sqlpilot/sqlpilot/pkg/version"
)

// MCPConfig holds configuration for the mcp command
type MCPConfig struct {
	ConnectionID string
	LogFile      string
}

// NewMCPConfig creates a new MCPConfig with default values
func NewMCPConfig() *MCPConfig {
	logFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		logFile = filepath.Join(home, ".sqlpilot", "logs", "mcp.log")
	}
	return &MCPConfig{
		ConnectionID: "",
		LogFile:      logFile,
	}
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve generate_sql and execute_sql as MCP tools over stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout for one connection, so agents
can ask for SQL with generate_sql and run read-only statements with execute_sql.
Logs go to --log-file since stdout carries the protocol.`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		config := getMCPConfigFromFlags(cmd)
		runMCPCommand(ctx, config)
	},
}

func init() {
	defaults := NewMCPConfig()
	mcpCmd.Flags().StringP("connection", "c", defaults.ConnectionID, "ID of the connection to expose (required)")
	mcpCmd.Flags().String("log-file", defaults.LogFile, "File to write logs to")
	mcpCmd.MarkFlagRequired("connection")
}

// getMCPConfigFromFlags extracts mcp configuration from command flags
func getMCPConfigFromFlags(cmd *cobra.Command) *MCPConfig {
	config := NewMCPConfig()
	if id, err := cmd.Flags().GetString("connection"); err == nil {
		config.ConnectionID = id
	}
	if logFile, err := cmd.Flags().GetString("log-file"); err == nil {
		config.LogFile = logFile
	}
	return config
}

// validateMCPConfig checks the connection id is present
func validateMCPConfig(config *MCPConfig) error {
	if config.ConnectionID == "" {
		return errors.New("connection id cannot be empty")
	}
	return nil
}

func runMCPCommand(ctx context.Context, config *MCPConfig) {
	if err := validateMCPConfig(config); err != nil {
		exitWithError(err, "invalid MCP server configuration")
	}

	presenter.SetQuiet(true)
	if config.LogFile != "" {
		closer, err := logger.SetLogFile(config.LogFile)
		if err != nil {
			exitWithError(err, "failed to open log file")
		}
		defer closer.Close()
	}

	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	record, err := a.connections.Get(ctx, config.ConnectionID)
	if err != nil {
		exitWithError(err, "failed to load connection")
	}

	factory, err := a.factory(ctx)
	if err != nil {
		exitWithError(err, "failed to configure the completion provider")
	}

	s, err := factory.Open(ctx, session.Key("mcp", record.ID), record)
	if err != nil {
		exitWithError(err, "failed to connect")
	}
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to close session")
		}
	}()

	srv, err := mcpserver.New(s, "sqlpilot", version.Get().Version)
	if err != nil {
		exitWithError(err, "failed to create MCP server")
	}

	logger.G(ctx).WithField("connection_id", record.ID).Info("serving MCP over stdio")
	if err := mcpserver.Serve(srv); err != nil {
		logger.G(ctx).WithError(err).Error("MCP server stopped")
	}
}
