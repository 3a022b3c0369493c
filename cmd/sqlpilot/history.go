package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sqlpilot/sqlpilot/pkg/memory"
	"github.com/sqlpilot/sqlpilot/pkg/presenter"
	"github.com/sqlpilot/sqlpilot/pkg/querylog"
	"github.com/sqlpilot/sqlpilot/pkg/session"
)

// HistoryConfig selects the conversation the history commands act on
type HistoryConfig struct {
	ConnectionID string
	UserID       string
}

// NewHistoryConfig creates a new HistoryConfig with default values
func NewHistoryConfig() *HistoryConfig {
	return &HistoryConfig{
		ConnectionID: "",
		UserID:       cliUser,
	}
}

// SessionKey is the key the conversation is stored under
func (c *HistoryConfig) SessionKey() string {
	if c.UserID == "" {
		return session.Key(cliUser, c.ConnectionID)
	}
	return session.Key(c.UserID, c.ConnectionID)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage saved conversations",
	Long: `Export, import and clear the conversation kept for a connection. By default this is
the conversation used by 'sqlpilot ask'; --user selects one created through the API.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export a conversation as JSON",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getHistoryConfigFromFlags(cmd)
		var path string
		if len(args) > 0 {
			path = args[0]
		}
		exportHistoryCmd(cmd.Context(), path, config)
	},
}

var historyImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Replace a conversation with an exported one",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getHistoryConfigFromFlags(cmd)
		importHistoryCmd(cmd.Context(), args[0], config)
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget a conversation",
	Run: func(cmd *cobra.Command, args []string) {
		config := getHistoryConfigFromFlags(cmd)
		clearHistoryCmd(cmd.Context(), config)
	},
}

// HistoryLogConfig holds configuration for the history log command
type HistoryLogConfig struct {
	Kind  string
	Limit int
}

// NewHistoryLogConfig creates a new HistoryLogConfig with default values
func NewHistoryLogConfig() *HistoryLogConfig {
	return &HistoryLogConfig{
		Kind:  "",
		Limit: 20,
	}
}

var historyLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the questions asked and statements run for a conversation",
	Run: func(cmd *cobra.Command, args []string) {
		config := getHistoryConfigFromFlags(cmd)
		logConfig := getHistoryLogConfigFromFlags(cmd)
		showHistoryLogCmd(cmd.Context(), config, logConfig)
	},
}

func init() {
	defaults := NewHistoryConfig()
	historyCmd.PersistentFlags().StringP("connection", "c", defaults.ConnectionID, "ID of the connection the conversation belongs to (required)")
	historyCmd.PersistentFlags().String("user", defaults.UserID, "User id the conversation was started under")
	historyCmd.MarkPersistentFlagRequired("connection")

	historyCmd.AddCommand(historyExportCmd)
	historyCmd.AddCommand(historyImportCmd)
	historyCmd.AddCommand(historyClearCmd)

	logDefaults := NewHistoryLogConfig()
	historyLogCmd.Flags().String("kind", logDefaults.Kind, "Only show entries of this kind: query or execution")
	historyLogCmd.Flags().Int("limit", logDefaults.Limit, "Maximum number of entries to show")
	historyCmd.AddCommand(historyLogCmd)
}

// getHistoryLogConfigFromFlags extracts log configuration from command flags
func getHistoryLogConfigFromFlags(cmd *cobra.Command) *HistoryLogConfig {
	config := NewHistoryLogConfig()
	if kind, err := cmd.Flags().GetString("kind"); err == nil {
		config.Kind = kind
	}
	if limit, err := cmd.Flags().GetInt("limit"); err == nil {
		config.Limit = limit
	}
	return config
}

// validateHistoryLogConfig rejects unknown kinds
func validateHistoryLogConfig(config *HistoryLogConfig) error {
	switch querylog.Kind(config.Kind) {
	case "", querylog.KindQuery, querylog.KindExecution:
		return nil
	default:
		return errors.Errorf("invalid kind '%s', valid kinds are: query, execution", config.Kind)
	}
}

// renderQueryLog writes entries as a table in the order given
func renderQueryLog(w io.Writer, entries []querylog.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Time\tKind\tStatus\tTokens\tRetries\tDetail")
	fmt.Fprintln(tw, "----\t----\t------\t------\t-------\t------")
	for _, entry := range entries {
		detail := entry.Question
		if entry.Kind == querylog.KindExecution || detail == "" {
			detail = entry.SQL
		}
		detail = strings.Join(strings.Fields(detail), " ")
		if len(detail) > 60 {
			detail = detail[:57] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			entry.CreatedAt.Local().Format(time.DateTime), entry.Kind, entry.Status,
			entry.TotalTokens+entry.RetryTokens, entry.RetryCount, detail)
	}
	return tw.Flush()
}

// getHistoryConfigFromFlags extracts history configuration from command flags
func getHistoryConfigFromFlags(cmd *cobra.Command) *HistoryConfig {
	config := NewHistoryConfig()
	if id, err := cmd.Flags().GetString("connection"); err == nil {
		config.ConnectionID = id
	}
	if user, err := cmd.Flags().GetString("user"); err == nil {
		config.UserID = user
	}
	return config
}

// decodeSnapshotFile reads an exported conversation and fits it to the
// configured window, so an import never holds more than the session would
func decodeSnapshotFile(r io.Reader, key string, config memory.Config) (memory.Snapshot, error) {
	var snapshot memory.Snapshot
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return memory.Snapshot{}, errors.Wrap(err, "failed to decode conversation")
	}
	if len(snapshot.Messages) == 0 {
		return memory.Snapshot{}, errors.New("conversation has no messages")
	}

	if snapshot.SessionID == "" {
		snapshot.SessionID = key
	}
	mem := memory.New(key, memory.WithConfig(config))
	mem.Restore(snapshot)
	return mem.Snapshot(), nil
}

func exportHistoryCmd(ctx context.Context, path string, config *HistoryConfig) {
	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	snapshot, err := a.snapshots.Load(ctx, config.SessionKey())
	if errors.Is(err, session.ErrSnapshotNotFound) {
		presenter.Warning(fmt.Sprintf("No saved conversation for %s", config.SessionKey()))
		return
	}
	if err != nil {
		exitWithError(err, "failed to load conversation")
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		exitWithError(err, "failed to encode conversation")
	}

	if path == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		exitWithError(err, "failed to write conversation")
	}
	presenter.Success(fmt.Sprintf("Exported %d messages to %s", len(snapshot.Messages), path))
}

func importHistoryCmd(ctx context.Context, path string, config *HistoryConfig) {
	f, err := os.Open(path)
	if err != nil {
		exitWithError(err, "failed to open conversation file")
	}
	defer f.Close()

	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	snapshot, err := decodeSnapshotFile(f, config.SessionKey(), a.config.Memory)
	if err != nil {
		exitWithError(err, "invalid conversation file")
	}
	if err := a.snapshots.Save(ctx, config.SessionKey(), snapshot); err != nil {
		exitWithError(err, "failed to save conversation")
	}
	presenter.Success(fmt.Sprintf("Imported %d messages into %s", len(snapshot.Messages), config.SessionKey()))
}

func clearHistoryCmd(ctx context.Context, config *HistoryConfig) {
	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	if err := a.snapshots.Delete(ctx, config.SessionKey()); err != nil {
		exitWithError(err, "failed to clear conversation")
	}
	presenter.Success(fmt.Sprintf("Cleared conversation %s", config.SessionKey()))
}

func showHistoryLogCmd(ctx context.Context, config *HistoryConfig, logConfig *HistoryLogConfig) {
	if err := validateHistoryLogConfig(logConfig); err != nil {
		exitWithError(err, "invalid log filter")
	}

	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	entries, err := a.logs.List(ctx, querylog.Filter{
		SessionKey: config.SessionKey(),
		Kind:       querylog.Kind(logConfig.Kind),
		Limit:      logConfig.Limit,
	})
	if err != nil {
		exitWithError(err, "failed to list query logs")
	}
	if len(entries) == 0 {
		presenter.Info(fmt.Sprintf("No logged queries for %s", config.SessionKey()))
		return
	}
	if err := renderQueryLog(os.Stdout, entries); err != nil {
		exitWithError(err, "failed to render query logs")
	}
}
