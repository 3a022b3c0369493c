package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sqlpilot/sqlpilot/pkg/engine"
	"github.com/sqlpilot/sqlpilot/pkg/executor"
	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/presenter"
	"github.com/sqlpilot/sqlpilot/pkg/session"
	"github.com/sqlpilot/sqlpilot/pkg/spatial"
)

// AskConfig holds configuration for the ask command
type AskConfig struct {
	ConnectionID string
	Execute      bool
	GeometryFile string
	Copy         bool
	JSONOutput   bool
	Quiet        bool
}

// NewAskConfig creates a new AskConfig with default values
func NewAskConfig() *AskConfig {
	return &AskConfig{
		ConnectionID: "",
		Execute:      false,
		GeometryFile: "",
		Copy:         false,
		JSONOutput:   false,
		Quiet:        false,
	}
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about a stored connection",
	Long: `Ask a natural-language question about a stored connection. The answer is either a
conversational reply or a read-only SQL statement, which --execute runs with
automatic repair. Follow-up questions continue the same conversation.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getAskConfigFromFlags(cmd)
		presenter.SetQuiet(config.Quiet)
		if !runAskCommand(ctx, strings.Join(args, " "), config) {
			os.Exit(1)
		}
	},
}

func init() {
	defaults := NewAskConfig()
	askCmd.Flags().StringP("connection", "c", defaults.ConnectionID, "ID of the connection to ask about (required)")
	askCmd.Flags().BoolP("execute", "x", defaults.Execute, "Run the generated SQL and print the rows")
	askCmd.Flags().String("geometry", defaults.GeometryFile, "GeoJSON file with the area to filter spatial questions by")
	askCmd.Flags().Bool("copy", defaults.Copy, "Copy the SQL statement to the clipboard")
	askCmd.Flags().Bool("json", defaults.JSONOutput, "Output the answer as JSON")
	askCmd.Flags().BoolP("quiet", "q", defaults.Quiet, "Print only the SQL statement, or the reply when there is none")
	askCmd.MarkFlagRequired("connection")
}

// getAskConfigFromFlags extracts ask configuration from command flags
func getAskConfigFromFlags(cmd *cobra.Command) *AskConfig {
	config := NewAskConfig()

	if id, err := cmd.Flags().GetString("connection"); err == nil {
		config.ConnectionID = id
	}
	if execute, err := cmd.Flags().GetBool("execute"); err == nil {
		config.Execute = execute
	}
	if geometry, err := cmd.Flags().GetString("geometry"); err == nil {
		config.GeometryFile = geometry
	}
	if copySQL, err := cmd.Flags().GetBool("copy"); err == nil {
		config.Copy = copySQL
	}
	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSONOutput = jsonOutput
	}
	if quiet, err := cmd.Flags().GetBool("quiet"); err == nil {
		config.Quiet = quiet
	}

	return config
}

// AskOutput is the --json form of an answer
type AskOutput struct {
	Answer *engine.Envelope `json:"answer"`
	Result *executor.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Render writes the output as indented JSON
func (o *AskOutput) Render(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(o)
}

// loadGeometry reads a GeoJSON geometry or feature from path
func loadGeometry(path string) (spatial.Geometry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read geometry file")
	}
	return spatial.ParseGeometry(data)
}

// statementToCopy is the statement that actually ran, or the generated one
func statementToCopy(env *engine.Envelope, result *executor.Result) string {
	if result != nil && result.FinalQuery != "" {
		return result.FinalQuery
	}
	if env == nil {
		return ""
	}
	return env.SQLQuery
}

// runAskCommand answers one question and reports whether it succeeded
func runAskCommand(ctx context.Context, question string, config *AskConfig) bool {
	geometry, err := loadGeometry(config.GeometryFile)
	if err != nil {
		exitWithError(err, "invalid geometry")
	}

	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	record, err := a.connections.Get(ctx, config.ConnectionID)
	if err != nil {
		exitWithError(err, fmt.Sprintf("failed to load connection %s", config.ConnectionID))
	}

	factory, err := a.factory(ctx)
	if err != nil {
		exitWithError(err, "failed to configure the completion provider")
	}

	s, err := factory.Open(ctx, session.Key(cliUser, record.ID), record)
	if err != nil {
		exitWithError(err, "failed to connect")
	}
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to close session")
		}
	}()

	output := &AskOutput{}
	env, err := s.Query(ctx, question, geometry)
	if err != nil {
		var procErr *engine.ProcessingError
		if errors.As(err, &procErr) {
			env = procErr.Envelope
		}
		output.Answer = env
		output.Error = err.Error()
		return finishAsk(output, config)
	}
	output.Answer = env

	if config.Execute && env.HasSQL() {
		result, err := s.Execute(ctx, env.SQLQuery, env.FilteredTables)
		if err != nil {
			output.Error = err.Error()
		}
		output.Result = result
	}

	return finishAsk(output, config)
}

// finishAsk prints the answer and copies the statement when asked to
func finishAsk(output *AskOutput, config *AskConfig) bool {
	if config.Copy {
		if statement := statementToCopy(output.Answer, output.Result); statement != "" {
			if err := clipboard.WriteAll(statement); err != nil {
				presenter.Warning(fmt.Sprintf("failed to copy SQL to clipboard: %v", err))
			} else {
				presenter.Success("SQL copied to clipboard")
			}
		}
	}

	if config.JSONOutput {
		if err := output.Render(os.Stdout); err != nil {
			exitWithError(err, "failed to render answer")
		}
	} else if presenter.IsQuiet() {
		writeBareAnswer(os.Stdout, output)
	} else {
		displayAnswer(output)
	}

	return output.Error == ""
}

// writeBareAnswer prints just the statement that ran or was generated,
// falling back to the reply text. Errors still reach stderr.
func writeBareAnswer(w io.Writer, output *AskOutput) {
	if output.Error != "" {
		presenter.Error(errors.New(output.Error), "failed to answer")
	}
	if statement := statementToCopy(output.Answer, output.Result); statement != "" {
		fmt.Fprintln(w, statement)
		return
	}
	if output.Answer != nil && output.Answer.Response != "" {
		fmt.Fprintln(w, output.Answer.Response)
	}
}

func displayAnswer(output *AskOutput) {
	env := output.Answer
	if env == nil {
		presenter.Error(errors.New(output.Error), "failed to answer")
		return
	}

	if env.Response != "" {
		fmt.Println(env.Response)
	}
	if env.HasSQL() {
		presenter.Section("SQL")
		presenter.SQL(env.SQLQuery)
		if len(env.FilteredTables) > 0 {
			presenter.Info("Tables: " + strings.Join(env.FilteredTables, ", "))
		}
	}
	if env.Note != "" {
		presenter.Info(env.Note)
	}

	retryTokens := 0
	if result := output.Result; result != nil {
		retryTokens = result.RetryTokens()
		if result.FinalQuery != "" {
			presenter.Section(fmt.Sprintf("Repaired after %d attempts", result.RetryCount))
			presenter.RepairDiff(env.SQLQuery, result.FinalQuery)
		}
		presenter.Section("Results")
		presenter.Rows(result.Columns, result.Data)
	}

	if output.Error != "" {
		presenter.Error(errors.New(output.Error), "failed to answer")
	}

	presenter.Separator()
	presenter.Stats(presenter.ConvertTokenBreakdown(env.LLMTokenUsage, retryTokens))
}
