package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sqlpilot/sqlpilot/pkg/executor"
	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/memory"
	"github.com/sqlpilot/sqlpilot/pkg/presenter"
)

// tracingShutdown flushes spans once the command has run
var tracingShutdown func(context.Context) error

// localConfigFile is merged over the home config when present in the working directory
const localConfigFile = "sqlpilot.yaml"

func init() {
	initConfig()
}

// initConfig wires environment variables, defaults and config files into viper
func initConfig() {
	viper.SetEnvPrefix("SQLPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.sqlpilot")

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()

	if _, err := os.Stat(localConfigFile); err == nil {
		viper.SetConfigFile(localConfigFile)
		if err := viper.MergeInConfig(); err != nil {
			logger.G(context.Background()).WithError(err).Warnf("failed to merge %s", localConfigFile)
		}
	}
}

// setDefaults registers every config key so AutomaticEnv can resolve it
// during viper.Unmarshal
func setDefaults() {
	viper.SetDefault("provider", "openai")
	viper.SetDefault("model", "")
	viper.SetDefault("max_tokens", 0)
	viper.SetDefault("temperature", 0)
	viper.SetDefault("openai.preset", "groq")
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("openai.api_key_env_var", "")

	viper.SetDefault("retry.attempts", 3)
	viper.SetDefault("retry.initial_delay", 1000)
	viper.SetDefault("retry.max_delay", 10000)
	viper.SetDefault("retry.backoff_type", "exponential")

	viper.SetDefault("memory.max_exchanges", memory.DefaultMaxExchanges)
	viper.SetDefault("memory.max_tokens_per_message", memory.DefaultMaxTokensPerMessage)
	viper.SetDefault("executor.max_attempts", executor.DefaultMaxAttempts)

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8000)

	viper.SetDefault("store.path", "")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", "168h")

	viper.SetDefault("search.enabled", true)
	viper.SetDefault("search.endpoint", "")
	viper.SetDefault("search.max_results", 5)

	viper.SetDefault("prompts.dir", "")
	viper.SetDefault("known_tables", []string{})

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "fmt")
}

var rootCmd = &cobra.Command{
	Use:   "sqlpilot",
	Short: "Ask questions about your databases in plain language",
	Long: `sqlpilot turns natural-language questions into read-only SQL for PostgreSQL/PostGIS,
MySQL, SQL Server and SQLite, runs it with model-assisted repair and keeps the
conversation so follow-up questions make sense.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		logger.SetLogFormat(viper.GetString("log_format"))

		shutdown, err := initTracing(cmd.Context())
		if err != nil {
			logger.G(cmd.Context()).WithError(err).Warn("failed to initialise tracing")
			return nil
		}
		tracingShutdown = shutdown
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if tracingShutdown == nil {
			return
		}
		if err := tracingShutdown(context.Background()); err != nil {
			logger.G(cmd.Context()).WithError(err).Warn("failed to shut down tracing")
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func main() {
	rootCmd.PersistentFlags().String("provider", "", "LLM provider to use (openai, anthropic or google)")
	rootCmd.PersistentFlags().String("model", "", "LLM model to use (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (fmt or json)")
	rootCmd.PersistentFlags().String("store", "", "Path to the local store (default: ~/.sqlpilot/storage.db)")

	bindFlag("provider", "provider")
	bindFlag("model", "model")
	bindFlag("log_level", "log-level")
	bindFlag("log_format", "log-format")
	bindFlag("store.path", "store")

	rootCmd.AddCommand(withTracing(serveCmd))
	rootCmd.AddCommand(withTracing(askCmd))
	rootCmd.AddCommand(connectionCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		presenter.Error(err, "command failed")
		os.Exit(1)
	}
}

// bindFlag binds a persistent root flag to a viper key, only overriding
// config when the flag is set
func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", flag, err))
	}
}

// exitWithError reports err through the presenter and exits non-zero
func exitWithError(err error, context string) {
	presenter.Error(err, context)
	os.Exit(1)
}
