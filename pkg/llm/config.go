package llm

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

// GetConfigFromViper decodes the completion client configuration from viper
func GetConfigFromViper() (llmtypes.Config, error) {
	var config llmtypes.Config

	if err := viper.Unmarshal(&config); err != nil {
		return config, errors.Wrap(err, "failed to unmarshal configuration")
	}

	if config.Provider == "" {
		config.Provider = llmtypes.ProviderOpenAI
	}
	if config.Retry.Attempts == 0 {
		config.Retry = llmtypes.DefaultRetryConfig
	}

	return config, nil
}
