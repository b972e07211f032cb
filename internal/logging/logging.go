package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a zap logger. The development config is used for the "debug" level or
// the "console" format; anything else gets the production JSON config.
func New(level, format string) (*zap.Logger, error) {
	var cfgZap zap.Config
	if level == "debug" || format == "console" {
		cfgZap = zap.NewDevelopmentConfig()
	} else {
		cfgZap = zap.NewProductionConfig()
	}
	if level != "" {
		if err := cfgZap.Level.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	logger, err := cfgZap.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
