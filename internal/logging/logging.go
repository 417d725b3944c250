// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns a JSON production logger when json is set and a console development logger
// otherwise. An empty level means info.
func New(level string, json bool) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	atom, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level %q: %w", level, err)
	}

	config := zap.NewDevelopmentConfig()
	if json {
		config = zap.NewProductionConfig()
	}
	config.Level = atom

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
