// Package logger builds the process-wide zap logger. Services receive it
// through dependency injection; nothing here is a global.
package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns a production JSON logger for prod environments and a
// human-readable development logger otherwise.
func New(env string) (*zap.Logger, error) {
	var (
		log *zap.Logger
		err error
	)
	if env == "prod" || env == "production" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, fmt.Errorf("build logger failed: %w", err)
	}
	return log, nil
}
