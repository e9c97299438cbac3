package config

import (
	"github.com/samber/oops"
	"go.uber.org/zap"
)

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("log.level", cfg.Level).Wrap(err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level

	logger, err := zcfg.Build()
	if err != nil {
		return nil, oops.Code("LOGGER_BUILD_FAILED").Wrap(err)
	}
	return logger, nil
}
