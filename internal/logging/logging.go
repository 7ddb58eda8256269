// Package logging builds the process logger.
package logging

import (
	"github.com/Carmen-Shannon/oxy-core/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger from the logging config. Unknown levels fall back to info. The "json" format
// uses the production encoder; anything else gets a compact colored console.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = !cfg.Caller
		zapCfg.DisableStacktrace = !cfg.Caller
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

// Verbosity raises the configured level for the -v and --vv flags. One level selects debug; two also
// turn on caller and stack trace reporting.
func Verbosity(cfg config.LoggingConfig, v int) config.LoggingConfig {
	if v >= 1 {
		cfg.Level = "debug"
	}
	if v >= 2 {
		cfg.Caller = true
	}
	return cfg
}
