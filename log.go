package qbt

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger picks the configured logger, a development logger in debug mode,
// or a no-op logger.
func newLogger(cfg Config) *zap.Logger {
	if cfg.Logger != nil {
		return cfg.Logger.Named("qbt")
	}
	if !cfg.Debug {
		return zap.NewNop()
	}

	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zapCfg.DisableStacktrace = true

	logger, err := zapCfg.Build()
	if err != nil {
		// Fallback to no-op logger
		return zap.NewNop()
	}
	return logger.Named("qbt")
}
