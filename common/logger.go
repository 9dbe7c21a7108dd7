package common

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MT: Constant after initialization; thread-safe
var Log *zap.SugaredLogger

var logLevel zap.AtomicLevel

func init() {
	logLevel = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg := zap.NewProductionConfig()
	cfg.Level = logLevel
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	Log = logger.Sugar()
}

// SetVerbose raises the log level to Info; by default only warnings and errors are printed.
func SetVerbose(verbose bool) {
	if verbose {
		logLevel.SetLevel(zapcore.InfoLevel)
	} else {
		logLevel.SetLevel(zapcore.WarnLevel)
	}
}
