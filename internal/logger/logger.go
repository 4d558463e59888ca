package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the application logger: human-readable console output in
// debug mode, JSON on stdout otherwise.
func New(appName, version string, debug bool) (*zap.Logger, error) {
	var encoder zapcore.Encoder
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	if debug {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
		level.SetLevel(zapcore.DebugLevel)
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", appName), zap.String("version", version)),
	), nil
}

// Must is like New but falls back to zap.NewProduction on error.
func Must(appName, version string, debug bool) *zap.Logger {
	l, err := New(appName, version, debug)
	if err != nil {
		l, _ = zap.NewProduction()
	}
	return l
}
