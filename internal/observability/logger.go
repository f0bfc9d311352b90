package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a logger based on environment.
// When logFile is non-empty, output is also written to a rotating file.
func NewLogger(environment, logFile string) *zap.Logger {
	var (
		encoder zapcore.Encoder
		level   zapcore.Level
	)

	if environment == "production" {
		// Production: JSON with structured fields
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
		level = zapcore.InfoLevel
	} else {
		// Development: Human-readable console output
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
		level = zapcore.DebugLevel
	}

	return zap.New(zapcore.NewCore(encoder, logWriter(logFile), level), zap.AddCaller())
}

func logWriter(logFile string) zapcore.WriteSyncer {
	stdout := zapcore.AddSync(os.Stdout)
	if logFile == "" {
		return stdout
	}
	rotating := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
	}
	return zapcore.NewMultiWriteSyncer(stdout, zapcore.AddSync(rotating))
}
