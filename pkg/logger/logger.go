package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var InfoLogger, FatalLogger *zap.Logger

var (
	serviceName = "default"
)

type Config struct {
	Level string
	JSON  bool
}

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

// New собирает логгер процесса и инициализирует глобальные InfoLogger/FatalLogger.
func New(conf Config) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if conf.Level != "" {
		if err := lvl.UnmarshalText([]byte(conf.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", conf.Level, err)
		}
	}

	zc := zap.NewDevelopmentConfig()
	if conf.JSON {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	l, err := zc.Build(zap.Fields(zap.String("service", serviceName)))
	if err != nil {
		return nil, err
	}

	InfoLogger = l
	FatalLogger = l
	return l, nil
}

func Info(format string, args ...interface{}) {
	if InfoLogger == nil {
		panic("InfoLogger is not initialized")
	}

	msg := fmt.Sprintf(format, args...)
	InfoLogger.With(
		zap.String("service", serviceName),
	).Info(msg)
}

func Error(format string, args ...interface{}) {
	if InfoLogger == nil {
		panic("InfoLogger is not initialized")
	}

	msg := fmt.Sprintf(format, args...)
	InfoLogger.With(
		zap.String("service", serviceName),
	).Error(msg)
}

func Fatal(format string, args ...interface{}) {
	if FatalLogger == nil {
		panic("FatalLogger is not initialized")
	}

	msg := fmt.Sprintf(format, args...)
	FatalLogger.With(
		zap.String("service", serviceName),
	).Fatal(msg)
}
