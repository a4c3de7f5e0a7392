package logger

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	global *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init sets the process-wide logger once it has been built by the caller.
func Init(z *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	global = z
}

// Logger returns the process-wide logger. It never returns nil: before Init
// (or Setup) is called a no-op logger is handed out.
func Logger() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return zap.NewNop().Sugar()
	}
	return global
}

// Setup builds a zap logger writing to stderr with the given level and
// format ("console" or "json") and installs it as the global logger.
func Setup(levelName, format string) (*zap.SugaredLogger, error) {
	lvl, err := ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	level.SetLevel(lvl)

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "console", "text":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableCaller = lvl > zapcore.DebugLevel

	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	sugar := z.Sugar()
	Init(sugar)
	return sugar, nil
}

// SetLevel changes the level of a logger built by Setup.
func SetLevel(levelName string) error {
	lvl, err := ParseLevel(levelName)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// Level reports the current level name.
func Level() string {
	return level.Level().String()
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug", "trace":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", name)
	}
}

// Sync flushes buffered entries of the global logger.
func Sync() {
	_ = Logger().Sync()
}
