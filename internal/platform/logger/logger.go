package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/lumberjack.v3"
)

const (
	appSink   = "app"
	stateSink = "state"
)

// Sink describes one rotated log file and whether it is mirrored to stdout.
type Sink struct {
	Name         string
	File         string
	Console      bool
	MaxMegabytes int
	MaxBackups   int
	MaxDays      int
}

var sinks = []Sink{
	{Name: appSink, File: "app.log", Console: true, MaxMegabytes: 5, MaxBackups: 10, MaxDays: 14},
	{Name: stateSink, File: "internal_state.log", MaxMegabytes: 20, MaxBackups: 5, MaxDays: 7},
}

var (
	once    sync.Once
	loggers map[string]*zap.Logger
)

// Get returns the main application logger
func Get() *zap.Logger {
	return named(appSink)
}

// GetStateLogger returns the order book state logger. It writes top-of-book
// lines and resync events to its own file, never to the console.
func GetStateLogger() *zap.Logger {
	return named(stateSink)
}

// ForExchange returns the application logger tagged with an exchange name.
func ForExchange(name string) *zap.Logger {
	return Get().With(zap.String("exchange", name))
}

// Sync flushes every sink.
func Sync() {
	once.Do(build)
	for _, l := range loggers {
		_ = l.Sync()
	}
}

func named(name string) *zap.Logger {
	once.Do(build)
	return loggers[name]
}

// Level reads LOG_LEVEL, defaulting to info.
func Level() zap.AtomicLevel {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		if parsed, err := zapcore.ParseLevel(env); err == nil {
			return zap.NewAtomicLevelAt(parsed)
		}
	}
	return zap.NewAtomicLevelAt(zap.InfoLevel)
}

// New builds a logger writing JSON lines to sink.File under dir.
func New(dir string, sink Sink, level zap.AtomicLevel) (*zap.Logger, error) {
	fileHandler, err := lumberjack.New(
		lumberjack.WithFileName(filepath.Join(dir, sink.File)),
		lumberjack.WithMaxBytes(int64(sink.MaxMegabytes*1024*1024)),
		lumberjack.WithMaxBackups(sink.MaxBackups),
		lumberjack.WithMaxDays(sink.MaxDays),
		lumberjack.WithCompress(),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s log: %w", sink.Name, err)
	}

	jsonCfg := zap.NewProductionEncoderConfig()
	jsonCfg.TimeKey = "timestamp"
	jsonCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), zapcore.AddSync(fileHandler), level)}
	if sink.Console {
		cores = append(cores, console(level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func console(level zap.AtomicLevel) zapcore.Core {
	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(os.Stdout), level)
}

func build() {
	dir := os.Getenv("LOG_DIR")
	if dir == "" {
		dir = "logs"
	}
	level := Level()

	loggers = make(map[string]*zap.Logger, len(sinks))
	for _, sink := range sinks {
		l, err := New(dir, sink, level)
		if err != nil {
			// unwritable log dir: keep running on stdout
			l = zap.New(console(level), zap.AddCaller())
			l.Warn("file logging disabled", zap.String("sink", sink.Name), zap.Error(err))
		}
		loggers[sink.Name] = l
	}
}
