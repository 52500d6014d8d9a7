package utils

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var loggerMu sync.RWMutex

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

// InitLogger switches logging to a rotating file. With an empty file name the
// console logger stays active.
func InitLogger(file string, maxSizeMB, maxBackups, maxAgeDays int, compress bool, level string) {
	if file == "" {
		SetLogLevel(level)
		return
	}

	w := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   compress,
	}

	loggerMu.Lock()
	logger = zerolog.New(w).With().Timestamp().Logger()
	loggerMu.Unlock()

	SetLogLevel(level)
}

// SetLogLevel applies the given level, falling back to info when it cannot be
// parsed.
func SetLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	loggerMu.Lock()
	logger = logger.Level(lvl)
	loggerMu.Unlock()
}

// SetLoggerForTest replaces the package logger. Intended for tests that want
// to capture output.
func SetLoggerForTest(l zerolog.Logger) {
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// Debug logs at debug level with alternating key/value pairs.
func Debug(msg string, kv ...any) {
	loggerMu.RLock()
	e := logger.Debug()
	loggerMu.RUnlock()
	withFields(e, kv).Msg(msg)
}

// Info logs at info level with alternating key/value pairs.
func Info(msg string, kv ...any) {
	loggerMu.RLock()
	e := logger.Info()
	loggerMu.RUnlock()
	withFields(e, kv).Msg(msg)
}

// Warn logs at warn level with alternating key/value pairs.
func Warn(msg string, kv ...any) {
	loggerMu.RLock()
	e := logger.Warn()
	loggerMu.RUnlock()
	withFields(e, kv).Msg(msg)
}

// Error logs at error level with alternating key/value pairs.
func Error(msg string, kv ...any) {
	loggerMu.RLock()
	e := logger.Error()
	loggerMu.RUnlock()
	withFields(e, kv).Msg(msg)
}

// withFields attaches kv as structured fields. A dangling trailing key is
// dropped rather than treated as an error.
func withFields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}
