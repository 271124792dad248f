package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Leveled logger shared by the mindmap service.
// - zerolog underneath (JSON lines with a timestamp)
// - Debug/Info/Warn/Error/Fatal printf variants plus key/value "w" variants
// - Init(level) adjusts the threshold at runtime

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var (
	mu    sync.RWMutex
	base  = newBase(os.Stdout)
	level = LevelInfo
)

func newBase(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Str("service", "mindmap").Logger()
}

// Init sets the global log level (case-insensitive: debug, info, warn, error, fatal).
// Call early during startup. Default level is Info.
func Init(l string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		level = LevelDebug
	case "warn", "warning":
		level = LevelWarn
	case "error":
		level = LevelError
	case "fatal":
		level = LevelFatal
	default:
		level = LevelInfo
	}
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = newBase(w)
}

func event(l Level) *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	if l < level {
		return nil
	}
	switch l {
	case LevelDebug:
		return base.Debug()
	case LevelInfo:
		return base.Info()
	case LevelWarn:
		return base.Warn()
	case LevelError:
		return base.Error()
	}
	return base.WithLevel(zerolog.FatalLevel)
}

func Debugf(format string, v ...interface{}) {
	if e := event(LevelDebug); e != nil {
		e.Msgf(format, v...)
	}
}

func Infof(format string, v ...interface{}) {
	if e := event(LevelInfo); e != nil {
		e.Msgf(format, v...)
	}
}

func Warnf(format string, v ...interface{}) {
	if e := event(LevelWarn); e != nil {
		e.Msgf(format, v...)
	}
}

func Errorf(format string, v ...interface{}) {
	if e := event(LevelError); e != nil {
		e.Msgf(format, v...)
	}
}

func Fatalf(format string, v ...interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()
	l.WithLevel(zerolog.FatalLevel).Msgf(format, v...)
	os.Exit(1)
}

// Infow logs msg with alternating key/value pairs attached as fields.
func Infow(msg string, kv ...interface{}) {
	if e := event(LevelInfo); e != nil {
		e.Fields(kv).Msg(msg)
	}
}

func Warnw(msg string, kv ...interface{}) {
	if e := event(LevelWarn); e != nil {
		e.Fields(kv).Msg(msg)
	}
}

func Errorw(msg string, kv ...interface{}) {
	if e := event(LevelError); e != nil {
		e.Fields(kv).Msg(msg)
	}
}

// Debug/Info/Warn/Error helpers that accept a single string
func Debug(v string) { Debugf("%s", v) }
func Info(v string)  { Infof("%s", v) }
func Warn(v string)  { Warnf("%s", v) }
func Error(v string) { Errorf("%s", v) }

// LevelString returns the current level as text.
func LevelString() string {
	mu.RLock()
	defer mu.RUnlock()
	switch level {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	}
	return "info"
}
