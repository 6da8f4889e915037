// Package log is the structured logging facade used across roomsync.
// It wraps a package-level zerolog logger so call sites can chain fields
// without threading a logger through every constructor:
//
//	log.WithError(err).WithField("room_id", roomID).Warn("observer failed")
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// InitLogger replaces the package logger. When pretty is true the output is
// rendered with zerolog's console writer, otherwise one JSON object per line.
func InitLogger(w io.Writer, level zerolog.Level, pretty bool) {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	mu.Lock()
	logger = zerolog.New(w).With().Timestamp().Logger()
	mu.Unlock()

	zerolog.SetGlobalLevel(level)
}

// SetLevel changes the minimum level at runtime. Safe to call from a
// config reload callback.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ParseLevel maps a config string onto a zerolog level, falling back to info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Logger returns the current underlying zerolog logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Entry accumulates fields until a level method emits it.
type Entry struct {
	fields map[string]interface{}
	err    error
}

// WithField starts an entry with a single field.
func WithField(key string, value interface{}) *Entry {
	return (&Entry{}).WithField(key, value)
}

// WithFields starts an entry with several fields.
func WithFields(fields map[string]interface{}) *Entry {
	return (&Entry{}).WithFields(fields)
}

// WithError starts an entry carrying err.
func WithError(err error) *Entry {
	return (&Entry{}).WithError(err)
}

// WithField adds a field to the entry.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	if e.fields == nil {
		e.fields = make(map[string]interface{})
	}
	e.fields[key] = value
	return e
}

// WithFields adds every field in fields to the entry.
func (e *Entry) WithFields(fields map[string]interface{}) *Entry {
	for k, v := range fields {
		e.WithField(k, v)
	}
	return e
}

// WithError attaches err to the entry.
func (e *Entry) WithError(err error) *Entry {
	e.err = err
	return e
}

func (e *Entry) Debug(msg string) { e.emit(zerolog.DebugLevel, msg) }
func (e *Entry) Info(msg string)  { e.emit(zerolog.InfoLevel, msg) }
func (e *Entry) Warn(msg string)  { e.emit(zerolog.WarnLevel, msg) }
func (e *Entry) Error(msg string) { e.emit(zerolog.ErrorLevel, msg) }

func (e *Entry) emit(level zerolog.Level, msg string) {
	l := Logger()
	ev := l.WithLevel(level)
	if ev == nil {
		return
	}
	if e.err != nil {
		ev = ev.Err(e.err)
	}
	if len(e.fields) > 0 {
		ev = ev.Fields(e.fields)
	}
	ev.Msg(msg)
}

func Debug(msg string) { (&Entry{}).Debug(msg) }
func Info(msg string)  { (&Entry{}).Info(msg) }
func Warn(msg string)  { (&Entry{}).Warn(msg) }
func Error(msg string) { (&Entry{}).Error(msg) }
