package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes one JSON object per line: time, level, msg, component and
// the event fields.
type Logger struct {
	level Level
	zl    zerolog.Logger
}

func NewLogger(levelStr string) *Logger {
	return NewLoggerWithWriter(levelStr, os.Stdout)
}

func NewLoggerWithWriter(levelStr string, w io.Writer) *Logger {
	level := ParseLevel(levelStr)
	zl := zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
	return &Logger{level: level, zl: zl}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{level: LevelError + 1, zl: zerolog.Nop()}
}

type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewFileLogger writes to stdout and to a size-rotated file.
func NewFileLogger(levelStr string, fo FileOptions) *Logger {
	rot := &lumberjack.Logger{
		Filename:   fo.Path,
		MaxSize:    fo.MaxSizeMB,
		MaxBackups: fo.MaxBackups,
		MaxAge:     fo.MaxAgeDays,
		Compress:   true,
	}
	return NewLoggerWithWriter(levelStr, io.MultiWriter(os.Stdout, rot))
}

func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{level: l.level, zl: l.zl.With().Str("component", name).Logger()}
}

func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{level: l.level, zl: l.zl.With().Fields(fields).Logger()}
}

func (l *Logger) Enabled(level Level) bool {
	return l.level <= level
}

func (l *Logger) log(e *zerolog.Event, msg string, fields map[string]any) {
	if e == nil {
		return
	}
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	e.Str("msg", msg).Send()
}

func (l *Logger) Debugw(msg string, fields map[string]any) { l.log(l.zl.Debug(), msg, fields) }
func (l *Logger) Infow(msg string, fields map[string]any)  { l.log(l.zl.Info(), msg, fields) }
func (l *Logger) Warnw(msg string, fields map[string]any)  { l.log(l.zl.Warn(), msg, fields) }
func (l *Logger) Errorw(msg string, fields map[string]any) { l.log(l.zl.Error(), msg, fields) }

// Since is a convenience for duration fields.
func Since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
