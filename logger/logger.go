package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Logger is a zerolog logger taking its fields as maps, so call sites look the
// same in every package.
type Logger struct {
	zl zerolog.Logger
}

// New builds a logger from cfg. An output file that cannot be opened falls
// back to stderr.
func New(cfg *Config, service string) *Logger {
	c := *cfg
	c.ApplyDefaults()
	return newLogger(openOutput(c.Output), &c, service)
}

func newLogger(w io.Writer, cfg *Config, service string) *Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Format == FormatConsole {
		w = consoleWriter(w, cfg.NoColor)
	}
	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if service != "" {
		ctx = ctx.Str("service", service)
	}
	if cfg.Caller {
		ctx = ctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2)
	}
	return &Logger{zl: ctx.Logger()}
}

func NewNop() *Logger { return &Logger{zl: zerolog.Nop()} }

func openOutput(out string) io.Writer {
	switch strings.ToLower(out) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v, logging to stderr\n", err)
		return os.Stderr
	}
	return f
}

var levelTags = map[string]struct{ tag, color string }{
	"trace": {"TRC", "\033[90m"},
	"debug": {"DBG", "\033[36m"},
	"info":  {"INF", "\033[32m"},
	"warn":  {"WRN", "\033[33m"},
	"error": {"ERR", "\033[31m"},
	"fatal": {"FTL", "\033[35m"},
}

func consoleWriter(w io.Writer, noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    noColor,
		TimeFormat: "15:04:05",
		FormatLevel: func(i interface{}) string {
			lvl, _ := i.(string)
			t, ok := levelTags[lvl]
			if !ok {
				return "[" + strings.ToUpper(lvl) + "]"
			}
			if noColor {
				return "[" + t.tag + "]"
			}
			return t.color + "[" + t.tag + "]\033[0m"
		},
		FormatFieldName: func(i interface{}) string { return fmt.Sprintf("%s=", i) },
	}
}

// WithComponent tags lines with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{zl: l.zl.With().Str(FieldComponent, name).Logger()}
}

// WithFields returns a logger that adds fields to every line.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{zl: l.zl.With().Fields(fields).Logger()}
}

// Zerolog exposes the underlying logger for libraries that take one.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Error(), msg, fields)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Fatal(), msg, fields)
}

func emit(e *zerolog.Event, msg string, fields []map[string]interface{}) {
	for _, f := range fields {
		e = e.Fields(f)
	}
	e.Msg(msg)
}

var std atomic.Pointer[Logger]

// Init builds the process logger from cfg, makes it the default and sets the
// global level, which also selects the gin mode.
func Init(cfg *Config) *Logger {
	l := New(cfg, cfg.ServiceName)
	if level, err := zerolog.ParseLevel(cfg.Level); err == nil && cfg.Level != "" {
		zerolog.SetGlobalLevel(level)
	}
	SetDefault(l)
	return l
}

// Default returns the process logger, an info console logger until Init or
// SetDefault runs.
func Default() *Logger {
	if l := std.Load(); l != nil {
		return l
	}
	std.CompareAndSwap(nil, New(&Config{}, ""))
	return std.Load()
}

func SetDefault(l *Logger) { std.Store(l) }

func Debug(msg string, fields ...map[string]interface{}) { Default().Debug(msg, fields...) }
func Info(msg string, fields ...map[string]interface{})  { Default().Info(msg, fields...) }
func Warn(msg string, fields ...map[string]interface{})  { Default().Warn(msg, fields...) }
func Error(msg string, fields ...map[string]interface{}) { Default().Error(msg, fields...) }
