// Package log holds the process-wide zerolog logger and the component
// loggers derived from it.
package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Logger is the root logger. Component loggers are rebuilt from it by Init.
var Logger zerolog.Logger

// Component loggers used by packages that log outside a request scope.
var (
	Search  zerolog.Logger
	Chain   zerolog.Logger
	Storage zerolog.Logger
)

func init() {
	Logger = NewConsoleLogger(os.Stdout, "info")
	rebuildComponents()
}

// Init replaces the root logger. Console output is colored text, or JSON
// with jsonOutput. A non-empty file additionally receives every entry as
// JSON.
func Init(level string, jsonOutput bool, file string) error {
	var console io.Writer = os.Stdout
	if !jsonOutput {
		console = consoleWriter(os.Stdout)
	}
	out := console
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		out = zerolog.MultiLevelWriter(console, f)
	}
	Logger = newLogger(out, level)
	rebuildComponents()
	return nil
}

// NewConsoleLogger returns a human-readable logger writing to w. Colors
// are used only when w is a terminal.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(consoleWriter(w), level)
}

// NewJSONLogger returns a logger writing one JSON object per line to w.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(w, level)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05", NoColor: !color}
}

// parseLevel maps a level name to zerolog. Unknown names mean info.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	if !ValidLevel(level) {
		return zerolog.InfoLevel
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}

// ValidLevel reports whether level is one of trace, debug, info, warn
// (or warning) and error, in any case.
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func rebuildComponents() {
	Search = WithComponent("search")
	Chain = WithComponent("chain")
	Storage = WithComponent("storage")
}

// WithComponent returns a child of the root logger tagged component=name.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithSession tags the search logger with a session id.
func WithSession(id string) zerolog.Logger {
	return Search.With().Str("session", id).Logger()
}

func Debug() *zerolog.Event { return Logger.Debug() }
func Info() *zerolog.Event  { return Logger.Info() }
func Warn() *zerolog.Event  { return Logger.Warn() }
func Error() *zerolog.Event { return Logger.Error() }

// Benchmark logs the time until the returned func is called.
//
//	defer log.Benchmark("scan")()
func Benchmark(name string) func() {
	start := time.Now()
	return func() {
		Logger.Debug().Str("operation", name).Dur("duration", time.Since(start)).Msg("benchmark")
	}
}
