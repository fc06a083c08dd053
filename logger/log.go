// Package logger provides leveled, optionally colored logging for gantry's
// own diagnostics. Job output does not pass through this package; it is
// streamed by the shell and process packages.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	nocolor   = "0"
	red       = "31"
	green     = "38;5;48"
	yellow    = "33"
	gray      = "38;5;251"
	lightgray = "38;5;243"
	cyan      = "1;36"
)

const DateFormat = "2006-01-02 15:04:05"

var (
	mutex         = sync.Mutex{}
	windowsColors bool
)

type Logger interface {
	Debug(format string, v ...any)
	Error(format string, v ...any)
	Fatal(format string, v ...any)
	Notice(format string, v ...any)
	Warn(format string, v ...any)
	Info(format string, v ...any)

	WithFields(fields ...Field) Logger
	SetLevel(level Level)
	Level() Level
}

// ConsoleLogger is a Logger that writes to a Printer.
type ConsoleLogger struct {
	level   Level
	printer Printer
	fields  Fields
	exitFn  func(int)
}

// NewConsoleLogger returns a ConsoleLogger at INFO level. exitFn is called
// with a non-zero code after a Fatal message is printed.
func NewConsoleLogger(printer Printer, exitFn func(int)) Logger {
	return &ConsoleLogger{
		level:   INFO,
		printer: printer,
		exitFn:  exitFn,
	}
}

// WithFields returns a copy of the logger with the provided fields appended.
func (l *ConsoleLogger) WithFields(fields ...Field) Logger {
	clone := *l
	clone.fields.Add(fields...)
	return &clone
}

func (l *ConsoleLogger) SetLevel(level Level) {
	l.level = level
}

func (l *ConsoleLogger) Level() Level {
	return l.level
}

func (l *ConsoleLogger) Debug(format string, v ...any) {
	if l.level == DEBUG {
		l.printer.Print(DEBUG, fmt.Sprintf(format, v...), l.fields)
	}
}

func (l *ConsoleLogger) Notice(format string, v ...any) {
	if l.level <= NOTICE {
		l.printer.Print(NOTICE, fmt.Sprintf(format, v...), l.fields)
	}
}

func (l *ConsoleLogger) Info(format string, v ...any) {
	if l.level <= INFO {
		l.printer.Print(INFO, fmt.Sprintf(format, v...), l.fields)
	}
}

func (l *ConsoleLogger) Error(format string, v ...any) {
	if l.level <= ERROR {
		l.printer.Print(ERROR, fmt.Sprintf(format, v...), l.fields)
	}
}

func (l *ConsoleLogger) Warn(format string, v ...any) {
	if l.level <= WARN {
		l.printer.Print(WARN, fmt.Sprintf(format, v...), l.fields)
	}
}

func (l *ConsoleLogger) Fatal(format string, v ...any) {
	l.printer.Print(FATAL, fmt.Sprintf(format, v...), l.fields)
	l.exitFn(1)
}

// Printer renders a single log message somewhere.
type Printer interface {
	Print(level Level, msg string, fields Fields)
}

// TextPrinter prints log messages as human-readable text lines.
type TextPrinter struct {
	Colors bool
	Writer io.Writer
}

func NewTextPrinter(w io.Writer) *TextPrinter {
	return &TextPrinter{
		Writer: w,
		Colors: ColorsSupported(),
	}
}

func (p *TextPrinter) Print(level Level, msg string, fields Fields) {
	now := time.Now().Format(DateFormat)

	fieldStr := ""
	for _, field := range fields {
		fieldStr += " " + field.Key() + "=" + field.String()
	}

	var line string
	if p.Colors {
		levelColor := green
		messageColor := nocolor

		switch level {
		case DEBUG:
			levelColor = gray
			messageColor = gray
		case NOTICE:
			levelColor = cyan
		case WARN:
			levelColor = yellow
		case ERROR:
			levelColor = red
		case FATAL:
			levelColor = red
			messageColor = red
		}

		if fieldStr != "" {
			fieldStr = fmt.Sprintf("\x1b[%sm%s\x1b[0m", lightgray, fieldStr)
		}
		line = fmt.Sprintf("\x1b[%sm%s %-6s\x1b[0m \x1b[%sm%s\x1b[0m%s\n", levelColor, now, level, messageColor, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%s %-6s %s%s\n", now, level, msg, fieldStr)
	}

	// Only output one line at a time
	mutex.Lock()
	fmt.Fprint(p.Writer, line)
	mutex.Unlock()
}

// JSONPrinter prints log messages as single-line JSON objects, one per
// message, with ts, level and msg keys plus any fields flattened in.
type JSONPrinter struct {
	Writer io.Writer
}

func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{Writer: w}
}

func (p *JSONPrinter) Print(level Level, msg string, fields Fields) {
	entry := map[string]string{
		"ts":    time.Now().Format(DateFormat),
		"level": level.String(),
		"msg":   msg,
	}
	for _, field := range fields {
		entry[field.Key()] = field.String()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		// A map[string]string always marshals, so this is unreachable, but
		// swallowing errors in a logger helps nobody.
		line = fmt.Appendf(nil, `{"level":"ERROR","msg":"could not marshal log entry: %v"}`, err)
	}

	mutex.Lock()
	fmt.Fprintf(p.Writer, "%s\n", line)
	mutex.Unlock()
}

// ColorsSupported reports whether stdout is a terminal capable of color
// output. Color support for Windows consoles is probed in init.
func ColorsSupported() bool {
	if runtime.GOOS == "windows" && !windowsColors {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Discard silently swallows all messages. Fatal does not exit.
var Discard = NewConsoleLogger(&TextPrinter{Writer: io.Discard}, func(int) {})
