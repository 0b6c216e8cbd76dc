package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// sink is shared between a logger and all of its named children.
type sink struct {
	mu      sync.Mutex
	writer  io.Writer
	errOut  io.Writer
	fileLog *os.File
	hasBar  bool
}

// Logger handles levelled logging with optional file output
type Logger struct {
	Verbose bool
	name    string
	out     *sink
}

// New creates a new Logger instance writing to stdout
func New(verbose bool) *Logger {
	return NewWithWriter(verbose, os.Stdout)
}

// NewWithWriter creates a Logger writing to w instead of stdout. Errors still
// go to stderr.
func NewWithWriter(verbose bool, w io.Writer) *Logger {
	return &Logger{
		Verbose: verbose,
		out:     &sink{writer: w, errOut: os.Stderr},
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return &Logger{out: &sink{writer: io.Discard, errOut: io.Discard}}
}

// Named returns a child logger that prefixes every line with [name].
// The child shares the parent's outputs.
func (l *Logger) Named(name string) *Logger {
	if l.name != "" {
		name = l.name + "." + name
	}
	return &Logger{Verbose: l.Verbose, name: name, out: l.out}
}

// SetFileLog enables logging to a file
func (l *Logger) SetFileLog(path string) error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.out.fileLog = f
	return nil
}

// SetProgressBar indicates that a progress bar is active
func (l *Logger) SetProgressBar(active bool) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.hasBar = active
}

// Close closes the log file if open
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.fileLog != nil {
		err := l.out.fileLog.Close()
		l.out.fileLog = nil
		return err
	}
	return nil
}

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.log("INFO", format, args...)
}

// Debug logs detailed messages only in verbose mode
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.Verbose {
		l.log("DEBUG", format, args...)
	} else {
		// Always log debug to file even in non-verbose mode
		l.logToFile("DEBUG", format, args...)
	}
}

// Error logs error messages to stderr
func (l *Logger) Error(format string, args ...interface{}) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	msg := l.line("ERROR", format, args...)
	fmt.Fprint(l.out.errOut, msg)

	if l.out.fileLog != nil {
		l.out.fileLog.WriteString(stamp() + msg)
	}
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log("WARN", format, args...)
}

func (l *Logger) line(level, format string, args ...interface{}) string {
	prefix := ""
	if level != "INFO" {
		prefix = "[" + level + "] "
	}
	if l.name != "" {
		prefix += "[" + l.name + "] "
	}
	return fmt.Sprintf(prefix+format+"\n", args...)
}

// log handles the actual logging
func (l *Logger) log(level, format string, args ...interface{}) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	msg := l.line(level, format, args...)

	// Write to stdout (unless we have a progress bar and not verbose)
	if l.Verbose || !l.out.hasBar {
		fmt.Fprint(l.out.writer, msg)
	}

	if l.out.fileLog != nil {
		l.out.fileLog.WriteString(stamp() + msg)
	}
}

// logToFile writes only to file
func (l *Logger) logToFile(level, format string, args ...interface{}) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.fileLog != nil {
		l.out.fileLog.WriteString(stamp() + l.line(level, format, args...))
	}
}

func stamp() string {
	return time.Now().Format("2006-01-02 15:04:05.000 ")
}
