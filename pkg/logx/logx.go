// Package logx provides component-tagged logging with domain-filtered debug output
// and an optional rotating log file.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger struct {
	component string
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

type contextKey string

// ContextKeyComponent is the context key Debug reads the component name from.
const ContextKeyComponent contextKey = "component"

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled bool
	Domains map[string]bool // nil enables every domain
}

// Entry is one captured log line.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

// RingBuffer keeps the most recent entries in memory.
type RingBuffer struct {
	entries []Entry
	mutex   sync.RWMutex
	maxSize int
}

var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex

	// logWriter overrides stderr when non-nil.
	logWriter     io.Writer
	logWriterLock sync.RWMutex

	fileSink *lumberjack.Logger

	buffer = &RingBuffer{maxSize: 500}
)

func init() { //nolint:gochecknoinits // env-driven debug switches
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// SetWriter redirects all log output. A nil writer restores stderr.
func SetWriter(w io.Writer) {
	logWriterLock.Lock()
	defer logWriterLock.Unlock()
	logWriter = w
}

// InitializeLogFile sends log output to a size-rotated file under dir.
// When tee is set, lines are also written to stderr.
func InitializeLogFile(dir string, maxSizeMB int, tee bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir %s: %w", dir, err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	path := filepath.Join(dir, "rework.log")

	logWriterLock.Lock()
	defer logWriterLock.Unlock()
	if fileSink != nil {
		_ = fileSink.Close()
	}
	fileSink = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		MaxAge:     14,
	}
	if tee {
		logWriter = io.MultiWriter(fileSink, os.Stderr)
	} else {
		logWriter = fileSink
	}
	return path, nil
}

// Close flushes and closes the rotating file sink, if any.
func Close() error {
	logWriterLock.Lock()
	defer logWriterLock.Unlock()
	if fileSink == nil {
		return nil
	}
	err := fileSink.Close()
	fileSink = nil
	logWriter = nil
	return err
}

// SetDebug toggles debug output and restricts it to the given domains (empty means all).
func SetDebug(enabled bool, domains ...string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	debugConfig.Enabled = enabled
	if len(domains) == 0 {
		debugConfig.Domains = nil
		return
	}
	debugConfig.Domains = make(map[string]bool)
	for _, domain := range domains {
		debugConfig.Domains[strings.TrimSpace(domain)] = true
	}
}

func IsDebugEnabled() bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return debugConfig.Enabled
}

func IsDebugEnabledForDomain(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

func (b *RingBuffer) add(entry *Entry) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.entries = append(b.entries, *entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// Recent returns up to n entries, newest last. Level filters when non-empty.
func (b *RingBuffer) Recent(n int, level Level) []Entry {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	out := make([]Entry, 0, n)
	for i := len(b.entries) - 1; i >= 0 && len(out) < n; i-- {
		if level != "" && b.entries[i].Level != string(level) {
			continue
		}
		out = append(out, b.entries[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// RecentEntries returns the last n captured entries across all loggers.
func RecentEntries(n int, level Level) []Entry {
	return buffer.Recent(n, level)
}

func write(line string) {
	logWriterLock.RLock()
	w := logWriter
	logWriterLock.RUnlock()
	if w == nil {
		w = os.Stderr
	}
	_, _ = fmt.Fprintln(w, line)
}

func emit(component string, level Level, domain, message string) {
	timestamp := time.Now().UTC().Format(timestampFormat)
	write(fmt.Sprintf("[%s] [%s] %s: %s", timestamp, component, level, message))
	buffer.add(&Entry{
		Timestamp: timestamp,
		Component: component,
		Level:     string(level),
		Message:   message,
		Domain:    domain,
	})
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	emit(l.component, LevelDebug, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	emit(l.component, LevelInfo, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	emit(l.component, LevelWarn, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	emit(l.component, LevelError, "", fmt.Sprintf(format, args...))
}

// Debug logs a domain-filtered debug message. The component is taken from ctx when set.
//
//	DEBUG=1                              # all domains
//	DEBUG=1 DEBUG_DOMAINS=codec,applier  # selected domains
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	component := "unknown"
	if ctx != nil {
		if id, ok := ctx.Value(ContextKeyComponent).(string); ok {
			component = id
		}
	}
	msg := fmt.Sprintf(format, args...)
	emit(component, LevelDebug, domain, fmt.Sprintf("[%s] %s", domain, msg))
}

// DebugState logs a state transition.
func (l *Logger) DebugState(from, to string) {
	l.Debug("State %s -> %s", from, to)
}

func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) With(component string) *Logger {
	return &Logger{component: l.component + "/" + component}
}

var defaultLogger = NewLogger("rework")

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err and returns the wrapped error. A nil err returns nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
