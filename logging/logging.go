package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// Entry is a single log line delivered to hooks
type Entry struct {
	Level   string    `json:"level"`
	Asset   string    `json:"asset,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Hook receives every emitted entry. Hooks run on the logging goroutine and
// must return immediately.
type Hook func(Entry)

// core is shared by a logger and every asset-scoped view of it
type core struct {
	logger     *log.Logger
	fileWriter io.Writer
	level      atomic.Int32

	hookMu sync.RWMutex
	hooks  []Hook
}

// Logger wraps the standard log package with file output and rotation
type Logger struct {
	*core
	asset string
}

type hourlyLumberjackWriter struct {
	baseDir  string
	baseName string
	ext      string

	maxSize    int
	maxBackups int
	maxAge     int
	compress   bool

	mu           sync.Mutex
	currentKey   string
	currentLog   *lumberjack.Logger
	lastPruneDay string
}

func newHourlyLumberjackWriter(basePath string, maxSize, maxBackups, maxAge int, compress bool) (*hourlyLumberjackWriter, error) {
	baseDir := filepath.Dir(basePath)
	base := filepath.Base(basePath)
	ext := filepath.Ext(base)
	baseName := strings.TrimSuffix(base, ext)
	if baseName == "" {
		return nil, fmt.Errorf("invalid log file: %q", basePath)
	}
	if ext == "" {
		ext = ".log"
	}

	w := &hourlyLumberjackWriter{
		baseDir:      baseDir,
		baseName:     baseName,
		ext:          ext,
		maxSize:      maxSize,
		maxBackups:   maxBackups,
		maxAge:       maxAge,
		compress:     compress,
		currentKey:   "",
		currentLog:   nil,
		lastPruneDay: "",
	}

	if err := w.ensureWriter(time.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *hourlyLumberjackWriter) hourlyPath(now time.Time) string {
	dayDir := filepath.Join(w.baseDir, now.Format("2006-01-02"))
	filename := fmt.Sprintf("%s-%02d%s", w.baseName, now.Hour(), w.ext)
	return filepath.Join(dayDir, filename)
}

func (w *hourlyLumberjackWriter) ensureWriter(now time.Time) error {
	w.currentKey = now.Format("2006-01-02-15")

	path := w.hourlyPath(now)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	w.currentLog = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    w.maxSize,
		MaxBackups: w.maxBackups,
		MaxAge:     w.maxAge,
		Compress:   w.compress,
	}

	today := now.Format("2006-01-02")
	if w.maxAge > 0 && today != w.lastPruneDay {
		w.lastPruneDay = today
		if err := w.pruneOldDays(now); err != nil {
			return err
		}
	}

	return nil
}

func (w *hourlyLumberjackWriter) ensure(now time.Time) error {
	key := now.Format("2006-01-02-15")
	if w.currentLog != nil && w.currentKey == key {
		return nil
	}

	if w.currentLog != nil {
		_ = w.currentLog.Close()
		w.currentLog = nil
	}
	return w.ensureWriter(now)
}

func (w *hourlyLumberjackWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensure(time.Now()); err != nil {
		return 0, err
	}
	return w.currentLog.Write(p)
}

func (w *hourlyLumberjackWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensure(time.Now()); err != nil {
		return err
	}
	return w.currentLog.Rotate()
}

func (w *hourlyLumberjackWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentLog == nil {
		return nil
	}
	err := w.currentLog.Close()
	w.currentLog = nil
	w.currentKey = ""
	return err
}

func dateOnly(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func (w *hourlyLumberjackWriter) pruneOldDays(now time.Time) error {
	base := w.baseDir
	cutoff := dateOnly(now).AddDate(0, 0, -(w.maxAge - 1))

	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read log directory %q: %w", base, err)
	}

	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", ent.Name(), now.Location())
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			_ = os.RemoveAll(filepath.Join(base, ent.Name()))
		}
	}

	return nil
}

// LoggerInterface defines the interface for logging methods
type LoggerInterface interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warning(format string, v ...interface{})
	Error(format string, v ...interface{})
	Fatal(format string, v ...interface{})
	Sync() error
	ChangeLogLevel(level LogLevel)
	ForAsset(asset string) LoggerInterface
}

// NewLogger creates a new logger instance with file output and rotation
func NewLogger(logFile string, maxSize, maxBackups, maxAge int, compress bool, level LogLevel) (*Logger, error) {
	fileWriter, err := newHourlyLumberjackWriter(logFile, maxSize, maxBackups, maxAge, compress)
	if err != nil {
		return nil, err
	}

	// Create a multi-writer to log to both file and stdout
	multiWriter := io.MultiWriter(fileWriter, os.Stdout)
	return newLogger(multiWriter, fileWriter, level), nil
}

// NewWriterLogger creates a logger writing only to w
func NewWriterLogger(w io.Writer, level LogLevel) *Logger {
	return newLogger(w, nil, level)
}

func newLogger(out, fileWriter io.Writer, level LogLevel) *Logger {
	c := &core{
		logger:     log.New(out, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile),
		fileWriter: fileWriter,
	}
	c.level.Store(int32(level))
	return &Logger{core: c}
}

// ForAsset returns a view that prefixes every line with the asset tag.
// The view shares output, level and hooks with its parent.
func (l *Logger) ForAsset(asset string) LoggerInterface {
	return &Logger{core: l.core, asset: asset}
}

// AddHook registers a hook for every subsequent entry
func (l *Logger) AddHook(h Hook) {
	if h == nil {
		return
	}
	l.hookMu.Lock()
	l.hooks = append(l.hooks, h)
	l.hookMu.Unlock()
}

func (l *Logger) emit(level LogLevel, tag, format string, v ...interface{}) {
	if LogLevel(l.level.Load()) > level {
		return
	}
	msg := fmt.Sprintf(format, v...)
	line := tag + msg
	if l.asset != "" {
		line = tag + "[" + l.asset + "] " + msg
	}
	_ = l.logger.Output(3, line)

	l.hookMu.RLock()
	hooks := l.hooks
	l.hookMu.RUnlock()
	if len(hooks) == 0 {
		return
	}
	entry := Entry{Level: level.String(), Asset: l.asset, Message: msg, Time: time.Now()}
	for _, h := range hooks {
		callHook(h, entry)
	}
}

func callHook(h Hook, e Entry) {
	defer func() { _ = recover() }()
	h(e)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.emit(DEBUG, "[DEBUG] ", format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.emit(INFO, "[INFO]  ", format, v...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, v ...interface{}) {
	l.emit(WARNING, "[WARN]  ", format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.emit(ERROR, "[ERROR] ", format, v...)
}

// Fatal logs an error message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.emit(ERROR+1, "[FATAL] ", format, v...)
	os.Exit(1)
}

// Sync flushes any buffered log entries to the underlying writer
func (l *Logger) Sync() error {
	type rotator interface {
		Rotate() error
	}
	if r, ok := l.fileWriter.(rotator); ok {
		return r.Rotate()
	}
	return nil
}

// Close releases the rotated file handle
func (l *Logger) Close() error {
	if c, ok := l.fileWriter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ChangeLogLevel changes the logging level at runtime
func (l *Logger) ChangeLogLevel(level LogLevel) {
	l.level.Store(int32(level))
}
