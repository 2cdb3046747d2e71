package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Leveled logger shared by the gateway, the store adapters and the CLI.
// Package-level functions log without a component; For returns a Logger
// that tags every line with one.

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var (
	mu     sync.RWMutex
	logger *log.Logger = log.New(os.Stdout, "", 0)
	level  Level       = LevelInfo
)

// Init sets the global log level (case-insensitive: debug, info, warn, error, fatal).
// Unknown values fall back to info.
func Init(l string) {
	mu.Lock()
	defer mu.Unlock()
	level = ParseLevel(l)
}

// ParseLevel maps a level name to a Level; unknown names map to LevelInfo.
func ParseLevel(l string) Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
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

func header(lvl Level, component string) string {
	h := fmt.Sprintf("%s [%s] ", time.Now().Format(time.RFC3339), strings.ToUpper(lvl.String()))
	if component != "" {
		h += component + ": "
	}
	return h
}

func shouldLog(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= level
}

func output(l Level, component, format string, v ...interface{}) {
	if l < LevelFatal && !shouldLog(l) {
		return
	}
	logger.Printf(header(l, component)+format, v...)
}

func Debugf(format string, v ...interface{}) { output(LevelDebug, "", format, v...) }
func Infof(format string, v ...interface{})  { output(LevelInfo, "", format, v...) }
func Warnf(format string, v ...interface{})  { output(LevelWarn, "", format, v...) }
func Errorf(format string, v ...interface{}) { output(LevelError, "", format, v...) }

func Fatalf(format string, v ...interface{}) {
	output(LevelFatal, "", format, v...)
	os.Exit(1)
}

// Println kept for brief messages (maps to Info)
func Println(v ...interface{}) {
	if !shouldLog(LevelInfo) {
		return
	}
	logger.Print(header(LevelInfo, "") + fmt.Sprintln(v...))
}

func Debug(v string) { Debugf("%s", v) }
func Info(v string)  { Infof("%s", v) }
func Warn(v string)  { Warnf("%s", v) }
func Error(v string) { Errorf("%s", v) }

// LevelString returns the current level as text.
func LevelString() string {
	mu.RLock()
	defer mu.RUnlock()
	return level.String()
}

// Logger writes through the package logger with a fixed component tag.
type Logger struct {
	component string
}

// For returns a Logger tagging lines with component (e.g. "gateway", "store/github").
func For(component string) *Logger {
	return &Logger{component: component}
}

// With returns a child logger whose component is "<parent>/<sub>".
func (l *Logger) With(sub string) *Logger {
	if l.component == "" {
		return For(sub)
	}
	return For(l.component + "/" + sub)
}

func (l *Logger) Component() string { return l.component }

func (l *Logger) Debugf(format string, v ...interface{}) { output(LevelDebug, l.component, format, v...) }
func (l *Logger) Infof(format string, v ...interface{})  { output(LevelInfo, l.component, format, v...) }
func (l *Logger) Warnf(format string, v ...interface{})  { output(LevelWarn, l.component, format, v...) }
func (l *Logger) Errorf(format string, v ...interface{}) { output(LevelError, l.component, format, v...) }
