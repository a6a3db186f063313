// Package logger provides a component-tagged structured logging API, used
// by the obshepherd command; the library packages under pkg/ log through
// zerolog's global logger directly. Internally it is backed by zerolog; the
// public function surface (Debug/Info/Warn/Error/Fatal, each in plain,
// "C" (component), "F" (fields) and "CF" forms) is kept stable so call
// sites never need to know the backing implementation changed.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var zerologLevels = map[LogLevel]zerolog.Level{
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
	FATAL: zerolog.FatalLevel,
}

var (
	mu              sync.RWMutex
	currentLevel    = INFO
	componentFilter map[string]bool
	fileWriter      *os.File
	base            = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02T15:04:05Z07:00"}).With().Timestamp().Logger()
)

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetComponentFilter restricts logging to a comma-separated allowlist of
// component names; an empty filter allows every component.
func SetComponentFilter(filter string) {
	mu.Lock()
	defer mu.Unlock()

	if filter == "" {
		componentFilter = nil
		return
	}

	componentFilter = make(map[string]bool)
	for _, p := range strings.Split(filter, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			componentFilter[p] = true
		}
	}
}

// EnableFileLogging additionally writes every log line as JSON to filePath.
func EnableFileLogging(filePath string) error {
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if fileWriter != nil {
		fileWriter.Close()
	}
	fileWriter = f
	rebuildWriterLocked()
	base.Info().Str("path", filePath).Msg("file logging enabled")
	return nil
}

func DisableFileLogging() {
	mu.Lock()
	defer mu.Unlock()
	if fileWriter != nil {
		fileWriter.Close()
		fileWriter = nil
		rebuildWriterLocked()
	}
}

// rebuildWriterLocked must be called with mu held. zerolog.MultiLevelWriter
// fans a single Logger out to the console writer and, when enabled, the
// plain-JSON file writer.
func rebuildWriterLocked() {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02T15:04:05Z07:00"}
	var w io.Writer = console
	if fileWriter != nil {
		w = zerolog.MultiLevelWriter(console, fileWriter)
	}
	base = zerolog.New(w).With().Timestamp().Logger()
}

func logMessage(level LogLevel, component string, message string, fields map[string]any) {
	mu.RLock()
	if componentFilter != nil && component != "" && !componentFilter[component] {
		mu.RUnlock()
		return
	}
	lvl := currentLevel
	l := base
	mu.RUnlock()

	if level < lvl {
		return
	}

	ev := l.WithLevel(zerologLevels[level])
	if component != "" {
		ev = ev.Str("component", component)
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(message)
}

func Debug(message string)                                       { logMessage(DEBUG, "", message, nil) }
func DebugC(component string, message string)                     { logMessage(DEBUG, component, message, nil) }
func DebugF(message string, fields map[string]any)                { logMessage(DEBUG, "", message, fields) }
func DebugCF(component string, message string, fields map[string]any) {
	logMessage(DEBUG, component, message, fields)
}

func Info(message string)                                       { logMessage(INFO, "", message, nil) }
func InfoC(component string, message string)                     { logMessage(INFO, component, message, nil) }
func InfoF(message string, fields map[string]any)                { logMessage(INFO, "", message, fields) }
func InfoCF(component string, message string, fields map[string]any) {
	logMessage(INFO, component, message, fields)
}

func Warn(message string)                                       { logMessage(WARN, "", message, nil) }
func WarnC(component string, message string)                     { logMessage(WARN, component, message, nil) }
func WarnF(message string, fields map[string]any)                { logMessage(WARN, "", message, fields) }
func WarnCF(component string, message string, fields map[string]any) {
	logMessage(WARN, component, message, fields)
}

func Error(message string)                                       { logMessage(ERROR, "", message, nil) }
func ErrorC(component string, message string)                     { logMessage(ERROR, component, message, nil) }
func ErrorF(message string, fields map[string]any)                { logMessage(ERROR, "", message, fields) }
func ErrorCF(component string, message string, fields map[string]any) {
	logMessage(ERROR, component, message, fields)
}

// Fatal logs at FATAL level and terminates the process, matching the
// original logger's behavior.
func Fatal(message string)                   { logMessage(FATAL, "", message, nil); os.Exit(1) }
func FatalC(component string, message string) { logMessage(FATAL, component, message, nil); os.Exit(1) }
func FatalF(message string, fields map[string]any) {
	logMessage(FATAL, "", message, fields)
	os.Exit(1)
}
func FatalCF(component string, message string, fields map[string]any) {
	logMessage(FATAL, component, message, fields)
	os.Exit(1)
}
