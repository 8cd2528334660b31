package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level. Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	sinkInstance *sink
	sinkOnce     sync.Once
)

// sink writes formatted log lines to mira-debug.log and optionally stderr.
// All component loggers share one sink so the file handle is opened once.
type sink struct {
	mu         sync.Mutex
	file       *os.File
	fileLogger *log.Logger
	level      Level
	echoStderr bool
}

func getSink() *sink {
	sinkOnce.Do(func() {
		sinkInstance = &sink{level: LevelDebug}
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		logPath := filepath.Join(home, "mira-debug.log")
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		sinkInstance.file = file
		sinkInstance.fileLogger = log.New(file, "", 0)
	})
	return sinkInstance
}

// SetLevel sets the minimum level for the shared sink.
func SetLevel(level Level) {
	s := getSink()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

// EchoToStderr mirrors log lines to stderr in addition to the log file.
func EchoToStderr(enable bool) {
	s := getSink()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.echoStderr = enable
}

// Close closes the shared log file.
func Close() error {
	s := getSink()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func (s *sink) write(level Level, component, format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	// Format: 2025-09-30 12:34:56 [INFO] [ComponentName] file.go:123 - Message
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	if component == "" {
		component = "MIRA"
	}
	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] [%s] %s:%d - %s\n",
		timestamp, levelToString(level), component, file, line, message)

	sanitized := sanitizeLogLine(logLine)
	if s.fileLogger != nil {
		s.fileLogger.Print(sanitized)
	}
	if s.echoStderr {
		fmt.Fprint(os.Stderr, sanitized)
	}
}

func levelToString(level Level) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type componentLogger struct {
	component string
}

// New returns a logger scoped to a component, writing through the shared sink.
func New(component string) Logger {
	return &componentLogger{component: component}
}

func (l *componentLogger) Debug(format string, args ...any) {
	getSink().write(LevelDebug, l.component, format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	getSink().write(LevelInfo, l.component, format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	getSink().write(LevelWarn, l.component, format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	getSink().write(LevelError, l.component, format, args...)
}

const redactedPlaceholder = "[REDACTED]"

var (
	authorizationBearerPattern = regexp.MustCompile(
		`(?i)((?:"|')?authorization(?:"|')?\s*(?:=|:)\s*)(bearer\s+)([^"'\s,;]+)`,
	)
	sensitiveKeyValuePattern = regexp.MustCompile(
		`(?i)((?:"|')?(?:api[_-]?key|access[_-]?token|refresh[_-]?token|secret|password|credential)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;]+)((?:"|')?)`,
	)
	bearerTokenPattern      = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	standaloneSecretPattern = regexp.MustCompile(
		`(?i)(sk-[A-Za-z0-9]{16,}|ghp_[A-Za-z0-9]{16,}|xox[a-z]-[A-Za-z0-9\-]{10,})`,
	)
)

// sanitizeLogLine strips API keys and tokens before anything reaches disk.
// Interview transcripts themselves are never logged at line level; only
// component events are, so this covers the remaining secret surface.
func sanitizeLogLine(line string) string {
	sanitized := authorizationBearerPattern.ReplaceAllStringFunc(line, func(match string) string {
		submatches := authorizationBearerPattern.FindStringSubmatch(match)
		if len(submatches) != 4 {
			return match
		}
		return submatches[1] + submatches[2] + redactedPlaceholder
	})

	sanitized = sensitiveKeyValuePattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		submatches := sensitiveKeyValuePattern.FindStringSubmatch(match)
		if len(submatches) != 4 {
			return match
		}
		return submatches[1] + redactedPlaceholder + submatches[3]
	})

	sanitized = bearerTokenPattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		parts := bearerTokenPattern.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}
		return parts[1] + redactedPlaceholder
	})

	sanitized = standaloneSecretPattern.ReplaceAllString(sanitized, redactedPlaceholder)
	return sanitized
}
