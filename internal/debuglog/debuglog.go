package debuglog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level uint8

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelVerbose
	LevelTrace

	UseGlobal Level = 255
)

const envKey = "MIHOMO_LAUNCHER_DEBUG"

var (
	GlobalLevel = ParseLevel(os.Getenv(envKey))

	mu     sync.RWMutex
	logger = newLogger(os.Stderr)
)

func newLogger(w io.Writer) zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: "2006-01-02 15:04:05",
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// Init redirects all launcher logs to w. An empty level keeps the level taken
// from the environment.
func Init(w io.Writer, level string) {
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}
	mu.Lock()
	logger = newLogger(w)
	if strings.TrimSpace(level) != "" && os.Getenv(envKey) == "" {
		GlobalLevel = ParseLevel(level)
	}
	mu.Unlock()
}

// ParseLevel maps a textual level to Level. Unknown values fall back to LevelInfo.
func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace
	case "verbose", "debug":
		return LevelVerbose
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "off", "silent":
		return LevelOff
	default:
		return LevelInfo
	}
}

func zerologLevel(level Level) zerolog.Level {
	switch level {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelVerbose:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// WithComponent returns a structured logger tagged with the component name.
func WithComponent(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.Level(zerologLevel(GlobalLevel)).With().Str("component", name).Logger()
}

func Log(prefix string, level Level, local Level, format string, args ...interface{}) {
	if !ShouldLog(level, local) {
		return
	}
	message := fmt.Sprintf(format, args...)
	mu.RLock()
	event := logger.WithLevel(zerologLevel(level))
	mu.RUnlock()
	if prefix != "" {
		event = event.Str("component", prefix)
	}
	event.Msg(message)
}

func ShouldLog(level Level, local Level) bool {
	if level == LevelOff {
		return false
	}
	effective := GlobalLevel
	if local != UseGlobal {
		effective = local
	}
	return level <= effective
}

func ErrorLog(format string, args ...interface{}) {
	Log("", LevelError, UseGlobal, format, args...)
}

func WarnLog(format string, args ...interface{}) {
	Log("", LevelWarn, UseGlobal, format, args...)
}

func InfoLog(format string, args ...interface{}) {
	Log("", LevelInfo, UseGlobal, format, args...)
}

func DebugLog(format string, args ...interface{}) {
	Log("", LevelVerbose, UseGlobal, format, args...)
}
