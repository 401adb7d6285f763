package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	TRACE LogLevel = iota // Raw advertising bytes, bridge frames
	DEBUG                 // Payload construction, callback delivery
	INFO                  // Session transitions
	WARN                  // Dropped events, recoverable platform errors
	ERROR                 // Start/stop failures
)

var (
	currentLevel LogLevel  = INFO
	out          io.Writer = os.Stderr
	mu           sync.RWMutex
)

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetOutput redirects log lines, e.g. to io.Discard in tests or to stderr
// when stdout carries bridge frames.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = io.Discard
	}
	out = w
}

// ParseLevel converts a string to a LogLevel, defaulting to INFO
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO "
	case WARN:
		return "WARN "
	case ERROR:
		return "ERROR"
	}
	return "?????"
}

func log(level LogLevel, prefix, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if level < currentLevel {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if prefix != "" {
		fmt.Fprintf(out, "[%s %s] %s\n", prefix, level, msg)
	} else {
		fmt.Fprintf(out, "[%s] %s\n", level, msg)
	}
}

func Trace(prefix, format string, args ...interface{}) {
	log(TRACE, prefix, format, args...)
}

func Debug(prefix, format string, args ...interface{}) {
	log(DEBUG, prefix, format, args...)
}

func Info(prefix, format string, args ...interface{}) {
	log(INFO, prefix, format, args...)
}

func Warn(prefix, format string, args ...interface{}) {
	log(WARN, prefix, format, args...)
}

func Error(prefix, format string, args ...interface{}) {
	log(ERROR, prefix, format, args...)
}

// ToJSON renders v for a log line. Protobuf messages go through protojson so
// structpb values print as plain JSON.
func ToJSON(v interface{}) string {
	if msg, ok := v.(proto.Message); ok {
		b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
		if err != nil {
			return fmt.Sprintf("<error: %v>", err)
		}
		return string(b)
	}

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(b)
}

// DebugJSON logs label followed by the JSON form of v
func DebugJSON(prefix, label string, v interface{}) {
	if GetLevel() > DEBUG {
		return
	}
	log(DEBUG, prefix, "%s:\n%s", label, ToJSON(v))
}

// TraceHex logs raw bytes, used for on-air payloads
func TraceHex(prefix, label string, b []byte) {
	if GetLevel() > TRACE {
		return
	}
	log(TRACE, prefix, "%s (%d bytes): % X", label, len(b), b)
}
