// Package logging configures the process-wide structured logger.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	globalLevel  = slog.LevelInfo
	handlerMutex sync.RWMutex
)

// jsonParsingWriter reformats JSON log lines (sipgo logs through zerolog in
// JSON) into the same bracketed text format the rest of the process uses.
type jsonParsingWriter struct {
	base io.Writer
}

func (w *jsonParsingWriter) Write(p []byte) (int, error) {
	line := string(p)
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return w.base.Write(p)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(p, &entry); err != nil {
		return w.base.Write(p)
	}

	level := "info"
	if lv, ok := entry["level"]; ok {
		level = fmt.Sprint(lv)
	}
	message := "unknown"
	if msg, ok := entry["message"]; ok {
		message = fmt.Sprint(msg)
	}
	timestamp := time.Now().Format("15:04:05")
	if t, ok := entry["time"]; ok {
		if ts, err := time.Parse(time.RFC3339, fmt.Sprint(t)); err == nil {
			timestamp = ts.Format("15:04:05")
		}
	}

	var attrs []string
	for k, v := range entry {
		if k != "level" && k != "message" && k != "time" && k != "caller" {
			attrs = append(attrs, fmt.Sprintf("%s=%v", k, v))
		}
	}

	formatted := fmt.Sprintf("[%s] [%s] [sipgo] %s", timestamp, strings.ToUpper(level), message)
	if len(attrs) > 0 {
		formatted += " " + strings.Join(attrs, " ")
	}
	formatted += "\n"
	return w.base.Write([]byte(formatted))
}

// handler is a minimal bracketed-text slog.Handler: "[HH:MM:SS] [LEVEL] msg k=v ...".
type handler struct {
	outs []io.Writer
	mu   sync.Mutex
}

func (h *handler) Handle(_ context.Context, record slog.Record) error {
	handlerMutex.RLock()
	below := record.Level < globalLevel
	handlerMutex.RUnlock()
	if below {
		return nil
	}

	var attrs []string
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a.Key+"="+a.Value.String())
		return true
	})

	msg := record.Message
	if len(attrs) > 0 {
		msg = msg + " " + strings.Join(attrs, " ")
	}
	line := fmt.Sprintf("[%s] [%s] %s\n", record.Time.Format("15:04:05"), strings.ToUpper(record.Level.String()), msg)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, out := range h.outs {
		if out != nil {
			_, _ = out.Write([]byte(line))
		}
	}
	return nil
}

func (h *handler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *handler) WithGroup(_ string) slog.Handler      { return h }
func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return level >= globalLevel
}

// Init installs the process-wide slog default logger writing to outputs,
// wrapping each so sipgo's JSON log lines are reformatted to match.
func Init(outputs ...io.Writer) {
	wrapped := make([]io.Writer, len(outputs))
	for i, out := range outputs {
		wrapped[i] = &jsonParsingWriter{base: out}
	}
	slog.SetDefault(slog.New(&handler{outs: wrapped}))
}

// SetLevel sets the global minimum log level from a config string.
func SetLevel(levelStr string) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	globalLevel = ParseLevel(levelStr)
}

// ParseLevel parses a config-file log level string, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
