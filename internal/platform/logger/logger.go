// Package logger provides structured logging with colored output.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// New creates a structured logger writing to w at the given level.
// Uses colored text format by default, JSON if LOG_FORMAT=json env var is set.
// Colors can be disabled by setting NO_COLOR=1 or LOG_COLOR=false.
//
// The run report goes to stdout, so callers normally pass os.Stderr.
func New(level string, w io.Writer) *slog.Logger {
	l := ParseLevel(level)

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
	}
	return slog.New(&coloredTextHandler{
		out:      &lockedWriter{w: w},
		level:    l,
		useColor: shouldUseColor(),
	})
}

// ParseLevel maps a level name to a slog level; unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func shouldUseColor() bool {
	// https://no-color.org/
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if logColor := strings.ToLower(os.Getenv("LOG_COLOR")); logColor == "false" || logColor == "0" {
		return false
	}
	return true
}

// lockedWriter keeps lines from concurrent goroutines from interleaving.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// coloredTextHandler writes one human-readable line per record.
type coloredTextHandler struct {
	out      *lockedWriter
	level    slog.Level
	useColor bool
	attrs    []slog.Attr // already qualified with the group prefix
	prefix   string
}

func (h *coloredTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *coloredTextHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	h.paint(&buf, colorGray, r.Time.Format("2006-01-02 15:04:05"))
	buf.WriteByte(' ')

	color, label := levelStyle(r.Level)
	h.paint(&buf, color, label)
	buf.WriteByte(' ')

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		h.writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&buf, h.prefix, a)
		return true
	})

	buf.WriteByte('\n')
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func levelStyle(level slog.Level) (color, label string) {
	switch {
	case level >= slog.LevelError:
		return colorRed + colorBold, "ERROR"
	case level >= slog.LevelWarn:
		return colorYellow, "WARN "
	case level >= slog.LevelInfo:
		return colorBlue, "INFO "
	default:
		return colorCyan, "DEBUG"
	}
}

func (h *coloredTextHandler) writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			h.writeAttr(buf, p, ga)
		}
		return
	}
	buf.WriteByte(' ')
	h.paint(buf, colorGray, prefix+a.Key+"="+a.Value.String())
}

func (h *coloredTextHandler) paint(buf *strings.Builder, color, s string) {
	if h.useColor {
		buf.WriteString(color)
		buf.WriteString(s)
		buf.WriteString(colorReset)
		return
	}
	buf.WriteString(s)
}

func (h *coloredTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	qualified := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	qualified = append(qualified, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		qualified = append(qualified, a)
	}
	clone := *h
	clone.attrs = qualified
	return &clone
}

func (h *coloredTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}
