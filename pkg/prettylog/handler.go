// Package prettylog provides a compact colored slog handler for console
// output during development. Production deployments should prefer
// slog.JSONHandler.
package prettylog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const timeFormat = "15:04:05.000"

const (
	ansiReset  = "\033[0m"
	ansiGray   = "\033[90m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiBold   = "\033[1m"
)

type Handler struct {
	level slog.Level
	attrs []slog.Attr

	mu  *sync.Mutex
	out io.Writer
}

func NewHandler(level slog.Level) *Handler {
	return &Handler{
		level: level,
		mu:    &sync.Mutex{},
		out:   os.Stderr,
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...)
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	// groups are flattened; the demo server does not nest attributes
	return h
}

func (h *Handler) Handle(_ context.Context, record slog.Record) error {
	var sb strings.Builder

	sb.WriteString(ansiGray)
	sb.WriteString(record.Time.Format(timeFormat))
	sb.WriteString(ansiReset)
	sb.WriteByte(' ')
	sb.WriteString(levelBadge(record.Level))
	sb.WriteByte(' ')
	sb.WriteString(record.Message)

	for _, attr := range h.attrs {
		writeAttr(&sb, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&sb, attr)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

func writeAttr(sb *strings.Builder, attr slog.Attr) {
	sb.WriteByte(' ')
	sb.WriteString(ansiCyan)
	sb.WriteString(attr.Key)
	sb.WriteByte('=')
	sb.WriteString(ansiReset)
	sb.WriteString(fmt.Sprintf("%v", attr.Value.Resolve().Any()))
}

func levelBadge(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed + ansiBold + "ERR" + ansiReset
	case level >= slog.LevelWarn:
		return ansiYellow + "WRN" + ansiReset
	case level >= slog.LevelInfo:
		return "INF"
	default:
		return ansiGray + "DBG" + ansiReset
	}
}
