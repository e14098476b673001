package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders compact single-line console output with stable
// attribute ordering. Context-derived fields (episode, stage, run) sort ahead
// of ad-hoc attributes so operators can scan lines quickly.
type consoleHandler struct {
	mu    sync.Mutex
	out   io.Writer
	level *slog.LevelVar
	attrs []slog.Attr
}

func newConsoleHandler(out io.Writer, level *slog.LevelVar) slog.Handler {
	return &consoleHandler{out: out, level: level}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString(record.Time.UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(fmt.Sprintf("%-5s", strings.ToUpper(record.Level.String())))
	b.WriteByte(' ')
	b.WriteString(record.Message)

	attrs := make([]slog.Attr, 0, record.NumAttrs()+len(h.attrs))
	attrs = append(attrs, h.attrs...)
	record.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)
		return true
	})
	sort.SliceStable(attrs, func(i, j int) bool {
		return fieldRank(attrs[i].Key) < fieldRank(attrs[j].Key)
	})
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(attr.Key)
		b.WriteByte('=')
		b.WriteString(formatValue(attr.Value))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &consoleHandler{out: h.out, level: h.level, attrs: merged}
}

func (h *consoleHandler) WithGroup(string) slog.Handler { return h }

func fieldRank(key string) int {
	switch key {
	case FieldComponent:
		return 0
	case FieldEpisodeID:
		return 1
	case FieldRunID:
		return 2
	case FieldStage:
		return 3
	default:
		return 10
	}
}

func formatValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if strings.ContainsAny(s, " \t") {
			return fmt.Sprintf("%q", s)
		}
		return s
	case slog.KindDuration:
		return v.Duration().Round(time.Millisecond).String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}
