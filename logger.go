package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

var _ slog.Handler = (*handler)(nil)

// handler writes one compact line per record:
//
//	INFO  [01-02|15:04:05.000] message	key=value key=value
type handler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func newHandler(out io.Writer, level slog.Leveler) *handler {
	return &handler{
		mu:    new(sync.Mutex),
		level: level,
		out:   out,
	}
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *handler) Handle(_ context.Context, record slog.Record) error {
	level := strings.ToUpper(record.Level.String())
	level += strings.Repeat(" ", max(5-len(level), 0))

	timestamp := record.Time.Format("[01-02|15:04:05.000]")

	fields := make([]string, 0, len(h.attrs)+record.NumAttrs())
	for _, a := range h.attrs {
		fields = appendAttr(fields, "", a)
	}

	prefix := strings.Join(h.groups, ".")
	record.Attrs(func(a slog.Attr) bool {
		fields = appendAttr(fields, prefix, a)
		return true
	})

	line := fmt.Sprintf("%s %s %s", level, timestamp, record.Message)
	if len(fields) > 0 {
		line += "\t" + strings.Join(fields, " ")
	}
	line += "\n"

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.out.Write([]byte(line))
	return err
}

func appendAttr(fields []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return fields
	}

	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			fields = appendAttr(fields, key, ga)
		}
		return fields
	}
	return append(fields, fmt.Sprintf("%s=%v", key, a.Value))
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	prefix := strings.Join(h.groups, ".")
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}
