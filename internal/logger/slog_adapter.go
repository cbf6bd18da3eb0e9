package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// NewSlogHandler returns a slog.Handler that writes records through l, so
// code written against log/slog ends up in the same log file. Attributes
// are appended as key=value pairs, groups become dotted key prefixes.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogHandler{log: l}
}

type slogHandler struct {
	log    *Logger
	groups []string
	// preformatted holds attributes added with WithAttrs.
	preformatted string
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.log.Enabled(fromSlogLevel(level))
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString(record.Message)
	if h.preformatted != "" {
		b.WriteByte(' ')
		b.WriteString(h.preformatted)
	}
	record.Attrs(func(attr slog.Attr) bool {
		appendAttr(&b, h.groups, attr)
		return true
	})

	h.log.log(fromSlogLevel(record.Level), "%s", strings.TrimSpace(b.String()))
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.preformatted)
	for _, attr := range attrs {
		appendAttr(&b, h.groups, attr)
	}
	return &slogHandler{
		log:          h.log,
		groups:       h.groups,
		preformatted: strings.TrimSpace(b.String()),
	}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, len(h.groups), len(h.groups)+1)
	copy(groups, h.groups)
	return &slogHandler{
		log:          h.log,
		groups:       append(groups, name),
		preformatted: h.preformatted,
	}
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func appendAttr(b *strings.Builder, groups []string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindGroup {
		nested := groups
		if attr.Key != "" {
			nested = append(append([]string(nil), groups...), attr.Key)
		}
		for _, a := range attr.Value.Group() {
			appendAttr(b, nested, a)
		}
		return
	}

	key := attr.Key
	if key == "" {
		key = "attr"
	}
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	value := attr.Value.String()
	if attr.Value.Kind() == slog.KindString && (value == "" || strings.ContainsAny(value, " \t\n\"=")) {
		value = strconv.Quote(value)
	}
	fmt.Fprintf(b, " %s=%s", key, value)
}
