package secrets

import (
	"context"
	"log/slog"
	"strings"
)

// RedactFilter wraps a slog handler and sanitizes the message and every
// string attribute, including those in groups.
type RedactFilter struct {
	inner     slog.Handler
	sanitizer *Sanitizer
}

// NewRedactFilter creates a handler that redacts through sanitizer. Handlers
// derived with WithAttrs and WithGroup share it, so later Add calls apply
// to every logger.
func NewRedactFilter(inner slog.Handler, sanitizer *Sanitizer) *RedactFilter {
	if sanitizer == nil {
		sanitizer = NewSanitizer()
	}
	return &RedactFilter{inner: inner, sanitizer: sanitizer}
}

// AddSecret registers a value to be redacted from log output.
func (f *RedactFilter) AddSecret(value string) {
	f.sanitizer.Add(value)
}

func (f *RedactFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return f.inner.Enabled(ctx, level)
}

func (f *RedactFilter) Handle(ctx context.Context, record slog.Record) error {
	redacted := slog.NewRecord(record.Time, record.Level, f.sanitizer.Sanitize(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(f.redactAttr(a))
		return true
	})
	return f.inner.Handle(ctx, redacted)
}

func (f *RedactFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = f.redactAttr(a)
	}
	return &RedactFilter{inner: f.inner.WithAttrs(clean), sanitizer: f.sanitizer}
}

func (f *RedactFilter) WithGroup(name string) slog.Handler {
	return &RedactFilter{inner: f.inner.WithGroup(name), sanitizer: f.sanitizer}
}

func (f *RedactFilter) redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, f.sanitizer.Sanitize(v.String()))
	case slog.KindGroup:
		group := v.Group()
		clean := make([]any, len(group))
		for i, g := range group {
			clean[i] = f.redactAttr(g)
		}
		return slog.Group(a.Key, clean...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, f.sanitizer.Sanitize(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

// RedactString sanitizes s with the filter's sanitizer.
func (f *RedactFilter) RedactString(s string) string {
	return f.sanitizer.Sanitize(s)
}

func replaceAll(text, secret string) string {
	return strings.ReplaceAll(text, secret, Redacted)
}
