package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/Graylog2/go-gelf/gelf"
)

// Syslog severities carried in GELF records.
const (
	gelfLevelError   int32 = 3
	gelfLevelWarning int32 = 4
	gelfLevelInfo    int32 = 6
	gelfLevelDebug   int32 = 7
)

// GelfHandler forwards records to a Graylog server over UDP. Attributes
// become GELF additional fields.
type GelfHandler struct {
	writer *gelf.Writer
	host   string
	level  slog.Level
	attrs  []slog.Attr
	group  string
}

// NewGelfHandler connects to the given Graylog address ("host:port").
func NewGelfHandler(address string, level slog.Level) (*GelfHandler, error) {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return nil, err
	}
	host, err := os.Hostname()
	if err != nil {
		host = "structsync"
	}
	return &GelfHandler{writer: w, host: host, level: level}, nil
}

// Enabled reports whether the handler accepts records at the given level.
func (h *GelfHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle sends the record as one GELF message.
func (h *GelfHandler) Handle(_ context.Context, r slog.Record) error {
	extra := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		extra[h.fieldName(a.Key)] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		extra[h.fieldName(a.Key)] = a.Value.String()
		return true
	})

	return h.writer.WriteMessage(&gelf.Message{
		Version:  "1.1",
		Host:     h.host,
		Short:    r.Message,
		TimeUnix: float64(r.Time.UnixNano()) / 1e9,
		Level:    gelfLevel(r.Level),
		Extra:    extra,
	})
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *GelfHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &GelfHandler{writer: h.writer, host: h.host, level: h.level, attrs: merged, group: h.group}
}

// WithGroup returns a handler that prefixes attribute keys with the group
// name.
func (h *GelfHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &GelfHandler{writer: h.writer, host: h.host, level: h.level, attrs: h.attrs, group: group}
}

// fieldName builds a GELF additional-field name. The leading underscore is
// required by the GELF spec.
func (h *GelfHandler) fieldName(key string) string {
	if h.group != "" {
		return "_" + h.group + "." + key
	}
	return "_" + key
}

func gelfLevel(level slog.Level) int32 {
	switch {
	case level >= slog.LevelError:
		return gelfLevelError
	case level >= slog.LevelWarn:
		return gelfLevelWarning
	case level >= slog.LevelInfo:
		return gelfLevelInfo
	default:
		return gelfLevelDebug
	}
}
