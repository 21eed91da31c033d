package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"update_id",
	"user_id",
	"chat_id",
	"handler",
	"step",
	"region",
	"outcome",
	"duration_ms",
	"count",
	"mode",
	"listen",
	"public_url",
	"http_code",
	"db",
	"host",
	"port",
	"err",
	"cause",
	"attempts",
}

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

type structuredHandler struct {
	cfg   handlerConfig
	attrs []slog.Attr
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = append([]string(nil), defaultKeyOrder...)
	}
	return &structuredHandler{cfg: cfg}
}

// Enabled reports whether the handler allows processing the provided level.
func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.cfg.level != nil {
		min = h.cfg.level.Level()
	}
	return level >= min
}

type pair struct {
	key string
	val string
	raw any
	seq int
}

// Handle formats the slog.Record and writes it using the configured writer.
func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return fmt.Errorf("logger: writer not initialized")
	}

	pairs := make([]pair, 0, 8+r.NumAttrs()+len(h.attrs))
	seq := 0
	add := func(key string, val slog.Value) {
		if key == "" {
			return
		}
		pairs = append(pairs, pair{key: key, val: renderValue(val), raw: val.Any(), seq: seq})
		seq++
	}

	add("ts", slog.StringValue(r.Time.Format(timeFormatMillis)))
	add("level", slog.StringValue(levelName(r.Level)))
	for _, a := range h.attrs {
		add(a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(a.Key, a.Value)
		return true
	})
	if r.Message != "" && !hasKey(pairs, "event") {
		add("event", slog.StringValue(r.Message))
	}

	// rid from context wins if the record carries none
	if rid := RIDFrom(ctx); rid != "" && !hasKey(pairs, "rid") {
		add("rid", slog.StringValue(rid))
	}

	h.order(pairs)

	var line []byte
	switch h.cfg.format {
	case formatKV:
		line = renderKV(pairs)
	default:
		line = renderJSON(pairs)
	}
	line = append(line, '\n')

	_, err := h.cfg.writer.Write(line)
	return err
}

// WithAttrs returns a handler carrying the provided attrs on every record.
func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

// WithGroup is accepted but grouping is flattened; nested groups are not used here.
func (h *structuredHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *structuredHandler) order(pairs []pair) {
	rank := make(map[string]int, len(h.cfg.keyOrder))
	for i, k := range h.cfg.keyOrder {
		rank[k] = i
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		ri, iOK := rank[pairs[i].key]
		rj, jOK := rank[pairs[j].key]
		switch {
		case iOK && jOK:
			return ri < rj
		case iOK:
			return true
		case jOK:
			return false
		default:
			return pairs[i].seq < pairs[j].seq
		}
	})
}

func hasKey(pairs []pair, key string) bool {
	for _, p := range pairs {
		if p.key == key {
			return true
		}
	}
	return false
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func renderValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(timeFormatMillis)
	default:
		return fmt.Sprint(v.Any())
	}
}

func renderKV(pairs []pair) []byte {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(quoteKV(p.val))
	}
	return []byte(b.String())
}

func quoteKV(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\"=") {
		return strconv.Quote(s)
	}
	return s
}

func renderJSON(pairs []pair) []byte {
	var b strings.Builder
	b.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		key, _ := json.Marshal(p.key)
		b.Write(key)
		b.WriteByte(':')
		val, err := json.Marshal(jsonValue(p))
		if err != nil {
			val, _ = json.Marshal(p.val)
		}
		b.Write(val)
	}
	b.WriteByte('}')
	return []byte(b.String())
}

func jsonValue(p pair) any {
	switch v := p.raw.(type) {
	case string, bool, int, int64, uint64, float64:
		return v
	case time.Duration:
		return v.String()
	case time.Time:
		return v.Format(timeFormatMillis)
	default:
		return p.val
	}
}
