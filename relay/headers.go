package relay

import (
	"context"
	"strconv"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	HeaderEventID  = "event_id"
	HeaderType     = "event_type"
	HeaderStream   = "stream_id"
	HeaderPosition = "global_position"
)

// Meta is the record identity carried in message headers. Consumers dedupe
// on EventID or Position since relaying is at-least-once.
type Meta struct {
	EventID  string
	Type     string
	StreamID string
	Position int64
}

// ExtractMeta reads the record identity back out of a relayed message.
func ExtractMeta(msg kafka.Message) Meta {
	pos, _ := strconv.ParseInt(HeaderValue(msg.Headers, HeaderPosition), 10, 64)
	m := Meta{
		EventID:  HeaderValue(msg.Headers, HeaderEventID),
		Type:     HeaderValue(msg.Headers, HeaderType),
		StreamID: HeaderValue(msg.Headers, HeaderStream),
		Position: pos,
	}
	if m.StreamID == "" {
		m.StreamID = string(msg.Key)
	}
	return m
}

// HeaderValue returns the first header named key, or "".
func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// SplitBrokers parses a comma-separated broker list, dropping blanks.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// InjectTraceHeaders appends W3C trace context from ctx to headers.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

// ExtractTraceContext returns ctx carrying the trace context found in msg.
func ExtractTraceContext(ctx context.Context, msg kafka.Message) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, &headerCarrier{headers: msg.Headers})
}

type headerCarrier struct {
	headers []kafka.Header
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (c *headerCarrier) Get(key string) string {
	return HeaderValue(c.headers, key)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}
