// Package natsutil provides typed NATS JetStream publish helpers with
// OpenTelemetry trace propagation through message headers.
package natsutil

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts nats.Header for OTel TextMapCarrier.
type headerCarrier nats.Header

func (c headerCarrier) Get(key string) string {
	return nats.Header(c).Get(key)
}

func (c headerCarrier) Set(key, val string) {
	nats.Header(c).Set(key, val)
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes it to the given subject through
// JetStream. Trace context from ctx is injected into the message headers.
// The returned sequence number identifies the message within its stream.
func Publish[T any](ctx context.Context, js jetstream.JetStream, subject string, v T) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	msg := &nats.Msg{
		Subject: subject,
		Header:  make(nats.Header),
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(msg.Header))
	ack, err := js.PublishMsg(ctx, msg)
	if err != nil {
		return 0, err
	}
	return ack.Sequence, nil
}

// ExtractContext returns a context carrying the trace state found in h,
// or context.Background() when none is present.
func ExtractContext(h nats.Header) context.Context {
	if h == nil {
		return context.Background()
	}
	return otel.GetTextMapPropagator().Extract(context.Background(), headerCarrier(h))
}

// Decode deserializes a JSON message payload of type T.
func Decode[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
