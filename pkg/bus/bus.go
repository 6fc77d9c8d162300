package bus

import (
	"context"
	"errors"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Bus wraps a NATS connection for publishing JSON events.
type Bus struct {
	conn *nats.Conn
}

// New creates a Bus connected to the provided NATS endpoint.
func New(url string, opts ...nats.Option) (*Bus, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("nats url is required")
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: nc}, nil
}

// Close drains pending messages and shuts down the connection.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON, publishes it to subj and waits for the server to
// acknowledge the flush or ctx to end.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil || b.conn == nil {
		return errors.New("nil bus")
	}
	if subj == "" {
		return errors.New("subject is required")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(subj, data); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		return b.conn.Flush()
	}
	return b.conn.FlushWithContext(ctx)
}
