package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBridge implements the event bridge on a NATS subject, for deployments
// that already run NATS instead of relying on Redis pub/sub.
type NATSBridge struct {
	nc      *nats.Conn
	subject string
}

// NewNATSBridge connects to NATS and returns a bridge publishing on the
// given subject.
func NewNATSBridge(url, subject string) (*NATSBridge, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATSBridge{nc: nc, subject: subject}, nil
}

// Publish sends an event to the shared subject.
func (b *NATSBridge) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}

	return nil
}

// Subscribe registers a handler for all events on the subject.
func (b *NATSBridge) Subscribe(ctx context.Context, h Handler) (func(), error) {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return
		}
		h(e)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}

	return func() { _ = sub.Unsubscribe() }, nil
}

// Close drains the NATS connection.
func (b *NATSBridge) Close() error {
	return b.nc.Drain()
}
