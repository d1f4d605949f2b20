package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// NATSBroker publishes envelopes on NATS core subjects.
type NATSBroker struct {
	conn *nats.Conn
}

// ConnectNATS dials url with reconnect handling that logs state changes.
func ConnectNATS(url, name string, logger *slog.Logger) (*NATSBroker, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSBroker{conn: conn}, nil
}

// NewNATSBroker wraps an existing connection.
func NewNATSBroker(conn *nats.Conn) *NATSBroker {
	return &NATSBroker{conn: conn}
}

// Publish implements Broker. Trace context travels in message headers.
func (b *NATSBroker) Publish(ctx context.Context, subject string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))
	return b.conn.PublishMsg(msg)
}

// Connected implements Broker. A nil broker is never connected.
func (b *NATSBroker) Connected() bool {
	return b != nil && b.conn != nil && b.conn.IsConnected()
}

// Subscription is an active broker subscription.
type Subscription interface {
	Drain() error
}

// QueueSubscribe joins a queue group on subject. Each message is delivered
// to exactly one member of the group.
func (b *NATSBroker) QueueSubscribe(subject, group string, handler func(ctx context.Context, data []byte)) (Subscription, error) {
	return b.conn.QueueSubscribe(subject, group, func(msg *nats.Msg) {
		ctx := context.Background()
		if msg.Header != nil {
			ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))
		}
		handler(ctx, msg.Data)
	})
}

// Drain flushes pending messages and closes the connection.
func (b *NATSBroker) Drain() error {
	if b == nil || b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}
