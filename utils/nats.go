package utils

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
)

// EventPublisher publishes JSON events on NATS subjects under a prefix.
type EventPublisher struct {
	conn   *nats.Conn
	prefix string
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
}

func NewEventPublisher(conn *nats.Conn, prefix string) *EventPublisher {
	return &EventPublisher{conn: conn, prefix: strings.Trim(prefix, ".")}
}

// Publish sends v as JSON on <prefix>.<subject>.
func (p *EventPublisher) Publish(ctx context.Context, subject string, v interface{}) error {
	if p.conn == nil || p.conn.IsClosed() {
		return nats.ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(subject), data)
}

// Subject returns the fully qualified subject.
func (p *EventPublisher) Subject(subject string) string {
	if p.prefix == "" {
		return subject
	}
	return p.prefix + "." + subject
}

func (p *EventPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
