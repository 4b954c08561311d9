package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-qms-documents/internal/service"
)

// natsConn is the subset of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subject string, data []byte) error
}

// NotificationPublisher publishes workflow engine events to NATS for
// consumption by the notifications service and task inbox renderers.
//
// Subject convention: <prefix>.<event_type>, e.g. qms.documents.task.opened
//
// All publish operations are non-fatal: errors are logged but never propagated
// to the caller, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	conn   natsConn
	prefix string
	log    zerolog.Logger
}

// ConnectNATS dials the NATS server at url.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection yields a publisher that drops every event.
func NewNotificationPublisher(conn *nats.Conn, prefix string, log zerolog.Logger) *NotificationPublisher {
	p := &NotificationPublisher{prefix: prefix, log: log}
	if conn != nil {
		p.conn = conn
	}
	return p
}

// Publish implements service.EventPublisher.
func (p *NotificationPublisher) Publish(ctx context.Context, event service.Event) {
	if p.conn == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.Type).Msg("notification: failed to marshal event")
		return
	}

	subject := p.subject(event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("document_id", event.DocumentID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("document_id", event.DocumentID).
		Int("recipients", len(event.Recipients)).
		Msg("notification: event published")
}

func (p *NotificationPublisher) subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}
