// Package audit publishes orchestration records to NATS for downstream
// consumers (conversation history, compliance review). The publisher is
// optional; the orchestrator runs fine without one.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/atlasdata/atlasrag/sqlrag"
)

// Publisher sends audit events to a NATS subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewPublisher connects to NATS. The connection reconnects indefinitely;
// events published while disconnected are buffered by the client.
func NewPublisher(url, subject string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("atlasrag-audit"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("audit NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("audit NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With("component", "audit-publisher"),
	}, nil
}

// PublishOrchestration sends one orchestration record.
func (p *Publisher) PublishOrchestration(_ context.Context, event sqlrag.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	p.logger.Debug("published audit event",
		"request_id", event.RequestID,
		"subject", p.subject)
	return nil
}

// Close drains the connection so buffered events flush before shutdown.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("drain NATS connection", "error", err)
	}
}
