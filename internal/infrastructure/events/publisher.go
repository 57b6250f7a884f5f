package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/ports"
)

const DefaultSubject = "stockdispatch.runs"

// NATSPublisher publishes run transitions on `<subject>.<to_status>`.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

var _ ports.RunEventPublisher = (*NATSPublisher)(nil)

func NewNATSPublisher(url string, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("stockdispatch"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
	)
	if err != nil {
		return nil, errs.Wrapf(err, "connect nats %s", url)
	}
	return &NATSPublisher{conn: conn, subject: normalizeSubject(subject)}, nil
}

func (p *NATSPublisher) PublishRunEvent(ctx context.Context, event ports.RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errs.Wrap(err, "encode run event")
	}
	if err := p.conn.Publish(Subject(p.subject, event.ToStatus), payload); err != nil {
		return errs.Wrap(err, "publish run event")
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// Subject builds the per-status subject for a run event.
func Subject(base string, toStatus string) string {
	status := strings.TrimSpace(toStatus)
	if status == "" {
		return normalizeSubject(base)
	}
	return normalizeSubject(base) + "." + status
}

func normalizeSubject(subject string) string {
	trimmed := strings.Trim(strings.TrimSpace(subject), ".")
	if trimmed == "" {
		return DefaultSubject
	}
	return trimmed
}

// LogPublisher writes run events to the log. Used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) PublishRunEvent(ctx context.Context, event ports.RunEvent) error {
	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "events")),
		"run status changed",
		slog.String("run_id", event.RunID),
		slog.String("from", event.FromStatus),
		slog.String("to", event.ToStatus),
		slog.String("actor", event.Actor),
	)
	return nil
}
