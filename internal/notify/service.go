package notify

import (
	"context"

	"github.com/wolfman30/booking-engine/internal/observability/metrics"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

// Message is a plain notification addressed to one recipient.
type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
	// Kind labels the message in logs and metrics, e.g. "verification".
	Kind string
}

// Result reports whether the message left the process.
type Result struct {
	Success    bool
	DeliveryID string
}

// Gateway sends booking notifications. Send never returns an error; failures
// are logged and reported as Success=false.
type Gateway struct {
	email   EmailSender
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

// NewGateway creates a gateway. A nil sender falls back to the stub.
func NewGateway(email EmailSender, logger *logging.Logger, m *metrics.BookingMetrics) *Gateway {
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = NewStubEmailSender(logger)
	}
	return &Gateway{email: email, logger: logger, metrics: m}
}

// Send delivers msg through the configured email transport.
func (g *Gateway) Send(ctx context.Context, msg Message) (res Result) {
	kind := msg.Kind
	if kind == "" {
		kind = "generic"
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("notify: sender panicked", "kind", kind, "to", msg.To, "panic", r)
			res = Result{}
		}
		g.metrics.ObserveNotification(kind, res.Success)
	}()

	if msg.To == "" {
		g.logger.Warn("notify: message has no recipient, skipping", "kind", kind)
		return Result{}
	}
	id, err := g.email.Send(ctx, EmailMessage{
		To:      msg.To,
		ToName:  msg.ToName,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		g.logger.Warn("notify: send failed", "kind", kind, "to", msg.To, "error", err)
		return Result{}
	}
	return Result{Success: true, DeliveryID: id}
}
