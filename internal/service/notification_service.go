package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/notify"
	"github.com/spec-kit/helpdesk/internal/observability"
)

// ErrNotificationQueueFull is returned when the delivery queue rejects a message.
var ErrNotificationQueueFull = errors.New("notification queue full")

// Enqueuer accepts messages for asynchronous delivery without blocking.
type Enqueuer interface {
	Enqueue(msg notify.Message) bool
}

// NotificationService turns dispatched events into queued emails.
type NotificationService struct {
	dispatcher events.Dispatcher
	queue      Enqueuer
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, queue Enqueuer, logger *zap.Logger, metrics *observability.Metrics, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		queue:      queue,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil || !n.cfg.Enabled {
		return
	}
	for _, t := range events.AllTypes {
		n.dispatcher.Subscribe(t, n.handle)
	}
}

// Compose builds the email for event.
func (n *NotificationService) Compose(event events.Event) notify.Message {
	boxes := notify.Mailboxes{Support: n.cfg.SupportMailbox, Finance: n.cfg.FinanceMailbox}
	rendered := notify.Render(event, n.cfg.AppURL)
	return notify.Message{
		To:       notify.ResolveRecipient(event, boxes),
		Subject:  rendered.Subject,
		HTML:     rendered.HTML,
		TicketID: event.TicketID,
		Event:    string(event.Type),
	}
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) error {
	msg := n.Compose(event)
	if !n.queue.Enqueue(msg) {
		n.metrics.RecordNotification("dropped")
		n.logger.Error("notification dropped",
			zap.String("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)),
			zap.String("to", msg.To))
		return ErrNotificationQueueFull
	}
	n.logger.Debug("notification queued",
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)),
		zap.String("to", msg.To))
	return nil
}
