package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/notify"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/service"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
	"github.com/spec-kit/helpdesk/pkg/util/retry"
)

// NotificationWorker delivers queued emails in the background.
type NotificationWorker struct {
	queue   chan notify.Message
	sender  notify.Sender
	policy  retry.Policy
	logger  *zap.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup
}

// NewNotificationWorker builds a worker with a bounded queue.
func NewNotificationWorker(sender notify.Sender, size int, policy retry.Policy, logger *zap.Logger, metrics *observability.Metrics) *NotificationWorker {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{
		queue:   make(chan notify.Message, size),
		sender:  sender,
		policy:  policy,
		logger:  logger,
		metrics: metrics,
	}
}

// Enqueue adds msg without blocking and reports whether it was accepted.
func (w *NotificationWorker) Enqueue(msg notify.Message) bool {
	select {
	case w.queue <- msg:
		return true
	default:
		return false
	}
}

// Run delivers messages until ctx is done, then drains what is already queued.
func (w *NotificationWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case msg := <-w.queue:
			w.deliver(ctx, msg)
		}
	}
}

func (w *NotificationWorker) drain() {
	for {
		select {
		case msg := <-w.queue:
			w.deliver(context.Background(), msg)
		default:
			return
		}
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, msg notify.Message) {
	err := retry.Do(ctx, w.policy, func(ctx context.Context) error {
		if err := w.sender.Send(ctx, msg); err != nil {
			return apperrors.NewUnavailable("deliver notification", err)
		}
		return nil
	})
	if err != nil {
		w.metrics.RecordNotification("failed")
		w.logger.Error("notification delivery failed",
			zap.String("ticket_id", msg.TicketID),
			zap.String("event_type", msg.Event),
			zap.String("to", msg.To),
			zap.Error(err))
		return
	}
	w.metrics.RecordNotification("sent")
	w.logger.Info("notification sent",
		zap.String("ticket_id", msg.TicketID),
		zap.String("event_type", msg.Event),
		zap.String("to", msg.To))
}

// StartNotificationWorker registers notification handlers and starts
// delivery. Wait blocks until the worker has stopped.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService, w *NotificationWorker) {
	if notificationService == nil || w == nil {
		return
	}
	notificationService.RegisterHandlers()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.Run(ctx)
	}()
}

// Wait blocks until Run has returned.
func (w *NotificationWorker) Wait() {
	w.wg.Wait()
}
