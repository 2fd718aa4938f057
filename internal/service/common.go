package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/lifecycle"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/realtime"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
	"github.com/spec-kit/helpdesk/pkg/util/retry"
)

// Clock returns the current time.
type Clock func() time.Time

func defaultClock() time.Time { return time.Now() }

// Runtime holds what every write path shares: the store, bounds on each
// operation and the post-commit fan-out.
type Runtime struct {
	Store      repository.Store
	Dispatcher events.Dispatcher
	Broker     realtime.Broker
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Retry      retry.Policy
	Timeout    time.Duration
	Now        Clock
}

func (r *Runtime) defaults() {
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	if r.Now == nil {
		r.Now = defaultClock
	}
	if r.Retry.Attempts == 0 {
		r.Retry = retry.DefaultPolicy
	}
}

// inTx runs fn in one transaction, bounded by the operation timeout and
// retried on conflicts and outages.
func (r *Runtime) inTx(ctx context.Context, fn repository.TxFunc) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	err := retry.Do(ctx, r.Retry, func(ctx context.Context) error {
		return apperrors.MapError(r.Store.WithinTx(ctx, fn))
	})
	return apperrors.MapError(err)
}

// adjustCounter applies delta to uid's workload counter inside tx.
func (r *Runtime) adjustCounter(ctx context.Context, tx repository.Repositories, uid string, delta int) error {
	value, clamped, err := tx.Users.AdjustTicketsAssigned(ctx, uid, delta)
	if err != nil {
		if errors.Is(err, apperrors.ErrRecordNotFound) {
			return apperrors.NewNotFound("user", map[string]any{"uid": uid})
		}
		return err
	}
	if clamped {
		r.Metrics.RecordCounterClamp()
		r.Logger.Warn("workload counter clamped at zero",
			zap.String("attendant_id", uid),
			zap.Int("delta", delta))
	}
	r.Logger.Debug("workload counter adjusted",
		zap.String("attendant_id", uid),
		zap.Int("delta", delta),
		zap.Int("value", value))
	return nil
}

func (r *Runtime) applyCounters(ctx context.Context, tx repository.Repositories, deltas []lifecycle.CounterDelta) ([]string, error) {
	var touched []string
	for _, d := range deltas {
		if err := r.adjustCounter(ctx, tx, d.UID, d.Delta); err != nil {
			return nil, err
		}
		touched = append(touched, d.UID)
	}
	return touched, nil
}

func (r *Runtime) recordHistory(ctx context.Context, tx repository.Repositories, ticketID, actorID string, change domain.TicketChangeType, oldValue, newValue map[string]any) error {
	return tx.History.Create(ctx, &domain.TicketHistory{
		ID:          uuid.NewString(),
		TicketID:    ticketID,
		ChangedByID: actorID,
		ChangeType:  change,
		OldValue:    oldValue,
		NewValue:    newValue,
		CreatedAt:   r.Now(),
	})
}

// publishTicket fans a committed ticket out to live listeners.
func (r *Runtime) publishTicket(ctx context.Context, t *domain.Ticket, kind string) {
	if r.Broker == nil {
		return
	}
	if err := r.Broker.Publish(ctx, realtime.TicketChanged(t, kind)); err != nil {
		r.Logger.Warn("publish ticket change", zap.String("ticket_id", t.ID), zap.Error(err))
	}
}

// publishUsers re-reads the given users after commit and fans them out.
func (r *Runtime) publishUsers(ctx context.Context, uids ...string) {
	if r.Broker == nil {
		return
	}
	seen := map[string]struct{}{}
	for _, uid := range uids {
		if _, ok := seen[uid]; ok || uid == "" {
			continue
		}
		seen[uid] = struct{}{}
		u, err := r.Store.Repositories().Users.GetByID(ctx, uid)
		if err != nil {
			r.Logger.Warn("load user for change feed", zap.String("attendant_id", uid), zap.Error(err))
			continue
		}
		if err := r.Broker.Publish(ctx, realtime.UserChanged(u)); err != nil {
			r.Logger.Warn("publish user change", zap.String("attendant_id", uid), zap.Error(err))
		}
	}
}

func (r *Runtime) publishEvent(ctx context.Context, event events.Event) {
	if r.Dispatcher == nil || event.Type == "" {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.Now()
	}
	if err := r.Dispatcher.Publish(ctx, event); err != nil {
		r.Logger.Error("dispatch event",
			zap.String("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

func loadTicketForUpdate(ctx context.Context, tx repository.Repositories, id string) (*domain.Ticket, error) {
	t, err := tx.Tickets.GetForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
		}
		return nil, err
	}
	return t, nil
}

func loadUserForUpdate(ctx context.Context, tx repository.Repositories, uid string) (*domain.User, error) {
	u, err := tx.Users.GetForUpdate(ctx, uid)
	if err != nil {
		if errors.Is(err, apperrors.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("user", map[string]any{"uid": uid})
		}
		return nil, err
	}
	return u, nil
}

func assigneeValue(a *domain.Assignment) map[string]any {
	if a == nil {
		return map[string]any{"assignee_uid": nil}
	}
	return map[string]any{"assignee_uid": a.UID, "assignee_name": a.Name}
}
