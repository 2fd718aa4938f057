package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/realtime"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

const redistributeLockName = "queue:redistribute"

// Assignment sources, used as the metrics label.
const (
	sourceCreate       = "create"
	sourceManual       = "manual"
	sourceRedistribute = "redistribute"
	sourceTransfer     = "transfer"
)

// Locker provides mutual exclusion across processes.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
}

// AssignmentService is the queue distribution engine: it picks attendants,
// hands them orphan tickets and keeps their workload counters in step.
type AssignmentService struct {
	rt      *Runtime
	locker  Locker
	lockTTL time.Duration
	// local serializes redistribution when no Locker is configured.
	local sync.Mutex
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	Runtime Runtime
	Locker  Locker
	LockTTL time.Duration
}

// WorkloadEntry compares an attendant's counter with their open assignments.
type WorkloadEntry struct {
	User   domain.User
	Actual int
}

// Drift is counter minus actual open assignments.
func (w WorkloadEntry) Drift() int {
	return w.User.TicketsAssigned - w.Actual
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	rt := deps.Runtime
	rt.defaults()
	ttl := deps.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AssignmentService{rt: &rt, locker: deps.Locker, lockTTL: ttl}
}

// SelectNextAttendant returns the online attendant with the fewest assigned
// tickets, ties going to the earlier directory entry. It returns nil when
// nobody is online.
func (s *AssignmentService) SelectNextAttendant(ctx context.Context) (*domain.User, error) {
	online := true
	candidates, err := s.rt.Store.Repositories().Users.List(ctx, repository.UserFilter{
		Roles:  []domain.UserRole{domain.RoleAttendant},
		Online: &online,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].TicketsAssigned < candidates[j].TicketsAssigned
	})
	next := candidates[0]
	return &next, nil
}

// AssignTicket hands an orphan ticket to attendant. The ticket stays in the
// queue until the attendant starts it.
func (s *AssignmentService) AssignTicket(ctx context.Context, ticketID string, attendant *domain.User) (*domain.Ticket, error) {
	return s.assign(ctx, ticketID, attendant, sourceManual)
}

func (s *AssignmentService) assign(ctx context.Context, ticketID string, attendant *domain.User, source string) (*domain.Ticket, error) {
	if attendant == nil || attendant.ID == "" {
		return nil, apperrors.NewValidationError("attendant required", nil)
	}
	var assigned *domain.Ticket
	err := s.rt.inTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		t, err := loadTicketForUpdate(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if !t.IsOrphan() {
			return apperrors.NewConflict("ticket is not waiting for an attendant", map[string]any{
				"ticket_id": t.ID,
				"status":    t.Status,
				"assignee":  t.AssigneeID(),
			})
		}
		now := s.rt.Now()
		t.AssignedTo = &domain.Assignment{Identity: attendant.Snapshot(), AssignedAt: now}
		t.UpdatedAt = now
		if err := tx.Tickets.Update(ctx, t); err != nil {
			return err
		}
		if err := s.rt.adjustCounter(ctx, tx, attendant.ID, 1); err != nil {
			return err
		}
		if err := s.rt.recordHistory(ctx, tx, t.ID, domain.SystemAuthor.UID, domain.ChangeTypeAssignee,
			assigneeValue(nil), assigneeValue(t.AssignedTo)); err != nil {
			return err
		}
		assigned = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.rt.Metrics.RecordAssignment(source)
	s.rt.Logger.Info("ticket assigned",
		zap.String("ticket_id", assigned.ID),
		zap.String("attendant_id", attendant.ID),
		zap.String("source", source))
	s.rt.publishTicket(ctx, assigned, realtime.KindUpdated)
	s.rt.publishUsers(ctx, attendant.ID)
	return assigned, nil
}

// RedistributeOrphanTickets assigns queued tickets without an attendant,
// oldest first, re-selecting the attendant before each one. It stops when
// nobody is online and skips tickets whose assignment fails. Only one run
// proceeds at a time; a concurrent call returns 0.
func (s *AssignmentService) RedistributeOrphanTickets(ctx context.Context) (int, error) {
	unlock, ok, err := s.lock(ctx)
	if err != nil {
		return 0, apperrors.NewUnavailable("acquire redistribution lock", err)
	}
	if !ok {
		s.rt.Logger.Info("redistribution already running")
		return 0, nil
	}
	defer unlock()

	orphans, err := s.rt.Store.Repositories().Tickets.List(ctx, repository.TicketFilter{
		Statuses:    []domain.TicketStatus{domain.TicketStatusQueue},
		Unassigned:  true,
		OldestFirst: true,
	})
	if err != nil {
		return 0, apperrors.MapError(err)
	}

	assigned := 0
	for i := range orphans {
		if err := ctx.Err(); err != nil {
			s.rt.Metrics.RecordRedistributed(assigned)
			return assigned, apperrors.NewUnavailable("redistribution interrupted", err)
		}
		next, err := s.SelectNextAttendant(ctx)
		if err != nil {
			s.rt.Metrics.RecordRedistributed(assigned)
			return assigned, err
		}
		if next == nil {
			s.rt.Logger.Info("no attendant online, redistribution stopped",
				zap.Int("assigned", assigned),
				zap.Int("remaining", len(orphans)-i))
			break
		}
		if _, err := s.assign(ctx, orphans[i].ID, next, sourceRedistribute); err != nil {
			s.rt.Logger.Warn("redistribute ticket",
				zap.String("ticket_id", orphans[i].ID),
				zap.String("attendant_id", next.ID),
				zap.Error(err))
			continue
		}
		assigned++
	}
	s.rt.Metrics.RecordRedistributed(assigned)
	s.rt.Logger.Info("redistribution finished", zap.Int("assigned", assigned), zap.Int("orphans", len(orphans)))
	return assigned, nil
}

func (s *AssignmentService) lock(ctx context.Context) (func(), bool, error) {
	if s.locker == nil {
		if !s.local.TryLock() {
			return nil, false, nil
		}
		return s.local.Unlock, true, nil
	}
	release, err := s.locker.TryLock(ctx, redistributeLockName, s.lockTTL)
	if err != nil {
		if errors.Is(err, persistence.ErrLockHeld) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.rt.Logger.Warn("release redistribution lock", zap.Error(err))
		}
	}, true, nil
}

// TransferTicket moves a ticket from one attendant to another. The status is
// left untouched; the new assignee starts the clock again.
func (s *AssignmentService) TransferTicket(ctx context.Context, actor *domain.User, ticketID, fromUID, toUID string) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	if toUID == "" || fromUID == "" {
		return nil, apperrors.NewValidationError("from and to attendants required", nil)
	}
	if fromUID == toUID {
		return nil, apperrors.NewValidationError("ticket already belongs to that attendant", map[string]any{"uid": toUID})
	}

	var transferred *domain.Ticket
	err := s.rt.inTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		t, err := loadTicketForUpdate(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if actor.Role != domain.RoleAdmin && t.AssigneeID() != actor.ID {
			return apperrors.NewForbidden("only the current assignee or an admin may transfer this ticket")
		}
		if t.Status.Terminal() {
			return apperrors.NewInvalidTransition(string(t.Status), string(t.Status), map[string]any{
				"ticket_id": t.ID,
				"reason":    "closed tickets cannot be transferred",
			})
		}
		if t.AssigneeID() != fromUID {
			return apperrors.NewConflict("ticket is not assigned to the source attendant", map[string]any{
				"ticket_id": t.ID,
				"expected":  fromUID,
				"assignee":  t.AssigneeID(),
			})
		}
		target, err := loadUserForUpdate(ctx, tx, toUID)
		if err != nil {
			return err
		}
		if target.Role != domain.RoleAttendant {
			return apperrors.NewValidationError("transfer target must be an attendant", map[string]any{"uid": toUID})
		}

		now := s.rt.Now()
		previous := t.AssignedTo
		from := fromUID
		t.AssignedTo = &domain.Assignment{Identity: target.Snapshot(), AssignedAt: now}
		t.TransferredFrom = &from
		t.TransferredAt = &now
		t.UpdatedAt = now
		if err := tx.Tickets.Update(ctx, t); err != nil {
			return err
		}
		if err := s.rt.adjustCounter(ctx, tx, fromUID, -1); err != nil {
			return err
		}
		if err := s.rt.adjustCounter(ctx, tx, toUID, 1); err != nil {
			return err
		}
		if err := s.rt.recordHistory(ctx, tx, t.ID, actor.ID, domain.ChangeTypeTransfer,
			assigneeValue(previous), assigneeValue(t.AssignedTo)); err != nil {
			return err
		}
		transferred = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.rt.Metrics.RecordAssignment(sourceTransfer)
	s.rt.Logger.Info("ticket transferred",
		zap.String("ticket_id", transferred.ID),
		zap.String("from", fromUID),
		zap.String("to", toUID),
		zap.String("actor", actor.ID))
	s.rt.publishTicket(ctx, transferred, realtime.KindUpdated)
	s.rt.publishUsers(ctx, fromUID, toUID)
	return transferred, nil
}

// ReleaseTicket frees one slot on the attendant's counter.
func (s *AssignmentService) ReleaseTicket(ctx context.Context, attendantUID string) error {
	if attendantUID == "" {
		return apperrors.NewValidationError("attendant required", nil)
	}
	err := s.rt.inTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		return s.rt.adjustCounter(ctx, tx, attendantUID, -1)
	})
	if err != nil {
		return err
	}
	s.rt.publishUsers(ctx, attendantUID)
	return nil
}

// SetOnline toggles the actor's availability. Coming online triggers a
// redistribution run; its failure is logged and does not fail the toggle.
func (s *AssignmentService) SetOnline(ctx context.Context, actor *domain.User, online bool) (*domain.User, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	if !actor.IsStaff() {
		return nil, apperrors.NewForbidden("only attendants take part in the queue")
	}
	var cameOnline bool
	err := s.rt.inTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		u, err := loadUserForUpdate(ctx, tx, actor.ID)
		if err != nil {
			return err
		}
		cameOnline = online && !u.IsOnline
		return tx.Users.SetOnline(ctx, actor.ID, online, s.rt.Now())
	})
	if err != nil {
		return nil, err
	}
	s.rt.Logger.Info("attendant availability changed", zap.String("attendant_id", actor.ID), zap.Bool("online", online))
	s.rt.publishUsers(ctx, actor.ID)

	if cameOnline {
		if n, err := s.RedistributeOrphanTickets(ctx); err != nil {
			s.rt.Logger.Warn("redistribute after coming online", zap.String("attendant_id", actor.ID), zap.Error(err))
		} else if n > 0 {
			s.rt.Logger.Info("orphan tickets redistributed", zap.String("attendant_id", actor.ID), zap.Int("assigned", n))
		}
	}

	u, err := s.rt.Store.Repositories().Users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return u, nil
}

// ListAttendants returns every attendant, online or not, in directory order.
func (s *AssignmentService) ListAttendants(ctx context.Context) ([]domain.User, error) {
	users, err := s.rt.Store.Repositories().Users.List(ctx, repository.UserFilter{
		Roles: []domain.UserRole{domain.RoleAttendant},
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return users, nil
}

// Workload reports each staff member's counter next to their open assignments.
func (s *AssignmentService) Workload(ctx context.Context) ([]WorkloadEntry, error) {
	repos := s.rt.Store.Repositories()
	users, err := repos.Users.List(ctx, repository.UserFilter{
		Roles: []domain.UserRole{domain.RoleAttendant, domain.RoleAdmin},
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	counts, err := repos.Tickets.CountOpenByAssignee(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	entries := make([]WorkloadEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, WorkloadEntry{User: u, Actual: counts[u.ID]})
	}
	return entries, nil
}

// ReconcileCounters rewrites every counter that disagrees with the open
// assignments and returns the entries that drifted. With dryRun nothing is
// written.
func (s *AssignmentService) ReconcileCounters(ctx context.Context, dryRun bool) ([]WorkloadEntry, error) {
	var drifted []WorkloadEntry
	err := s.rt.inTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		drifted = drifted[:0]
		users, err := tx.Users.List(ctx, repository.UserFilter{})
		if err != nil {
			return err
		}
		counts, err := tx.Tickets.CountOpenByAssignee(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			actual := counts[u.ID]
			if u.TicketsAssigned == actual {
				continue
			}
			drifted = append(drifted, WorkloadEntry{User: u, Actual: actual})
			if dryRun {
				continue
			}
			if err := tx.Users.SetTicketsAssigned(ctx, u.ID, actual); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, d := range drifted {
		s.rt.Logger.Warn("workload counter drift",
			zap.String("attendant_id", d.User.ID),
			zap.Int("counter", d.User.TicketsAssigned),
			zap.Int("actual", d.Actual),
			zap.Bool("dry_run", dryRun))
	}
	if !dryRun {
		uids := make([]string, 0, len(drifted))
		for _, d := range drifted {
			uids = append(uids, d.User.ID)
		}
		s.rt.publishUsers(ctx, uids...)
	}
	return drifted, nil
}
