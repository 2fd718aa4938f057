package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

func seedTicket(t *testing.T, s *Store, id string, created time.Time) *domain.Ticket {
	t.Helper()
	tk := &domain.Ticket{ID: id, Status: domain.TicketStatusQueue, Priority: domain.TicketPriorityLow, CreatedAt: created}
	if err := s.Repositories().Tickets.Create(context.Background(), tk); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return tk
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := &domain.User{ID: "a1", Role: domain.RoleAttendant}
	if err := s.Repositories().Users.Upsert(ctx, u); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		if _, _, err := tx.Users.AdjustTicketsAssigned(ctx, "a1", 5); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := s.Repositories().Users.GetByID(ctx, "a1")
	if got.TicketsAssigned != 0 {
		t.Fatalf("rolled back tx leaked counter %d", got.TicketsAssigned)
	}
}

func TestUpdateDetectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedTicket(t, s, "t1", time.Now())

	first, _ := s.Repositories().Tickets.GetByID(ctx, "t1")
	second, _ := s.Repositories().Tickets.GetByID(ctx, "t1")

	first.StatusMessage = "first"
	if err := s.Repositories().Tickets.Update(ctx, first); err != nil {
		t.Fatalf("first update: %v", err)
	}
	second.StatusMessage = "second"
	if err := s.Repositories().Tickets.Update(ctx, second); !errors.Is(err, apperrors.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestAdjustClampsAtZero(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Repositories().Users.Upsert(ctx, &domain.User{ID: "a1", Role: domain.RoleAttendant})
	value, clamped, err := s.Repositories().Users.AdjustTicketsAssigned(ctx, "a1", -1)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if value != 0 || !clamped {
		t.Fatalf("got value=%d clamped=%v", value, clamped)
	}
}

func TestListOrphansOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedTicket(t, s, "new", base.Add(time.Hour))
	seedTicket(t, s, "old", base)
	assigned := seedTicket(t, s, "assigned", base.Add(-time.Hour))
	assigned.AssignedTo = &domain.Assignment{Identity: domain.Identity{UID: "a1"}}
	if err := s.Repositories().Tickets.Update(ctx, assigned); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Repositories().Tickets.List(ctx, repository.TicketFilter{
		Statuses:    []domain.TicketStatus{domain.TicketStatusQueue},
		Unassigned:  true,
		OldestFirst: true,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "old" || got[1].ID != "new" {
		t.Fatalf("unexpected orphans: %+v", got)
	}
}

func TestListUsersKeepsDirectoryOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"c", "a", "b"} {
		_ = s.Repositories().Users.Upsert(ctx, &domain.User{ID: id, Role: domain.RoleAttendant})
	}
	online := true
	_ = s.Repositories().Users.SetOnline(ctx, "a", true, time.Now())
	_ = s.Repositories().Users.SetOnline(ctx, "c", true, time.Now())

	got, _ := s.Repositories().Users.List(ctx, repository.UserFilter{Online: &online})
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[0].LastOnlineAt == nil {
		t.Fatalf("going online must stamp lastOnlineAt")
	}
}
