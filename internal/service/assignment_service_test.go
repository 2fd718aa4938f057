package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/persistence"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

func TestSelectNextAttendantNobodyOnline(t *testing.T) {
	h := newHarness(t)
	got, err := h.assign.SelectNextAttendant(h.ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nobody, got %s", got.ID)
	}
}

func TestSelectNextAttendantLeastLoadedThenDirectoryOrder(t *testing.T) {
	h := newHarness(t)
	h.online("a1", "a2")

	got, _ := h.assign.SelectNextAttendant(h.ctx)
	if got.ID != "a1" {
		t.Fatalf("tie must go to the earlier directory entry, got %s", got.ID)
	}

	if err := h.store.Repositories().Users.SetTicketsAssigned(h.ctx, "a1", 2); err != nil {
		t.Fatalf("set counter: %v", err)
	}
	got, _ = h.assign.SelectNextAttendant(h.ctx)
	if got.ID != "a2" {
		t.Fatalf("expected least loaded a2, got %s", got.ID)
	}
}

func TestSelectNextAttendantIgnoresAdmins(t *testing.T) {
	h := newHarness(t)
	h.online("ad")
	got, err := h.assign.SelectNextAttendant(h.ctx)
	if err != nil || got != nil {
		t.Fatalf("admins are not queue candidates: %v %v", got, err)
	}
}

func TestCreateWithNobodyOnlineLeavesOrphan(t *testing.T) {
	h := newHarness(t)
	tk := h.create("printer")
	stored := h.ticket(tk.ID)
	if !stored.IsOrphan() {
		t.Fatalf("expected orphan, got %+v", stored.AssignedTo)
	}
	if h.counter("a1") != 0 || h.counter("a2") != 0 {
		t.Fatalf("counters must stay at zero")
	}
}

func TestCreateAutoAssignsLeastLoaded(t *testing.T) {
	h := newHarness(t)
	h.online("a1", "a2")

	first := h.create("one")
	second := h.create("two")
	third := h.create("three")

	if first.AssigneeID() != "a1" || second.AssigneeID() != "a2" || third.AssigneeID() != "a1" {
		t.Fatalf("unexpected distribution: %s %s %s", first.AssigneeID(), second.AssigneeID(), third.AssigneeID())
	}
	if first.Status != domain.TicketStatusQueue {
		t.Fatalf("assignment must not start the ticket, status=%s", first.Status)
	}
	if first.AssignedTo.StartedAt != nil {
		t.Fatalf("startedAt must be empty until the attendant starts")
	}
	if h.counter("a1") != 2 || h.counter("a2") != 1 {
		t.Fatalf("counters a1=%d a2=%d", h.counter("a1"), h.counter("a2"))
	}
	h.assertCounters()
}

func TestAssignTicketMissingTicket(t *testing.T) {
	h := newHarness(t)
	_, err := h.assign.AssignTicket(h.ctx, "missing", h.user("a1"))
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAssignTicketRejectsAssignedTicket(t *testing.T) {
	h := newHarness(t)
	h.online("a1")
	tk := h.create("x")

	var mu sync.Mutex
	loads := 0
	h.store.SetFault(func(op string) error {
		mu.Lock()
		defer mu.Unlock()
		if op == "tickets.get" {
			loads++
		}
		return nil
	})
	_, err := h.assign.AssignTicket(h.ctx, tk.ID, h.user("a2"))
	h.store.SetFault(nil)
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if loads != 1 {
		t.Fatalf("a ticket that is no longer an orphan must not be retried, loaded %d times", loads)
	}
	if h.counter("a2") != 0 {
		t.Fatalf("failed assignment must not touch the counter")
	}
}

func TestAssignTicketRetriesTransientFailure(t *testing.T) {
	h := newHarness(t)
	tk := h.create("x")

	var mu sync.Mutex
	failures := 0
	h.store.SetFault(func(op string) error {
		mu.Lock()
		defer mu.Unlock()
		if op == "tickets.update" && failures < 2 {
			failures++
			return apperrors.ErrVersionConflict
		}
		return nil
	})
	got, err := h.assign.AssignTicket(h.ctx, tk.ID, h.user("a1"))
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.AssigneeID() != "a1" || failures != 2 {
		t.Fatalf("assignee=%s failures=%d", got.AssigneeID(), failures)
	}
	if h.counter("a1") != 1 {
		t.Fatalf("counter must be incremented exactly once, got %d", h.counter("a1"))
	}
}

func TestAssignTicketGivesUpAfterRetries(t *testing.T) {
	h := newHarness(t)
	tk := h.create("x")
	h.store.SetFault(func(op string) error {
		if op == "users.adjust_counter" {
			return apperrors.ErrStoreClosed
		}
		return nil
	})
	_, err := h.assign.AssignTicket(h.ctx, tk.ID, h.user("a1"))
	if !apperrors.HasCode(err, apperrors.CodeUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	h.store.SetFault(nil)
	if !h.ticket(tk.ID).IsOrphan() {
		t.Fatalf("failed transaction must leave the ticket orphaned")
	}
}

func TestComingOnlineRedistributesOrphans(t *testing.T) {
	h := newHarness(t)
	for _, s := range []string{"a", "b", "c"} {
		h.create(s)
	}
	h.online("a1")

	if h.counter("a1") != 3 {
		t.Fatalf("expected all orphans on a1, got %d", h.counter("a1"))
	}
	n, err := h.assign.RedistributeOrphanTickets(h.ctx)
	if err != nil || n != 0 {
		t.Fatalf("second run must be a no-op: n=%d err=%v", n, err)
	}
	h.assertCounters()
}

func TestRedistributeBalancesAcrossAttendants(t *testing.T) {
	h := newHarness(t)
	for _, s := range []string{"a", "b", "c", "d"} {
		h.create(s)
	}
	// Mark both online without triggering redistribution between them.
	for _, id := range []string{"a1", "a2"} {
		if err := h.store.Repositories().Users.SetOnline(h.ctx, id, true, baseTime); err != nil {
			t.Fatalf("online: %v", err)
		}
	}
	n, err := h.assign.RedistributeOrphanTickets(h.ctx)
	if err != nil || n != 4 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if h.counter("a1") != 2 || h.counter("a2") != 2 {
		t.Fatalf("a1=%d a2=%d", h.counter("a1"), h.counter("a2"))
	}
}

func TestRedistributeStopsWhenNobodyOnline(t *testing.T) {
	h := newHarness(t)
	h.create("a")
	h.create("b")
	n, err := h.assign.RedistributeOrphanTickets(h.ctx)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestRedistributeSkipsFailingTicket(t *testing.T) {
	h := newHarness(t)
	h.create("a")
	h.create("b")
	_ = h.store.Repositories().Users.SetOnline(h.ctx, "a1", true, baseTime)

	var mu sync.Mutex
	calls := 0
	h.store.SetFault(func(op string) error {
		mu.Lock()
		defer mu.Unlock()
		if op != "tickets.update" {
			return nil
		}
		calls++
		// Only the oldest ticket's update fails.
		if calls == 1 {
			return errors.New("disk on fire")
		}
		return nil
	})
	n, err := h.assign.RedistributeOrphanTickets(h.ctx)
	if err != nil {
		t.Fatalf("redistribute: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one success, got %d", n)
	}
	h.store.SetFault(nil)
	h.assertCounters()
}

type heldLocker struct{}

func (heldLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	return nil, persistence.ErrLockHeld
}

func TestRedistributeSkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	h.create("a")
	_ = h.store.Repositories().Users.SetOnline(h.ctx, "a1", true, baseTime)

	svc := NewAssignmentService(AssignmentDependencies{Runtime: *h.assign.rt, Locker: heldLocker{}})
	n, err := svc.RedistributeOrphanTickets(h.ctx)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestTransferRebalancesCounters(t *testing.T) {
	h := newHarness(t)
	h.online("a1")
	var mine []*domain.Ticket
	for _, s := range []string{"a", "b", "c"} {
		mine = append(mine, h.create(s))
	}
	h.online("a2")
	h.create("d")
	if h.counter("a1") != 3 || h.counter("a2") != 1 {
		t.Fatalf("setup a1=%d a2=%d", h.counter("a1"), h.counter("a2"))
	}

	moved, err := h.assign.TransferTicket(h.ctx, h.user("a1"), mine[0].ID, "a1", "a2")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if h.counter("a1") != 2 || h.counter("a2") != 2 {
		t.Fatalf("after transfer a1=%d a2=%d", h.counter("a1"), h.counter("a2"))
	}
	if moved.AssigneeID() != "a2" || moved.TransferredFrom == nil || *moved.TransferredFrom != "a1" {
		t.Fatalf("unexpected ticket after transfer: %+v", moved)
	}
	if moved.Status != mine[0].Status {
		t.Fatalf("transfer must not change status")
	}
	h.assertCounters()

	history, err := h.tickets.History(h.ctx, h.user("ad"), moved.ID, 0, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history[len(history)-1].ChangeType != domain.ChangeTypeTransfer {
		t.Fatalf("expected transfer history entry, got %+v", history)
	}
}

func TestTransferPreconditions(t *testing.T) {
	h := newHarness(t)
	h.online("a1")
	tk := h.create("a")

	tests := []struct {
		name  string
		actor string
		from  string
		to    string
		code  string
	}{
		{"other attendant", "a2", "a1", "a2", apperrors.CodeForbidden},
		{"requester", "u1", "a1", "a2", apperrors.CodeForbidden},
		{"wrong source", "ad", "a2", "a1", apperrors.CodeConflict},
		{"target not attendant", "ad", "a1", "u1", apperrors.CodeValidation},
		{"same attendant", "a1", "a1", "a1", apperrors.CodeValidation},
		{"unknown target", "a1", "a1", "ghost", apperrors.CodeNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.assign.TransferTicket(h.ctx, h.user(tc.actor), tk.ID, tc.from, tc.to)
			if !apperrors.HasCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
	if h.counter("a1") != 1 || h.counter("a2") != 0 {
		t.Fatalf("failed transfers must not move counters")
	}
}

func TestReleaseTicketClampsAtZero(t *testing.T) {
	h := newHarness(t)
	if err := h.assign.ReleaseTicket(h.ctx, "a1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if h.counter("a1") != 0 {
		t.Fatalf("counter went negative")
	}
	if err := h.assign.ReleaseTicket(h.ctx, "ghost"); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetOnlineRejectsRequesters(t *testing.T) {
	h := newHarness(t)
	_, err := h.assign.SetOnline(h.ctx, h.user("u1"), true)
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestGoingOfflineKeepsAssignments(t *testing.T) {
	h := newHarness(t)
	h.online("a1")
	tk := h.create("a")
	u, err := h.assign.SetOnline(h.ctx, h.user("a1"), false)
	if err != nil {
		t.Fatalf("offline: %v", err)
	}
	if u.IsOnline || u.LastOnlineAt == nil {
		t.Fatalf("unexpected user state %+v", u)
	}
	if h.ticket(tk.ID).AssigneeID() != "a1" {
		t.Fatalf("going offline must not release tickets")
	}
}

func TestConcurrentCreationKeepsCounters(t *testing.T) {
	h := newHarness(t)
	h.online("a1", "a2")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.tickets.CreateTicket(h.ctx, h.user("u1"), TicketCreateInput{
				Subject:     "load",
				Description: "parallel",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if total := h.counter("a1") + h.counter("a2"); total != n {
		t.Fatalf("expected %d assignments, got %d", n, total)
	}
	h.assertCounters()
}

func TestReconcileCounters(t *testing.T) {
	h := newHarness(t)
	h.online("a1")
	h.create("a")
	h.create("b")
	_ = h.store.Repositories().Users.SetTicketsAssigned(h.ctx, "a1", 7)
	_ = h.store.Repositories().Users.SetTicketsAssigned(h.ctx, "a2", 1)

	drift, err := h.assign.ReconcileCounters(h.ctx, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if len(drift) != 2 {
		t.Fatalf("expected 2 drifted users, got %d", len(drift))
	}
	if h.counter("a1") != 7 {
		t.Fatalf("dry run must not write")
	}

	if _, err := h.assign.ReconcileCounters(h.ctx, false); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if h.counter("a1") != 2 || h.counter("a2") != 0 {
		t.Fatalf("a1=%d a2=%d", h.counter("a1"), h.counter("a2"))
	}
	h.assertCounters()
}

func TestListAttendantsIncludesOffline(t *testing.T) {
	h := newHarness(t)
	h.online("a2")
	got, err := h.assign.ListAttendants(h.ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a1" || got[1].ID != "a2" {
		t.Fatalf("unexpected attendants %+v", got)
	}
}
