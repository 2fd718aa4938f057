package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/realtime"
	"github.com/spec-kit/helpdesk/internal/repository/memory"
	"github.com/spec-kit/helpdesk/pkg/util/retry"
)

var baseTime = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(ctx context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type harness struct {
	store    *memory.Store
	hub      *realtime.Hub
	rec      *recorder
	assign   *AssignmentService
	tickets  *TicketService
	finance  *FinanceService
	clockMu  sync.Mutex
	now      time.Time
	users    map[string]*domain.User
	ctx      context.Context
	testingT *testing.T
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		hub:      realtime.NewHub(),
		rec:      &recorder{},
		now:      baseTime,
		users:    map[string]*domain.User{},
		ctx:      context.Background(),
		testingT: t,
	}
	dispatcher := events.NewInMemoryDispatcher()
	for _, typ := range events.AllTypes {
		dispatcher.Subscribe(typ, h.rec.handle)
	}
	rt := Runtime{
		Store:      h.store,
		Dispatcher: dispatcher,
		Broker:     h.hub,
		Retry:      retry.Policy{Attempts: 3, BaseDelay: time.Millisecond},
		Timeout:    5 * time.Second,
		Now:        h.clock,
	}
	h.assign = NewAssignmentService(AssignmentDependencies{Runtime: rt})
	h.tickets = NewTicketService(TicketDependencies{Runtime: rt, Assignment: h.assign})
	h.finance = NewFinanceService(h.store, h.clock)

	dept := "ti"
	financeDept := domain.FinanceDepartment
	h.addUser(&domain.User{ID: "a1", Name: "Alice", Email: "alice@example.com", Role: domain.RoleAttendant})
	h.addUser(&domain.User{ID: "a2", Name: "Bruno", Email: "bruno@example.com", Role: domain.RoleAttendant})
	h.addUser(&domain.User{ID: "u1", Name: "Carla", Email: "carla@example.com", Role: domain.RoleRequester, Department: &dept})
	h.addUser(&domain.User{ID: "f1", Name: "Fabio", Email: "fabio@example.com", Role: domain.RoleRequester, Department: &financeDept})
	h.addUser(&domain.User{ID: "ad", Name: "Admin", Email: "admin@example.com", Role: domain.RoleAdmin})
	return h
}

func (h *harness) clock() time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) addUser(u *domain.User) {
	h.testingT.Helper()
	if err := h.store.Repositories().Users.Upsert(h.ctx, u); err != nil {
		h.testingT.Fatalf("upsert %s: %v", u.ID, err)
	}
	h.users[u.ID] = u
}

func (h *harness) user(id string) *domain.User {
	return h.users[id]
}

func (h *harness) online(ids ...string) {
	h.testingT.Helper()
	for _, id := range ids {
		if _, err := h.assign.SetOnline(h.ctx, h.user(id), true); err != nil {
			h.testingT.Fatalf("online %s: %v", id, err)
		}
	}
}

func (h *harness) counter(id string) int {
	h.testingT.Helper()
	u, err := h.store.Repositories().Users.GetByID(h.ctx, id)
	if err != nil {
		h.testingT.Fatalf("get user %s: %v", id, err)
	}
	return u.TicketsAssigned
}

func (h *harness) ticket(id string) *domain.Ticket {
	h.testingT.Helper()
	t, err := h.store.Repositories().Tickets.GetByID(h.ctx, id)
	if err != nil {
		h.testingT.Fatalf("get ticket %s: %v", id, err)
	}
	return t
}

func (h *harness) create(subject string) *domain.Ticket {
	h.testingT.Helper()
	t, err := h.tickets.CreateTicket(h.ctx, h.user("u1"), TicketCreateInput{
		Subject:     subject,
		Description: "details",
		Priority:    domain.TicketPriorityMedium,
	})
	if err != nil {
		h.testingT.Fatalf("create ticket: %v", err)
	}
	h.advance(time.Minute)
	return t
}

// assertCounters checks every counter against the open assignments.
func (h *harness) assertCounters() {
	h.testingT.Helper()
	entries, err := h.assign.Workload(h.ctx)
	if err != nil {
		h.testingT.Fatalf("workload: %v", err)
	}
	for _, e := range entries {
		if e.Drift() != 0 {
			h.testingT.Fatalf("counter drift for %s: counter=%d actual=%d", e.User.ID, e.User.TicketsAssigned, e.Actual)
		}
	}
}
