// Package memory is an in-process implementation of repository.Store. It is
// used when no database is configured and by service tests.
package memory

import (
	"context"
	"sync"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
)

// FaultFunc is consulted before every repository call; a non-nil error is
// returned to the caller instead of performing the operation.
type FaultFunc func(op string) error

type state struct {
	users    map[string]domain.User
	order    []string
	tickets  map[string]*domain.Ticket
	comments map[string][]domain.Comment
	history  map[string][]domain.TicketHistory
}

func newState() *state {
	return &state{
		users:    map[string]domain.User{},
		tickets:  map[string]*domain.Ticket{},
		comments: map[string][]domain.Comment{},
		history:  map[string][]domain.TicketHistory{},
	}
}

func (s *state) clone() *state {
	cp := newState()
	for id, u := range s.users {
		cp.users[id] = u
	}
	cp.order = append([]string(nil), s.order...)
	for id, t := range s.tickets {
		cp.tickets[id] = t.Clone()
	}
	for id, c := range s.comments {
		cp.comments[id] = append([]domain.Comment(nil), c...)
	}
	for id, h := range s.history {
		cp.history[id] = append([]domain.TicketHistory(nil), h...)
	}
	return cp
}

// Store keeps all data in memory. Transactions hold an exclusive lock and
// work on a copy that replaces the live state on commit.
type Store struct {
	mu    sync.Mutex
	st    *state
	fault FaultFunc
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// SetFault installs a fault injector; nil removes it.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

func (s *Store) Repositories() repository.Repositories {
	return reposFor(&view{store: s})
}

func (s *Store) WithinTx(ctx context.Context, fn repository.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, reposFor(&view{store: s, tx: work})); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

type view struct {
	store *Store
	tx    *state
}

// with runs fn against the transaction copy, or the live state under lock.
func (v *view) with(op string, fn func(st *state) error) error {
	if v.tx != nil {
		if v.store.fault != nil {
			if err := v.store.fault(op); err != nil {
				return err
			}
		}
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	if v.store.fault != nil {
		if err := v.store.fault(op); err != nil {
			return err
		}
	}
	return fn(v.store.st)
}

func reposFor(v *view) repository.Repositories {
	return repository.Repositories{
		Users:    &userRepo{v: v},
		Tickets:  &ticketRepo{v: v},
		Comments: &commentRepo{v: v},
		History:  &historyRepo{v: v},
	}
}
