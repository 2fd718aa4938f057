// Package realtime fans out committed changes to live listeners.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// Topics.
const (
	TopicTickets = "tickets"
	TopicUsers   = "users"
)

// Change kinds.
const (
	KindCreated = "created"
	KindUpdated = "updated"
)

// TicketPayload is the slice of a ticket listeners need to refresh their views.
type TicketPayload struct {
	ID           string              `json:"id"`
	Subject      string              `json:"subject"`
	Status       domain.TicketStatus `json:"status"`
	Priority     string              `json:"priority"`
	Department   string              `json:"department"`
	Category     string              `json:"category_type"`
	CreatedByUID string              `json:"created_by_uid"`
	AssigneeUID  string              `json:"assignee_uid,omitempty"`
	Version      int                 `json:"version"`
}

// UserPayload carries the queue fields of an attendant.
type UserPayload struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	IsOnline        bool   `json:"is_online"`
	TicketsAssigned int    `json:"tickets_assigned"`
}

// Change is one committed modification.
type Change struct {
	Topic  string         `json:"topic"`
	Kind   string         `json:"kind"`
	ID     string         `json:"id"`
	Ticket *TicketPayload `json:"ticket,omitempty"`
	User   *UserPayload   `json:"user,omitempty"`
	At     time.Time      `json:"at"`
}

// TicketChanged builds a change for t.
func TicketChanged(t *domain.Ticket, kind string) Change {
	return Change{
		Topic: TopicTickets,
		Kind:  kind,
		ID:    t.ID,
		Ticket: &TicketPayload{
			ID:           t.ID,
			Subject:      t.Subject,
			Status:       t.Status,
			Priority:     string(t.Priority),
			Department:   t.Department,
			Category:     string(t.CategoryType),
			CreatedByUID: t.CreatedBy.UID,
			AssigneeUID:  t.AssigneeID(),
			Version:      t.Version,
		},
		At: time.Now(),
	}
}

// UserChanged builds a change for u.
func UserChanged(u *domain.User) Change {
	return Change{
		Topic: TopicUsers,
		Kind:  KindUpdated,
		ID:    u.ID,
		User: &UserPayload{
			ID:              u.ID,
			Name:            u.Name,
			IsOnline:        u.IsOnline,
			TicketsAssigned: u.TicketsAssigned,
		},
		At: time.Now(),
	}
}

// Broker publishes changes and hands out subscriptions.
type Broker interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(ctx context.Context, topics ...string) (*Subscription, error)
}

// Subscription delivers changes on C until Close is called or the
// subscribing context ends. C is closed afterwards.
type Subscription struct {
	C <-chan Change

	once    sync.Once
	closeFn func() error
	err     error
}

// Close stops delivery. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.err = s.closeFn()
	})
	return s.err
}
