package memory

import (
	"context"
	"sort"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

type userRepo struct{ v *view }

func (r *userRepo) Upsert(ctx context.Context, user *domain.User) error {
	return r.v.with("users.upsert", func(st *state) error {
		now := time.Now()
		existing, ok := st.users[user.ID]
		if ok {
			existing.Name = user.Name
			existing.Email = user.Email
			existing.Role = user.Role
			existing.Department = user.Department
			existing.UpdatedAt = now
			st.users[user.ID] = existing
			*user = existing
			return nil
		}
		stored := *user
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now
		st.users[user.ID] = stored
		st.order = append(st.order, user.ID)
		*user = stored
		return nil
	})
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var out *domain.User
	err := r.v.with("users.get", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return apperrors.ErrRecordNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r *userRepo) GetForUpdate(ctx context.Context, id string) (*domain.User, error) {
	return r.GetByID(ctx, id)
}

func (r *userRepo) List(ctx context.Context, filter repository.UserFilter) ([]domain.User, error) {
	var out []domain.User
	err := r.v.with("users.list", func(st *state) error {
		for _, id := range st.order {
			u := st.users[id]
			if len(filter.Roles) > 0 && !containsRole(filter.Roles, u.Role) {
				continue
			}
			if filter.Online != nil && u.IsOnline != *filter.Online {
				continue
			}
			out = append(out, u)
		}
		return nil
	})
	return out, err
}

func (r *userRepo) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	return r.v.with("users.set_online", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return apperrors.ErrRecordNotFound
		}
		u.IsOnline = online
		if online {
			stamp := at
			u.LastOnlineAt = &stamp
		}
		u.UpdatedAt = at
		st.users[id] = u
		return nil
	})
}

func (r *userRepo) AdjustTicketsAssigned(ctx context.Context, id string, delta int) (int, bool, error) {
	var (
		value   int
		clamped bool
	)
	err := r.v.with("users.adjust_counter", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return apperrors.ErrRecordNotFound
		}
		next := u.TicketsAssigned + delta
		if next < 0 {
			next = 0
			clamped = true
		}
		u.TicketsAssigned = next
		st.users[id] = u
		value = next
		return nil
	})
	return value, clamped, err
}

func (r *userRepo) SetTicketsAssigned(ctx context.Context, id string, value int) error {
	return r.v.with("users.set_counter", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return apperrors.ErrRecordNotFound
		}
		u.TicketsAssigned = value
		st.users[id] = u
		return nil
	})
}

type ticketRepo struct{ v *view }

func (r *ticketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	return r.v.with("tickets.create", func(st *state) error {
		if _, exists := st.tickets[ticket.ID]; exists {
			return apperrors.NewConflict("ticket already exists", map[string]any{"ticket_id": ticket.ID})
		}
		ticket.Version = 1
		ticket.UpdatedAt = ticket.CreatedAt
		st.tickets[ticket.ID] = ticket.Clone()
		return nil
	})
}

func (r *ticketRepo) Update(ctx context.Context, ticket *domain.Ticket) error {
	return r.v.with("tickets.update", func(st *state) error {
		current, ok := st.tickets[ticket.ID]
		if !ok {
			return apperrors.ErrRecordNotFound
		}
		if current.Version != ticket.Version {
			return apperrors.ErrVersionConflict
		}
		ticket.Version++
		ticket.UpdatedAt = time.Now()
		st.tickets[ticket.ID] = ticket.Clone()
		return nil
	})
}

func (r *ticketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	var out *domain.Ticket
	err := r.v.with("tickets.get", func(st *state) error {
		t, ok := st.tickets[id]
		if !ok {
			return apperrors.ErrRecordNotFound
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

func (r *ticketRepo) GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.GetByID(ctx, id)
}

func (r *ticketRepo) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := r.v.with("tickets.list", func(st *state) error {
		for _, t := range st.tickets {
			if matches(t, filter) {
				out = append(out, *t.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			if filter.OldestFirst {
				return out[i].CreatedAt.Before(out[j].CreatedAt)
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 {
		start := filter.Offset
		if start < 0 {
			start = 0
		}
		if start > len(out) {
			start = len(out)
		}
		end := start + filter.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

func (r *ticketRepo) CountOpenByAssignee(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	err := r.v.with("tickets.count_open", func(st *state) error {
		for _, t := range st.tickets {
			if t.AssignedTo != nil && !t.Status.Terminal() {
				counts[t.AssignedTo.UID]++
			}
		}
		return nil
	})
	return counts, err
}

func matches(t *domain.Ticket, f repository.TicketFilter) bool {
	if f.CreatedByUID != nil && t.CreatedBy.UID != *f.CreatedByUID {
		return false
	}
	if f.Department != nil && t.Department != *f.Department {
		return false
	}
	if f.AssigneeUID != nil && t.AssigneeID() != *f.AssigneeUID {
		return false
	}
	if f.Unassigned && t.AssignedTo != nil {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == t.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Categories) > 0 {
		found := false
		for _, c := range f.Categories {
			if c == t.CategoryType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedFrom != nil && t.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && t.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	return true
}

func containsRole(roles []domain.UserRole, role domain.UserRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

type commentRepo struct{ v *view }

func (r *commentRepo) Create(ctx context.Context, comment *domain.Comment) error {
	return r.v.with("comments.create", func(st *state) error {
		if _, ok := st.tickets[comment.TicketID]; !ok {
			return apperrors.ErrRecordNotFound
		}
		st.comments[comment.TicketID] = append(st.comments[comment.TicketID], *comment)
		return nil
	})
}

func (r *commentRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.Comment, error) {
	var out []domain.Comment
	err := r.v.with("comments.list", func(st *state) error {
		out = append(out, st.comments[ticketID]...)
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

type historyRepo struct{ v *view }

func (r *historyRepo) Create(ctx context.Context, h *domain.TicketHistory) error {
	return r.v.with("history.create", func(st *state) error {
		st.history[h.TicketID] = append(st.history[h.TicketID], *h)
		return nil
	})
}

func (r *historyRepo) ListByTicket(ctx context.Context, ticketID string, limit, offset int) ([]domain.TicketHistory, error) {
	var out []domain.TicketHistory
	err := r.v.with("history.list", func(st *state) error {
		all := st.history[ticketID]
		if offset < 0 {
			offset = 0
		}
		if offset > len(all) {
			offset = len(all)
		}
		end := len(all)
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		out = append(out, all[offset:end]...)
		return nil
	})
	return out, err
}
