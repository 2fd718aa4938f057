package service

import (
	"context"
	"sort"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// NFControlEntry is one row of the invoice control list.
type NFControlEntry struct {
	Ticket domain.Ticket
	// DaysLeft is meaningful only when the ticket has a return deadline.
	DaysLeft int
	Alert    domain.DeadlineAlert
}

// FinanceService serves the invoice control view.
type FinanceService struct {
	store repository.Store
	now   Clock
}

// NewFinanceService creates the service.
func NewFinanceService(store repository.Store, now Clock) *FinanceService {
	if now == nil {
		now = defaultClock
	}
	return &FinanceService{store: store, now: now}
}

// ListNFControl returns equipment tickets waiting for or holding an invoice.
// Tickets with a deadline come first, the closest deadline on top.
func (s *FinanceService) ListNFControl(ctx context.Context, actor *domain.User) ([]NFControlEntry, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	if !actor.IsFinance() {
		return nil, apperrors.NewForbidden("finance access required")
	}
	tickets, err := s.store.Repositories().Tickets.List(ctx, repository.TicketFilter{
		Statuses:    []domain.TicketStatus{domain.TicketStatusWaitingNF, domain.TicketStatusNFEmitted},
		Categories:  []domain.CategoryType{domain.CategoryEquipmentSeparation},
		OldestFirst: true,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	now := s.now()
	entries := make([]NFControlEntry, 0, len(tickets))
	for _, t := range tickets {
		entry := NFControlEntry{Ticket: t, Alert: domain.DeadlineOK}
		if t.NFReturnDeadline != nil {
			entry.DaysLeft, entry.Alert = domain.ClassifyDeadline(*t.NFReturnDeadline, now)
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		di, dj := entries[i].Ticket.NFReturnDeadline, entries[j].Ticket.NFReturnDeadline
		switch {
		case di != nil && dj != nil:
			return di.Before(*dj)
		case di != nil:
			return true
		}
		return false
	})
	return entries, nil
}
