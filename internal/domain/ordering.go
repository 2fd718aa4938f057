package domain

import (
	"math"
	"sort"
	"time"
)

// SortQueue orders open tickets for attendants: oldest calendar day first,
// then higher priority, then creation time. Days are taken in loc.
func SortQueue(tickets []Ticket, loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		return queueLess(&tickets[i], &tickets[j], loc)
	})
}

func queueLess(a, b *Ticket, loc *time.Location) bool {
	da, db := calendarDay(a.CreatedAt, loc), calendarDay(b.CreatedAt, loc)
	if !da.Equal(db) {
		return da.Before(db)
	}
	if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
		return wa > wb
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func calendarDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// NFReturnDeadline is the date equipment must be back for an invoice issued on issued.
func NFReturnDeadline(issued time.Time) time.Time {
	return issued.AddDate(0, 0, NFReturnWindowDays)
}

// DeadlineAlert classifies how close an invoice return deadline is.
type DeadlineAlert string

const (
	DeadlineOK      DeadlineAlert = "ok"
	DeadlineDueSoon DeadlineAlert = "due_soon"
	DeadlineOverdue DeadlineAlert = "overdue"
)

// DeadlineDueSoonDays is the window in which a deadline is flagged as close.
const DeadlineDueSoonDays = 7

// ClassifyDeadline returns the remaining whole days (rounded up) and the alert level.
func ClassifyDeadline(deadline, now time.Time) (int, DeadlineAlert) {
	days := int(math.Ceil(deadline.Sub(now).Hours() / 24))
	switch {
	case days < 0:
		return days, DeadlineOverdue
	case days <= DeadlineDueSoonDays:
		return days, DeadlineDueSoon
	}
	return days, DeadlineOK
}
