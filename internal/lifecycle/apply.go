package lifecycle

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

const dateLayout = "02/01/2006"

// Command carries the inputs of a single operation.
type Command struct {
	Op      Operation
	Message string
	// SerialNumbers maps product id to serial number for separation.
	SerialNumbers map[string]string
	NFNumber      string
	NFIssueDate   time.Time
}

// CounterDelta adjusts an attendant's ticketsAssigned counter.
type CounterDelta struct {
	UID   string
	Delta int
}

// Outcome describes the side effects the caller must persist and publish.
type Outcome struct {
	Previous domain.TicketStatus
	Event    events.EventType
	Comments []domain.Comment
	Counters []CounterDelta
}

// StatusChanged reports whether the ticket moved to a new status.
func (o Outcome) StatusChanged(t *domain.Ticket) bool {
	return o.Previous != t.Status
}

// Apply validates cmd against the transition table and mutates t in place.
// Callers pass a copy they own and persist it only when err is nil.
func Apply(t *domain.Ticket, actor *domain.User, cmd Command, now time.Time) (Outcome, error) {
	out := Outcome{Previous: t.Status}
	r, ok := lookup(cmd.Op)
	if !ok {
		return out, apperrors.NewValidationError("unknown operation", map[string]any{"operation": cmd.Op})
	}
	if err := Authorize(actor, t, cmd.Op); err != nil {
		return out, err
	}
	if r.equipment && !t.IsEquipment() {
		return out, invalid(t, r, "operation only applies to equipment separation tickets")
	}
	if !r.allowsFrom(t.Status) {
		return out, invalid(t, r, "")
	}
	if err := guard(t, cmd.Op); err != nil {
		return out, err
	}

	switch cmd.Op {
	case OpStart:
		out.Counters = leaveQueue(t, actor, now, false)
		t.Status = domain.TicketStatusStarted
		out.Event = events.EventAssigned
	case OpAnalyze:
		t.Status = domain.TicketStatusAnalyzing
		out.Event = events.EventStatusChange
	case OpRequestInfo:
		msg := strings.TrimSpace(cmd.Message)
		if msg == "" {
			return out, apperrors.NewValidationError("message required when requesting information", nil)
		}
		t.Status = domain.TicketStatusWaitingUser
		t.StatusMessage = msg
		out.Comments = append(out.Comments, newComment(t, actor, msg, now, true, false))
		out.Event = events.EventStatusChange
	case OpRespond:
		text := strings.TrimSpace(cmd.Message)
		if text == "" {
			return out, apperrors.NewValidationError("response text required", nil)
		}
		respond(t, actor, text, now, &out)
		out.Event = events.EventStatusChange
	case OpResolve:
		out.Counters = release(t)
		t.Status = domain.TicketStatusResolved
		t.StatusMessage = ""
		t.TimeResolved = &now
		out.Event = events.EventResolved
	case OpCancel:
		out.Counters = release(t)
		leaveQueue(t, actor, now, true)
		t.Status = domain.TicketStatusCanceled
		t.StatusMessage = ""
		out.Event = events.EventStatusChange
	case OpConfirmSeparation:
		if err := confirmSeparation(t, actor, cmd, now, &out); err != nil {
			return out, err
		}
	case OpRequestNF:
		t.Status = domain.TicketStatusWaitingNF
		out.Event = events.EventNFRequest
	case OpEmitNF:
		number := strings.TrimSpace(cmd.NFNumber)
		if number == "" || cmd.NFIssueDate.IsZero() {
			return out, apperrors.NewValidationError("invoice number and issue date required", nil)
		}
		issued := cmd.NFIssueDate
		deadline := domain.NFReturnDeadline(issued)
		t.NFNumber = &number
		t.NFIssueDate = &issued
		t.NFReturnDeadline = &deadline
		t.Status = domain.TicketStatusNFEmitted
		text := fmt.Sprintf("Invoice issued: No. %s on %s. Return deadline: %s.",
			number, issued.Format(dateLayout), deadline.Format(dateLayout))
		out.Comments = append(out.Comments, newComment(t, actor, text, now, false, false))
		out.Event = events.EventNFEmitted
	case OpReturnNF:
		out.Counters = release(t)
		t.Status = domain.TicketStatusResolved
		t.NFReturnDate = &now
		t.TimeResolved = &now
		out.Event = events.EventNFReturned
	case OpComment:
		text := strings.TrimSpace(cmd.Message)
		if text == "" {
			return out, apperrors.NewValidationError("comment text required", nil)
		}
		if IsRequester(actor, t) && t.Status == domain.TicketStatusWaitingUser && !t.SeparationConfirmed {
			respond(t, actor, text, now, &out)
		} else {
			out.Comments = append(out.Comments, newComment(t, actor, text, now, false, false))
		}
		out.Event = events.EventComment
	}
	t.UpdatedAt = now
	return out, nil
}

// guard holds the per-ticket preconditions that the table alone cannot express.
func guard(t *domain.Ticket, op Operation) error {
	r, _ := lookup(op)
	awaitingNF := t.IsEquipment() && t.SeparationConfirmed && t.Status == domain.TicketStatusWaitingUser
	switch op {
	case OpRespond, OpResolve:
		if awaitingNF {
			return invalid(t, r, "separated equipment must follow the invoice flow")
		}
	case OpConfirmSeparation:
		if t.SeparationConfirmed {
			return apperrors.NewConflict("separation already confirmed", map[string]any{"ticket_id": t.ID})
		}
	case OpRequestNF:
		if !t.SeparationConfirmed || t.MeetingInfo == nil || t.MeetingInfo.Type != domain.MeetingExternal {
			return invalid(t, r, "invoice is only requested for confirmed external separations")
		}
	}
	return nil
}

func confirmSeparation(t *domain.Ticket, actor *domain.User, cmd Command, now time.Time, out *Outcome) error {
	if t.MeetingInfo == nil {
		return apperrors.NewValidationError("meeting information missing", map[string]any{"ticket_id": t.ID})
	}
	products := append([]domain.Product(nil), t.Products...)
	var missing []string
	for i := range products {
		if serial, ok := cmd.SerialNumbers[products[i].ProductID]; ok {
			products[i].SerialNumber = strings.TrimSpace(serial)
		}
		if products[i].SerialNumber == "" {
			missing = append(missing, products[i].ProductID)
		}
	}
	if len(products) == 0 || len(missing) > 0 {
		sort.Strings(missing)
		return apperrors.NewValidationError("every product needs a serial number", map[string]any{"missing": missing})
	}
	t.Products = products
	t.SeparationConfirmed = true

	internal := t.MeetingInfo.Type == domain.MeetingInternal
	if internal {
		out.Counters = release(t)
		leaveQueue(t, actor, now, true)
		t.Status = domain.TicketStatusResolved
		t.TimeResolved = &now
		out.Event = events.EventResolved
	} else {
		out.Counters = leaveQueue(t, actor, now, false)
		t.Status = domain.TicketStatusWaitingUser
		out.Event = events.EventStatusChange
	}
	out.Comments = append(out.Comments, newComment(t, actor, fmt.Sprintf("Separation confirmed by %s.", actor.Name), now, false, false))
	return nil
}

func respond(t *domain.Ticket, actor *domain.User, text string, now time.Time, out *Outcome) {
	t.Status = domain.TicketStatusAnalyzing
	t.StatusMessage = ""
	out.Comments = append(out.Comments, newComment(t, actor, text, now, false, true))
}

// leaveQueue stamps the attendant and start time on a ticket leaving the
// queue. The new assignee is counted only when the ticket stays open.
func leaveQueue(t *domain.Ticket, actor *domain.User, now time.Time, terminal bool) []CounterDelta {
	if t.Status != domain.TicketStatusQueue {
		return nil
	}
	var deltas []CounterDelta
	if t.AssignedTo == nil {
		t.AssignedTo = &domain.Assignment{Identity: actor.Snapshot(), AssignedAt: now}
		if !terminal {
			deltas = append(deltas, CounterDelta{UID: actor.ID, Delta: 1})
		}
	}
	if t.AssignedTo.StartedAt == nil {
		t.AssignedTo.StartedAt = &now
	}
	if t.TimeStarted == nil {
		t.TimeStarted = &now
	}
	return deltas
}

// release frees the current assignee's slot when the ticket closes.
func release(t *domain.Ticket) []CounterDelta {
	if t.AssignedTo == nil {
		return nil
	}
	return []CounterDelta{{UID: t.AssignedTo.UID, Delta: -1}}
}

func newComment(t *domain.Ticket, actor *domain.User, text string, now time.Time, request, response bool) domain.Comment {
	return domain.Comment{
		TicketID:   t.ID,
		Text:       text,
		Author:     domain.Author{UID: actor.ID, Name: actor.Name, Role: actor.Role},
		IsRequest:  request,
		IsResponse: response,
		CreatedAt:  now,
	}
}

func invalid(t *domain.Ticket, r rule, reason string) error {
	to := string(r.to)
	if to == "" {
		to = string(r.op)
	}
	details := map[string]any{"ticket_id": t.ID, "operation": string(r.op)}
	if reason != "" {
		details["reason"] = reason
	}
	return apperrors.NewInvalidTransition(string(t.Status), to, details)
}
