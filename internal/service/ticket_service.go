package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/lifecycle"
	"github.com/spec-kit/helpdesk/internal/realtime"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// TicketService drives tickets through their lifecycle.
type TicketService struct {
	rt       *Runtime
	assigner *AssignmentService
	loc      *time.Location
}

// TicketDependencies bundles collaborators.
type TicketDependencies struct {
	Runtime    Runtime
	Assignment *AssignmentService
	// Location decides calendar days in the open-queue ordering.
	Location *time.Location
}

// TicketCreateInput describes the ticket form.
type TicketCreateInput struct {
	Subject      string
	Description  string
	Priority     domain.TicketPriority
	Department   string
	CategoryType domain.CategoryType
	MeetingInfo  *domain.MeetingInfo
	Products     []domain.Product
}

// TicketView is a ticket with its thread and what the viewer may do next.
type TicketView struct {
	Ticket   domain.Ticket
	Comments []domain.Comment
	Allowed  []lifecycle.Operation
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	rt := deps.Runtime
	rt.defaults()
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &TicketService{rt: &rt, assigner: deps.Assignment, loc: loc}
}

// CreateTicket stores a queued ticket and offers it to the next attendant.
// When nobody is online the ticket stays orphaned for redistribution.
func (s *TicketService) CreateTicket(ctx context.Context, actor *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	ticket, err := s.buildTicket(actor, input)
	if err != nil {
		return nil, err
	}

	err = s.rt.inTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		if err := tx.Tickets.Create(ctx, ticket); err != nil {
			return err
		}
		return s.rt.recordHistory(ctx, tx, ticket.ID, actor.ID, domain.ChangeTypeStatus,
			map[string]any{"status": nil}, map[string]any{"status": ticket.Status})
	})
	if err != nil {
		return nil, err
	}
	s.rt.Logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("requester", actor.ID),
		zap.String("priority", string(ticket.Priority)))
	s.rt.publishTicket(ctx, ticket, realtime.KindCreated)
	s.rt.publishEvent(ctx, events.Event{
		Type:     events.EventNew,
		TicketID: ticket.ID,
		Ticket:   *ticket.Clone(),
		Actor:    events.ActorFrom(actor),
	})

	if s.assigner == nil {
		return ticket, nil
	}
	next, err := s.assigner.SelectNextAttendant(ctx)
	if err != nil {
		s.rt.Logger.Warn("select attendant for new ticket", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return ticket, nil
	}
	if next == nil {
		s.rt.Logger.Info("no attendant online, ticket left in queue", zap.String("ticket_id", ticket.ID))
		return ticket, nil
	}
	assigned, err := s.assigner.assign(ctx, ticket.ID, next, sourceCreate)
	if err != nil {
		s.rt.Logger.Warn("auto-assign new ticket",
			zap.String("ticket_id", ticket.ID),
			zap.String("attendant_id", next.ID),
			zap.Error(err))
		return ticket, nil
	}
	return assigned, nil
}

func (s *TicketService) buildTicket(actor *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	subject := strings.TrimSpace(input.Subject)
	description := strings.TrimSpace(input.Description)
	department := strings.TrimSpace(input.Department)
	if department == "" && actor.Department != nil {
		department = *actor.Department
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	category := input.CategoryType
	if category == "" {
		category = domain.CategoryStandard
	}

	details := map[string]any{}
	if subject == "" {
		details["subject"] = "required"
	}
	if description == "" {
		details["description"] = "required"
	}
	if department == "" {
		details["department"] = "required"
	}
	if !priority.Valid() {
		details["priority"] = "must be one of low, medium, high, urgent"
	}
	switch category {
	case domain.CategoryStandard:
	case domain.CategoryEquipmentSeparation:
		if input.MeetingInfo == nil {
			details["meeting_info"] = "required for equipment separation"
		} else if input.MeetingInfo.Type != domain.MeetingInternal && input.MeetingInfo.Type != domain.MeetingExternal {
			details["meeting_info.type"] = "must be internal or external"
		}
		if len(input.Products) == 0 {
			details["products"] = "at least one product required"
		}
	default:
		details["category_type"] = "must be standard or equipment_separation"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", details)
	}

	now := s.rt.Now()
	t := &domain.Ticket{
		ID:           uuid.NewString(),
		Subject:      subject,
		Description:  description,
		Priority:     priority,
		Department:   department,
		Status:       domain.TicketStatusQueue,
		CreatedBy:    actor.Snapshot(),
		CategoryType: category,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if category == domain.CategoryEquipmentSeparation {
		info := *input.MeetingInfo
		t.MeetingInfo = &info
		t.Products = append([]domain.Product(nil), input.Products...)
	}
	return t, nil
}

// GetTicket returns the ticket with its comments if actor may see it.
func (s *TicketService) GetTicket(ctx context.Context, actor *domain.User, ticketID string) (*TicketView, error) {
	t, err := s.visibleTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	comments, err := s.rt.Store.Repositories().Comments.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return &TicketView{Ticket: *t, Comments: comments, Allowed: lifecycle.Allowed(t, actor)}, nil
}

// ListOpen returns the non-terminal tickets actor may see in queue order.
func (s *TicketService) ListOpen(ctx context.Context, actor *domain.User) ([]domain.Ticket, error) {
	tickets, err := s.listScoped(ctx, actor, repository.TicketFilter{Statuses: domain.OpenStatuses})
	if err != nil {
		return nil, err
	}
	domain.SortQueue(tickets, s.loc)
	return tickets, nil
}

// ListResolved returns closed tickets actor may see, newest first.
func (s *TicketService) ListResolved(ctx context.Context, actor *domain.User, limit, offset int) ([]domain.Ticket, error) {
	tickets, err := s.listScoped(ctx, actor, repository.TicketFilter{
		Statuses: []domain.TicketStatus{domain.TicketStatusResolved, domain.TicketStatusCanceled},
	})
	if err != nil {
		return nil, err
	}
	if offset > len(tickets) {
		offset = len(tickets)
	}
	if offset < 0 {
		offset = 0
	}
	tickets = tickets[offset:]
	if limit > 0 && limit < len(tickets) {
		tickets = tickets[:limit]
	}
	return tickets, nil
}

func (s *TicketService) listScoped(ctx context.Context, actor *domain.User, filter repository.TicketFilter) ([]domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	if actor.Role == domain.RoleRequester && !actor.IsFinance() {
		uid := actor.ID
		filter.CreatedByUID = &uid
	}
	tickets, err := s.rt.Store.Repositories().Tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if actor.IsStaff() {
		return tickets, nil
	}
	visible := tickets[:0]
	for i := range tickets {
		if lifecycle.CanView(actor, &tickets[i]) {
			visible = append(visible, tickets[i])
		}
	}
	return visible, nil
}

// Comments returns the ticket thread, oldest first.
func (s *TicketService) Comments(ctx context.Context, actor *domain.User, ticketID string) ([]domain.Comment, error) {
	if _, err := s.visibleTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	comments, err := s.rt.Store.Repositories().Comments.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return comments, nil
}

// History returns the audit trail of a ticket.
func (s *TicketService) History(ctx context.Context, actor *domain.User, ticketID string, limit, offset int) ([]domain.TicketHistory, error) {
	if _, err := s.visibleTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	entries, err := s.rt.Store.Repositories().History.ListByTicket(ctx, ticketID, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

func (s *TicketService) visibleTicket(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	t, err := s.rt.Store.Repositories().Tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, apperrors.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	if !lifecycle.CanView(actor, t) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return t, nil
}

// Transition moves the ticket to the requested status using the matching
// operation of the transition table.
func (s *TicketService) Transition(ctx context.Context, actor *domain.User, ticketID string, to domain.TicketStatus, message string) (*domain.Ticket, error) {
	if !to.Valid() {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": to})
	}
	t, err := s.visibleTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	op, ok := lifecycle.OperationFor(t, to)
	if !ok {
		return nil, apperrors.NewInvalidTransition(string(t.Status), string(to), map[string]any{"ticket_id": t.ID})
	}
	updated, _, err := s.perform(ctx, actor, ticketID, lifecycle.Command{Op: op, Message: message})
	return updated, err
}

// Perform runs a single lifecycle operation.
func (s *TicketService) Perform(ctx context.Context, actor *domain.User, ticketID string, cmd lifecycle.Command) (*domain.Ticket, error) {
	updated, _, err := s.perform(ctx, actor, ticketID, cmd)
	return updated, err
}

// AddComment appends to the thread. A requester answering an information
// request moves the ticket back to analysis.
func (s *TicketService) AddComment(ctx context.Context, actor *domain.User, ticketID, text string) (*domain.Comment, error) {
	_, comments, err := s.perform(ctx, actor, ticketID, lifecycle.Command{Op: lifecycle.OpComment, Message: text})
	if err != nil {
		return nil, err
	}
	if len(comments) == 0 {
		return nil, apperrors.NewInternalError(errors.New("comment not recorded"))
	}
	c := comments[len(comments)-1]
	return &c, nil
}

// ConfirmSeparation records serial numbers for every product and closes
// internal separations or hands external ones back to the requester.
func (s *TicketService) ConfirmSeparation(ctx context.Context, actor *domain.User, ticketID string, serials map[string]string) (*domain.Ticket, error) {
	return s.Perform(ctx, actor, ticketID, lifecycle.Command{Op: lifecycle.OpConfirmSeparation, SerialNumbers: serials})
}

func (s *TicketService) RequestNF(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	return s.Perform(ctx, actor, ticketID, lifecycle.Command{Op: lifecycle.OpRequestNF})
}

// EmitNF registers the invoice and starts the return window.
func (s *TicketService) EmitNF(ctx context.Context, actor *domain.User, ticketID, number string, issued time.Time) (*domain.Ticket, error) {
	return s.Perform(ctx, actor, ticketID, lifecycle.Command{Op: lifecycle.OpEmitNF, NFNumber: number, NFIssueDate: issued})
}

func (s *TicketService) ReturnNF(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	return s.Perform(ctx, actor, ticketID, lifecycle.Command{Op: lifecycle.OpReturnNF})
}

func (s *TicketService) perform(ctx context.Context, actor *domain.User, ticketID string, cmd lifecycle.Command) (*domain.Ticket, []domain.Comment, error) {
	if actor == nil {
		return nil, nil, apperrors.NewUnauthorized("actor required")
	}
	var (
		updated *domain.Ticket
		out     lifecycle.Outcome
		touched []string
	)
	err := s.rt.inTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		t, err := loadTicketForUpdate(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		previousAssignee := t.AssignedTo
		out, err = lifecycle.Apply(t, actor, cmd, s.rt.Now())
		if err != nil {
			return err
		}
		if err := tx.Tickets.Update(ctx, t); err != nil {
			return err
		}
		for i := range out.Comments {
			out.Comments[i].ID = uuid.NewString()
			if err := tx.Comments.Create(ctx, &out.Comments[i]); err != nil {
				return err
			}
		}
		touched, err = s.rt.applyCounters(ctx, tx, out.Counters)
		if err != nil {
			return err
		}
		if out.StatusChanged(t) {
			newValue := map[string]any{"status": t.Status}
			if t.StatusMessage != "" {
				newValue["message"] = t.StatusMessage
			}
			if err := s.rt.recordHistory(ctx, tx, t.ID, actor.ID, domain.ChangeTypeStatus,
				map[string]any{"status": out.Previous}, newValue); err != nil {
				return err
			}
		}
		if previousAssignee == nil && t.AssignedTo != nil {
			if err := s.rt.recordHistory(ctx, tx, t.ID, actor.ID, domain.ChangeTypeAssignee,
				assigneeValue(nil), assigneeValue(t.AssignedTo)); err != nil {
				return err
			}
		}
		if cmd.Op == lifecycle.OpEmitNF || cmd.Op == lifecycle.OpReturnNF {
			if err := s.rt.recordHistory(ctx, tx, t.ID, actor.ID, domain.ChangeTypeInvoice,
				nil, invoiceValue(t)); err != nil {
				return err
			}
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	fields := []zap.Field{
		zap.String("ticket_id", updated.ID),
		zap.String("operation", string(cmd.Op)),
		zap.String("actor", actor.ID),
	}
	if out.StatusChanged(updated) {
		s.rt.Metrics.RecordTransition(string(out.Previous), string(updated.Status))
		fields = append(fields, zap.String("from", string(out.Previous)), zap.String("status", string(updated.Status)))
	}
	s.rt.Logger.Info("ticket updated", fields...)

	s.rt.publishTicket(ctx, updated, realtime.KindUpdated)
	s.rt.publishUsers(ctx, touched...)

	event := events.Event{
		Type:     out.Event,
		TicketID: updated.ID,
		Ticket:   *updated.Clone(),
		Actor:    events.ActorFrom(actor),
	}
	if out.StatusChanged(updated) {
		event.PreviousStatus = out.Previous
	}
	if len(out.Comments) > 0 {
		event.Comment = out.Comments[len(out.Comments)-1].Text
	}
	s.rt.publishEvent(ctx, event)
	return updated, out.Comments, nil
}

func invoiceValue(t *domain.Ticket) map[string]any {
	v := map[string]any{}
	if t.NFNumber != nil {
		v["nf_number"] = *t.NFNumber
	}
	if t.NFIssueDate != nil {
		v["nf_issue_date"] = t.NFIssueDate.Format(time.DateOnly)
	}
	if t.NFReturnDeadline != nil {
		v["nf_return_deadline"] = t.NFReturnDeadline.Format(time.DateOnly)
	}
	if t.NFReturnDate != nil {
		v["nf_return_date"] = t.NFReturnDate.Format(time.DateOnly)
	}
	return v
}
