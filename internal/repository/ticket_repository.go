package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	CreatedByUID *string
	Department   *string
	AssigneeUID  *string
	Statuses     []domain.TicketStatus
	Categories   []domain.CategoryType
	Unassigned   bool
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	// OldestFirst orders by creation time ascending; default is newest first.
	OldestFirst bool
	Limit       int
	Offset      int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	// Update writes the ticket if its version still matches and bumps it.
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// CountOpenByAssignee counts non-terminal tickets per assignee uid.
	CountOpenByAssignee(ctx context.Context) (map[string]int, error)
}

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `id, subject, description, priority, department, status,
        created_by_uid, created_by_name, created_by_email,
        assigned_uid, assigned_name, assigned_email, assigned_at, assignment_started_at,
        status_message, transferred_from, transferred_at, time_started, time_resolved,
        category_type, meeting_info, products, separation_confirmed,
        nf_number, nf_issue_date, nf_return_deadline, nf_return_date,
        version, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, subject, description, priority, department, status,
            created_by_uid, created_by_name, created_by_email,
            assigned_uid, assigned_name, assigned_email, assigned_at,
            category_type, meeting_info, products, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
        RETURNING version`
	a := assignmentColumns(ticket.AssignedTo)
	err := r.db.QueryRow(ctx, query,
		ticket.ID,
		ticket.Subject,
		ticket.Description,
		ticket.Priority,
		ticket.Department,
		ticket.Status,
		ticket.CreatedBy.UID,
		ticket.CreatedBy.Name,
		ticket.CreatedBy.Email,
		a.uid,
		a.name,
		a.email,
		a.assignedAt,
		ticket.CategoryType,
		ticket.MeetingInfo,
		productsOrEmpty(ticket.Products),
		ticket.CreatedAt,
	).Scan(&ticket.Version)
	if err != nil {
		return translate(err)
	}
	ticket.UpdatedAt = ticket.CreatedAt
	return nil
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET subject=$1, description=$2, priority=$3, department=$4, status=$5,
            assigned_uid=$6, assigned_name=$7, assigned_email=$8, assigned_at=$9, assignment_started_at=$10,
            status_message=$11, transferred_from=$12, transferred_at=$13, time_started=$14, time_resolved=$15,
            meeting_info=$16, products=$17, separation_confirmed=$18,
            nf_number=$19, nf_issue_date=$20, nf_return_deadline=$21, nf_return_date=$22,
            version=version+1, updated_at=NOW()
        WHERE id=$23 AND version=$24
        RETURNING version, updated_at`
	a := assignmentColumns(ticket.AssignedTo)
	err := r.db.QueryRow(ctx, query,
		ticket.Subject,
		ticket.Description,
		ticket.Priority,
		ticket.Department,
		ticket.Status,
		a.uid,
		a.name,
		a.email,
		a.assignedAt,
		a.startedAt,
		ticket.StatusMessage,
		ticket.TransferredFrom,
		ticket.TransferredAt,
		ticket.TimeStarted,
		ticket.TimeResolved,
		ticket.MeetingInfo,
		productsOrEmpty(ticket.Products),
		ticket.SeparationConfirmed,
		ticket.NFNumber,
		ticket.NFIssueDate,
		ticket.NFReturnDeadline,
		ticket.NFReturnDate,
		ticket.ID,
		ticket.Version,
	).Scan(&ticket.Version, &ticket.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return translate(err)
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, ticket.ID).Scan(&exists); err != nil {
		return translate(err)
	}
	if !exists {
		return apperrors.ErrRecordNotFound
	}
	return apperrors.ErrVersionConflict
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return scanTicket(r.db.QueryRow(ctx, query, id))
}

func (r *ticketRepository) GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1 FOR UPDATE`
	return scanTicket(r.db.QueryRow(ctx, query, id))
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatedByUID != nil {
		args = append(args, *filter.CreatedByUID)
		clauses = append(clauses, fmt.Sprintf("created_by_uid=$%d", len(args)))
	}
	if filter.Department != nil {
		args = append(args, *filter.Department)
		clauses = append(clauses, fmt.Sprintf("department=$%d", len(args)))
	}
	if filter.AssigneeUID != nil {
		args = append(args, *filter.AssigneeUID)
		clauses = append(clauses, fmt.Sprintf("assigned_uid=$%d", len(args)))
	}
	if filter.Unassigned {
		clauses = append(clauses, "assigned_uid IS NULL")
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Categories) > 0 {
		placeholders := make([]string, len(filter.Categories))
		for i, category := range filter.Categories {
			args = append(args, category)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("category_type IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	order := "created_at DESC"
	if filter.OldestFirst {
		order = "created_at ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY %s, id`,
		ticketColumns, strings.Join(clauses, " AND "), order)
	if filter.Limit > 0 {
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, translate(rows.Err())
}

func (r *ticketRepository) CountOpenByAssignee(ctx context.Context) (map[string]int, error) {
	const query = `
        SELECT assigned_uid, COUNT(*) FROM tickets
        WHERE assigned_uid IS NOT NULL AND status NOT IN ('resolved', 'canceled')
        GROUP BY assigned_uid`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			uid   string
			count int
		)
		if err := rows.Scan(&uid, &count); err != nil {
			return nil, translate(err)
		}
		counts[uid] = count
	}
	return counts, translate(rows.Err())
}

type assignmentRow struct {
	uid, name, email *string
	assignedAt       *time.Time
	startedAt        *time.Time
}

func assignmentColumns(a *domain.Assignment) assignmentRow {
	if a == nil {
		return assignmentRow{}
	}
	assignedAt := a.AssignedAt
	return assignmentRow{
		uid:        &a.UID,
		name:       &a.Name,
		email:      &a.Email,
		assignedAt: &assignedAt,
		startedAt:  a.StartedAt,
	}
}

func productsOrEmpty(products []domain.Product) []domain.Product {
	if products == nil {
		return []domain.Product{}
	}
	return products
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket domain.Ticket
		a      assignmentRow
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Subject,
		&ticket.Description,
		&ticket.Priority,
		&ticket.Department,
		&ticket.Status,
		&ticket.CreatedBy.UID,
		&ticket.CreatedBy.Name,
		&ticket.CreatedBy.Email,
		&a.uid,
		&a.name,
		&a.email,
		&a.assignedAt,
		&a.startedAt,
		&ticket.StatusMessage,
		&ticket.TransferredFrom,
		&ticket.TransferredAt,
		&ticket.TimeStarted,
		&ticket.TimeResolved,
		&ticket.CategoryType,
		&ticket.MeetingInfo,
		&ticket.Products,
		&ticket.SeparationConfirmed,
		&ticket.NFNumber,
		&ticket.NFIssueDate,
		&ticket.NFReturnDeadline,
		&ticket.NFReturnDate,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, translate(err)
	}
	if a.uid != nil {
		ticket.AssignedTo = &domain.Assignment{
			Identity:  domain.Identity{UID: *a.uid, Name: deref(a.name), Email: deref(a.email)},
			StartedAt: a.startedAt,
		}
		if a.assignedAt != nil {
			ticket.AssignedTo.AssignedAt = *a.assignedAt
		}
	}
	return &ticket, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
