package repository

import (
	"context"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// CommentRepository manages ticket thread comments.
type CommentRepository interface {
	Create(ctx context.Context, comment *domain.Comment) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Comment, error)
}

type commentRepository struct {
	db DBTX
}

// NewCommentRepository builds repository.
func NewCommentRepository(db DBTX) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Create(ctx context.Context, comment *domain.Comment) error {
	const query = `
        INSERT INTO ticket_comments (id, ticket_id, text, author_uid, author_name, author_role, is_request, is_response, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.db.Exec(ctx, query,
		comment.ID,
		comment.TicketID,
		comment.Text,
		comment.Author.UID,
		comment.Author.Name,
		comment.Author.Role,
		comment.IsRequest,
		comment.IsResponse,
		comment.CreatedAt,
	)
	return translate(err)
}

func (r *commentRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Comment, error) {
	const query = `
        SELECT id, ticket_id, text, author_uid, author_name, author_role, is_request, is_response, created_at
        FROM ticket_comments WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(
			&c.ID,
			&c.TicketID,
			&c.Text,
			&c.Author.UID,
			&c.Author.Name,
			&c.Author.Role,
			&c.IsRequest,
			&c.IsResponse,
			&c.CreatedAt,
		); err != nil {
			return nil, translate(err)
		}
		result = append(result, c)
	}
	return result, translate(rows.Err())
}
