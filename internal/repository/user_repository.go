package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// UserFilter narrows directory listings.
type UserFilter struct {
	Roles  []domain.UserRole
	Online *bool
}

// UserRepository defines access to the user directory.
type UserRepository interface {
	Upsert(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetForUpdate(ctx context.Context, id string) (*domain.User, error)
	// List returns users in directory order.
	List(ctx context.Context, filter UserFilter) ([]domain.User, error)
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error
	// AdjustTicketsAssigned adds delta to the counter, never going below zero.
	// clamped reports that the unclamped value would have been negative.
	AdjustTicketsAssigned(ctx context.Context, id string, delta int) (value int, clamped bool, err error)
	SetTicketsAssigned(ctx context.Context, id string, value int) error
}

type userRepository struct {
	db DBTX
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, name, email, role, department, is_online, tickets_assigned, last_online_at, created_at, updated_at`

func (r *userRepository) Upsert(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (id, name, email, role, department)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, email=EXCLUDED.email,
            role=EXCLUDED.role, department=EXCLUDED.department, updated_at=NOW()
        RETURNING is_online, tickets_assigned, last_online_at, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.Role,
		user.Department,
	).Scan(&user.IsOnline, &user.TicketsAssigned, &user.LastOnlineAt, &user.CreatedAt, &user.UpdatedAt)
	return translate(err)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *userRepository) GetForUpdate(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1 FOR UPDATE`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]domain.User, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if len(filter.Roles) > 0 {
		placeholders := make([]string, len(filter.Roles))
		for i, role := range filter.Roles {
			args = append(args, role)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("role IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Online != nil {
		args = append(args, *filter.Online)
		clauses = append(clauses, fmt.Sprintf("is_online=$%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s ORDER BY created_at ASC, id ASC`,
		userColumns, strings.Join(clauses, " AND "))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *user)
	}
	return result, translate(rows.Err())
}

func (r *userRepository) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	const query = `
        UPDATE users SET is_online=$1,
            last_online_at=CASE WHEN $1 THEN $2 ELSE last_online_at END,
            updated_at=NOW()
        WHERE id=$3`
	cmd, err := r.db.Exec(ctx, query, online, at, id)
	if err != nil {
		return translate(err)
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.ErrRecordNotFound
	}
	return nil
}

func (r *userRepository) AdjustTicketsAssigned(ctx context.Context, id string, delta int) (int, bool, error) {
	const query = `
        WITH prev AS (SELECT tickets_assigned FROM users WHERE id=$2 FOR UPDATE)
        UPDATE users u SET tickets_assigned=GREATEST(prev.tickets_assigned + $1, 0), updated_at=NOW()
        FROM prev WHERE u.id=$2
        RETURNING u.tickets_assigned, prev.tickets_assigned + $1 < 0`
	var (
		value   int
		clamped bool
	)
	if err := r.db.QueryRow(ctx, query, delta, id).Scan(&value, &clamped); err != nil {
		return 0, false, translate(err)
	}
	return value, clamped, nil
}

func (r *userRepository) SetTicketsAssigned(ctx context.Context, id string, value int) error {
	const query = `UPDATE users SET tickets_assigned=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.db.Exec(ctx, query, value, id)
	if err != nil {
		return translate(err)
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.ErrRecordNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.Department,
		&user.IsOnline,
		&user.TicketsAssigned,
		&user.LastOnlineAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, translate(err)
	}
	return &user, nil
}
