package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// OnlineRequest toggles the caller's availability.
type OnlineRequest struct {
	Online *bool `json:"online"`
}

// ReleaseRequest frees one slot of an attendant's counter.
type ReleaseRequest struct {
	AttendantUID string `json:"attendant_uid"`
}

// UserResponse is the public directory entry.
type UserResponse struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	Role            domain.UserRole `json:"role"`
	Department      *string         `json:"department"`
	IsOnline        bool            `json:"is_online"`
	TicketsAssigned int             `json:"tickets_assigned"`
	LastOnlineAt    *time.Time      `json:"last_online_at"`
}

// WorkloadResponse compares a counter with the open assignments.
type WorkloadResponse struct {
	User   UserResponse `json:"user"`
	Actual int          `json:"actual"`
	Drift  int          `json:"drift"`
}

// NewUserResponse maps a user.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:              u.ID,
		Name:            u.Name,
		Email:           u.Email,
		Role:            u.Role,
		Department:      u.Department,
		IsOnline:        u.IsOnline,
		TicketsAssigned: u.TicketsAssigned,
		LastOnlineAt:    u.LastOnlineAt,
	}
}

// NewUserList maps users.
func NewUserList(users []domain.User) []UserResponse {
	items := make([]UserResponse, 0, len(users))
	for i := range users {
		items = append(items, NewUserResponse(&users[i]))
	}
	return items
}
