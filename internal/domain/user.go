package domain

import "time"

// UserRole enumerates the directory roles.
type UserRole string

const (
	RoleRequester UserRole = "colaborador"
	RoleAttendant UserRole = "atendente"
	RoleManager   UserRole = "gerente"
	RoleAdmin     UserRole = "admin"
	RoleFinance   UserRole = "financeiro"
)

// FinanceDepartment is the department whose members act on invoices.
const FinanceDepartment = "financeiro"

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleRequester, RoleAttendant, RoleManager, RoleAdmin, RoleFinance:
		return true
	}
	return false
}

// User is a directory entry. Attendants carry the queue fields.
type User struct {
	ID              string
	Name            string
	Email           string
	Role            UserRole
	Department      *string
	IsOnline        bool
	TicketsAssigned int
	LastOnlineAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsStaff reports whether the user works tickets (attendant or admin).
func (u *User) IsStaff() bool {
	return u != nil && (u.Role == RoleAttendant || u.Role == RoleAdmin)
}

// IsFinance reports whether the user may act on invoices.
func (u *User) IsFinance() bool {
	if u == nil {
		return false
	}
	if u.Role == RoleFinance || u.Role == RoleAdmin {
		return true
	}
	return u.Department != nil && *u.Department == FinanceDepartment
}

// Snapshot copies the identity fields embedded into tickets.
func (u *User) Snapshot() Identity {
	return Identity{UID: u.ID, Name: u.Name, Email: u.Email}
}

// Identity is a denormalized reference to a user.
type Identity struct {
	UID   string
	Name  string
	Email string
}
