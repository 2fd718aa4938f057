package lifecycle

import (
	"fmt"

	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// Authorize is the capability check for op on t by actor.
func Authorize(actor *domain.User, t *domain.Ticket, op Operation) error {
	if actor == nil {
		return apperrors.NewUnauthorized("actor required")
	}
	r, ok := lookup(op)
	if !ok {
		return apperrors.NewValidationError("unknown operation", map[string]any{"operation": op})
	}
	var allowed bool
	switch r.actor {
	case actorStaff:
		allowed = actor.IsStaff()
	case actorRequester:
		allowed = IsRequester(actor, t)
	case actorStaffOrRequester:
		allowed = actor.IsStaff() || IsRequester(actor, t)
	case actorFinance:
		allowed = actor.IsFinance()
	case actorParticipant:
		allowed = CanView(actor, t)
	}
	if !allowed {
		return apperrors.NewForbidden(fmt.Sprintf("role %s may not %s this ticket", actor.Role, op))
	}
	return nil
}

// IsRequester reports whether actor opened t.
func IsRequester(actor *domain.User, t *domain.Ticket) bool {
	return actor != nil && t.CreatedBy.UID == actor.ID
}

// CanView reports whether actor may read t.
func CanView(actor *domain.User, t *domain.Ticket) bool {
	if actor == nil {
		return false
	}
	if IsRequester(actor, t) || actor.IsStaff() {
		return true
	}
	if actor.Role == domain.RoleManager && actor.Department != nil && *actor.Department == t.Department {
		return true
	}
	return actor.IsFinance() && t.IsEquipment()
}
