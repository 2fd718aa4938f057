package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/service"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// QueueHandler exposes attendant availability and queue maintenance.
type QueueHandler struct {
	service *service.AssignmentService
}

// NewQueueHandler constructs handler.
func NewQueueHandler(assignmentService *service.AssignmentService) *QueueHandler {
	return &QueueHandler{service: assignmentService}
}

// ListAttendants GET /attendants.
func (h *QueueHandler) ListAttendants(c *fiber.Ctx) error {
	users, err := h.service.ListAttendants(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserList(users)})
}

// Workload GET /attendants/workload.
func (h *QueueHandler) Workload(c *fiber.Ctx) error {
	entries, err := h.service.Workload(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.WorkloadResponse, 0, len(entries))
	for i := range entries {
		items = append(items, dto.WorkloadResponse{
			User:   dto.NewUserResponse(&entries[i].User),
			Actual: entries[i].Actual,
			Drift:  entries[i].Drift(),
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// SetOnline POST /me/online.
func (h *QueueHandler) SetOnline(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.OnlineRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Online == nil {
		return apperrors.NewValidationError("online required", nil)
	}
	updated, err := h.service.SetOnline(c.UserContext(), user, *req.Online)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(updated)})
}

// Redistribute POST /queue/redistribute.
func (h *QueueHandler) Redistribute(c *fiber.Ctx) error {
	n, err := h.service.RedistributeOrphanTickets(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"redistributed": n}})
}

// Release POST /queue/release.
func (h *QueueHandler) Release(c *fiber.Ctx) error {
	var req dto.ReleaseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.service.ReleaseTicket(c.UserContext(), req.AttendantUID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
