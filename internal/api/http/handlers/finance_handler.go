package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/service"
)

// FinanceHandler serves the invoice control list.
type FinanceHandler struct {
	service *service.FinanceService
}

// NewFinanceHandler constructs handler.
func NewFinanceHandler(financeService *service.FinanceService) *FinanceHandler {
	return &FinanceHandler{service: financeService}
}

// ListNF GET /finance/nf.
func (h *FinanceHandler) ListNF(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	entries, err := h.service.ListNFControl(c.UserContext(), user)
	if err != nil {
		return err
	}
	items := make([]dto.NFControlResponse, 0, len(entries))
	for i := range entries {
		item := dto.NFControlResponse{
			Ticket: dto.NewTicketResponse(&entries[i].Ticket),
			Alert:  entries[i].Alert,
		}
		if entries[i].Ticket.NFReturnDeadline != nil {
			days := entries[i].DaysLeft
			item.DaysLeft = &days
		}
		items = append(items, item)
	}
	return c.JSON(fiber.Map{"data": items})
}
