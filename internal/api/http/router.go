package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Queue          *handlers.QueueHandler
	Finance        *handlers.FinanceHandler
	Realtime       *handlers.RealtimeHandler
	Metrics        *observability.Metrics
	AuthMiddleware fiber.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	protected := app.Group("", cfg.AuthMiddleware)

	if cfg.Realtime != nil {
		protected.Get("/ws", cfg.Realtime.Upgrade, cfg.Realtime.Stream())
	}

	tickets := protected.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/history", cfg.Tickets.History)
	tickets.Post("/:id/status", cfg.Tickets.ChangeStatus)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)
	tickets.Post("/:id/transfer", auth.RequireStaff(), cfg.Tickets.Transfer)
	tickets.Post("/:id/separation", auth.RequireStaff(), cfg.Tickets.ConfirmSeparation)
	tickets.Post("/:id/nf/request", cfg.Tickets.RequestNF)
	tickets.Post("/:id/nf/emit", cfg.Tickets.EmitNF)
	tickets.Post("/:id/nf/return", cfg.Tickets.ReturnNF)

	protected.Get("/attendants", cfg.Queue.ListAttendants)
	protected.Get("/attendants/workload", auth.RequireStaff(), cfg.Queue.Workload)
	protected.Post("/me/online", auth.RequireStaff(), cfg.Queue.SetOnline)

	admin := protected.Group("/queue", auth.RequireRole(domain.RoleAdmin))
	admin.Post("/redistribute", cfg.Queue.Redistribute)
	admin.Post("/release", cfg.Queue.Release)

	protected.Get("/finance/nf", cfg.Finance.ListNF)
}
