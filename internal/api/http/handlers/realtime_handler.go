package handlers

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/lifecycle"
	"github.com/spec-kit/helpdesk/internal/realtime"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// RealtimeHandler streams committed ticket and attendant changes over a websocket.
// The connection owns its subscription: closing it unsubscribes.
type RealtimeHandler struct {
	broker realtime.Broker
	logger *zap.Logger
}

// NewRealtimeHandler constructs handler.
func NewRealtimeHandler(broker realtime.Broker, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHandler{broker: broker, logger: logger}
}

// Upgrade rejects plain HTTP requests to the feed.
func (h *RealtimeHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if _, ok := auth.UserFromContext(c); !ok {
		return apperrors.NewUnauthorized("user required")
	}
	return c.Next()
}

// Stream GET /ws.
func (h *RealtimeHandler) Stream() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *RealtimeHandler) serve(conn *websocket.Conn) {
	user, _ := conn.Locals(auth.UserKey).(*domain.User)
	if user == nil {
		_ = conn.Close()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := h.broker.Subscribe(ctx, realtime.TopicTickets, realtime.TopicUsers)
	if err != nil {
		h.logger.Warn("subscribe change feed", zap.String("uid", user.ID), zap.Error(err))
		_ = conn.Close()
		return
	}
	defer sub.Close() //nolint:errcheck
	h.logger.Debug("change feed opened", zap.String("uid", user.ID))

	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, sub, user)
	h.logger.Debug("change feed closed", zap.String("uid", user.ID))
}

// readPump only watches for the client going away and answers pongs.
func (h *RealtimeHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("change feed read", zap.Error(err))
			}
			return
		}
	}
}

func (h *RealtimeHandler) writePump(ctx context.Context, conn *websocket.Conn, sub *realtime.Subscription, user *domain.User) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-sub.C:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !Visible(user, change) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(change); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Visible applies the ticket read rules to a change. Attendant changes go
// to staff only.
func Visible(user *domain.User, change realtime.Change) bool {
	switch change.Topic {
	case realtime.TopicTickets:
		if change.Ticket == nil {
			return false
		}
		t := &domain.Ticket{
			ID:           change.Ticket.ID,
			Department:   change.Ticket.Department,
			CategoryType: domain.CategoryType(change.Ticket.Category),
			CreatedBy:    domain.Identity{UID: change.Ticket.CreatedByUID},
		}
		return lifecycle.CanView(user, t)
	case realtime.TopicUsers:
		return user.IsStaff()
	}
	return false
}
