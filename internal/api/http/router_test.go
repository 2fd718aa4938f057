package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/realtime"
	"github.com/spec-kit/helpdesk/internal/repository/memory"
	"github.com/spec-kit/helpdesk/internal/service"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type testServer struct {
	t      *testing.T
	app    *fiber.App
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	dept := "ti"
	for _, u := range []*domain.User{
		{ID: "a1", Name: "Alice", Email: "alice@example.com", Role: domain.RoleAttendant},
		{ID: "u1", Name: "Carla", Email: "carla@example.com", Role: domain.RoleRequester, Department: &dept},
		{ID: "ad", Name: "Admin", Email: "admin@example.com", Role: domain.RoleAdmin},
	} {
		if err := store.Repositories().Users.Upsert(context.Background(), u); err != nil {
			t.Fatalf("seed %s: %v", u.ID, err)
		}
	}

	metrics := observability.NewMetrics()
	hub := realtime.NewHub()
	rt := service.Runtime{
		Store:      store,
		Dispatcher: events.NewInMemoryDispatcher(),
		Broker:     hub,
		Metrics:    metrics,
	}
	assignment := service.NewAssignmentService(service.AssignmentDependencies{Runtime: rt})
	tickets := service.NewTicketService(service.TicketDependencies{Runtime: rt, Assignment: assignment})
	finance := service.NewFinanceService(store, nil)
	tokens := auth.NewTokenManager("test-secret", 5)

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("helpdesk", "test", map[string]handlers.Pinger{"store": store}),
		Tickets:        handlers.NewTicketsHandler(tickets, assignment),
		Queue:          handlers.NewQueueHandler(assignment),
		Finance:        handlers.NewFinanceHandler(finance),
		Realtime:       handlers.NewRealtimeHandler(hub, nil),
		Metrics:        metrics,
		AuthMiddleware: auth.NewAuthMiddleware(tokens, store.Repositories().Users).Handle,
	})
	return &testServer{t: t, app: app, tokens: tokens}
}

func (s *testServer) token(uid string, role domain.UserRole) string {
	s.t.Helper()
	tok, _, err := s.tokens.GenerateToken(uid, role)
	if err != nil {
		s.t.Fatalf("token: %v", err)
	}
	return tok
}

func (s *testServer) do(method, path, token string, body any) (int, envelope) {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &env); err != nil {
			s.t.Fatalf("decode %s %s: %v (%s)", method, path, err, raw)
		}
	}
	return resp.StatusCode, env
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	if status, _ := s.do("GET", "/health/live", "", nil); status != 200 {
		t.Fatalf("live = %d", status)
	}
	if status, _ := s.do("GET", "/health/ready", "", nil); status != 200 {
		t.Fatalf("ready = %d", status)
	}

	resp, err := s.app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || !strings.Contains(string(body), "helpdesk_http_requests_total") {
		t.Fatalf("metrics status=%d", resp.StatusCode)
	}
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do("GET", "/tickets", "", nil)
	if status != 401 || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("missing token: %d %+v", status, env.Error)
	}
	status, _ = s.do("GET", "/tickets", "garbage", nil)
	if status != 401 {
		t.Fatalf("bad token: %d", status)
	}
	status, _ = s.do("GET", "/tickets", s.token("ghost", domain.RoleAdmin), nil)
	if status != 401 {
		t.Fatalf("unknown user: %d", status)
	}
	status, _ = s.do("GET", "/tickets?access_token="+s.token("u1", domain.RoleRequester), "", nil)
	if status != 200 {
		t.Fatalf("query token: %d", status)
	}
}

func TestTicketFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	attendant := s.token("a1", domain.RoleAttendant)
	requester := s.token("u1", domain.RoleRequester)

	status, env := s.do("POST", "/me/online", attendant, map[string]any{"online": true})
	if status != 200 {
		t.Fatalf("online: %d %+v", status, env.Error)
	}

	status, env = s.do("POST", "/tickets", requester, map[string]any{
		"subject":     "printer jam",
		"description": "third floor",
		"priority":    "high",
	})
	if status != 201 {
		t.Fatalf("create: %d %+v", status, env.Error)
	}
	var created struct {
		ID         string `json:"id"`
		Department string `json:"department"`
		AssignedTo *struct {
			UID string `json:"uid"`
		} `json:"assigned_to"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if created.AssignedTo == nil || created.AssignedTo.UID != "a1" || created.Department != "ti" {
		t.Fatalf("unexpected ticket %+v", created)
	}
	path := "/tickets/" + created.ID

	status, env = s.do("POST", path+"/status", requester, map[string]any{"status": "started"})
	if status != 403 || env.Error.Code != "FORBIDDEN" {
		t.Fatalf("requester start: %d %+v", status, env.Error)
	}
	status, env = s.do("POST", path+"/status", attendant, map[string]any{"status": "resolved"})
	if status != 422 || env.Error.Code != "INVALID_TRANSITION" {
		t.Fatalf("queue -> resolved: %d %+v", status, env.Error)
	}
	if status, env = s.do("POST", path+"/status", attendant, map[string]any{"status": "started"}); status != 200 {
		t.Fatalf("start: %d %+v", status, env.Error)
	}
	if status, env = s.do("POST", path+"/comments", requester, map[string]any{"text": "any news?"}); status != 201 {
		t.Fatalf("comment: %d %+v", status, env.Error)
	}

	status, env = s.do("GET", path, requester, nil)
	if status != 200 {
		t.Fatalf("detail: %d", status)
	}
	var detail struct {
		Status   string `json:"status"`
		Comments []struct {
			Text string `json:"text"`
		} `json:"comments"`
		AllowedOperations []string `json:"allowed_operations"`
	}
	if err := json.Unmarshal(env.Data, &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Status != "started" || len(detail.Comments) != 1 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	if status, _ = s.do("GET", path+"/history", attendant, nil); status != 200 {
		t.Fatalf("history: %d", status)
	}
	status, env = s.do("GET", "/tickets?view=closed", attendant, nil)
	if status != 400 || env.Error.Code != "VALIDATION_FAILED" {
		t.Fatalf("bad view: %d %+v", status, env.Error)
	}
}

func TestRoleGuards(t *testing.T) {
	s := newTestServer(t)
	attendant := s.token("a1", domain.RoleAttendant)
	requester := s.token("u1", domain.RoleRequester)

	if status, _ := s.do("POST", "/queue/redistribute", attendant, nil); status != 403 {
		t.Fatalf("attendant redistribute: %d", status)
	}
	status, env := s.do("POST", "/queue/redistribute", s.token("ad", domain.RoleAdmin), nil)
	if status != 200 || !strings.Contains(string(env.Data), `"redistributed":0`) {
		t.Fatalf("admin redistribute: %d %s", status, env.Data)
	}
	if status, _ := s.do("POST", "/me/online", requester, map[string]any{"online": true}); status != 403 {
		t.Fatalf("requester online: %d", status)
	}
	if status, _ := s.do("GET", "/finance/nf", requester, nil); status != 403 {
		t.Fatalf("requester finance: %d", status)
	}
	if status, _ := s.do("GET", "/ws", requester, nil); status != 426 {
		t.Fatalf("plain GET on feed: %d", status)
	}
}

func TestVisibleFiltersChanges(t *testing.T) {
	dept := "ti"
	requester := &domain.User{ID: "u1", Role: domain.RoleRequester, Department: &dept}
	other := &domain.User{ID: "u2", Role: domain.RoleRequester}
	staff := &domain.User{ID: "a1", Role: domain.RoleAttendant}

	ticket := realtime.TicketChanged(&domain.Ticket{ID: "t1", Department: "ti", CreatedBy: domain.Identity{UID: "u1"}}, realtime.KindCreated)
	user := realtime.UserChanged(&domain.User{ID: "a1"})

	if !handlers.Visible(requester, ticket) || handlers.Visible(other, ticket) || !handlers.Visible(staff, ticket) {
		t.Fatalf("ticket change visibility wrong")
	}
	if handlers.Visible(requester, user) || !handlers.Visible(staff, user) {
		t.Fatalf("user change visibility wrong")
	}
}
