package lifecycle

import (
	"testing"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

var now = time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)

func attendant(id string) *domain.User {
	return &domain.User{ID: id, Name: "Attendant " + id, Email: id + "@example.com", Role: domain.RoleAttendant}
}

func requester() *domain.User {
	return &domain.User{ID: "req", Name: "Requester", Email: "req@example.com", Role: domain.RoleRequester}
}

func financeUser() *domain.User {
	return &domain.User{ID: "fin", Name: "Finance", Email: "fin@example.com", Role: domain.RoleFinance}
}

func queuedTicket() *domain.Ticket {
	return &domain.Ticket{
		ID:           "t1",
		Status:       domain.TicketStatusQueue,
		Priority:     domain.TicketPriorityMedium,
		Department:   "vendas",
		CreatedBy:    domain.Identity{UID: "req", Name: "Requester", Email: "req@example.com"},
		CategoryType: domain.CategoryStandard,
	}
}

func equipmentTicket(meeting domain.MeetingType) *domain.Ticket {
	t := queuedTicket()
	t.CategoryType = domain.CategoryEquipmentSeparation
	t.MeetingInfo = &domain.MeetingInfo{Type: meeting, City: "Recife", State: "PE"}
	t.Products = []domain.Product{{ProductID: "p1", Code: "A1", Name: "Reader"}, {ProductID: "p2", Code: "B2", Name: "Magnifier"}}
	return t
}

func mustApply(t *testing.T, tk *domain.Ticket, actor *domain.User, cmd Command) Outcome {
	t.Helper()
	out, err := Apply(tk, actor, cmd, now)
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", cmd.Op, err)
	}
	return out
}

func TestStartStampsAssigneeAndCounts(t *testing.T) {
	tk := queuedTicket()
	a := attendant("a1")
	out := mustApply(t, tk, a, Command{Op: OpStart})

	if tk.Status != domain.TicketStatusStarted {
		t.Fatalf("status = %s", tk.Status)
	}
	if tk.AssignedTo == nil || tk.AssignedTo.UID != "a1" || tk.AssignedTo.StartedAt == nil || tk.TimeStarted == nil {
		t.Fatalf("assignment not stamped: %+v", tk.AssignedTo)
	}
	if len(out.Counters) != 1 || out.Counters[0] != (CounterDelta{UID: "a1", Delta: 1}) {
		t.Fatalf("unexpected counters: %+v", out.Counters)
	}
	if out.Event != events.EventAssigned || out.Previous != domain.TicketStatusQueue {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestStartKeepsExistingAssignee(t *testing.T) {
	tk := queuedTicket()
	tk.AssignedTo = &domain.Assignment{Identity: domain.Identity{UID: "a1"}, AssignedAt: now.Add(-time.Hour)}
	out := mustApply(t, tk, attendant("a2"), Command{Op: OpStart})
	if tk.AssignedTo.UID != "a1" {
		t.Fatalf("assignee overwritten: %s", tk.AssignedTo.UID)
	}
	if len(out.Counters) != 0 {
		t.Fatalf("already counted assignee must not be counted again: %+v", out.Counters)
	}
}

func TestRequesterCannotStart(t *testing.T) {
	_, err := Apply(queuedTicket(), requester(), Command{Op: OpStart}, now)
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestTransitionsOutsideTableAreRejected(t *testing.T) {
	cases := []struct {
		name   string
		status domain.TicketStatus
		actor  *domain.User
		op     Operation
	}{
		{"resolve from queue", domain.TicketStatusQueue, attendant("a1"), OpResolve},
		{"analyze from queue", domain.TicketStatusQueue, attendant("a1"), OpAnalyze},
		{"request info from started", domain.TicketStatusStarted, attendant("a1"), OpRequestInfo},
		{"respond from analyzing", domain.TicketStatusAnalyzing, requester(), OpRespond},
		{"cancel resolved", domain.TicketStatusResolved, attendant("a1"), OpCancel},
		{"start canceled", domain.TicketStatusCanceled, attendant("a1"), OpStart},
		{"comment on resolved", domain.TicketStatusResolved, requester(), OpComment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tk := queuedTicket()
			tk.Status = tc.status
			before := *tk
			_, err := Apply(tk, tc.actor, Command{Op: tc.op, Message: "x"}, now)
			if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
				t.Fatalf("expected INVALID_TRANSITION, got %v", err)
			}
			if tk.Status != before.Status {
				t.Fatalf("status changed on rejected transition")
			}
		})
	}
}

func TestRequestInfoAndRespondRoundTrip(t *testing.T) {
	tk := queuedTicket()
	a := attendant("a1")
	mustApply(t, tk, a, Command{Op: OpStart})
	mustApply(t, tk, a, Command{Op: OpAnalyze})

	if _, err := Apply(tk, a, Command{Op: OpRequestInfo}, now); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error for empty message, got %v", err)
	}
	out := mustApply(t, tk, a, Command{Op: OpRequestInfo, Message: "Which floor?"})
	if tk.Status != domain.TicketStatusWaitingUser || tk.StatusMessage != "Which floor?" {
		t.Fatalf("unexpected ticket: %s %q", tk.Status, tk.StatusMessage)
	}
	if len(out.Comments) != 1 || !out.Comments[0].IsRequest {
		t.Fatalf("expected request comment, got %+v", out.Comments)
	}

	if _, err := Apply(tk, attendant("a1"), Command{Op: OpRespond}, now); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("only the requester may respond, got %v", err)
	}
	if _, err := Apply(tk, requester(), Command{Op: OpRespond, Message: "  "}, now); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("respond without text must be rejected, got %v", err)
	}
	if tk.Status != domain.TicketStatusWaitingUser {
		t.Fatalf("rejected respond changed status to %s", tk.Status)
	}
	out = mustApply(t, tk, requester(), Command{Op: OpRespond, Message: "Third floor"})
	if tk.Status != domain.TicketStatusAnalyzing || tk.StatusMessage != "" {
		t.Fatalf("unexpected ticket after respond: %s %q", tk.Status, tk.StatusMessage)
	}
	if len(out.Comments) != 1 || !out.Comments[0].IsResponse {
		t.Fatalf("expected response comment, got %+v", out.Comments)
	}
}

func TestRequesterCommentWhileWaitingResumesAnalysis(t *testing.T) {
	tk := queuedTicket()
	tk.Status = domain.TicketStatusWaitingUser
	tk.StatusMessage = "need info"
	out := mustApply(t, tk, requester(), Command{Op: OpComment, Message: "here it is"})
	if tk.Status != domain.TicketStatusAnalyzing {
		t.Fatalf("status = %s", tk.Status)
	}
	if out.Event != events.EventComment || out.Previous != domain.TicketStatusWaitingUser {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestResolveReleasesAssignee(t *testing.T) {
	tk := queuedTicket()
	a := attendant("a1")
	mustApply(t, tk, a, Command{Op: OpStart})
	out := mustApply(t, tk, a, Command{Op: OpResolve})
	if tk.Status != domain.TicketStatusResolved || tk.TimeResolved == nil {
		t.Fatalf("resolve did not stamp: %+v", tk)
	}
	if len(out.Counters) != 1 || out.Counters[0] != (CounterDelta{UID: "a1", Delta: -1}) {
		t.Fatalf("unexpected counters %+v", out.Counters)
	}
	if out.Event != events.EventResolved {
		t.Fatalf("event = %s", out.Event)
	}
}

func TestCancelByRequesterFromQueue(t *testing.T) {
	tk := queuedTicket()
	tk.AssignedTo = &domain.Assignment{Identity: domain.Identity{UID: "a1"}, AssignedAt: now}
	out := mustApply(t, tk, requester(), Command{Op: OpCancel})
	if tk.Status != domain.TicketStatusCanceled {
		t.Fatalf("status = %s", tk.Status)
	}
	if len(out.Counters) != 1 || out.Counters[0].UID != "a1" || out.Counters[0].Delta != -1 {
		t.Fatalf("cancel must release the assignee: %+v", out.Counters)
	}
	if tk.AssigneeID() != "a1" || tk.AssignedTo.StartedAt == nil || tk.TimeStarted == nil {
		t.Fatalf("canceled ticket must keep its assignee and carry start stamps: %+v", tk.AssignedTo)
	}
}

func TestCancelOrphanByRequesterStampsRequester(t *testing.T) {
	tk := queuedTicket()
	out := mustApply(t, tk, requester(), Command{Op: OpCancel})
	if tk.Status != domain.TicketStatusCanceled {
		t.Fatalf("status = %s", tk.Status)
	}
	if tk.AssigneeID() != "req" || tk.TimeStarted == nil || !tk.TimeStarted.Equal(now) {
		t.Fatalf("ticket left the queue without stamps: assignee=%q started=%v", tk.AssigneeID(), tk.TimeStarted)
	}
	if len(out.Counters) != 0 {
		t.Fatalf("nobody held the orphan, no counter may move: %+v", out.Counters)
	}
}

func TestCancelByStaffFromQueueStampsWithoutCounting(t *testing.T) {
	tk := queuedTicket()
	out := mustApply(t, tk, attendant("a1"), Command{Op: OpCancel})
	if tk.AssignedTo == nil || tk.TimeStarted == nil {
		t.Fatalf("ticket left the queue without assignee stamp")
	}
	if len(out.Counters) != 0 {
		t.Fatalf("terminal ticket must not be counted: %+v", out.Counters)
	}
}

func TestExternalSeparationInvoiceFlow(t *testing.T) {
	tk := equipmentTicket(domain.MeetingExternal)
	a := attendant("a1")
	mustApply(t, tk, a, Command{Op: OpStart})

	_, err := Apply(tk, a, Command{Op: OpConfirmSeparation, SerialNumbers: map[string]string{"p1": "SN1"}}, now)
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("missing serial must be rejected, got %v", err)
	}
	if tk.SeparationConfirmed || tk.Products[0].SerialNumber != "" {
		t.Fatalf("rejected confirmation mutated the ticket")
	}

	out := mustApply(t, tk, a, Command{Op: OpConfirmSeparation, SerialNumbers: map[string]string{"p1": "SN1", "p2": "SN2"}})
	if tk.Status != domain.TicketStatusWaitingUser || !tk.SeparationConfirmed {
		t.Fatalf("unexpected state after confirm: %s", tk.Status)
	}
	if len(out.Comments) != 1 || out.Comments[0].Text != "Separation confirmed by Attendant a1." {
		t.Fatalf("unexpected comments %+v", out.Comments)
	}

	if _, err := Apply(tk, a, Command{Op: OpResolve}, now); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("confirmed external separation must not resolve directly, got %v", err)
	}
	if _, err := Apply(tk, requester(), Command{Op: OpRespond}, now); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("confirmed external separation must not go back to analysis, got %v", err)
	}

	out = mustApply(t, tk, requester(), Command{Op: OpRequestNF})
	if tk.Status != domain.TicketStatusWaitingNF || out.Event != events.EventNFRequest {
		t.Fatalf("unexpected state after NF request: %s %s", tk.Status, out.Event)
	}

	if _, err := Apply(tk, a, Command{Op: OpEmitNF, NFNumber: "1", NFIssueDate: now}, now); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("attendant must not emit invoices, got %v", err)
	}
	issued := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	out = mustApply(t, tk, financeUser(), Command{Op: OpEmitNF, NFNumber: "4512", NFIssueDate: issued})
	if tk.Status != domain.TicketStatusNFEmitted || *tk.NFNumber != "4512" {
		t.Fatalf("unexpected state after emit: %s", tk.Status)
	}
	wantDeadline := time.Date(2024, 4, 9, 0, 0, 0, 0, time.UTC)
	if !tk.NFReturnDeadline.Equal(wantDeadline) {
		t.Fatalf("deadline = %s want %s", tk.NFReturnDeadline, wantDeadline)
	}
	wantText := "Invoice issued: No. 4512 on 10/01/2024. Return deadline: 09/04/2024."
	if len(out.Comments) != 1 || out.Comments[0].Text != wantText {
		t.Fatalf("unexpected emit comment %+v", out.Comments)
	}

	out = mustApply(t, tk, financeUser(), Command{Op: OpReturnNF})
	if tk.Status != domain.TicketStatusResolved || tk.NFReturnDate == nil || tk.TimeResolved == nil {
		t.Fatalf("unexpected state after return: %+v", tk)
	}
	if out.Event != events.EventNFReturned || len(out.Counters) != 1 || out.Counters[0].Delta != -1 {
		t.Fatalf("unexpected outcome after return: %+v", out)
	}
}

func TestInternalSeparationResolvesImmediately(t *testing.T) {
	tk := equipmentTicket(domain.MeetingInternal)
	tk.AssignedTo = &domain.Assignment{Identity: domain.Identity{UID: "a1"}, AssignedAt: now}
	out := mustApply(t, tk, attendant("a1"), Command{Op: OpConfirmSeparation, SerialNumbers: map[string]string{"p1": "S1", "p2": "S2"}})
	if tk.Status != domain.TicketStatusResolved || tk.TimeResolved == nil || tk.TimeStarted == nil {
		t.Fatalf("unexpected state: %s", tk.Status)
	}
	if out.Event != events.EventResolved {
		t.Fatalf("event = %s", out.Event)
	}
	if len(out.Counters) != 1 || out.Counters[0] != (CounterDelta{UID: "a1", Delta: -1}) {
		t.Fatalf("unexpected counters: %+v", out.Counters)
	}
}

func TestSeparationConfirmedTwiceConflicts(t *testing.T) {
	tk := equipmentTicket(domain.MeetingExternal)
	tk.Status = domain.TicketStatusAnalyzing
	tk.SeparationConfirmed = true
	_, err := Apply(tk, attendant("a1"), Command{Op: OpConfirmSeparation}, now)
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestEquipmentOperationsRejectedOnStandardTickets(t *testing.T) {
	tk := queuedTicket()
	tk.Status = domain.TicketStatusWaitingUser
	_, err := Apply(tk, requester(), Command{Op: OpRequestNF}, now)
	if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
}

func TestFinanceDepartmentMemberMayEmit(t *testing.T) {
	dept := domain.FinanceDepartment
	clerk := &domain.User{ID: "c1", Name: "Clerk", Role: domain.RoleRequester, Department: &dept}
	tk := equipmentTicket(domain.MeetingExternal)
	tk.Status = domain.TicketStatusWaitingNF
	tk.SeparationConfirmed = true
	mustApply(t, tk, clerk, Command{Op: OpEmitNF, NFNumber: "9", NFIssueDate: now})
}

func TestOperationFor(t *testing.T) {
	tk := queuedTicket()
	tk.Status = domain.TicketStatusWaitingUser
	op, ok := OperationFor(tk, domain.TicketStatusAnalyzing)
	if !ok || op != OpRespond {
		t.Fatalf("got %s %v", op, ok)
	}
	if _, ok := OperationFor(tk, domain.TicketStatusWaitingNF); ok {
		t.Fatalf("standard ticket must not reach waiting_nf")
	}
	tk.Status = domain.TicketStatusQueue
	if op, _ := OperationFor(tk, domain.TicketStatusCanceled); op != OpCancel {
		t.Fatalf("got %s", op)
	}
}

func TestAllowedForAttendantOnStartedTicket(t *testing.T) {
	tk := queuedTicket()
	tk.Status = domain.TicketStatusStarted
	got := Allowed(tk, attendant("a1"))
	want := map[Operation]bool{OpAnalyze: true, OpResolve: true, OpCancel: true}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for _, op := range got {
		if !want[op] {
			t.Fatalf("unexpected op %s in %v", op, got)
		}
	}
}

func TestCanView(t *testing.T) {
	sales := "vendas"
	other := "rh"
	tk := queuedTicket()
	cases := []struct {
		name  string
		actor *domain.User
		want  bool
	}{
		{"requester", requester(), true},
		{"attendant", attendant("a1"), true},
		{"manager same dept", &domain.User{ID: "m1", Role: domain.RoleManager, Department: &sales}, true},
		{"manager other dept", &domain.User{ID: "m2", Role: domain.RoleManager, Department: &other}, false},
		{"stranger", &domain.User{ID: "x", Role: domain.RoleRequester}, false},
		{"finance on standard", financeUser(), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanView(tc.actor, tk); got != tc.want {
				t.Fatalf("CanView = %v want %v", got, tc.want)
			}
		})
	}
}
