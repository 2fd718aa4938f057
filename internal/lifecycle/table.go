// Package lifecycle holds the ticket state machine: the transition table,
// the capability checks and the mutations each operation performs.
package lifecycle

import (
	"github.com/spec-kit/helpdesk/internal/domain"
)

// Operation names an action that may move a ticket between statuses.
type Operation string

const (
	OpStart             Operation = "start"
	OpAnalyze           Operation = "analyze"
	OpRequestInfo       Operation = "request_info"
	OpRespond           Operation = "respond"
	OpResolve           Operation = "resolve"
	OpCancel            Operation = "cancel"
	OpConfirmSeparation Operation = "confirm_separation"
	OpRequestNF         Operation = "request_nf"
	OpEmitNF            Operation = "emit_nf"
	OpReturnNF          Operation = "return_nf"
	OpComment           Operation = "comment"
)

type actorKind int

const (
	actorStaff actorKind = iota
	actorRequester
	actorStaffOrRequester
	actorFinance
	actorParticipant
)

type rule struct {
	op    Operation
	from  []domain.TicketStatus
	to    domain.TicketStatus // empty when the target depends on the ticket
	actor actorKind
	// equipment restricts the rule to separation tickets.
	equipment bool
}

var rules = []rule{
	{op: OpStart, from: statuses(domain.TicketStatusQueue), to: domain.TicketStatusStarted, actor: actorStaff},
	{op: OpAnalyze, from: statuses(domain.TicketStatusStarted), to: domain.TicketStatusAnalyzing, actor: actorStaff},
	{op: OpRequestInfo, from: statuses(domain.TicketStatusAnalyzing), to: domain.TicketStatusWaitingUser, actor: actorStaff},
	{op: OpRespond, from: statuses(domain.TicketStatusWaitingUser), to: domain.TicketStatusAnalyzing, actor: actorRequester},
	{op: OpResolve, from: statuses(domain.TicketStatusStarted, domain.TicketStatusAnalyzing, domain.TicketStatusWaitingUser), to: domain.TicketStatusResolved, actor: actorStaff},
	{op: OpCancel, from: domain.OpenStatuses, to: domain.TicketStatusCanceled, actor: actorStaffOrRequester},
	{op: OpConfirmSeparation, from: statuses(domain.TicketStatusQueue, domain.TicketStatusStarted, domain.TicketStatusAnalyzing), actor: actorStaff, equipment: true},
	{op: OpRequestNF, from: statuses(domain.TicketStatusWaitingUser), to: domain.TicketStatusWaitingNF, actor: actorRequester, equipment: true},
	{op: OpEmitNF, from: statuses(domain.TicketStatusWaitingNF), to: domain.TicketStatusNFEmitted, actor: actorFinance, equipment: true},
	{op: OpReturnNF, from: statuses(domain.TicketStatusNFEmitted), to: domain.TicketStatusResolved, actor: actorFinance, equipment: true},
	{op: OpComment, from: domain.OpenStatuses, actor: actorParticipant},
}

func statuses(s ...domain.TicketStatus) []domain.TicketStatus { return s }

func lookup(op Operation) (rule, bool) {
	for _, r := range rules {
		if r.op == op {
			return r, true
		}
	}
	return rule{}, false
}

func (r rule) allowsFrom(s domain.TicketStatus) bool {
	for _, f := range r.from {
		if f == s {
			return true
		}
	}
	return false
}

// OperationFor finds the operation that moves t to the target status.
// Operations whose target depends on ticket data are not reachable this way.
func OperationFor(t *domain.Ticket, to domain.TicketStatus) (Operation, bool) {
	for _, r := range rules {
		if r.to == "" || r.to != to || !r.allowsFrom(t.Status) {
			continue
		}
		if r.equipment && !t.IsEquipment() {
			continue
		}
		return r.op, true
	}
	return "", false
}

// Allowed lists the operations whose table entry admits t's current status
// and which actor is permitted to perform.
func Allowed(t *domain.Ticket, actor *domain.User) []Operation {
	var ops []Operation
	for _, r := range rules {
		if r.op == OpComment || !r.allowsFrom(t.Status) || (r.equipment && !t.IsEquipment()) {
			continue
		}
		if Authorize(actor, t, r.op) != nil {
			continue
		}
		if guard(t, r.op) != nil {
			continue
		}
		ops = append(ops, r.op)
	}
	return ops
}
