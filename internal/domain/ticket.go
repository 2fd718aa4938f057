package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusQueue       TicketStatus = "queue"
	TicketStatusStarted     TicketStatus = "started"
	TicketStatusAnalyzing   TicketStatus = "analyzing"
	TicketStatusWaitingUser TicketStatus = "waiting_user"
	TicketStatusResolved    TicketStatus = "resolved"
	TicketStatusCanceled    TicketStatus = "canceled"
	TicketStatusWaitingNF   TicketStatus = "waiting_nf"
	TicketStatusNFEmitted   TicketStatus = "nf_emitted"
)

// Terminal reports whether no further transitions are possible.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusResolved || s == TicketStatusCanceled
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusQueue, TicketStatusStarted, TicketStatusAnalyzing, TicketStatusWaitingUser,
		TicketStatusResolved, TicketStatusCanceled, TicketStatusWaitingNF, TicketStatusNFEmitted:
		return true
	}
	return false
}

// OpenStatuses lists every non-terminal status.
var OpenStatuses = []TicketStatus{
	TicketStatusQueue,
	TicketStatusStarted,
	TicketStatusAnalyzing,
	TicketStatusWaitingUser,
	TicketStatusWaitingNF,
	TicketStatusNFEmitted,
}

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// Weight is used by the open-queue ordering; higher is served first.
func (p TicketPriority) Weight() int {
	switch p {
	case TicketPriorityUrgent:
		return 4
	case TicketPriorityHigh:
		return 3
	case TicketPriorityMedium:
		return 2
	case TicketPriorityLow:
		return 1
	}
	return 0
}

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	return p.Weight() > 0
}

// CategoryType selects the workflow variant.
type CategoryType string

const (
	CategoryStandard            CategoryType = "standard"
	CategoryEquipmentSeparation CategoryType = "equipment_separation"
)

// MeetingType tells whether separated equipment leaves the company.
type MeetingType string

const (
	MeetingInternal MeetingType = "internal"
	MeetingExternal MeetingType = "external"
)

// NFReturnWindowDays is the time allowed to return equipment after invoice issue.
const NFReturnWindowDays = 90

// MeetingInfo describes the meeting the equipment is separated for.
type MeetingInfo struct {
	Type          MeetingType `json:"type"`
	State         string      `json:"state,omitempty"`
	City          string      `json:"city,omitempty"`
	DepartureDate *time.Time  `json:"departure_date,omitempty"`
	ReturnDate    *time.Time  `json:"return_date,omitempty"`
	Transport     string      `json:"transport,omitempty"`
}

// Product is one item requested for separation.
type Product struct {
	ProductID    string `json:"product_id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	SerialNumber string `json:"serial_number"`
}

// Assignment is the attendant snapshot stored on a ticket.
type Assignment struct {
	Identity
	AssignedAt time.Time
	StartedAt  *time.Time
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID              string
	Subject         string
	Description     string
	Priority        TicketPriority
	Department      string
	Status          TicketStatus
	CreatedBy       Identity
	AssignedTo      *Assignment
	StatusMessage   string
	TransferredFrom *string
	TransferredAt   *time.Time
	TimeStarted     *time.Time
	TimeResolved    *time.Time
	CategoryType    CategoryType

	MeetingInfo         *MeetingInfo
	Products            []Product
	SeparationConfirmed bool
	NFNumber            *string
	NFIssueDate         *time.Time
	NFReturnDeadline    *time.Time
	NFReturnDate        *time.Time

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOrphan reports whether the ticket waits in the queue without an attendant.
func (t *Ticket) IsOrphan() bool {
	return t.Status == TicketStatusQueue && t.AssignedTo == nil
}

// IsEquipment reports whether the ticket follows the separation workflow.
func (t *Ticket) IsEquipment() bool {
	return t.CategoryType == CategoryEquipmentSeparation
}

// AssigneeID returns the current attendant id, or "".
func (t *Ticket) AssigneeID() string {
	if t.AssignedTo == nil {
		return ""
	}
	return t.AssignedTo.UID
}

// Clone returns a deep copy so callers can mutate freely.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	if t.AssignedTo != nil {
		a := *t.AssignedTo
		a.StartedAt = cloneTime(t.AssignedTo.StartedAt)
		cp.AssignedTo = &a
	}
	if t.MeetingInfo != nil {
		m := *t.MeetingInfo
		m.DepartureDate = cloneTime(t.MeetingInfo.DepartureDate)
		m.ReturnDate = cloneTime(t.MeetingInfo.ReturnDate)
		cp.MeetingInfo = &m
	}
	if t.Products != nil {
		cp.Products = append([]Product(nil), t.Products...)
	}
	cp.TransferredFrom = cloneString(t.TransferredFrom)
	cp.NFNumber = cloneString(t.NFNumber)
	cp.TransferredAt = cloneTime(t.TransferredAt)
	cp.TimeStarted = cloneTime(t.TimeStarted)
	cp.TimeResolved = cloneTime(t.TimeResolved)
	cp.NFIssueDate = cloneTime(t.NFIssueDate)
	cp.NFReturnDeadline = cloneTime(t.NFReturnDeadline)
	cp.NFReturnDate = cloneTime(t.NFReturnDate)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
