package events

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// EventType enumerates notification event identifiers.
type EventType string

const (
	EventNew          EventType = "new"
	EventStatusChange EventType = "status_change"
	EventAssigned     EventType = "assigned"
	EventResolved     EventType = "resolved"
	EventComment      EventType = "comment"
	EventNFRequest    EventType = "nf_request"
	EventNFEmitted    EventType = "nf_emitted"
	EventNFReturned   EventType = "nf_returned"
)

// AllTypes lists every event type, for subscribers interested in all of them.
var AllTypes = []EventType{
	EventNew,
	EventStatusChange,
	EventAssigned,
	EventResolved,
	EventComment,
	EventNFRequest,
	EventNFEmitted,
	EventNFReturned,
}

// Actor is the user who caused the event.
type Actor struct {
	UID  string          `json:"uid"`
	Name string          `json:"name"`
	Role domain.UserRole `json:"role"`
}

// ActorFrom builds an Actor from a directory entry.
func ActorFrom(u *domain.User) Actor {
	if u == nil {
		return Actor{UID: domain.SystemAuthor.UID, Name: domain.SystemAuthor.Name, Role: domain.SystemAuthor.Role}
	}
	return Actor{UID: u.ID, Name: u.Name, Role: u.Role}
}

// Event is emitted after a ticket changes status, receives a comment or is created.
type Event struct {
	ID             string              `json:"id"`
	Type           EventType           `json:"type"`
	TicketID       string              `json:"ticket_id"`
	Ticket         domain.Ticket       `json:"ticket"`
	Actor          Actor               `json:"user"`
	PreviousStatus domain.TicketStatus `json:"previous_status,omitempty"`
	Comment        string              `json:"comment,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
}
