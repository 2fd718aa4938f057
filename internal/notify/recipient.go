// Package notify turns ticket events into email messages and delivers them.
package notify

import (
	"strings"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
)

// Default mailboxes.
const (
	DefaultSupportMailbox = "suporte@tecassistiva.com.br"
	DefaultFinanceMailbox = "administrativo1@tecassistiva.com.br"
)

// Mailboxes are the shared inboxes that receive team notifications.
type Mailboxes struct {
	Support string
	Finance string
}

func (m Mailboxes) withDefaults() Mailboxes {
	if strings.TrimSpace(m.Support) == "" {
		m.Support = DefaultSupportMailbox
	}
	if strings.TrimSpace(m.Finance) == "" {
		m.Finance = DefaultFinanceMailbox
	}
	return m
}

// ResolveRecipient picks the single address an event is mailed to.
func ResolveRecipient(event events.Event, boxes Mailboxes) string {
	boxes = boxes.withDefaults()
	requester := strings.TrimSpace(event.Ticket.CreatedBy.Email)
	if requester == "" {
		requester = boxes.Support
	}

	switch event.Type {
	case events.EventNew:
		return boxes.Support
	case events.EventNFRequest, events.EventNFReturned:
		return boxes.Finance
	case events.EventNFEmitted:
		return requester
	}

	switch event.Actor.Role {
	case domain.RoleAttendant, domain.RoleAdmin:
		switch event.Type {
		case events.EventAssigned, events.EventStatusChange, events.EventResolved:
			return requester
		}
	}
	return boxes.Support
}
