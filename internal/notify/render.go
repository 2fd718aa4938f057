package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
)

const dateLayout = "02/01/2006"

var statusLabels = map[domain.TicketStatus]string{
	domain.TicketStatusQueue:       "Queued",
	domain.TicketStatusStarted:     "Started",
	domain.TicketStatusAnalyzing:   "Analyzing",
	domain.TicketStatusWaitingUser: "Waiting for requester",
	domain.TicketStatusResolved:    "Resolved",
	domain.TicketStatusCanceled:    "Canceled",
	domain.TicketStatusWaitingNF:   "Waiting for invoice",
	domain.TicketStatusNFEmitted:   "Invoice issued",
}

// Rendered is a ready-to-send email.
type Rendered struct {
	Subject string
	HTML    string
}

// Render builds the subject and HTML body for event. appURL is linked from
// the call to action.
func Render(event events.Event, appURL string) Rendered {
	t := event.Ticket
	var title, intro, extra, action string

	switch event.Type {
	case events.EventNew:
		title, action = "New ticket", "Open ticket"
		intro = "A new ticket was opened."
		extra = section("Description", orDefault(t.Description, "No description"))
	case events.EventStatusChange:
		title, action = "Ticket status changed", "See changes"
		intro = "The ticket status changed."
		extra = section("Change", fmt.Sprintf("%s → %s", label(event.PreviousStatus), label(t.Status)))
		if event.Actor.Name != "" {
			extra += section("Changed by", event.Actor.Name)
		}
		if t.StatusMessage != "" {
			extra += section("Message", t.StatusMessage)
		}
	case events.EventComment:
		title, action = "New comment", "Reply"
		intro = "A comment was added to the ticket."
		extra = section("Comment by", orDefault(event.Actor.Name, "N/A")) +
			section("Text", orDefault(event.Comment, "No text"))
	case events.EventAssigned:
		title, action = "Ticket started", "Follow ticket"
		attendant := "An attendant"
		if t.AssignedTo != nil && t.AssignedTo.Name != "" {
			attendant = t.AssignedTo.Name
		}
		intro = fmt.Sprintf("%s started working on your ticket.", html.EscapeString(attendant))
	case events.EventResolved:
		title, action = "Ticket resolved", "Check solution"
		intro = "The ticket was resolved."
		extra = section("Resolution time", ResolutionTime(t.TimeStarted, t.TimeResolved))
		if t.AssignedTo != nil {
			extra += section("Resolved by", t.AssignedTo.Name)
		}
	case events.EventNFRequest:
		title, action = "Invoice requested", "Issue invoice"
		intro = "An invoice was requested for the ticket below."
		extra = section("Action required", "Check the products and issue the invoice, then record it in the helpdesk.")
	case events.EventNFEmitted:
		title, action = "Invoice issued", "Follow ticket"
		intro = "The invoice was issued and the equipment is cleared for travel."
		extra = section("Invoice number", deref(t.NFNumber)) +
			section("Return deadline", formatDate(t.NFReturnDeadline))
	case events.EventNFReturned:
		title, action = "Invoice returned", "Check ticket"
		intro = "The invoice return was recorded and the ticket is closed."
		extra = section("Invoice number", deref(t.NFNumber)) +
			section("Returned on", formatDate(t.NFReturnDate))
	default:
		title, action = "Ticket updated", "Open helpdesk"
		intro = "The ticket was updated."
	}

	var b strings.Builder
	b.WriteString(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">`)
	b.WriteString(`<div style="background: #002554; padding: 20px; text-align: center;"><h1 style="color: white; margin: 0;">Helpdesk</h1></div>`)
	b.WriteString(`<div style="padding: 30px; background: #f9fafb;">`)
	fmt.Fprintf(&b, `<h2 style="color: #002554; margin-top: 0;">%s</h2>`, html.EscapeString(title))
	fmt.Fprintf(&b, `<p>%s</p>`, intro)
	b.WriteString(ticketInfo(t))
	b.WriteString(extra)
	if appURL != "" {
		fmt.Fprintf(&b, `<p style="text-align: center; margin-top: 30px;"><a href="%s" style="background-color: #002554; color: white; padding: 12px 24px; text-decoration: none;">%s</a></p>`,
			html.EscapeString(appURL), html.EscapeString(action))
	}
	b.WriteString(`</div></div>`)

	return Rendered{
		Subject: fmt.Sprintf("%s: %s", title, t.Subject),
		HTML:    b.String(),
	}
}

func ticketInfo(t domain.Ticket) string {
	attendant := "Unassigned"
	if t.AssignedTo != nil {
		attendant = t.AssignedTo.Name
	}
	return section("Ticket", t.ID) +
		section("Subject", t.Subject) +
		section("Requester", fmt.Sprintf("%s (%s)", orDefault(t.CreatedBy.Name, "N/A"), orDefault(t.CreatedBy.Email, "N/A"))) +
		section("Priority", string(t.Priority)) +
		section("Status", label(t.Status)) +
		section("Attendant", attendant)
}

func section(name, value string) string {
	return fmt.Sprintf(`<p style="margin: 5px 0;"><strong>%s:</strong> %s</p>`, html.EscapeString(name), html.EscapeString(value))
}

// ResolutionTime formats the time between start and resolution.
func ResolutionTime(started, resolved *time.Time) string {
	if started == nil || resolved == nil {
		return "N/A"
	}
	d := resolved.Sub(*started)
	switch {
	case d < time.Hour:
		return plural(int(d.Round(time.Minute).Minutes()), "minute")
	case d < 24*time.Hour:
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
	days := int(d.Hours()) / 24
	hours := int(d.Round(time.Hour).Hours()) % 24
	return plural(days, "day") + " and " + plural(hours, "hour")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func label(s domain.TicketStatus) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.Format(dateLayout)
}

func deref(s *string) string {
	if s == nil {
		return "N/A"
	}
	return *s
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
