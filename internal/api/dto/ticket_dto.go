package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/lifecycle"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Subject      string                `json:"subject"`
	Description  string                `json:"description"`
	Priority     domain.TicketPriority `json:"priority"`
	Department   string                `json:"department"`
	CategoryType domain.CategoryType   `json:"category_type"`
	MeetingInfo  *domain.MeetingInfo   `json:"meeting_info"`
	Products     []domain.Product      `json:"products"`
}

// StatusRequest moves a ticket to another status.
type StatusRequest struct {
	Status  domain.TicketStatus `json:"status"`
	Message string              `json:"message"`
}

// CommentRequest payload.
type CommentRequest struct {
	Text string `json:"text"`
}

// TransferRequest payload.
type TransferRequest struct {
	FromUID string `json:"from_uid"`
	ToUID   string `json:"to_uid"`
}

// SeparationRequest maps product id to serial number.
type SeparationRequest struct {
	SerialNumbers map[string]string `json:"serial_numbers"`
}

// EmitNFRequest payload. IssueDate is YYYY-MM-DD.
type EmitNFRequest struct {
	Number    string `json:"number"`
	IssueDate string `json:"issue_date"`
}

// IdentityResponse is a denormalized user reference.
type IdentityResponse struct {
	UID   string `json:"uid"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AssignmentResponse describes the attendant on a ticket.
type AssignmentResponse struct {
	IdentityResponse
	AssignedAt time.Time  `json:"assigned_at"`
	StartedAt  *time.Time `json:"started_at"`
}

// TicketResponse is the full ticket representation.
type TicketResponse struct {
	ID              string                `json:"id"`
	Subject         string                `json:"subject"`
	Description     string                `json:"description"`
	Priority        domain.TicketPriority `json:"priority"`
	Department      string                `json:"department"`
	Status          domain.TicketStatus   `json:"status"`
	StatusMessage   string                `json:"status_message,omitempty"`
	CreatedBy       IdentityResponse      `json:"created_by"`
	AssignedTo      *AssignmentResponse   `json:"assigned_to"`
	TransferredFrom *string               `json:"transferred_from,omitempty"`
	TransferredAt   *time.Time            `json:"transferred_at,omitempty"`
	TimeStarted     *time.Time            `json:"time_started"`
	TimeResolved    *time.Time            `json:"time_resolved"`
	CategoryType    domain.CategoryType   `json:"category_type"`

	MeetingInfo         *domain.MeetingInfo `json:"meeting_info,omitempty"`
	Products            []domain.Product    `json:"products,omitempty"`
	SeparationConfirmed bool                `json:"separation_confirmed"`
	NFNumber            *string             `json:"nf_number,omitempty"`
	NFIssueDate         *time.Time          `json:"nf_issue_date,omitempty"`
	NFReturnDeadline    *time.Time          `json:"nf_return_deadline,omitempty"`
	NFReturnDate        *time.Time          `json:"nf_return_date,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommentResponse represents a thread entry.
type CommentResponse struct {
	ID         string          `json:"id"`
	TicketID   string          `json:"ticket_id"`
	Text       string          `json:"text"`
	AuthorUID  string          `json:"author_uid"`
	AuthorName string          `json:"author_name"`
	AuthorRole domain.UserRole `json:"author_role"`
	IsRequest  bool            `json:"is_request"`
	IsResponse bool            `json:"is_response"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketResponse
	Comments          []CommentResponse     `json:"comments"`
	AllowedOperations []lifecycle.Operation `json:"allowed_operations"`
}

// HistoryResponse is one audit entry.
type HistoryResponse struct {
	ID          string                  `json:"id"`
	ChangedByID string                  `json:"changed_by_id"`
	ChangeType  domain.TicketChangeType `json:"change_type"`
	OldValue    map[string]any          `json:"old_value"`
	NewValue    map[string]any          `json:"new_value"`
	CreatedAt   time.Time               `json:"created_at"`
}

// NFControlResponse is one row of the invoice control list.
type NFControlResponse struct {
	Ticket   TicketResponse       `json:"ticket"`
	DaysLeft *int                 `json:"days_left"`
	Alert    domain.DeadlineAlert `json:"alert"`
}

// NewTicketResponse maps a ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	resp := TicketResponse{
		ID:                  t.ID,
		Subject:             t.Subject,
		Description:         t.Description,
		Priority:            t.Priority,
		Department:          t.Department,
		Status:              t.Status,
		StatusMessage:       t.StatusMessage,
		CreatedBy:           identity(t.CreatedBy),
		TransferredFrom:     t.TransferredFrom,
		TransferredAt:       t.TransferredAt,
		TimeStarted:         t.TimeStarted,
		TimeResolved:        t.TimeResolved,
		CategoryType:        t.CategoryType,
		MeetingInfo:         t.MeetingInfo,
		Products:            t.Products,
		SeparationConfirmed: t.SeparationConfirmed,
		NFNumber:            t.NFNumber,
		NFIssueDate:         t.NFIssueDate,
		NFReturnDeadline:    t.NFReturnDeadline,
		NFReturnDate:        t.NFReturnDate,
		Version:             t.Version,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
	if t.AssignedTo != nil {
		resp.AssignedTo = &AssignmentResponse{
			IdentityResponse: identity(t.AssignedTo.Identity),
			AssignedAt:       t.AssignedTo.AssignedAt,
			StartedAt:        t.AssignedTo.StartedAt,
		}
	}
	return resp
}

// NewTicketList maps a slice of tickets.
func NewTicketList(tickets []domain.Ticket) []TicketResponse {
	items := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, NewTicketResponse(&tickets[i]))
	}
	return items
}

// NewCommentResponse maps a comment.
func NewCommentResponse(c *domain.Comment) CommentResponse {
	return CommentResponse{
		ID:         c.ID,
		TicketID:   c.TicketID,
		Text:       c.Text,
		AuthorUID:  c.Author.UID,
		AuthorName: c.Author.Name,
		AuthorRole: c.Author.Role,
		IsRequest:  c.IsRequest,
		IsResponse: c.IsResponse,
		CreatedAt:  c.CreatedAt,
	}
}

// NewTicketDetail maps a ticket with its thread.
func NewTicketDetail(t *domain.Ticket, comments []domain.Comment, allowed []lifecycle.Operation) TicketDetailResponse {
	items := make([]CommentResponse, 0, len(comments))
	for i := range comments {
		items = append(items, NewCommentResponse(&comments[i]))
	}
	if allowed == nil {
		allowed = []lifecycle.Operation{}
	}
	return TicketDetailResponse{
		TicketResponse:    NewTicketResponse(t),
		Comments:          items,
		AllowedOperations: allowed,
	}
}

// NewHistoryList maps audit entries.
func NewHistoryList(entries []domain.TicketHistory) []HistoryResponse {
	items := make([]HistoryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, HistoryResponse{
			ID:          e.ID,
			ChangedByID: e.ChangedByID,
			ChangeType:  e.ChangeType,
			OldValue:    e.OldValue,
			NewValue:    e.NewValue,
			CreatedAt:   e.CreatedAt,
		})
	}
	return items
}

func identity(i domain.Identity) IdentityResponse {
	return IdentityResponse{UID: i.UID, Name: i.Name, Email: i.Email}
}
