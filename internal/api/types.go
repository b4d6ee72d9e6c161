package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/djlord-it/wichtel/internal/coordinator"
	"github.com/djlord-it/wichtel/internal/domain"
)

const dateLayout = time.DateOnly

type CreatorRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type CreateEventRequest struct {
	Name       string           `json:"name"`
	PriceLimit *decimal.Decimal `json:"price_limit,omitempty"`
	EventDate  string           `json:"event_date"`        // YYYY-MM-DD
	DrawAt     *time.Time       `json:"draw_at,omitempty"` // optional automatic start
	Creator    CreatorRequest   `json:"creator"`
}

// UpdateEventRequest changes only the fields that are present.
type UpdateEventRequest struct {
	Name       *string          `json:"name,omitempty"`
	PriceLimit *decimal.Decimal `json:"price_limit,omitempty"`
	EventDate  *string          `json:"event_date,omitempty"`
	DrawAt     *time.Time       `json:"draw_at,omitempty"`
	ClearDraw  bool             `json:"clear_draw_at,omitempty"`
}

type AddParticipantRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Status string `json:"status,omitempty"` // default invited
}

type ParticipantStatusRequest struct {
	Status string `json:"status"`
}

type AddExclusionRequest struct {
	GiverID     string `json:"giver_id"`
	RecipientID string `json:"recipient_id"`
	OneWay      bool   `json:"one_way,omitempty"`
}

type CreateEventResponse struct {
	EventID   string `json:"event_id"`
	CreatorID string `json:"creator_id"`
	Message   string `json:"message"`
}

type FailureResponse struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type EventResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	CreatorID   string              `json:"creator_id"`
	PriceLimit  decimal.NullDecimal `json:"price_limit"`
	EventDate   string              `json:"event_date"`
	DrawAt      *string             `json:"draw_at,omitempty"`
	Status      string              `json:"status"`
	Failure     *FailureResponse    `json:"failure,omitempty"`
	StartedAt   *string             `json:"started_at,omitempty"`
	CompletedAt *string             `json:"completed_at,omitempty"`
	NotifiedAt  *string             `json:"notified_at,omitempty"`
	CreatedAt   string              `json:"created_at"`
	UpdatedAt   string              `json:"updated_at"`
}

type ListEventsResponse struct {
	Events []EventResponse `json:"events"`
}

type ParticipantResponse struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type ListParticipantsResponse struct {
	Participants []ParticipantResponse `json:"participants"`
}

type ExclusionResponse struct {
	ID          string `json:"id"`
	GiverID     string `json:"giver_id"`
	RecipientID string `json:"recipient_id"`
	OneWay      bool   `json:"one_way"`
}

type ListExclusionsResponse struct {
	Exclusions []ExclusionResponse `json:"exclusions"`
}

type AssignmentResponse struct {
	GiverID     string `json:"giver_id"`
	RecipientID string `json:"recipient_id"`
}

type ListAssignmentsResponse struct {
	Assignments []AssignmentResponse `json:"assignments"`
}

// StartResponse is the result object of a start request.
type StartResponse struct {
	EventID     string               `json:"event_id"`
	Status      string               `json:"status"`
	Message     string               `json:"message,omitempty"`
	Assignments []AssignmentResponse `json:"assignments,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Detail      string               `json:"detail,omitempty"`
}

type ResetResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toEventResponse(ev domain.Event) EventResponse {
	resp := EventResponse{
		ID:          ev.ID.String(),
		Name:        ev.Name,
		CreatorID:   ev.CreatorID.String(),
		PriceLimit:  ev.PriceLimit,
		EventDate:   ev.EventDate.Format(dateLayout),
		DrawAt:      formatTimePtr(ev.DrawAt),
		Status:      string(ev.Status),
		StartedAt:   formatTimePtr(ev.StartedAt),
		CompletedAt: formatTimePtr(ev.CompletedAt),
		NotifiedAt:  formatTimePtr(ev.NotifiedAt),
		CreatedAt:   formatTime(ev.CreatedAt),
		UpdatedAt:   formatTime(ev.UpdatedAt),
	}
	if ev.Failure != nil {
		resp.Failure = &FailureResponse{Kind: string(ev.Failure.Kind), Reason: ev.Failure.Reason}
	}
	return resp
}

func toParticipantResponse(p domain.Participant) ParticipantResponse {
	return ParticipantResponse{
		ID:        p.ID.String(),
		EventID:   p.EventID.String(),
		Name:      p.Name,
		Email:     p.Email,
		Status:    string(p.Status),
		CreatedAt: formatTime(p.CreatedAt),
	}
}

func toAssignmentResponses(assignments []domain.Assignment) []AssignmentResponse {
	out := make([]AssignmentResponse, len(assignments))
	for i, a := range assignments {
		out[i] = AssignmentResponse{GiverID: a.GiverID.String(), RecipientID: a.RecipientID.String()}
	}
	return out
}

func toStartResponse(out coordinator.Outcome) StartResponse {
	resp := StartResponse{
		EventID: out.EventID.String(),
		Status:  string(out.Status),
		Reason:  out.Reason,
		Detail:  out.Detail,
	}
	if out.Completed() {
		resp.Message = "Wichtel assigned"
		resp.Assignments = toAssignmentResponses(out.Assignments)
	}
	return resp
}
