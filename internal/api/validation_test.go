package api

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/wichtel/internal/domain"
)

func validCreate() CreateEventRequest {
	price := decimal.RequireFromString("20")
	return CreateEventRequest{
		Name:       "Office Wichteln",
		PriceLimit: &price,
		EventDate:  "2026-12-18",
		Creator:    CreatorRequest{Name: "Ada", Email: "ada@example.com"},
	}
}

func TestValidateCreateEvent(t *testing.T) {
	dec := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}

	tests := []struct {
		name    string
		mutate  func(*CreateEventRequest)
		wantErr string
	}{
		{"valid", func(*CreateEventRequest) {}, ""},
		{"no price limit", func(r *CreateEventRequest) { r.PriceLimit = nil }, ""},
		{"cents", func(r *CreateEventRequest) { r.PriceLimit = dec("19.99") }, ""},
		{"missing name", func(r *CreateEventRequest) { r.Name = "  " }, "name is required"},
		{"long name", func(r *CreateEventRequest) { r.Name = strings.Repeat("x", 201) }, "at most 200"},
		{"missing date", func(r *CreateEventRequest) { r.EventDate = "" }, "event_date is required"},
		{"bad date", func(r *CreateEventRequest) { r.EventDate = "18.12.2026" }, "YYYY-MM-DD"},
		{"negative price", func(r *CreateEventRequest) { r.PriceLimit = dec("-1") }, "must not be negative"},
		{"sub-cent price", func(r *CreateEventRequest) { r.PriceLimit = dec("1.005") }, "two decimal places"},
		{"huge price", func(r *CreateEventRequest) { r.PriceLimit = dec("10000000000") }, "too large"},
		{"missing creator", func(r *CreateEventRequest) { r.Creator.Name = "" }, "creator.name is required"},
		{"missing email", func(r *CreateEventRequest) { r.Creator.Email = "" }, "creator.email is required"},
		{"bad email", func(r *CreateEventRequest) { r.Creator.Email = "ada" }, "creator.email"},
		{"display name email", func(r *CreateEventRequest) { r.Creator.Email = "Ada <ada@example.com>" }, "plain address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreate()
			tt.mutate(&req)
			err := validateCreateEvent(req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateUpdateEvent(t *testing.T) {
	empty := ""
	bad := "tomorrow"
	at := time.Date(2026, 12, 10, 9, 0, 0, 0, time.UTC)

	assert.NoError(t, validateUpdateEvent(UpdateEventRequest{}))
	assert.ErrorContains(t, validateUpdateEvent(UpdateEventRequest{Name: &empty}), "name is required")
	assert.ErrorContains(t, validateUpdateEvent(UpdateEventRequest{EventDate: &bad}), "YYYY-MM-DD")
	assert.ErrorContains(t, validateUpdateEvent(UpdateEventRequest{DrawAt: &at, ClearDraw: true}), "mutually exclusive")
}

func TestValidateAddParticipant(t *testing.T) {
	status, err := validateAddParticipant(AddParticipantRequest{Name: "Grace", Email: "grace@example.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipationInvited, status)

	status, err = validateAddParticipant(AddParticipantRequest{Name: "Grace", Email: "grace@example.com", Status: "accepted"})
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipationAccepted, status)

	_, err = validateAddParticipant(AddParticipantRequest{Name: "Grace", Email: "grace@example.com", Status: "maybe"})
	assert.ErrorContains(t, err, "status must be one of")

	_, err = validateAddParticipant(AddParticipantRequest{Name: "Grace"})
	assert.ErrorContains(t, err, "email is required")
}

func TestValidateAddExclusion(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	giver, recipient, err := validateAddExclusion(AddExclusionRequest{GiverID: a.String(), RecipientID: b.String()})
	require.NoError(t, err)
	assert.Equal(t, a, giver)
	assert.Equal(t, b, recipient)

	_, _, err = validateAddExclusion(AddExclusionRequest{GiverID: "nope", RecipientID: b.String()})
	assert.ErrorContains(t, err, "invalid giver_id")

	_, _, err = validateAddExclusion(AddExclusionRequest{GiverID: a.String(), RecipientID: ""})
	assert.ErrorContains(t, err, "invalid recipient_id")

	_, _, err = validateAddExclusion(AddExclusionRequest{GiverID: a.String(), RecipientID: a.String()})
	assert.ErrorContains(t, err, "must differ")
}
