package api

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/djlord-it/wichtel/internal/domain"
)

const (
	maxNameLength  = 200
	maxEmailLength = 254
)

// maxPriceLimit keeps the ceiling inside NUMERIC(12,2).
var maxPriceLimit = decimal.New(1, 10)

func validateCreateEvent(req CreateEventRequest) error {
	if err := validateName("name", req.Name); err != nil {
		return err
	}
	if _, err := parseEventDate(req.EventDate); err != nil {
		return err
	}
	if err := validatePriceLimit(req.PriceLimit); err != nil {
		return err
	}
	if err := validateName("creator.name", req.Creator.Name); err != nil {
		return err
	}
	if err := validateEmail("creator.email", req.Creator.Email); err != nil {
		return err
	}
	return nil
}

func validateUpdateEvent(req UpdateEventRequest) error {
	if req.Name != nil {
		if err := validateName("name", *req.Name); err != nil {
			return err
		}
	}
	if req.EventDate != nil {
		if _, err := parseEventDate(*req.EventDate); err != nil {
			return err
		}
	}
	if req.ClearDraw && req.DrawAt != nil {
		return fmt.Errorf("draw_at and clear_draw_at are mutually exclusive")
	}
	return validatePriceLimit(req.PriceLimit)
}

func validateAddParticipant(req AddParticipantRequest) (domain.ParticipationStatus, error) {
	if err := validateName("name", req.Name); err != nil {
		return "", err
	}
	if err := validateEmail("email", req.Email); err != nil {
		return "", err
	}
	if req.Status == "" {
		return domain.ParticipationInvited, nil
	}
	return parseParticipationStatus(req.Status)
}

func parseParticipationStatus(s string) (domain.ParticipationStatus, error) {
	status := domain.ParticipationStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("status must be one of invited, accepted, declined")
	}
	return status, nil
}

func validateAddExclusion(req AddExclusionRequest) (giver, recipient uuid.UUID, err error) {
	if giver, err = uuid.Parse(req.GiverID); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid giver_id")
	}
	if recipient, err = uuid.Parse(req.RecipientID); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid recipient_id")
	}
	if giver == recipient {
		return uuid.Nil, uuid.Nil, fmt.Errorf("giver_id and recipient_id must differ")
	}
	return giver, recipient, nil
}

func validateName(field, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%s must be at most %d characters", field, maxNameLength)
	}
	return nil
}

func validateEmail(field, email string) error {
	if email == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(email) > maxEmailLength {
		return fmt.Errorf("%s is too long", field)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%s must be a plain address like name@example.com", field)
	}
	return nil
}

func validatePriceLimit(p *decimal.Decimal) error {
	if p == nil {
		return nil
	}
	if p.IsNegative() {
		return fmt.Errorf("price_limit must not be negative")
	}
	if !p.Equal(p.Round(2)) {
		return fmt.Errorf("price_limit has more than two decimal places")
	}
	if p.GreaterThanOrEqual(maxPriceLimit) {
		return fmt.Errorf("price_limit is too large")
	}
	return nil
}

func parseEventDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("event_date is required")
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("event_date must be formatted YYYY-MM-DD")
	}
	return t, nil
}
