package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/djlord-it/wichtel/internal/coordinator"
	"github.com/djlord-it/wichtel/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	CreateEvent(ctx context.Context, ev domain.Event, creator domain.Participant) error
	GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error)
	ListEvents(ctx context.Context, limit, offset int) ([]domain.Event, error)
	UpdateEvent(ctx context.Context, ev domain.Event) error
	AddParticipant(ctx context.Context, p domain.Participant) error
	ListParticipants(ctx context.Context, eventID uuid.UUID) ([]domain.Participant, error)
	SetParticipantStatus(ctx context.Context, eventID, participantID uuid.UUID, status domain.ParticipationStatus, at time.Time) error
	AddExclusion(ctx context.Context, x domain.Exclusion) error
	ListExclusions(ctx context.Context, eventID uuid.UUID) ([]domain.Exclusion, error)
	ListAssignments(ctx context.Context, id uuid.UUID) ([]domain.Assignment, error)
}

type Coordinator interface {
	Start(ctx context.Context, id uuid.UUID) (coordinator.Outcome, error)
	Reset(ctx context.Context, id uuid.UUID) error
}

// HealthChecker reports storage health for verbose /health responses.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	store       Store
	coordinator Coordinator
	health      HealthChecker
	logger      *zap.Logger
	clock       func() time.Time
}

func NewHandler(store Store, coord Coordinator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, coordinator: coord, logger: logger, clock: time.Now}
}

func (h *Handler) WithHealthChecker(hc HealthChecker) *Handler {
	h.health = hc
	return h
}

func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

// ServeHTTP routes on path segments:
//
//	/health
//	/events
//	/events/{id}
//	/events/{id}/participants
//	/events/{id}/participants/{pid}/status
//	/events/{id}/exclusions
//	/events/{id}/start
//	/events/{id}/reset
//	/events/{id}/assignments
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	if len(parts) == 1 {
		switch {
		case parts[0] == "health" && r.Method == http.MethodGet:
			h.healthCheck(w, r)
		case parts[0] == "events" && r.Method == http.MethodPost:
			h.createEvent(w, r)
		case parts[0] == "events" && r.Method == http.MethodGet:
			h.listEvents(w, r)
		case parts[0] == "health" || parts[0] == "events":
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
		return
	}

	if parts[0] != "events" || len(parts) > 5 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	eventID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	route := strings.Join(parts[2:], "/")
	if len(parts) == 5 && parts[2] == "participants" && parts[4] == "status" {
		route = "participants/{pid}/status"
	}

	switch {
	case route == "" && r.Method == http.MethodGet:
		h.getEvent(w, r, eventID)
	case route == "" && r.Method == http.MethodPatch:
		h.updateEvent(w, r, eventID)
	case route == "participants" && r.Method == http.MethodGet:
		h.listParticipants(w, r, eventID)
	case route == "participants" && r.Method == http.MethodPost:
		h.addParticipant(w, r, eventID)
	case route == "participants/{pid}/status" && r.Method == http.MethodPut:
		h.setParticipantStatus(w, r, eventID, parts[3])
	case route == "exclusions" && r.Method == http.MethodGet:
		h.listExclusions(w, r, eventID)
	case route == "exclusions" && r.Method == http.MethodPost:
		h.addExclusion(w, r, eventID)
	case route == "start" && (r.Method == http.MethodPost || r.Method == http.MethodGet):
		h.start(w, r, eventID)
	case route == "reset" && r.Method == http.MethodPost:
		h.reset(w, r, eventID)
	case route == "assignments" && r.Method == http.MethodGet:
		h.listAssignments(w, r, eventID)
	case knownRoute(route):
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func knownRoute(route string) bool {
	switch route {
	case "", "participants", "participants/{pid}/status", "exclusions", "start", "reset", "assignments":
		return true
	}
	return false
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	if !verbose || h.health == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Components: map[string]string{"storage": "healthy"}}
	statusCode := http.StatusOK
	if err := h.health.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["storage"] = "unhealthy: " + err.Error()
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// decode reads a JSON body into v and writes the error response itself.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validateCreateEvent(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.clock().UTC()
	eventDate, _ := parseEventDate(req.EventDate)
	creator := domain.Participant{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(req.Creator.Name),
		Email:     req.Creator.Email,
		Status:    domain.ParticipationAccepted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ev := domain.Event{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(req.Name),
		CreatorID: creator.ID,
		EventDate: eventDate,
		DrawAt:    utcPtr(req.DrawAt),
		Status:    domain.EventStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.PriceLimit != nil {
		ev.PriceLimit = decimal.NewNullDecimal(*req.PriceLimit)
	}
	creator.EventID = ev.ID

	if err := h.store.CreateEvent(r.Context(), ev, creator); err != nil {
		h.writeStoreError(w, err, "create event")
		return
	}

	writeJSON(w, http.StatusCreated, CreateEventResponse{
		EventID:   ev.ID.String(),
		CreatorID: creator.ID.String(),
		Message:   "Event registered",
	})
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.store.ListEvents(r.Context(), limit, offset)
	if err != nil {
		h.writeStoreError(w, err, "list events")
		return
	}

	resp := ListEventsResponse{Events: make([]EventResponse, len(events))}
	for i, ev := range events {
		resp.Events[i] = toEventResponse(ev)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	ev, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "get event")
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(ev))
}

func (h *Handler) updateEvent(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req UpdateEventRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validateUpdateEvent(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "get event")
		return
	}
	if !ev.Editable() {
		writeError(w, http.StatusConflict, domain.ErrEventLocked.Error())
		return
	}

	if req.Name != nil {
		ev.Name = strings.TrimSpace(*req.Name)
	}
	if req.PriceLimit != nil {
		ev.PriceLimit = decimal.NewNullDecimal(*req.PriceLimit)
	}
	if req.EventDate != nil {
		ev.EventDate, _ = parseEventDate(*req.EventDate)
	}
	if req.DrawAt != nil {
		ev.DrawAt = utcPtr(req.DrawAt)
	}
	if req.ClearDraw {
		ev.DrawAt = nil
	}
	ev.UpdatedAt = h.clock().UTC()

	if err := h.store.UpdateEvent(r.Context(), ev); err != nil {
		h.writeStoreError(w, err, "update event")
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(ev))
}

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request, eventID uuid.UUID) {
	participants, err := h.store.ListParticipants(r.Context(), eventID)
	if err != nil {
		h.writeStoreError(w, err, "list participants")
		return
	}

	resp := ListParticipantsResponse{Participants: make([]ParticipantResponse, len(participants))}
	for i, p := range participants {
		resp.Participants[i] = toParticipantResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) addParticipant(w http.ResponseWriter, r *http.Request, eventID uuid.UUID) {
	var req AddParticipantRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := validateAddParticipant(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.clock().UTC()
	p := domain.Participant{
		ID:        uuid.New(),
		EventID:   eventID,
		Name:      strings.TrimSpace(req.Name),
		Email:     req.Email,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.AddParticipant(r.Context(), p); err != nil {
		h.writeStoreError(w, err, "add participant")
		return
	}
	writeJSON(w, http.StatusCreated, toParticipantResponse(p))
}

func (h *Handler) setParticipantStatus(w http.ResponseWriter, r *http.Request, eventID uuid.UUID, rawParticipantID string) {
	participantID, err := uuid.Parse(rawParticipantID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant id")
		return
	}

	var req ParticipantStatusRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := parseParticipationStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.SetParticipantStatus(r.Context(), eventID, participantID, status, h.clock().UTC()); err != nil {
		h.writeStoreError(w, err, "set participant status")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listExclusions(w http.ResponseWriter, r *http.Request, eventID uuid.UUID) {
	exclusions, err := h.store.ListExclusions(r.Context(), eventID)
	if err != nil {
		h.writeStoreError(w, err, "list exclusions")
		return
	}

	resp := ListExclusionsResponse{Exclusions: make([]ExclusionResponse, len(exclusions))}
	for i, x := range exclusions {
		resp.Exclusions[i] = ExclusionResponse{
			ID:          x.ID.String(),
			GiverID:     x.GiverID.String(),
			RecipientID: x.RecipientID.String(),
			OneWay:      x.OneWay,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) addExclusion(w http.ResponseWriter, r *http.Request, eventID uuid.UUID) {
	var req AddExclusionRequest
	if !decode(w, r, &req) {
		return
	}
	giver, recipient, err := validateAddExclusion(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	x := domain.Exclusion{
		ID:          uuid.New(),
		EventID:     eventID,
		GiverID:     giver,
		RecipientID: recipient,
		OneWay:      req.OneWay,
		CreatedAt:   h.clock().UTC(),
	}
	if err := h.store.AddExclusion(r.Context(), x); err != nil {
		h.writeStoreError(w, err, "add exclusion")
		return
	}
	writeJSON(w, http.StatusCreated, ExclusionResponse{
		ID:          x.ID.String(),
		GiverID:     x.GiverID.String(),
		RecipientID: x.RecipientID.String(),
		OneWay:      x.OneWay,
	})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	out, err := h.coordinator.Start(r.Context(), id)

	resp := toStartResponse(out)
	resp.EventID = id.String()
	if resp.Status == "" {
		resp.Status = string(coordinator.StatusError)
	}

	switch {
	case err == nil && out.Status == coordinator.StatusInfeasible:
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, coordinator.ErrTimeout):
		writeJSON(w, http.StatusGatewayTimeout, resp)
	case errors.Is(err, coordinator.ErrDrawFailed):
		writeJSON(w, http.StatusConflict, resp)
	default:
		h.logger.Error("api: start failed", zap.Stringer("event_id", id), zap.Error(err))
		if resp.Detail == "" {
			resp.Detail = "draw failed"
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.coordinator.Reset(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "reset event")
		return
	}
	writeJSON(w, http.StatusOK, ResetResponse{EventID: id.String(), Status: string(domain.EventStatusCreated)})
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	ev, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "get event")
		return
	}
	if ev.Status != domain.EventStatusCompleted {
		writeError(w, http.StatusConflict, "assignments are available once the draw has completed")
		return
	}

	assignments, err := h.store.ListAssignments(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "list assignments")
		return
	}
	writeJSON(w, http.StatusOK, ListAssignmentsResponse{Assignments: toAssignmentResponses(assignments)})
}

// writeStoreError maps store and state errors to status codes. Anything
// unexpected is logged and reported as a 500 without internals.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrEventLocked):
		writeError(w, http.StatusConflict, domain.ErrEventLocked.Error())
	case errors.Is(err, domain.ErrDuplicate):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrStatusConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("api: "+op, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
