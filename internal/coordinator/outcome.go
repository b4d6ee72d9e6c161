package coordinator

import (
	"errors"

	"github.com/google/uuid"

	"github.com/djlord-it/wichtel/internal/domain"
	"github.com/djlord-it/wichtel/internal/draw"
)

var (
	// ErrPersistence wraps store failures that left the draw unfinished.
	ErrPersistence = errors.New("coordinator: persisting draw failed")

	// ErrTimeout is returned when a caller stops waiting for a draw. The draw
	// itself keeps its own deadline.
	ErrTimeout = errors.New("coordinator: draw did not finish in time")

	// ErrDrawFailed replays a failure stored on the event. Only an explicit
	// reset clears it.
	ErrDrawFailed = errors.New("coordinator: draw failed earlier, reset the event to retry")
)

type Status string

const (
	StatusCompleted        Status = "completed"
	StatusAlreadyCompleted Status = "already-completed"
	StatusInfeasible       Status = "infeasible"
	StatusError            Status = "error"
)

// Outcome is the result of Start. Assignments is set for the completed
// statuses, Reason for infeasible and Detail for error.
type Outcome struct {
	EventID     uuid.UUID
	Status      Status
	Assignments []domain.Assignment
	Reason      string
	Detail      string

	// Strategy is the generator stage that produced a new assignment.
	Strategy draw.Strategy
}

// Completed reports whether the event holds an assignment set.
func (o Outcome) Completed() bool {
	return o.Status == StatusCompleted || o.Status == StatusAlreadyCompleted
}

func infeasible(id uuid.UUID, reason, detail string) Outcome {
	return Outcome{EventID: id, Status: StatusInfeasible, Reason: reason, Detail: detail}
}

func failed(id uuid.UUID, err error) Outcome {
	return Outcome{EventID: id, Status: StatusError, Detail: err.Error()}
}
