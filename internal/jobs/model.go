package jobs

import (
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"github.com/goccy/go-json"
)

type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is the record carried on the delivery topic.
type Job struct {
	ID        string          `json:"id"`
	Request   message.Request `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewID builds {correlationId}-{unixMillis}.
func NewID(correlationID string, at time.Time) string {
	return fmt.Sprintf("%s-%d", correlationID, at.UnixMilli())
}

func Decode(value []byte) (Job, error) {
	var job Job

	err := json.Unmarshal(value, &job)
	if err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}

	if job.ID == "" {
		return Job{}, ErrMissingJobID
	}

	return job, nil
}

// Status is the queryable state of a job.
type Status struct {
	ID           string          `json:"jobId"`
	State        State           `json:"status"`
	Progress     int             `json:"progress"`
	Data         message.Request `json:"data"`
	Result       *message.Result `json:"result,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	AttemptsMade int             `json:"attemptsMade"`
	CreatedAt    time.Time       `json:"createdAt"`
	ProcessedOn  *time.Time      `json:"processedOn"`
	FinishedOn   *time.Time      `json:"finishedOn"`
}
