package queue

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Direction tells which system initiated the change.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Action is the operation to perform on the remote side.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var (
	// ErrPayloadTooLarge rejects oversized payloads at enqueue time.
	// This is a permanent error; the payload is never truncated.
	ErrPayloadTooLarge = errors.New("job payload exceeds size limit")

	// ErrNotFound reports an unknown job id.
	ErrNotFound = errors.New("job not found")

	// ErrNotPending reports an operation only valid on pending jobs.
	ErrNotPending = errors.New("job is not pending")
)

// Job is one unit of synchronization work.
type Job struct {
	ID            int64     `json:"id"`
	Module        string    `json:"module"`
	Direction     Direction `json:"direction"`
	EntityType    string    `json:"entity_type"`
	LocalID       int64     `json:"local_id,omitempty"`
	RemoteID      int64     `json:"remote_id,omitempty"`
	Action        Action    `json:"action"`
	Payload       []byte    `json:"payload,omitempty"`
	Priority      int       `json:"priority"`
	Status        Status    `json:"status"`
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"max_attempts"`
	LastError     string    `json:"last_error,omitempty"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	ProcessedAt   time.Time `json:"processed_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Spec describes a job to enqueue.
type Spec struct {
	Module        string    `validate:"required"`
	Direction     Direction `validate:"required,oneof=outbound inbound"`
	EntityType    string    `validate:"required"`
	LocalID       int64     `validate:"gte=0"`
	RemoteID      int64     `validate:"gte=0"`
	Action        Action    `validate:"required,oneof=create update delete"`
	Payload       []byte
	Priority      int
	MaxAttempts   int
	CorrelationID string

	// Debounce pushes scheduled_at into the near future so a burst of
	// triggers for the same entity collapses to one effective run. Zero
	// means run as soon as possible.
	Debounce time.Duration
}

// Dedupable reports whether the spec carries enough identity to take
// part in tuple deduplication. Jobs with neither id always insert.
func (s *Spec) Dedupable() bool {
	return s.LocalID != 0 || s.RemoteID != 0
}

// Stats summarizes queue depth by status.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	Total      int64 `json:"total"`
}
