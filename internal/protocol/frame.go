package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Liveness frames exchanged on the push transport. The probe is sent by the
// client on a fixed interval; the reply is a bare sentinel token, not JSON,
// and must be filtered out before frames reach the codec.
const (
	LivenessProbe = "ping"
	LivenessReply = "pong"
)

// Event type discriminators carried in the wire envelope
const (
	TypeJobStarted     = "job_started"
	TypeStageStarted   = "stage_started"
	TypeStageCompleted = "stage_completed"
	TypeStageFailed    = "stage_failed"
	TypeJobCompleted   = "job_completed"
	TypeJobFailed      = "job_failed"
)

var (
	// ErrMalformedFrame indicates a frame that is not valid JSON or is
	// missing fields required by its event type.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownEventType indicates a well-formed envelope with an
	// unrecognized type discriminator.
	ErrUnknownEventType = errors.New("unknown event type")
)

// Event is one decoded push notification for a review job. The concrete
// types below form a closed set keyed by the envelope's type field, so
// illegal field combinations are unrepresentable after decoding.
type Event interface {
	// Job returns the identifier of the job the event belongs to
	Job() string
	// Kind returns the wire type discriminator
	Kind() string
}

// JobStarted announces the job is running and names its expected stages.
type JobStarted struct {
	JobID  string
	Stages []string
}

func (e JobStarted) Job() string  { return e.JobID }
func (e JobStarted) Kind() string { return TypeJobStarted }

// StageStarted marks one stage as running.
type StageStarted struct {
	JobID string
	Stage string
}

func (e StageStarted) Job() string  { return e.JobID }
func (e StageStarted) Kind() string { return TypeStageStarted }

// StageCompleted marks one stage as completed, carrying the number of
// findings the stage contributed. Success does not alter the lifecycle
// transition (completed is completed); it is surfaced in logs so an
// unsuccessful completion is visible to operators.
type StageCompleted struct {
	JobID   string
	Stage   string
	Count   int
	Success bool
}

func (e StageCompleted) Job() string  { return e.JobID }
func (e StageCompleted) Kind() string { return TypeStageCompleted }

// StageFailed marks one stage as failed.
type StageFailed struct {
	JobID string
	Stage string
}

func (e StageFailed) Job() string  { return e.JobID }
func (e StageFailed) Kind() string { return TypeStageFailed }

// JobCompleted marks the job as completed with its authoritative total count.
type JobCompleted struct {
	JobID      string
	TotalCount int
}

func (e JobCompleted) Job() string  { return e.JobID }
func (e JobCompleted) Kind() string { return TypeJobCompleted }

// JobFailed marks the job as failed with a server-supplied error message.
type JobFailed struct {
	JobID string
	Error string
}

func (e JobFailed) Job() string  { return e.JobID }
func (e JobFailed) Kind() string { return TypeJobFailed }

// envelope is the flat wire shape; optional fields are pointers so missing
// required fields can be distinguished from zero values.
type envelope struct {
	Type       string   `json:"type"`
	JobID      *string  `json:"job_id"`
	StageName  *string  `json:"stage_name,omitempty"`
	Stages     []string `json:"stages,omitempty"`
	StageCount *int     `json:"stage_count,omitempty"`
	Success    *bool    `json:"success,omitempty"`
	TotalCount *int     `json:"total_count,omitempty"`
	Error      *string  `json:"error,omitempty"`
}

// IsLivenessReply reports whether a raw transport frame is the keep-alive
// sentinel rather than an event envelope.
func IsLivenessReply(raw []byte) bool {
	return string(bytes.TrimSpace(raw)) == LivenessReply
}

// Decode parses a raw transport frame into a typed event. It returns
// ErrMalformedFrame for invalid JSON or missing required fields and
// ErrUnknownEventType for unrecognized discriminators; callers drop both.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.JobID == nil || *env.JobID == "" {
		return nil, fmt.Errorf("%w: missing job_id", ErrMalformedFrame)
	}
	jobID := *env.JobID

	switch env.Type {
	case TypeJobStarted:
		if len(env.Stages) == 0 {
			return nil, fmt.Errorf("%w: job_started without stages", ErrMalformedFrame)
		}
		return JobStarted{JobID: jobID, Stages: env.Stages}, nil

	case TypeStageStarted:
		stage, err := requireStage(env)
		if err != nil {
			return nil, err
		}
		return StageStarted{JobID: jobID, Stage: stage}, nil

	case TypeStageCompleted:
		stage, err := requireStage(env)
		if err != nil {
			return nil, err
		}
		ev := StageCompleted{JobID: jobID, Stage: stage}
		if env.StageCount != nil {
			ev.Count = *env.StageCount
		}
		if env.Success != nil {
			ev.Success = *env.Success
		}
		return ev, nil

	case TypeStageFailed:
		stage, err := requireStage(env)
		if err != nil {
			return nil, err
		}
		return StageFailed{JobID: jobID, Stage: stage}, nil

	case TypeJobCompleted:
		ev := JobCompleted{JobID: jobID}
		if env.TotalCount != nil {
			ev.TotalCount = *env.TotalCount
		}
		return ev, nil

	case TypeJobFailed:
		ev := JobFailed{JobID: jobID}
		if env.Error != nil {
			ev.Error = *env.Error
		}
		return ev, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
}

func requireStage(env envelope) (string, error) {
	if env.StageName == nil || *env.StageName == "" {
		return "", fmt.Errorf("%w: %s without stage_name", ErrMalformedFrame, env.Type)
	}
	return *env.StageName, nil
}
