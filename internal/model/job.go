package model

import (
	"errors"
	"strings"
)

// JobStatus represents the lifecycle status of a review job
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IsTerminal reports whether the job status is final
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// StageStatus represents the lifecycle status of a single review stage
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// IsTerminal reports whether the stage status is final
func (s StageStatus) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Rank orders stage statuses by how far along the lifecycle they are.
// Terminal statuses share the top rank: a stage never moves back down,
// but the oracle, applying at equal-or-higher rank, may swap one terminal
// status for the other when its record disagrees.
func (s StageStatus) Rank() int {
	switch s {
	case StageRunning:
		return 1
	case StageCompleted, StageFailed:
		return 2
	default:
		return 0
	}
}

// ParseStageStatus validates a status string received from the oracle
func ParseStageStatus(raw string) (StageStatus, error) {
	switch StageStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StagePending:
		return StagePending, nil
	case StageRunning:
		return StageRunning, nil
	case StageCompleted:
		return StageCompleted, nil
	case StageFailed:
		return StageFailed, nil
	}
	return "", errors.New("unknown stage status: " + raw)
}

// ParseJobStatus validates a job status string received from the oracle
func ParseJobStatus(raw string) (JobStatus, error) {
	switch JobStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case JobPending:
		return JobPending, nil
	case JobRunning:
		return JobRunning, nil
	case JobCompleted:
		return JobCompleted, nil
	case JobFailed:
		return JobFailed, nil
	}
	return "", errors.New("unknown job status: " + raw)
}

// ConnectionState represents the status of the push transport
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
)

// JobView is an immutable snapshot of one watched job, handed to callers
// by the observable facade. Mutating it does not affect internal state.
type JobView struct {
	JobID           string                 `json:"job_id"`
	Status          JobStatus              `json:"status"`
	Stages          map[string]StageStatus `json:"stages"`
	AggregateCount  int                    `json:"aggregate_count"`
	Error           string                 `json:"error,omitempty"`
	ConnectionState ConnectionState        `json:"connection_state"`
}

// CloneStages returns a defensive copy of a stage map
func CloneStages(stages map[string]StageStatus) map[string]StageStatus {
	out := make(map[string]StageStatus, len(stages))
	for name, status := range stages {
		out[name] = status
	}
	return out
}
