// Package state tracks the lifecycle of a single review job and its stages.
//
// The push protocol carries no sequence numbers, so the machine is defined
// to be idempotent and monotonic per stage instead of relying on delivery
// order: a stage only ever moves pending -> running -> {completed|failed},
// terminal values are sticky, and duplicate events are no-ops.
package state

import (
	"errors"
	"sync"

	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/model"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/protocol"
)

var (
	// ErrJobMismatch indicates an event addressed to a different job.
	ErrJobMismatch = errors.New("event for different job")

	// ErrStageBeforeStart indicates a stage_* event arriving before
	// job_started announced the expected stages.
	ErrStageBeforeStart = errors.New("stage event before job_started")

	// ErrUnknownStage indicates a stage_* event naming a stage outside
	// the announced set.
	ErrUnknownStage = errors.New("stage not in expected set")
)

// StageReport is one stage row from the oracle, fed into Reconcile merging.
type StageReport struct {
	Name   string
	Status model.StageStatus
	Count  int
}

// Machine holds the push-derived and reconciled view of one job. All methods
// are safe for concurrent use; the subscription loop is the only writer, the
// facade reads snapshots.
type Machine struct {
	mu          sync.RWMutex
	jobID       string
	status      model.JobStatus
	stages      map[string]model.StageStatus
	aggregate   int
	errMsg      string
	started     bool
	totalForced bool
	oracleFinal bool
}

// New creates a machine for one job in the pending state
func New(jobID string) *Machine {
	return &Machine{
		jobID:  jobID,
		status: model.JobPending,
		stages: make(map[string]model.StageStatus),
	}
}

// Apply folds one push event into the machine. The boolean reports whether
// the event changed state; duplicates and regressions return false with a
// nil error. Protocol violations return an error and change nothing.
func (m *Machine) Apply(ev protocol.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Job() != m.jobID {
		return false, ErrJobMismatch
	}

	switch e := ev.(type) {
	case protocol.JobStarted:
		if m.status.IsTerminal() {
			return false, nil
		}
		// The reconciler may have reported the job running before the push
		// channel delivered job_started, so the stage set is merged rather
		// than gated on a first-delivery check. Duplicates stay no-ops.
		changed := false
		for _, name := range e.Stages {
			if _, exists := m.stages[name]; !exists {
				m.stages[name] = model.StagePending
				changed = true
			}
		}
		if !m.started {
			m.started = true
			changed = true
		}
		if m.status == model.JobPending {
			m.status = model.JobRunning
			changed = true
		}
		return changed, nil

	case protocol.StageStarted:
		status, err := m.lookupStage(e.Stage)
		if err != nil {
			return false, err
		}
		if status != model.StagePending {
			return false, nil
		}
		m.stages[e.Stage] = model.StageRunning
		return true, nil

	case protocol.StageCompleted:
		return m.finishStage(e.Stage, model.StageCompleted, e.Count)

	case protocol.StageFailed:
		return m.finishStage(e.Stage, model.StageFailed, 0)

	case protocol.JobCompleted:
		if m.status.IsTerminal() {
			return false, nil
		}
		m.status = model.JobCompleted
		m.aggregate = e.TotalCount
		m.totalForced = true
		return true, nil

	case protocol.JobFailed:
		if m.status.IsTerminal() {
			return false, nil
		}
		m.status = model.JobFailed
		m.errMsg = e.Error
		return true, nil
	}

	return false, protocol.ErrUnknownEventType
}

// finishStage moves a stage into a terminal status. The first terminal
// event wins; later ones for the same stage never change the status nor
// re-accumulate the counter.
func (m *Machine) finishStage(name string, terminal model.StageStatus, count int) (bool, error) {
	status, err := m.lookupStage(name)
	if err != nil {
		return false, err
	}
	if status.IsTerminal() {
		return false, nil
	}
	m.stages[name] = terminal
	if !m.totalForced {
		m.aggregate += count
	}
	return true, nil
}

func (m *Machine) lookupStage(name string) (model.StageStatus, error) {
	// A stage learned from reconciliation is addressable even when
	// job_started itself was never delivered.
	if status, exists := m.stages[name]; exists {
		return status, nil
	}
	if !m.started {
		return "", ErrStageBeforeStart
	}
	return "", ErrUnknownStage
}

// ReconcileStages merges the oracle's per-stage view. The rule is "most
// terminal wins, oracle breaks ties": an oracle status applies when its
// rank is at least the push-derived rank, so the oracle never regresses a
// terminal stage but always corrects one it reports terminal. Stages the
// push channel never announced are added, which keeps a subscription whose
// transport never came up converging on the polled truth alone.
func (m *Machine) ReconcileStages(reports []StageReport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	for _, report := range reports {
		current, exists := m.stages[report.Name]
		if !exists {
			m.stages[report.Name] = report.Status
			if report.Status.IsTerminal() && !m.totalForced {
				m.aggregate += report.Count
			}
			changed = true
			continue
		}
		if report.Status == current || report.Status.Rank() < current.Rank() {
			continue
		}
		m.stages[report.Name] = report.Status
		if report.Status.IsTerminal() && !current.IsTerminal() && !m.totalForced {
			m.aggregate += report.Count
		}
		changed = true
	}
	return changed
}

// ReconcileJob merges the oracle's job-level view. A terminal status from
// the oracle is authoritative: it overwrites any push-derived value, pins
// the aggregate to the oracle's count when one is reported, and is never
// revisited afterwards. A non-terminal oracle status never regresses a
// push-derived value.
func (m *Machine) ReconcileJob(status model.JobStatus, totalCount *int, errMsg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.oracleFinal {
		return false
	}

	if status.IsTerminal() {
		changed := m.status != status
		m.status = status
		m.oracleFinal = true
		if totalCount != nil {
			if m.aggregate != *totalCount {
				changed = true
			}
			m.aggregate = *totalCount
			m.totalForced = true
		}
		if status == model.JobFailed && errMsg != "" {
			m.errMsg = errMsg
			changed = true
		}
		return changed
	}

	if m.status.IsTerminal() || m.status == status {
		return false
	}
	if status == model.JobRunning && m.status == model.JobPending {
		m.status = model.JobRunning
		m.started = true
		return true
	}
	return false
}

// Terminal reports whether the job has reached a final status
func (m *Machine) Terminal() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.IsTerminal()
}

// Snapshot returns an immutable copy of the current job view. The
// connection state is filled in by the facade, not tracked here.
func (m *Machine) Snapshot() model.JobView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return model.JobView{
		JobID:          m.jobID,
		Status:         m.status,
		Stages:         model.CloneStages(m.stages),
		AggregateCount: m.aggregate,
		Error:          m.errMsg,
	}
}
