// Package reconcile periodically pulls authoritative job and stage status
// from the oracle so gaps in the push channel self-heal. It only fetches;
// merging happens in the subscription loop so no reconcile result is ever
// applied while a push frame is mid-application.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/oracle"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/state"
)

const defaultInterval = 2 * time.Second

// Fetcher reads the oracle's current view of a job. Satisfied by
// *oracle.Client; tests substitute a fake.
type Fetcher interface {
	FetchJob(ctx context.Context, jobID string) (oracle.JobReport, error)
	FetchStages(ctx context.Context, jobID string) ([]state.StageReport, error)
}

// Report is one oracle reading delivered to the subscription loop
type Report struct {
	Job    oracle.JobReport
	Stages []state.StageReport
}

// Reconciler polls the oracle on a fixed interval while the job is active.
// The owner stops it once the job reaches a terminal status.
type Reconciler struct {
	jobID    string
	interval time.Duration
	fetcher  Fetcher
	reports  chan<- Report

	kick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a reconciler delivering oracle readings to the reports channel
func New(jobID string, interval time.Duration, fetcher Fetcher, reports chan<- Report) *Reconciler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Reconciler{
		jobID:    jobID,
		interval: interval,
		fetcher:  fetcher,
		reports:  reports,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start begins the polling loop
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop halts polling and waits for any in-flight fetch to finish. No
// further report is delivered after Stop returns.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// Kick requests an immediate tick outside the regular cadence. Requests
// arriving while one is already pending coalesce.
func (r *Reconciler) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	// First reading immediately so a subscription opened mid-job does not
	// wait a full interval for its initial state.
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-r.kick:
			r.tick(ctx)
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick performs one oracle reading. Fetch failures are swallowed and
// retried on the next tick; the push channel may still be delivering
// correct state, so a failed poll is never an error in its own right.
func (r *Reconciler) tick(ctx context.Context) {
	job, err := r.fetcher.FetchJob(ctx, r.jobID)
	if err != nil {
		slog.Debug("Oracle job fetch failed, retrying next tick",
			"job_id", r.jobID,
			"error", err,
		)
		return
	}

	stages, err := r.fetcher.FetchStages(ctx, r.jobID)
	if err != nil {
		slog.Debug("Oracle stage fetch failed, applying job status only",
			"job_id", r.jobID,
			"error", err,
		)
		stages = nil
	}

	select {
	case r.reports <- Report{Job: job, Stages: stages}:
	case <-r.stop:
	case <-ctx.Done():
	}
}
