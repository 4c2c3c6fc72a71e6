// Package watch is the observable facade over one or more review-job
// subscriptions. A Subscription ties the push transport, the stage state
// machine, and the reconciliation poller together behind a single apply
// loop, and exposes immutable snapshots to callers.
package watch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/model"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/protocol"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/reconcile"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/state"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/stream"
	"github.com/google/uuid"
)

// EventFunc observes accepted push events, invoked once per event that
// changed state, in the order applied. Reconcile corrections do not
// invoke it.
type EventFunc func(ev protocol.Event)

// SubscribeOption customizes one subscription
type SubscribeOption func(*Subscription)

// WithOnEvent registers a callback for accepted push events
func WithOnEvent(fn EventFunc) SubscribeOption {
	return func(s *Subscription) {
		s.onEvent = fn
	}
}

// Subscription is the live handle for one watched job. All state machine
// mutations happen on its apply loop goroutine: push frames and oracle
// readings are funneled through channels, so a reconcile result is never
// merged while a frame is mid-application.
type Subscription struct {
	ID    string
	jobID string

	machine *state.Machine
	conn    *stream.Manager
	rec     *reconcile.Reconciler

	frames  chan []byte
	reports chan reconcile.Report
	onEvent EventFunc

	stop         chan struct{}
	stopOnce     sync.Once
	terminalOnce sync.Once
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	mu        sync.Mutex
	connState model.ConnectionState
}

// newSubscription wires a subscription; start launches its goroutines.
func newSubscription(jobID string, opts ...SubscribeOption) *Subscription {
	s := &Subscription{
		ID:        uuid.New().String(),
		jobID:     jobID,
		machine:   state.New(jobID),
		frames:    make(chan []byte, 64),
		reports:   make(chan reconcile.Report, 4),
		stop:      make(chan struct{}),
		connState: model.Disconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Subscription) start(ctx context.Context, conn *stream.Manager, rec *reconcile.Reconciler) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.conn = conn
	s.rec = rec

	s.wg.Add(1)
	go s.run(ctx)

	s.conn.Start(ctx)
	s.rec.Start(ctx)

	slog.Info("Subscription opened",
		"subscription_id", s.ID,
		"job_id", s.jobID,
	)
}

// JobID returns the watched job's identifier
func (s *Subscription) JobID() string {
	return s.jobID
}

// Snapshot returns an immutable view of the job: connection state, stage
// map copy, job status, and aggregate count. Mutating the returned value
// does not affect internal state.
func (s *Subscription) Snapshot() model.JobView {
	view := s.machine.Snapshot()
	view.ConnectionState = s.ConnectionState()
	return view
}

// ConnectionState returns the push transport's current state
func (s *Subscription) ConnectionState() model.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// Resync requests an immediate reconciliation tick
func (s *Subscription) Resync() {
	s.rec.Kick()
}

// Close releases the subscription: the transport is closed immediately,
// the keep-alive and reconnect timers are cancelled, the reconciliation
// loop stops, and no state mutation occurs afterwards even if queued
// frames arrive late.
func (s *Subscription) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.conn.Stop()
		s.rec.Stop()
		s.cancel()
		s.wg.Wait()
		slog.Info("Subscription closed",
			"subscription_id", s.ID,
			"job_id", s.jobID,
		)
	})
}

// handleFrame is called from the transport read loop; it hands the frame
// to the apply loop without blocking a closing subscription
func (s *Subscription) handleFrame(raw []byte) {
	select {
	case s.frames <- raw:
	case <-s.stop:
	}
}

// handleConnState publishes transport state changes
func (s *Subscription) handleConnState(cs model.ConnectionState) {
	s.mu.Lock()
	s.connState = cs
	s.mu.Unlock()
}

// run is the apply loop: the only goroutine that mutates the state machine
func (s *Subscription) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case raw := <-s.frames:
			s.applyFrame(raw)
		case report := <-s.reports:
			s.applyReport(report)
		}
	}
}

// applyFrame decodes and applies one push frame. Malformed frames and
// protocol violations are dropped with a warning; they never crash the
// subscription.
func (s *Subscription) applyFrame(raw []byte) {
	ev, err := protocol.Decode(raw)
	if err != nil {
		slog.Warn("Dropping undecodable frame",
			"job_id", s.jobID,
			"error", err,
		)
		return
	}

	applied, err := s.machine.Apply(ev)
	if err != nil {
		slog.Warn("Dropping frame violating protocol",
			"job_id", s.jobID,
			"event_type", ev.Kind(),
			"error", err,
		)
		return
	}
	if !applied {
		return
	}

	// The success flag carries no lifecycle weight (a completed stage is
	// completed either way) but an unsuccessful completion is worth an
	// operator's attention.
	if sc, ok := ev.(protocol.StageCompleted); ok && !sc.Success {
		slog.Warn("Stage completed without success",
			"job_id", s.jobID,
			"stage", sc.Stage,
		)
	}

	if s.onEvent != nil {
		s.onEvent(ev)
	}
	if s.machine.Terminal() {
		s.enterTerminal()
	}
}

// applyReport merges one oracle reading; the oracle wins conflicts
func (s *Subscription) applyReport(report reconcile.Report) {
	if len(report.Stages) > 0 {
		s.machine.ReconcileStages(report.Stages)
	}
	s.machine.ReconcileJob(report.Job.Status, report.Job.TotalCount, report.Job.Error)
	if s.machine.Terminal() {
		s.enterTerminal()
	}
}

// enterTerminal stops the reconciliation loop once the job is final. The
// connection manager consults the machine before any reconnect, so no
// further transport attempt happens either.
func (s *Subscription) enterTerminal() {
	s.terminalOnce.Do(func() {
		view := s.machine.Snapshot()
		slog.Info("Job reached terminal status",
			"job_id", s.jobID,
			"status", view.Status,
			"aggregate_count", view.AggregateCount,
		)
		s.rec.Stop()
	})
}
