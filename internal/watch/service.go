package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/auth"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/config"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/model"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/reconcile"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/stream"
	"github.com/robfig/cron/v3"
)

// ErrJobIDRequired is returned by Subscribe for a blank job identifier
var ErrJobIDRequired = errors.New("job id is required")

// ServiceOption customizes service construction
type ServiceOption func(*Service)

// WithDialer overrides the WebSocket dialer, used by tests to substitute
// a scripted transport
func WithDialer(d stream.Dialer) ServiceOption {
	return func(s *Service) {
		if d != nil {
			s.dialer = d
		}
	}
}

// Service is the registry of active job subscriptions. It owns the shared
// credential provider, oracle fetcher, and transport dialer, and runs an
// optional cron-scheduled resync sweep across every active subscription.
type Service struct {
	cfg     *config.Config
	creds   auth.CredentialProvider
	fetcher reconcile.Fetcher
	dialer  stream.Dialer
	cron    *cron.Cron

	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewService creates a subscription service
func NewService(cfg *config.Config, creds auth.CredentialProvider, fetcher reconcile.Fetcher, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:     cfg,
		creds:   creds,
		fetcher: fetcher,
		dialer:  stream.WebSocketDialer{},
		subs:    make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the scheduled resync sweep when one is configured
func (s *Service) Start() error {
	if s.cfg.ResyncSchedule == "" {
		slog.Info("Resync sweep disabled")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.ResyncSchedule, s.ResyncAll); err != nil {
		return fmt.Errorf("invalid resync schedule %q: %w", s.cfg.ResyncSchedule, err)
	}
	c.Start()
	s.cron = c

	slog.Info("Resync sweep scheduled", "schedule", s.cfg.ResyncSchedule)
	return nil
}

// Stop halts the resync sweep and closes every active subscription
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[string]*Subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	slog.Info("Watch service stopped", "subscriptions_closed", len(subs))
}

// Subscribe opens a subscription for one job, or returns the existing one:
// at most one live subscription exists per job
func (s *Service) Subscribe(ctx context.Context, jobID string, opts ...SubscribeOption) (*Subscription, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, ErrJobIDRequired
	}

	s.mu.Lock()
	if existing, exists := s.subs[jobID]; exists {
		s.mu.Unlock()
		return existing, nil
	}
	sub := newSubscription(jobID, opts...)
	s.subs[jobID] = sub
	s.mu.Unlock()

	conn := stream.NewManager(
		stream.Config{
			JobID:             jobID,
			EventsURL:         fmt.Sprintf("%s/api/v1/reviews/%s/events", s.cfg.StreamBaseURL, jobID),
			KeepAliveInterval: s.cfg.KeepAliveInterval,
			ReconnectDelay:    s.cfg.ReconnectDelay,
			DialTimeout:       s.cfg.DialTimeout,
		},
		s.dialer,
		s.creds,
		func() bool { return !sub.machine.Terminal() },
		sub.handleFrame,
		sub.handleConnState,
	)
	rec := reconcile.New(jobID, s.cfg.ReconcileInterval, s.fetcher, sub.reports)

	sub.start(ctx, conn, rec)
	return sub, nil
}

// Unsubscribe closes and discards the subscription for one job
func (s *Service) Unsubscribe(jobID string) bool {
	s.mu.Lock()
	sub, exists := s.subs[jobID]
	if exists {
		delete(s.subs, jobID)
	}
	s.mu.Unlock()

	if !exists {
		return false
	}
	sub.Close()
	return true
}

// Get returns the live subscription for one job
func (s *Service) Get(jobID string) (*Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, exists := s.subs[jobID]
	return sub, exists
}

// Snapshot returns the current view of one watched job
func (s *Service) Snapshot(jobID string) (model.JobView, bool) {
	sub, exists := s.Get(jobID)
	if !exists {
		return model.JobView{}, false
	}
	return sub.Snapshot(), true
}

// Snapshots returns views of every watched job, ordered by job ID
func (s *Service) Snapshots() []model.JobView {
	s.mu.RLock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	views := make([]model.JobView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, sub.Snapshot())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].JobID < views[j].JobID })
	return views
}

// ResyncAll kicks an immediate reconciliation tick on every active
// subscription
func (s *Service) ResyncAll() {
	s.mu.RLock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.Resync()
	}
	slog.Info("Resync sweep triggered", "subscriptions", len(subs))
}
