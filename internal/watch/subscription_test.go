package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/auth"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/config"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/model"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/oracle"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/protocol"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/state"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/stream"
)

type stubConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newStubConn() *stubConn {
	return &stubConn{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *stubConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.frames:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *stubConn) Write(ctx context.Context, data []byte) error { return nil }

func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *stubConn) push(frame string) {
	c.frames <- []byte(frame)
}

type stubDialer struct {
	mu    sync.Mutex
	conns []*stubConn
}

func (d *stubDialer) Dial(ctx context.Context, url string) (stream.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newStubConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *stubDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *stubDialer) conn(i int) *stubConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type stubOracle struct {
	mu         sync.Mutex
	job        oracle.JobReport
	stages     []state.StageReport
	jobFetches int
}

func newStubOracle(jobID string) *stubOracle {
	return &stubOracle{job: oracle.JobReport{ID: jobID, Status: model.JobRunning}}
}

func (o *stubOracle) FetchJob(ctx context.Context, jobID string) (oracle.JobReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobFetches++
	return o.job, nil
}

func (o *stubOracle) FetchStages(ctx context.Context, jobID string) ([]state.StageReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]state.StageReport(nil), o.stages...), nil
}

func (o *stubOracle) setStages(stages []state.StageReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = stages
}

func (o *stubOracle) fetchCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.jobFetches
}

type eventLog struct {
	mu    sync.Mutex
	kinds []string
}

func (l *eventLog) record(ev protocol.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kinds = append(l.kinds, ev.Kind())
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.kinds...)
}

func newTestService(t *testing.T, fetcher *stubOracle, dialer *stubDialer, reconcileInterval time.Duration) *Service {
	t.Helper()
	cfg := &config.Config{
		StreamBaseURL:     "ws://oracle.test",
		KeepAliveInterval: time.Minute,
		ReconnectDelay:    40 * time.Millisecond,
		DialTimeout:       time.Second,
		ReconcileInterval: reconcileInterval,
	}
	svc := NewService(cfg, auth.NewStaticProvider("tkn"), fetcher, WithDialer(dialer))
	t.Cleanup(svc.Stop)
	return svc
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

// Exercises the full life of one watched job: stream delivery, a dropped
// connection bridged by reconciliation, and push terminating the job.
func TestSubscriptionFullLifecycle(t *testing.T) {
	fetcher := newStubOracle("42")
	dialer := &stubDialer{}
	events := &eventLog{}
	svc := newTestService(t, fetcher, dialer, 20*time.Millisecond)

	sub, err := svc.Subscribe(context.Background(), "42", WithOnEvent(events.record))
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if !waitFor(t, time.Second, func() bool { return dialer.dialCount() == 1 }) {
		t.Fatal("transport never connected")
	}

	dialer.conn(0).push(`{"type":"job_started","job_id":"42","stages":["general","security"]}`)
	if !waitFor(t, time.Second, func() bool {
		v := sub.Snapshot()
		return v.Status == model.JobRunning && len(v.Stages) == 2
	}) {
		t.Fatalf("job_started not applied: %+v", sub.Snapshot())
	}

	dialer.conn(0).push(`{"type":"stage_started","job_id":"42","stage_name":"general"}`)
	dialer.conn(0).push(`{"type":"stage_completed","job_id":"42","stage_name":"general","stage_count":3,"success":true}`)
	if !waitFor(t, time.Second, func() bool {
		v := sub.Snapshot()
		return v.Stages["general"] == model.StageCompleted && v.AggregateCount == 3
	}) {
		t.Fatalf("general stage result not applied: %+v", sub.Snapshot())
	}

	// The transport drops mid-job; the stage machine must hold its state
	// while the manager reconnects.
	dialer.conn(0).Close()
	if !waitFor(t, time.Second, func() bool { return dialer.dialCount() == 2 }) {
		t.Fatal("transport never reconnected")
	}
	if got := sub.Snapshot().Stages["general"]; got != model.StageCompleted {
		t.Fatalf("reconnect disturbed stage state: %s", got)
	}

	// The security result was missed during the outage; the oracle
	// supplies it.
	fetcher.setStages([]state.StageReport{
		{Name: "general", Status: model.StageCompleted, Count: 3},
		{Name: "security", Status: model.StageCompleted, Count: 4},
	})
	if !waitFor(t, time.Second, func() bool {
		return sub.Snapshot().Stages["security"] == model.StageCompleted
	}) {
		t.Fatalf("oracle stage result not merged: %+v", sub.Snapshot())
	}

	dialer.conn(1).push(`{"type":"job_completed","job_id":"42","total_count":7}`)
	if !waitFor(t, time.Second, func() bool {
		v := sub.Snapshot()
		return v.Status == model.JobCompleted && v.AggregateCount == 7
	}) {
		t.Fatalf("job_completed not applied: %+v", sub.Snapshot())
	}

	want := []string{"job_started", "stage_started", "stage_completed", "job_completed"}
	got := events.list()
	if len(got) != len(want) {
		t.Fatalf("event callbacks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event callbacks = %v, want %v", got, want)
		}
	}
}

func TestSubscriptionDropsBadFramesAndDuplicates(t *testing.T) {
	fetcher := newStubOracle("9")
	dialer := &stubDialer{}
	events := &eventLog{}
	svc := newTestService(t, fetcher, dialer, time.Hour)

	sub, err := svc.Subscribe(context.Background(), "9", WithOnEvent(events.record))
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if !waitFor(t, time.Second, func() bool { return dialer.dialCount() == 1 }) {
		t.Fatal("transport never connected")
	}
	conn := dialer.conn(0)

	conn.push(`{"type":"job_started","job_id":"9","stages":["lint"]}`)
	conn.push(`not json at all`)
	conn.push(`{"type":"warp_core_breach","job_id":"9"}`)
	conn.push(`{"type":"stage_completed","job_id":"77","stage_name":"lint","stage_count":5}`)
	conn.push(`{"type":"stage_completed","job_id":"9","stage_name":"lint","stage_count":2,"success":true}`)
	conn.push(`{"type":"stage_completed","job_id":"9","stage_name":"lint","stage_count":2,"success":true}`)

	if !waitFor(t, time.Second, func() bool {
		return sub.Snapshot().Stages["lint"] == model.StageCompleted
	}) {
		t.Fatalf("good frame not applied after bad ones: %+v", sub.Snapshot())
	}
	if got := sub.Snapshot().AggregateCount; got != 2 {
		t.Fatalf("duplicate delivery changed aggregate: %d", got)
	}
	if got := events.list(); len(got) != 2 {
		t.Fatalf("expected callbacks for the 2 accepted events, got %v", got)
	}
}

func TestSubscriptionStopsReconcilingWhenTerminal(t *testing.T) {
	fetcher := newStubOracle("5")
	dialer := &stubDialer{}
	svc := newTestService(t, fetcher, dialer, 15*time.Millisecond)

	sub, err := svc.Subscribe(context.Background(), "5")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if !waitFor(t, time.Second, func() bool { return dialer.dialCount() == 1 }) {
		t.Fatal("transport never connected")
	}

	dialer.conn(0).push(`{"type":"job_started","job_id":"5","stages":["general"]}`)
	dialer.conn(0).push(`{"type":"job_failed","job_id":"5","error":"runner crashed"}`)
	if !waitFor(t, time.Second, func() bool { return sub.Snapshot().Status == model.JobFailed }) {
		t.Fatalf("job_failed not applied: %+v", sub.Snapshot())
	}

	// A terminal job needs no further oracle polling.
	settled := fetcher.fetchCount()
	time.Sleep(100 * time.Millisecond)
	if got := fetcher.fetchCount(); got > settled+1 {
		t.Fatalf("oracle still polled after terminal: %d -> %d", settled, got)
	}

	// Nor does a dropped connection warrant a redial.
	dials := dialer.dialCount()
	dialer.conn(dials - 1).Close()
	time.Sleep(150 * time.Millisecond)
	if got := dialer.dialCount(); got != dials {
		t.Fatalf("transport reconnected for a terminal job: %d -> %d", dials, got)
	}
}

func TestSubscriptionCloseStopsAllActivity(t *testing.T) {
	fetcher := newStubOracle("8")
	dialer := &stubDialer{}
	svc := newTestService(t, fetcher, dialer, 15*time.Millisecond)

	sub, err := svc.Subscribe(context.Background(), "8")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if !waitFor(t, time.Second, func() bool { return dialer.dialCount() == 1 }) {
		t.Fatal("transport never connected")
	}
	conn := dialer.conn(0)
	conn.push(`{"type":"job_started","job_id":"8","stages":["general"]}`)
	if !waitFor(t, time.Second, func() bool { return sub.Snapshot().Status == model.JobRunning }) {
		t.Fatal("job_started not applied")
	}

	sub.Close()

	select {
	case <-conn.closed:
	default:
		t.Fatal("transport left open after close")
	}

	fetches := fetcher.fetchCount()
	before := sub.Snapshot()
	conn.frames <- []byte(`{"type":"job_failed","job_id":"8","error":"late"}`)
	time.Sleep(80 * time.Millisecond)

	if got := fetcher.fetchCount(); got != fetches {
		t.Fatalf("oracle polled after close: %d -> %d", fetches, got)
	}
	if after := sub.Snapshot(); after.Status != before.Status {
		t.Fatalf("state mutated after close: %s -> %s", before.Status, after.Status)
	}
}
