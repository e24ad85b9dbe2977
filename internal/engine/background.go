package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// Defaults for Background.
const (
	DefaultDebounce      = 500 * time.Millisecond
	DefaultRetryInterval = 30 * time.Second
	DefaultWorkers       = 4
)

// ErrAlreadyStarted is returned by Start on a running Background.
var ErrAlreadyStarted = errors.New("background sync already started")

// Connectivity reports whether the remote is believed reachable.
type Connectivity interface {
	Online() bool
}

// Link is a settable Connectivity. The zero value is online.
type Link struct {
	down atomic.Bool
}

// Online reports the last state set.
func (l *Link) Online() bool { return !l.down.Load() }

// SetOnline records a connectivity change.
func (l *Link) SetOnline(online bool) { l.down.Store(!online) }

// PassStats summarizes one background pass.
type PassStats struct {
	Offline    bool `json:"offline,omitempty"`
	Attempted  int  `json:"attempted"`
	Synced     int  `json:"synced"`
	Superseded int  `json:"superseded"`
	Queued     int  `json:"queued"`
	Rejected   int  `json:"rejected"`
	Deferred   int  `json:"deferred"`
	Skipped    int  `json:"skipped"`
	Errors     int  `json:"errors"`
}

func (s *PassStats) record(o Outcome, err error) {
	s.Attempted++
	switch o {
	case OutcomeSynced:
		s.Synced++
	case OutcomeSuperseded:
		s.Superseded++
	case OutcomeQueued:
		s.Queued++
	case OutcomeRejected:
		s.Rejected++
	case OutcomeDeferred:
		s.Deferred++
	default:
		s.Skipped++
	}
	if err != nil && o != OutcomeRejected {
		s.Errors++
	}
}

func (s *PassStats) add(o PassStats) {
	s.Offline = s.Offline || o.Offline
	s.Attempted += o.Attempted
	s.Synced += o.Synced
	s.Superseded += o.Superseded
	s.Queued += o.Queued
	s.Rejected += o.Rejected
	s.Deferred += o.Deferred
	s.Skipped += o.Skipped
	s.Errors += o.Errors
}

// Progressed reports whether the pass confirmed anything with the remote.
func (s PassStats) Progressed() bool { return s.Synced+s.Superseded > 0 }

// Background runs sync passes over the retry queue and the store's dirty
// set: debounced after local writes, periodically, and when connectivity
// returns.
//
// At most one pass runs at a time. A trigger that arrives during a pass
// schedules exactly one more pass after it.
type Background struct {
	engine *Engine
	conn   Connectivity
	logger *slog.Logger

	debounce      time.Duration
	retryInterval time.Duration
	workers       int

	passMu sync.Mutex

	mu       sync.Mutex
	started  bool
	running  bool
	rerun    bool
	timer    *time.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	loopDone chan struct{}
	passes   sync.WaitGroup
}

// BackgroundOption configures a Background.
type BackgroundOption func(*Background)

// WithConnectivity sets the connectivity source. Default: always online.
func WithConnectivity(c Connectivity) BackgroundOption {
	return func(b *Background) { b.conn = c }
}

// WithDebounce sets how long a write trigger waits for more writes.
func WithDebounce(d time.Duration) BackgroundOption {
	return func(b *Background) { b.debounce = d }
}

// WithRetryInterval sets the periodic pass interval.
func WithRetryInterval(d time.Duration) BackgroundOption {
	return func(b *Background) { b.retryInterval = d }
}

// WithWorkers bounds the syncs a pass runs concurrently. Use 1 for a
// deterministic order.
func WithWorkers(n int) BackgroundOption {
	return func(b *Background) { b.workers = n }
}

// WithBackgroundLogger sets the logger. Default: the engine's logger.
func WithBackgroundLogger(l *slog.Logger) BackgroundOption {
	return func(b *Background) { b.logger = l }
}

// NewBackground creates a stopped Background for e and installs it as e's
// trigger.
func NewBackground(e *Engine, opts ...BackgroundOption) *Background {
	b := &Background{
		engine:        e,
		conn:          &Link{},
		logger:        e.logger,
		debounce:      DefaultDebounce,
		retryInterval: DefaultRetryInterval,
		workers:       DefaultWorkers,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.workers < 1 {
		b.workers = 1
	}
	e.SetTrigger(b)
	return b
}

var (
	sharedMu sync.Mutex
	shared   *Background
)

// Shared returns the Background installed by the last Start, or nil.
func Shared() *Background {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	return shared
}

// Start begins periodic passes and runs one immediately. The Background
// lives until Stop or until ctx is cancelled.
func (b *Background) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.started = true
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.stopCh = make(chan struct{})
	b.loopDone = make(chan struct{})
	b.mu.Unlock()

	sharedMu.Lock()
	shared = b
	sharedMu.Unlock()

	go b.loop()
	b.logger.Info("background sync started",
		"retry_interval", b.retryInterval.String(),
		"debounce", b.debounce.String(),
		"workers", b.workers)
	b.schedule()
	return nil
}

func (b *Background) loop() {
	defer close(b.loopDone)
	ticker := time.NewTicker(b.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.schedule()
		case <-b.stopCh:
			return
		case <-b.ctx.Done():
			return
		}
	}
}

// Stop halts the timers, waits for the running pass, runs a final pass
// and waits for the engine's sync goroutines, all bounded by ctx. Entities
// that did not make it stay dirty.
func (b *Background) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	if b.timer != nil {
		b.timer.Stop()
	}
	close(b.stopCh)
	loopDone := b.loopDone
	cancel := b.cancel
	b.mu.Unlock()
	defer cancel()

	sharedMu.Lock()
	if shared == b {
		shared = nil
	}
	sharedMu.Unlock()

	<-loopDone

	done := make(chan struct{})
	go func() {
		b.passes.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	stats, err := b.RunPass(ctx)
	b.logger.Info("background sync stopped", "final_synced", stats.Synced, "final_queued", stats.Queued)
	if err != nil {
		return err
	}
	return b.engine.Wait(ctx)
}

// TriggerBackgroundSync requests a pass after the debounce delay. Repeated
// triggers within the delay collapse into one pass. It never blocks and is
// a no-op while the Background is stopped.
func (b *Background) TriggerBackgroundSync() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}
	if b.running {
		b.rerun = true
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.debounce, b.schedule)
		return
	}
	b.timer.Reset(b.debounce)
}

// ConnectivityRestored runs a pass right away.
func (b *Background) ConnectivityRestored() {
	b.logger.Info("connectivity restored")
	b.schedule()
}

// schedule starts a pass on its own goroutine unless one is running, in
// which case one more pass follows it.
func (b *Background) schedule() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	if b.running {
		b.rerun = true
		b.mu.Unlock()
		return
	}
	b.running = true
	ctx := b.ctx
	b.passes.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.passes.Done()
		for {
			if _, err := b.RunPass(ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Warn("sync pass failed", "error", err)
			}
			b.mu.Lock()
			if !b.rerun || !b.started {
				b.running = false
				b.rerun = false
				b.mu.Unlock()
				return
			}
			b.rerun = false
			b.mu.Unlock()
		}
	}()
}

// RunPass syncs every queued or dirty entity once. It returns immediately
// when offline. If ctx is cancelled mid-pass the remaining refs are put
// back on the queue and their NeedsSync flags are untouched.
func (b *Background) RunPass(ctx context.Context) (PassStats, error) {
	b.passMu.Lock()
	defer b.passMu.Unlock()

	var stats PassStats
	if !b.conn.Online() {
		stats.Offline = true
		b.logger.Debug("sync pass skipped: offline", "queued", b.engine.queue.Len())
		return stats, nil
	}

	refs, err := b.candidates(ctx)
	if err != nil {
		return stats, err
	}
	if len(refs) == 0 {
		return stats, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, b.workers)
	)
dispatch:
	for i, ref := range refs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			b.requeue(refs[i:])
			break dispatch
		}
		if ctx.Err() != nil {
			<-sem
			b.requeue(refs[i:])
			break
		}
		wg.Add(1)
		go func(ref ir.EntityRef) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome, err := b.engine.sync(ctx, ref, true)
			mu.Lock()
			stats.record(outcome, err)
			mu.Unlock()
		}(ref)
	}
	wg.Wait()

	b.logger.Info("sync pass",
		"attempted", stats.Attempted,
		"synced", stats.Synced,
		"queued", stats.Queued,
		"rejected", stats.Rejected,
		"deferred", stats.Deferred)
	return stats, ctx.Err()
}

// RunUntilIdle runs passes until one confirms nothing, up to maxPasses.
func (b *Background) RunUntilIdle(ctx context.Context, maxPasses int) (PassStats, error) {
	var total PassStats
	for i := 0; i < maxPasses; i++ {
		stats, err := b.RunPass(ctx)
		total.add(stats)
		if err != nil {
			return total, err
		}
		if !stats.Progressed() {
			break
		}
	}
	return total, nil
}

// candidates is the queue (in FIFO order) followed by the rest of the
// dirty set.
func (b *Background) candidates(ctx context.Context) ([]ir.EntityRef, error) {
	queued := b.engine.queue.Drain()
	dirty, err := b.engine.Pending(ctx)
	if err != nil {
		b.requeue(queued)
		return nil, err
	}

	seen := make(map[ir.EntityRef]bool, len(queued)+len(dirty))
	refs := make([]ir.EntityRef, 0, len(queued)+len(dirty))
	for _, list := range [][]ir.EntityRef{queued, dirty} {
		for _, r := range list {
			if !seen[r] {
				seen[r] = true
				refs = append(refs, r)
			}
		}
	}
	return refs, nil
}

func (b *Background) requeue(refs []ir.EntityRef) {
	for _, r := range refs {
		b.engine.queue.Enqueue(r)
	}
}
