package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/reachforge/outreach-engine/internal/domain"
	"github.com/reachforge/outreach-engine/internal/pkg/distlock"
	"github.com/reachforge/outreach-engine/internal/pkg/logger"
	"github.com/reachforge/outreach-engine/internal/render"
)

const (
	// DefaultTickInterval is the scanner cadence on a clean tick.
	DefaultTickInterval = 60 * time.Second
	// DefaultErrorBackoff is the cadence after a tick-level failure.
	DefaultErrorBackoff = 120 * time.Second
	// DefaultLeaseTTL bounds how long a crashed instance can hold the
	// scanner lease before a replica takes over.
	DefaultLeaseTTL = 90 * time.Second
)

// Options tunes a FollowUpEngine. Zero values take the defaults above.
type Options struct {
	TickInterval time.Duration
	ErrorBackoff time.Duration

	// Lease is the distributed lock guarding "at most one scanner per
	// deployment". Nil disables leasing (single-instance deployments,
	// tests).
	Lease distlock.Lease
}

// Stats is the running tally exposed by Status.
type Stats struct {
	Ticks              int64      `json:"ticks"`
	CampaignsScanned   int64      `json:"campaigns_scanned"`
	ProspectsEvaluated int64      `json:"prospects_evaluated"`
	FollowUpsSent      int64      `json:"follow_ups_sent"`
	ResponsesDetected  int64      `json:"responses_detected"`
	Errors             int64      `json:"errors"`
	LastTickAt         *time.Time `json:"last_tick_at,omitempty"`
}

// EngineStatus is the payload of the operational status query.
type EngineStatus struct {
	Status     string `json:"status"` // "running" or "stopped"
	WorkerID   string `json:"worker_id"`
	Statistics Stats  `json:"statistics"`
}

// FollowUpEngine owns the scanner loop. Construct one per process with New,
// start it with Start, and stop it with Stop; there are no package-level
// globals, so tests can run isolated instances side by side.
type FollowUpEngine struct {
	repo       Repository
	detector   *ResponseDetector
	dispatcher *Dispatcher

	workerID     string
	tickInterval time.Duration
	errorBackoff time.Duration
	lease        distlock.Lease
	now          func() time.Time

	// Stats
	ticks              int64
	campaignsScanned   int64
	prospectsEvaluated int64
	followUpsSent      int64
	responsesDetected  int64
	errorCount         int64
	lastTick           atomic.Value // time.Time

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// New creates a follow-up engine.
func New(repo Repository, sender Sender, opts Options) *FollowUpEngine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	return &FollowUpEngine{
		repo:         repo,
		detector:     NewResponseDetector(repo),
		dispatcher:   NewDispatcher(repo, sender, render.New()),
		workerID:     fmt.Sprintf("followup-%s", uuid.New().String()[:8]),
		tickInterval: opts.TickInterval,
		errorBackoff: opts.ErrorBackoff,
		lease:        opts.Lease,
		now:          time.Now,
	}
}

// Start launches the scanner goroutine. Calling Start on a running engine is
// a no-op.
func (e *FollowUpEngine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	logger.Info("follow-up engine starting", "worker_id", e.workerID, "tick_interval", e.tickInterval)

	e.wg.Add(1)
	go e.scanLoop()
}

// Stop cancels the scanner and waits for the in-flight tick, bounded by a
// shutdown timeout.
func (e *FollowUpEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("follow-up engine shutdown timeout", "worker_id", e.workerID)
	}

	logger.Info("follow-up engine stopped",
		"worker_id", e.workerID,
		"sent", atomic.LoadInt64(&e.followUpsSent),
		"errors", atomic.LoadInt64(&e.errorCount))
}

// Status reports running/stopped plus the statistics counters.
func (e *FollowUpEngine) Status() EngineStatus {
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}
	st := Stats{
		Ticks:              atomic.LoadInt64(&e.ticks),
		CampaignsScanned:   atomic.LoadInt64(&e.campaignsScanned),
		ProspectsEvaluated: atomic.LoadInt64(&e.prospectsEvaluated),
		FollowUpsSent:      atomic.LoadInt64(&e.followUpsSent),
		ResponsesDetected:  atomic.LoadInt64(&e.responsesDetected),
		Errors:             atomic.LoadInt64(&e.errorCount),
	}
	if v := e.lastTick.Load(); v != nil {
		t := v.(time.Time)
		st.LastTickAt = &t
	}
	return EngineStatus{Status: status, WorkerID: e.workerID, Statistics: st}
}

// scanLoop drives ticks forever until the context is cancelled. A clean
// tick reschedules at the tick interval; a failed tick backs off longer.
// The loop itself never exits on a tick error.
func (e *FollowUpEngine) scanLoop() {
	defer e.wg.Done()

	timer := time.NewTimer(0) // fire the first tick immediately
	defer timer.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-timer.C:
		}

		next := e.tickInterval
		if err := e.tick(); err != nil {
			atomic.AddInt64(&e.errorCount, 1)
			logger.Error("scanner tick failed", "worker_id", e.workerID, "error", err)
			next = e.errorBackoff
		}
		timer.Reset(next)
	}
}

// tick runs one full scan. Transient repository errors abort the tick;
// per-prospect errors are logged and skipped so one bad prospect cannot
// starve the rest of the working set.
func (e *FollowUpEngine) tick() error {
	ctx, cancel := context.WithTimeout(e.ctx, e.tickInterval)
	defer cancel()

	if e.lease != nil {
		held, err := e.lease.TryAcquire(ctx)
		if err != nil {
			return Transient("acquire scanner lease", err)
		}
		if !held {
			logger.Debug("scanner lease held elsewhere, skipping tick", "worker_id", e.workerID)
			return nil
		}
		// Release on its own context: a tick that ran out its deadline
		// would otherwise hand the lease an expired one and strand it
		// until the TTL clears it.
		defer func() {
			rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer rcancel()
			if err := e.lease.Release(rctx); err != nil {
				logger.Warn("release scanner lease failed", "worker_id", e.workerID, "error", err)
			}
		}()
	}

	atomic.AddInt64(&e.ticks, 1)
	now := e.now().UTC()
	e.lastTick.Store(now)

	campaigns, err := e.repo.ActiveFollowUpCampaigns(ctx)
	if err != nil {
		return Transient("list follow-up campaigns", err)
	}

	for _, c := range campaigns {
		if !c.IsFollowUpActive() {
			continue
		}
		atomic.AddInt64(&e.campaignsScanned, 1)
		if err := e.scanCampaign(ctx, &c, now); err != nil {
			if IsTransient(err) {
				return err
			}
			atomic.AddInt64(&e.errorCount, 1)
			logger.Error("campaign scan failed", "campaign_id", c.ID, "error", err)
		}
	}
	return nil
}

// scanCampaign evaluates every eligible prospect of one campaign.
func (e *FollowUpEngine) scanCampaign(ctx context.Context, c *domain.Campaign, now time.Time) error {
	prospects, err := e.repo.ProspectsNeedingFollowUp(ctx, c.ID)
	if err != nil {
		return Transient("list prospects", err)
	}

	for i := range prospects {
		p := &prospects[i]
		if p.FollowUpStatus != domain.FollowUpActive {
			continue
		}
		if p.Unsubscribed {
			// Normally filtered out by the repository query; an opt-out
			// recorded mid-tick still deserves a terminal state.
			if err := e.stopProspect(ctx, p, domain.ResponseUnsubscribed); err != nil {
				return err
			}
			continue
		}
		atomic.AddInt64(&e.prospectsEvaluated, 1)

		if err := e.evaluateProspect(ctx, p, c, now); err != nil {
			if IsTransient(err) {
				return err
			}
			if errors.Is(err, ErrBadTimezone) {
				// Campaign-level config problem: every prospect in this
				// campaign would hit it, so skip the rest of the campaign
				// for this tick.
				logger.Error("campaign timezone invalid, skipping campaign this tick",
					"campaign_id", c.ID, "error", err)
				return nil
			}
			atomic.AddInt64(&e.errorCount, 1)
			logger.Error("prospect evaluation failed",
				"prospect_id", p.ID, "campaign_id", c.ID, "error", err)
		}
	}
	return nil
}

// evaluateProspect runs the three-stage pipeline for one prospect:
// response detection, timing decision, dispatch.
func (e *FollowUpEngine) evaluateProspect(ctx context.Context, p *domain.Prospect, c *domain.Campaign, now time.Time) error {
	check, err := e.detector.Check(ctx, p)
	if err != nil {
		return Transient("detect response", err)
	}
	if check.Responded {
		atomic.AddInt64(&e.responsesDetected, 1)
		return e.stopProspect(ctx, p, check.Reason)
	}

	decision, err := NextFollowUpDue(p, c, now)
	if err != nil {
		return err
	}
	if decision.LimitReached {
		reason := domain.ResponseLimitReached
		if check.AutoRepliesSeen {
			reason = domain.ResponseAutoReply
		}
		return e.stopProspect(ctx, p, reason)
	}
	if !decision.Due {
		return nil
	}

	if err := e.dispatcher.Dispatch(ctx, p, c); err != nil {
		return err
	}
	atomic.AddInt64(&e.followUpsSent, 1)
	return nil
}

// stopProspect transitions active -> stopped with the given reason.
func (e *FollowUpEngine) stopProspect(ctx context.Context, p *domain.Prospect, reason domain.ResponseType) error {
	update := StopUpdate(domain.FollowUpStopped, reason, e.now().UTC())
	if err := e.repo.UpdateProspect(ctx, p.ID, update); err != nil {
		return Transient("stop prospect", err)
	}
	p.FollowUpStatus = domain.FollowUpStopped
	p.ResponseType = reason
	logger.Info("follow-ups stopped", "prospect_id", p.ID, "reason", reason)
	return nil
}
