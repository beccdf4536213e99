package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/studyowl/studyowl-backend/internal/logger"
	"github.com/studyowl/studyowl-backend/internal/repos"
	"github.com/studyowl/studyowl-backend/internal/types"
)

// QueueConfig sizes one job-type queue: worker parallelism, the upstream rate
// budget and the retry/reclaim policy.
type QueueConfig struct {
	JobType string
	Workers int
	// RatePerMinute throttles job starts to protect rate-limited upstreams
	// (embedding and chat APIs). Zero disables throttling.
	RatePerMinute int
	Burst         int
	MaxAttempts   int
	RetryBackoff  time.Duration
	// StaleRunning is how long a running job may go without a heartbeat
	// before another worker may reclaim it.
	StaleRunning   time.Duration
	PollInterval   time.Duration
	HeartbeatEvery time.Duration
}

func (c *QueueConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 15 * time.Second
	}
}

// Pool runs one job type: it polls the queue, claims due jobs and executes
// them on a bounded goroutine pool.
type Pool struct {
	log      *logger.Logger
	cfg      QueueConfig
	runs     repos.JobRunRepo
	registry *Registry
	notify   Notifier

	workers *ants.Pool
	limiter *rate.Limiter
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPool(
	baseLog *logger.Logger,
	cfg QueueConfig,
	runRepo repos.JobRunRepo,
	registry *Registry,
	notify Notifier,
) (*Pool, error) {
	if cfg.JobType == "" {
		return nil, fmt.Errorf("queue job type required")
	}
	cfg.applyDefaults()

	workers, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.Burst)
	}

	return &Pool{
		log:      baseLog.With("component", "JobPool", "job_type", cfg.JobType),
		cfg:      cfg,
		runs:     runRepo,
		registry: registry,
		notify:   notify,
		workers:  workers,
		limiter:  limiter,
	}, nil
}

// Start launches the polling loop. It returns immediately; Stop tears the
// loop and in-flight jobs down.
func (p *Pool) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()

		p.log.Info("Job pool started",
			"workers", p.cfg.Workers,
			"rate_per_minute", p.cfg.RatePerMinute,
			"max_attempts", p.cfg.MaxAttempts,
		)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.drain(ctx)
			}
		}
	}()
}

// drain claims and dispatches jobs until the queue has nothing due.
func (p *Pool) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		// Leave due jobs queued when all workers are busy; the next tick
		// picks them up.
		if p.workers.Free() == 0 {
			return
		}
		job, err := p.runs.ClaimNextRunnable(ctx, nil, p.cfg.JobType, p.cfg.StaleRunning)
		if err != nil {
			p.log.Error("Claim failed", "error", err)
			return
		}
		if job == nil {
			return
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}

		claimed := job
		p.wg.Add(1)
		if err := p.workers.Submit(func() {
			defer p.wg.Done()
			p.execute(ctx, claimed)
		}); err != nil {
			p.wg.Done()
			p.log.Error("Submit failed", "job_id", claimed.ID, "error", err)
			return
		}
	}
}

func (p *Pool) execute(ctx context.Context, job *types.JobRun) {
	rc := NewContext(ctx, p.log, job, p.runs, p.notify, RetryPolicy{
		MaxAttempts: p.cfg.MaxAttempts,
		Backoff:     p.cfg.RetryBackoff,
	})

	handler, ok := p.registry.Get(job.JobType)
	if !ok {
		// No handler is a deployment bug, retrying will not help.
		rc.job.Attempts = p.cfg.MaxAttempts
		_, _ = rc.Fail("dispatch", fmt.Errorf("no handler registered for %q", job.JobType))
		return
	}

	hbCtx, hbStop := context.WithCancel(ctx)
	defer hbStop()
	go func() {
		ticker := time.NewTicker(p.cfg.HeartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				rc.Heartbeat()
			}
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Job handler panicked", "job_id", job.ID, "panic", r)
			if _, err := rc.Fail("panic", fmt.Errorf("panic: %v", r)); err != nil {
				p.log.Error("Failed to record panic failure", "job_id", job.ID, "error", err)
			}
		}
	}()

	if err := handler.Run(rc); err != nil {
		if _, fErr := rc.Fail(job.Stage, err); fErr != nil {
			p.log.Error("Failed to record job failure", "job_id", job.ID, "error", fErr)
		}
	}
}

// Stop waits for the polling loop and in-flight jobs, then releases workers.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.workers.Release()
}
