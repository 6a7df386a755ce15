// Package reconcile runs the periodic sweep that reclaims expired holds and
// offers the freed capacity to waiting claimants.
package reconcile

import (
	"allotment/pkg/logger"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNotStarted     = errors.New("scheduler not running")
)

// Lister returns the resources that currently have waitlist entries.
type Lister interface {
	ListPending(ctx context.Context) ([]string, error)
}

type Reclaimer interface {
	ReclaimExpired(ctx context.Context, resourceID string) (reclaimed, promoted int, err error)
}

type Config struct {
	Interval        time.Duration
	ResourceTimeout time.Duration
	// RatePerSec paces resource visits within one sweep. Zero disables pacing.
	RatePerSec float64
}

// SweepResult summarises one pass over the pending resources.
type SweepResult struct {
	Resources int           `json:"resources"`
	Reclaimed int           `json:"reclaimed"`
	Promoted  int           `json:"promoted"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

type Scheduler struct {
	lister    Lister
	reclaimer Reclaimer
	cfg       Config
	log       *logger.Logger
	limiter   *rate.Limiter

	startOnce sync.Once
	mu        sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	last      *SweepResult
}

func NewScheduler(lister Lister, reclaimer Reclaimer, cfg Config, log *logger.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ResourceTimeout <= 0 {
		cfg.ResourceTimeout = 10 * time.Second
	}

	s := &Scheduler{
		lister:    lister,
		reclaimer: reclaimer,
		cfg:       cfg,
		log:       log.With("component", "reconcile"),
	}
	if cfg.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return s
}

// Start launches the sweep loop and returns immediately. The loop ends when ctx
// is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	var called bool
	s.startOnce.Do(func() {
		called = true
		s.mu.Lock()
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		s.mu.Unlock()
		go s.run(ctx)
	})

	if !called {
		return ErrAlreadyStarted
	}
	return nil
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	if stop == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	s.mu.Unlock()

	<-done
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("Reconciliation scheduler started",
		"interval", s.cfg.Interval,
		"resource_timeout", s.cfg.ResourceTimeout,
		"rate_per_sec", s.cfg.RatePerSec,
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Reconciliation scheduler stopped", "reason", ctx.Err())
			return
		case <-s.stop:
			s.log.Info("Reconciliation scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Error("Sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce visits every pending resource once. A failing resource is logged
// and skipped; only a failure to list resources is returned.
func (s *Scheduler) SweepOnce(ctx context.Context) (SweepResult, error) {
	started := time.Now()
	var result SweepResult

	ids, err := s.lister.ListPending(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list pending resources: %w", err)
	}

	for _, id := range ids {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return result, err
			}
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		result.Resources++
		reclaimed, promoted, err := s.sweepResource(ctx, id)
		if err != nil {
			result.Failed++
			s.log.Warn("Failed to reconcile resource", "resource_id", id, "error", err)
			continue
		}
		result.Reclaimed += reclaimed
		result.Promoted += promoted
	}

	result.Duration = time.Since(started)
	s.mu.Lock()
	s.last = &result
	s.mu.Unlock()

	if result.Reclaimed > 0 || result.Promoted > 0 || result.Failed > 0 {
		s.log.Info("Sweep completed",
			"resources", result.Resources,
			"reclaimed", result.Reclaimed,
			"promoted", result.Promoted,
			"failed", result.Failed,
			"duration", result.Duration,
		)
	}
	return result, nil
}

// LastResult returns the outcome of the most recent completed sweep.
func (s *Scheduler) LastResult() (SweepResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return SweepResult{}, false
	}
	return *s.last, true
}

func (s *Scheduler) sweepResource(ctx context.Context, id string) (int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ResourceTimeout)
	defer cancel()
	return s.reclaimer.ReclaimExpired(ctx, id)
}
