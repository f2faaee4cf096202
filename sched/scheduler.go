// Package sched owns the outer loop: it decides when availability and
// scrape passes are due, bounds cross-site parallelism, and guarantees a
// source is never walked by two workers at once.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/peposaru/milivault/profile"
)

// RunMode selects which passes the scheduler performs.
type RunMode string

const (
	ModeAvailability RunMode = "availability"
	ModeScrape       RunMode = "scrape"
	ModeBoth         RunMode = "both"
	ModeIntegrity    RunMode = "data_integrity"
)

// ParseRunMode validates a run mode string.
func ParseRunMode(s string) (RunMode, error) {
	switch RunMode(s) {
	case ModeAvailability, ModeScrape, ModeBoth, ModeIntegrity:
		return RunMode(s), nil
	}
	return "", fmt.Errorf("sched: unknown run mode %q", s)
}

func (m RunMode) availability() bool { return m == ModeAvailability || m == ModeBoth }
func (m RunMode) scrape() bool       { return m == ModeScrape || m == ModeBoth }

// Runner performs the actual passes. The scheduler only decides when and
// with how much parallelism.
type Runner interface {
	Availability(ctx context.Context, cohort []*profile.SiteProfile) error
	Scrape(ctx context.Context, p *profile.SiteProfile) error
	Integrity(ctx context.Context) error
}

// Config bounds the scheduler.
type Config struct {
	Mode              RunMode
	AvailabilityEvery time.Duration
	ScrapeEvery       time.Duration
	// CrossSiteLimit bounds concurrent availability cohorts.
	CrossSiteLimit int
	// FloorSleep is the wake interval when nothing is scheduled.
	FloorSleep time.Duration
}

func (c *Config) defaults() {
	if c.Mode == "" {
		c.Mode = ModeBoth
	}
	if c.AvailabilityEvery <= 0 {
		c.AvailabilityEvery = 12 * time.Hour
	}
	if c.ScrapeEvery <= 0 {
		c.ScrapeEvery = 24 * time.Hour
	}
	if c.CrossSiteLimit <= 0 {
		c.CrossSiteLimit = 10
	}
	if c.FloorSleep <= 0 {
		c.FloorSleep = 60 * time.Second
	}
}

// Scheduler runs passes over the selected profiles on their cadences.
type Scheduler struct {
	Config   Config
	Profiles []*profile.SiteProfile
	Runner   Runner
	Logger   *slog.Logger

	mu          sync.Mutex
	lastAvail   time.Time
	lastScrape  time.Time
	sourceLocks map[string]*sync.Mutex
}

// New creates a Scheduler. Cadence timers start expired, so the first wake
// runs every enabled pass.
func New(cfg Config, profiles []*profile.SiteProfile, r Runner, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		Config:      cfg,
		Profiles:    profiles,
		Runner:      r,
		Logger:      logger,
		sourceLocks: map[string]*sync.Mutex{},
	}
}

// Run loops until the context is cancelled. Cancellation is honored between
// sites, never mid-pass-write.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.RunOnce(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		d := s.nextSleep(time.Now())
		s.Logger.Info("scheduler sleeping", "for", d.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

// RunOnce performs whatever passes are currently due.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := time.Now()
	if s.Config.Mode == ModeIntegrity {
		if now.Sub(s.last(&s.lastAvail)) < s.Config.AvailabilityEvery {
			return nil
		}
		if err := s.Runner.Integrity(ctx); err != nil {
			s.Logger.Error("integrity pass failed", "err", err)
			return err
		}
		s.setLast(&s.lastAvail, now)
		return nil
	}

	if s.Config.Mode.availability() && now.Sub(s.last(&s.lastAvail)) >= s.Config.AvailabilityEvery {
		if err := s.runAvailability(ctx); err != nil {
			return err
		}
		s.setLast(&s.lastAvail, now)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Config.Mode.scrape() && now.Sub(s.last(&s.lastScrape)) >= s.Config.ScrapeEvery {
		if err := s.runScrape(ctx); err != nil {
			return err
		}
		s.setLast(&s.lastScrape, now)
	}
	return nil
}

// runAvailability fans cohorts out under the cross-site bound. Each source
// additionally holds its own lock, so a slow cohort from a previous wake
// can never overlap with this one.
func (s *Scheduler) runAvailability(ctx context.Context) error {
	groups := profile.GroupBySource(s.Profiles)
	sem := semaphore.NewWeighted(int64(s.Config.CrossSiteLimit))
	var wg sync.WaitGroup
	for _, cohort := range groups {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		cohort := cohort
		wg.Add(1)
		go func() {
			defer sem.Release(1)
			defer wg.Done()
			lock := s.sourceLock(cohort[0].SourceName)
			lock.Lock()
			defer lock.Unlock()
			if ctx.Err() != nil {
				return
			}
			if err := s.Runner.Availability(ctx, cohort); err != nil {
				s.Logger.Error("availability pass failed", "site", cohort[0].SourceName, "err", err)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// runScrape walks the selected profiles sequentially; detail fetching is
// rate limited per site, so cross-site fan-out buys little here.
func (s *Scheduler) runScrape(ctx context.Context) error {
	for _, p := range s.Profiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		lock := s.sourceLock(p.SourceName)
		lock.Lock()
		err := s.Runner.Scrape(ctx, p)
		lock.Unlock()
		if err != nil {
			s.Logger.Error("scrape pass failed", "site", p.SourceName, "err", err)
		}
	}
	return nil
}

func (s *Scheduler) sourceLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sourceLocks[name]
	if !ok {
		l = &sync.Mutex{}
		s.sourceLocks[name] = l
	}
	return l
}

func (s *Scheduler) last(t *time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *t
}

func (s *Scheduler) setLast(t *time.Time, v time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*t = v
}

// LastRuns reports the pass timestamps for the status endpoint.
func (s *Scheduler) LastRuns() (avail, scrape time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAvail, s.lastScrape
}

// nextSleep returns the wait until the earliest due pass, clamped to at
// least one second, with the floor interval when nothing is scheduled.
func (s *Scheduler) nextSleep(now time.Time) time.Duration {
	var next time.Time
	consider := func(last time.Time, every time.Duration) {
		due := last.Add(every)
		if next.IsZero() || due.Before(next) {
			next = due
		}
	}
	switch {
	case s.Config.Mode == ModeIntegrity:
		consider(s.last(&s.lastAvail), s.Config.AvailabilityEvery)
	default:
		if s.Config.Mode.availability() {
			consider(s.last(&s.lastAvail), s.Config.AvailabilityEvery)
		}
		if s.Config.Mode.scrape() {
			consider(s.last(&s.lastScrape), s.Config.ScrapeEvery)
		}
	}
	if next.IsZero() {
		return s.Config.FloorSleep
	}
	d := next.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}
