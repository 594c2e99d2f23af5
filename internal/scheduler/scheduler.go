// Package scheduler fires schedule-typed rules through the dispatch path at
// their configured times.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"notifyd/internal/notify"
	"notifyd/internal/rule"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty = local time
}

// FireFunc is invoked when a rule's schedule comes due.
type FireFunc func(ctx context.Context, r *notify.Rule)

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	fire FireFunc

	rules storage.RuleRepo

	c       *cron.Cron
	running bool
}

func New(cfg Config, rules storage.RuleRepo, fire FireFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:   log.With(logx.String("comp", "scheduler")),
		cfg:   cfg,
		fire:  fire,
		rules: rules,
	}
}

// Start loads schedule-typed rules and begins firing them. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || !s.cfg.Enabled {
		return nil
	}
	if err := s.rebuildLocked(ctx); err != nil {
		return err
	}
	s.running = true
	return nil
}

// Rebuild replaces the cron entries from the current rule set. Called after
// rule CRUD and on config reload.
func (s *Service) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	return s.rebuildLocked(ctx)
}

// Apply updates runtime config; a timezone change rebuilds the entries.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := !strings.EqualFold(strings.TrimSpace(s.cfg.Timezone), strings.TrimSpace(cfg.Timezone))
	s.cfg = cfg
	if !s.running {
		return nil
	}
	if !cfg.Enabled {
		s.stopLocked(ctx)
		s.running = false
		return nil
	}
	if tzChanged {
		return s.rebuildLocked(ctx)
	}
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
	s.running = false
}

func (s *Service) stopLocked(ctx context.Context) {
	if s.c == nil {
		return
	}
	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.c = nil
}

func (s *Service) rebuildLocked(ctx context.Context) error {
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid timezone; keeping local time", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	s.loc = loc

	all, err := s.rules.List(ctx)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithLocation(loc))
	added := 0
	for _, r := range all {
		if !r.Enabled || r.Trigger.Schedule == "" {
			continue
		}
		expr, err := rule.NormalizeSchedule(r.Trigger.Schedule)
		if err != nil {
			// Validated at create time; a bad descriptor here means stored
			// state predates validation. Skip, don't crash the scheduler.
			s.log.Warn("skipping rule with invalid schedule",
				logx.String("rule", r.ID), logx.Err(err))
			continue
		}
		rr := r
		if _, err := c.AddFunc(expr, func() { s.fireRule(rr) }); err != nil {
			s.log.Warn("cron registration failed",
				logx.String("rule", rr.ID), logx.String("expr", expr), logx.Err(err))
			continue
		}
		added++
	}

	s.stopLocked(ctx)
	s.c = c
	c.Start()
	s.log.Info("schedule entries rebuilt", logx.Int("rules", added), logx.String("tz", loc.String()))
	return nil
}

// Entries reports the number of registered cron entries.
func (s *Service) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return 0
	}
	return len(s.c.Entries())
}

func (s *Service) fireRule(r *notify.Rule) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.log.Debug("schedule fired", logx.String("rule", r.ID))
	s.fire(ctx, r)
}
