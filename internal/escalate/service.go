// Package escalate re-dispatches unacknowledged high-priority notifications
// through a template's escalation rules after their delay has elapsed.
package escalate

import (
	"context"
	"sync"
	"time"

	"notifyd/internal/dispatch"
	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	rtsup "notifyd/internal/runtime/supervisor"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// Dispatcher is the slice of the dispatch service the scanner needs.
type Dispatcher interface {
	Send(ctx context.Context, req dispatch.Request) ([]*notify.NotificationLog, error)
}

type Config struct {
	Enabled      bool
	ScanInterval time.Duration
	// ScanTimeout bounds one scan pass so a slow sender cannot stall the
	// next cycle.
	ScanTimeout time.Duration
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store storage.Store
	disp  Dispatcher
	bus   eventbus.Bus
	log   logx.Logger

	sup *rtsup.Supervisor
	now func() time.Time
}

func New(cfg Config, store storage.Store, disp Dispatcher, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store: store,
		disp:  disp,
		bus:   bus,
		log:   log.With(logx.String("comp", "escalate")),
		now:   func() time.Time { return time.Now().UTC() },
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Minute
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 5 * time.Minute
	}
	s.cfg = cfg
}

// Start launches the periodic scan loop. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.GoRestart("scan", s.loop)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup != nil {
		_ = sup.Stop(ctx)
	}
}

func (s *Service) loop(ctx context.Context) {
	for {
		s.mu.Lock()
		interval := s.cfg.ScanInterval
		s.mu.Unlock()

		tmr := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return
		case <-tmr.C:
		}

		if n, err := s.Scan(ctx); err != nil {
			s.log.Warn("escalation scan failed", logx.Err(err))
		} else if n > 0 {
			s.log.Info("escalation scan complete", logx.Int("fired", n))
		}
	}
}

// Scan runs one escalation pass and returns the number of escalations fired.
// Safe to run concurrently with dispatch and with other scans: the
// last-escalated-at marker on the original log is taken atomically, so a
// rule fires at most once per delay window no matter how many scanners race.
func (s *Service) Scan(ctx context.Context) (int, error) {
	s.mu.Lock()
	timeout := s.cfg.ScanTimeout
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := s.now()
	candidates, err := s.store.Logs().List(ctx, storage.LogQuery{
		Statuses:       []notify.Status{notify.StatusSent, notify.StatusDelivered},
		Priorities:     []notify.Priority{notify.PriorityCritical, notify.PriorityHigh},
		Unacknowledged: true,
	})
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, l := range candidates {
		if err := ctx.Err(); err != nil {
			return fired, err
		}
		n, err := s.escalateOne(ctx, l, now)
		if err != nil {
			s.log.Warn("escalation failed",
				logx.String("log", l.ID),
				logx.String("template", l.TemplateID),
				logx.Err(err))
			continue
		}
		fired += n
	}
	return fired, nil
}

func (s *Service) escalateOne(ctx context.Context, l *notify.NotificationLog, now time.Time) (int, error) {
	tpl, err := s.store.Templates().Get(ctx, l.TemplateID)
	if err != nil {
		return 0, err
	}
	if len(tpl.Escalations) == 0 {
		return 0, nil
	}

	since := l.CreatedAt
	if l.SentAt != nil {
		since = *l.SentAt
	}

	for _, esc := range tpl.Escalations {
		delay := time.Duration(esc.DelayMinutes) * time.Minute
		if now.Sub(since) < delay {
			continue
		}

		// The marker is the idempotence guard: whoever wins the write owns
		// this window's escalation.
		marked, err := s.store.Logs().MarkEscalated(ctx, l.ID, now, delay)
		if err != nil {
			return 0, err
		}
		if !marked {
			return 0, nil
		}

		recipients := esc.Recipients
		if len(recipients) == 0 {
			recipients = []string{l.Recipient}
		}
		logs, err := s.disp.Send(ctx, dispatch.Request{
			TemplateID: l.TemplateID,
			Recipients: recipients,
			Variables:  l.Variables(),
			Priority:   l.Priority,
			RuleID:     l.RuleID,
			ChannelIDs: esc.Channels,
			Metadata: map[string]string{
				notify.MetaEscalatedFrom:  l.ID,
				notify.MetaEscalationRule: esc.ID,
			},
		})
		if err != nil {
			return 0, err
		}

		s.log.Info("escalation fired",
			logx.String("from", l.ID),
			logx.String("escalation", esc.ID),
			logx.String("template", tpl.ID),
			logx.Int("dispatched", len(logs)))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeEscalationFired, Data: map[string]string{
				"from":       l.ID,
				"escalation": esc.ID,
				"template":   tpl.ID,
			}})
		}
		return 1, nil
	}
	return 0, nil
}
