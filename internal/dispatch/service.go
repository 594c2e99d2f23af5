// Package dispatch renders and sends notifications: fan-out per
// (recipient, channel), per-channel retry policy, durable logging of every
// attempt. It is the only component that talks to channel senders.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"notifyd/internal/channel"
	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/notify/render"
	rtsup "notifyd/internal/runtime/supervisor"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

var ErrStopped = errors.New("dispatcher stopped")

// Service is safe for concurrent use. Every Send blocks until all fan-out
// attempts have resolved and their logs are durably recorded.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	store   storage.Store
	senders *channel.Senders
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue chan *task
	sup   *rtsup.Supervisor

	now func() time.Time
}

func New(cfg Config, store storage.Store, senders *channel.Senders, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log.With(logx.String("comp", "dispatch")),
		store:   store,
		senders: senders,
		bus:     bus,
		now:     func() time.Time { return time.Now().UTC() },
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps runtime tunables. Queue size and worker count take effect on
// the next Start; the rate limit applies immediately.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan *task, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		s.sup.GoRestart(name, func(c context.Context) {
			s.workerLoop(c, q)
		})
	}
}

// Stop blocks intake, lets in-flight sends resolve, then stops the workers,
// bounded by ctx's deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	sup := s.sup
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	_ = sup.Stop(ctx)

	s.mu.Lock()
	s.queue = nil
	s.sup = nil
	s.mu.Unlock()
}

// Send dispatches one request and returns the final log for every
// (recipient, channel) attempt chain. Transport failures never surface as
// errors: they end as logs with status failed.
func (s *Service) Send(ctx context.Context, req Request) ([]*notify.NotificationLog, error) {
	if len(req.Recipients) == 0 {
		return nil, fmt.Errorf("recipients must be non-empty: %w", notify.ErrValidation)
	}

	tpl, err := s.store.Templates().Get(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	prio := req.Priority
	if prio == "" {
		prio = tpl.Priority
	}
	if prio == "" {
		prio = notify.PriorityMedium
	}

	channelIDs := req.ChannelIDs
	if len(channelIDs) == 0 {
		channelIDs = tpl.ChannelIDs
	}

	subject := render.Render(tpl.Subject, req.Variables)
	body := render.Render(tpl.Body, req.Variables)

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	tasks := s.plan(ctx, req, tpl, channelIDs, prio, subject, body)

	results := make([]*notify.NotificationLog, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		t.results = results
		t.idx = i
		t.done = wg.Done
		wg.Add(1)
		select {
		case q <- t:
		case <-ctx.Done():
			// The pending log is already durable; resolve it as failed so
			// no entry is left dangling.
			s.finish(t, notify.StatusFailed, "dispatch cancelled: "+ctx.Err().Error(), 0)
			wg.Done()
		}
	}
	wg.Wait()
	return results, nil
}

// plan expands the fan-out, appending a pending log per live
// (recipient, channel) pair.
func (s *Service) plan(ctx context.Context, req Request, tpl *notify.Template, channelIDs []string, prio notify.Priority, subject, body string) []*task {
	now := s.now()
	var tasks []*task
	for _, chID := range channelIDs {
		ch, err := s.store.Channels().Get(ctx, chID)
		if err != nil {
			s.log.Warn("template references unknown channel; skipping",
				logx.String("template", tpl.ID), logx.String("channel", chID), logx.Err(err))
			continue
		}
		if !ch.Enabled {
			s.log.Debug("channel disabled; skipping",
				logx.String("template", tpl.ID), logx.String("channel", chID))
			continue
		}
		for _, rcpt := range req.Recipients {
			if s.suppressed(ctx, rcpt, ch, tpl.Type, prio, now) {
				s.log.Debug("send suppressed by preference",
					logx.String("recipient", rcpt), logx.String("channel", chID))
				continue
			}

			l := &notify.NotificationLog{
				ID:         uuid.NewString(),
				RuleID:     req.RuleID,
				TemplateID: tpl.ID,
				Recipient:  rcpt,
				Channel:    ch.ID,
				Priority:   prio,
				Status:     notify.StatusPending,
				Subject:    subject,
				Body:       body,
				Metadata:   logMetadata(req),
				CreatedAt:  now,
			}
			if err := s.store.Logs().Append(ctx, l); err != nil {
				s.log.Error("pending log append failed; skipping send",
					logx.String("log", l.ID), logx.String("channel", ch.ID), logx.Err(err))
				continue
			}
			tasks = append(tasks, &task{
				log:    l,
				retry:  ch.Retry,
				chType: ch.Type,
				dest:   rcpt,
				config: ch.Config,
			})
		}
	}
	return tasks
}

// logMetadata merges request metadata with the variable snapshot, so
// escalations re-render from the exact values of the original dispatch.
func logMetadata(req Request) map[string]string {
	if len(req.Metadata) == 0 && len(req.Variables) == 0 {
		return nil
	}
	m := make(map[string]string, len(req.Metadata)+len(req.Variables))
	for k, v := range req.Metadata {
		m[k] = v
	}
	for k, v := range req.Variables {
		m[notify.MetaVarPrefix+k] = v
	}
	return m
}

// suppressed consults the recipient's preferences. Critical notifications
// are never suppressed.
func (s *Service) suppressed(ctx context.Context, rcpt string, ch *notify.Channel, category string, prio notify.Priority, now time.Time) bool {
	if prio == notify.PriorityCritical {
		return false
	}
	pref, err := s.store.Preferences().Get(ctx, rcpt)
	if err != nil {
		// No stored preference means fully opted in.
		return false
	}
	if v, ok := pref.Channels[string(ch.Type)]; ok && !v {
		return true
	}
	if category != "" {
		if v, ok := pref.Categories[category]; ok && !v {
			return true
		}
	}
	if pref.QuietHours != nil && inQuietWindow(*pref.QuietHours, now) {
		return true
	}
	return false
}
