// Package rule stores trigger rules and evaluates them against incoming
// events.
package rule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// Service is the CRUD surface over trigger rules.
type Service struct {
	repo storage.RuleRepo
	log  logx.Logger
	now  func() time.Time
}

func NewService(repo storage.RuleRepo, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		repo: repo,
		log:  log.With(logx.String("comp", "rule")),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) List(ctx context.Context) ([]*notify.Rule, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*notify.Rule, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, r *notify.Rule) (*notify.Rule, error) {
	if err := s.validate(r); err != nil {
		return nil, err
	}
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.TriggerCount = 0
	r.LastTriggered = nil
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info("rule created",
		logx.String("id", r.ID),
		logx.String("trigger", r.Trigger.Type),
		logx.String("template", r.TemplateID))
	return r, nil
}

// Update replaces a rule, preserving createdAt and the trigger counters.
func (s *Service) Update(ctx context.Context, r *notify.Rule) (*notify.Rule, error) {
	if err := s.validate(r); err != nil {
		return nil, err
	}
	cur, err := s.repo.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = cur.CreatedAt
	r.TriggerCount = cur.TriggerCount
	r.LastTriggered = cur.LastTriggered
	r.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info("rule updated", logx.String("id", r.ID))
	return r, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("rule deleted", logx.String("id", id))
	return nil
}

// RecordTrigger bumps the rule's trigger counter and fire timestamp.
func (s *Service) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	return s.repo.RecordTrigger(ctx, id, at)
}

// MatchEvent returns the enabled rules that fire for the event.
func (s *Service) MatchEvent(ctx context.Context, ev notify.Event) ([]*notify.Rule, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	var hits []*notify.Rule
	for _, r := range all {
		if Matches(r, ev) {
			hits = append(hits, r)
		}
	}
	return hits, nil
}

func (s *Service) validate(r *notify.Rule) error {
	if r == nil || strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule id is required: %w", notify.ErrValidation)
	}
	if strings.TrimSpace(r.TemplateID) == "" {
		return fmt.Errorf("rule %q: templateId is required: %w", r.ID, notify.ErrValidation)
	}
	if r.Trigger.Type == "" && r.Trigger.Schedule == "" {
		return fmt.Errorf("rule %q: trigger needs a type or a schedule: %w", r.ID, notify.ErrValidation)
	}
	if len(r.Recipients) == 0 {
		return fmt.Errorf("rule %q: at least one recipient is required: %w", r.ID, notify.ErrValidation)
	}
	if r.Trigger.Schedule != "" {
		if _, err := NormalizeSchedule(r.Trigger.Schedule); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
	}
	return nil
}
