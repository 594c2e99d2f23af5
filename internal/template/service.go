// Package template manages parameterized message definitions.
package template

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notifyd/internal/notify"
	"notifyd/internal/notify/render"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// Service is the CRUD surface over message templates.
type Service struct {
	repo storage.TemplateRepo
	log  logx.Logger
	now  func() time.Time
}

func NewService(repo storage.TemplateRepo, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		repo: repo,
		log:  log.With(logx.String("comp", "template")),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) List(ctx context.Context) ([]*notify.Template, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*notify.Template, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, t *notify.Template) (*notify.Template, error) {
	if err := validate(t); err != nil {
		return nil, err
	}
	now := s.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info("template created",
		logx.String("id", t.ID),
		logx.String("priority", string(t.Priority)),
		logx.Int("channels", len(t.ChannelIDs)))
	return t, nil
}

func (s *Service) Update(ctx context.Context, t *notify.Template) (*notify.Template, error) {
	if err := validate(t); err != nil {
		return nil, err
	}
	cur, err := s.repo.Get(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = cur.CreatedAt
	t.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info("template updated", logx.String("id", t.ID))
	return t, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("template deleted", logx.String("id", id))
	return nil
}

func validate(t *notify.Template) error {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("template id is required: %w", notify.ErrValidation)
	}
	if len(t.ChannelIDs) == 0 {
		return fmt.Errorf("template %q: channelIds must be non-empty: %w", t.ID, notify.ErrValidation)
	}
	if t.Priority != "" && !notify.ValidPriority(t.Priority) {
		return fmt.Errorf("template %q: unknown priority %q: %w", t.ID, t.Priority, notify.ErrValidation)
	}

	// Every placeholder used in subject/body must be declared. Rendering a
	// missing variable later leaves the placeholder literal, so the only
	// gate is here.
	declared := map[string]bool{}
	for _, v := range t.VariableNames {
		declared[v] = true
	}
	for _, name := range render.Placeholders(t.Subject + " " + t.Body) {
		if !declared[name] {
			return fmt.Errorf("template %q: placeholder {{%s}} not declared in variableNames: %w",
				t.ID, name, notify.ErrValidation)
		}
	}

	for _, esc := range t.Escalations {
		if esc.DelayMinutes <= 0 {
			return fmt.Errorf("template %q: escalation %q: delayMinutes must be > 0: %w",
				t.ID, esc.ID, notify.ErrValidation)
		}
		if !notify.ValidEscalationCondition(esc.Condition) {
			return fmt.Errorf("template %q: escalation %q: unknown condition %q: %w",
				t.ID, esc.ID, esc.Condition, notify.ErrValidation)
		}
		if len(esc.Channels) == 0 && len(esc.Recipients) == 0 {
			return fmt.Errorf("template %q: escalation %q: needs channels or recipients: %w",
				t.ID, esc.ID, notify.ErrValidation)
		}
	}
	return nil
}
