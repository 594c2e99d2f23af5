// Package channel manages the delivery channel registry and the sender
// implementations behind it.
package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// requiredConfig lists the config keys a channel of each type must carry.
// Enforced on create/update so a sender never discovers a missing credential
// mid-dispatch.
var requiredConfig = map[notify.ChannelType][]string{
	notify.ChannelEmail:   {"smtp_host", "from"},
	notify.ChannelSMS:     {"provider", "api_key"},
	notify.ChannelPush:    {"provider"},
	notify.ChannelWebhook: {"url"},
	notify.ChannelSlack:   {"webhook_url"},
	notify.ChannelTeams:   {"webhook_url"},
	notify.ChannelPhone:   {"provider", "api_key"},
	notify.ChannelInApp:   nil,
}

// Registry is the CRUD service over configured delivery channels.
type Registry struct {
	repo storage.ChannelRepo
	log  logx.Logger
	now  func() time.Time
}

func NewRegistry(repo storage.ChannelRepo, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		repo: repo,
		log:  log.With(logx.String("comp", "channel")),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) List(ctx context.Context) ([]*notify.Channel, error) {
	return r.repo.List(ctx)
}

func (r *Registry) Get(ctx context.Context, id string) (*notify.Channel, error) {
	return r.repo.Get(ctx, id)
}

func (r *Registry) Create(ctx context.Context, ch *notify.Channel) (*notify.Channel, error) {
	if err := validate(ch); err != nil {
		return nil, err
	}
	now := r.now()
	ch.CreatedAt = now
	ch.UpdatedAt = now
	if err := r.repo.Create(ctx, ch); err != nil {
		return nil, err
	}
	r.log.Info("channel created",
		logx.String("id", ch.ID),
		logx.String("type", string(ch.Type)),
		logx.Bool("enabled", ch.Enabled))
	return ch, nil
}

// Update replaces a channel's mutable fields. CreatedAt is preserved from
// the stored record.
func (r *Registry) Update(ctx context.Context, ch *notify.Channel) (*notify.Channel, error) {
	if err := validate(ch); err != nil {
		return nil, err
	}
	cur, err := r.repo.Get(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	ch.CreatedAt = cur.CreatedAt
	ch.UpdatedAt = r.now()
	if err := r.repo.Update(ctx, ch); err != nil {
		return nil, err
	}
	r.log.Info("channel updated", logx.String("id", ch.ID))
	return ch, nil
}

// SetEnabled flips the enabled flag. Sends already in flight keep the flag
// they started with.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) (*notify.Channel, error) {
	ch, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ch.Enabled = enabled
	ch.UpdatedAt = r.now()
	if err := r.repo.Update(ctx, ch); err != nil {
		return nil, err
	}
	r.log.Info("channel toggled", logx.String("id", id), logx.Bool("enabled", enabled))
	return ch, nil
}

func validate(ch *notify.Channel) error {
	if ch == nil || strings.TrimSpace(ch.ID) == "" {
		return fmt.Errorf("channel id is required: %w", notify.ErrValidation)
	}
	if !notify.ValidChannelType(ch.Type) {
		return fmt.Errorf("channel %q: unknown type %q: %w", ch.ID, ch.Type, notify.ErrValidation)
	}
	if ch.Retry.MaxRetries < 0 {
		return fmt.Errorf("channel %q: maxRetries must be >= 0: %w", ch.ID, notify.ErrValidation)
	}
	if ch.Retry.RetryDelaySeconds < 0 {
		return fmt.Errorf("channel %q: retryDelaySeconds must be >= 0: %w", ch.ID, notify.ErrValidation)
	}
	for _, key := range requiredConfig[ch.Type] {
		if strings.TrimSpace(ch.Config[key]) == "" {
			return fmt.Errorf("channel %q: missing config %q: %w", ch.ID, key, notify.ErrValidation)
		}
	}
	return nil
}
