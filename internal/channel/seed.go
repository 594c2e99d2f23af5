package channel

import (
	"context"
	"time"

	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// defaultRetry is the retry policy seeded channels start with.
var defaultRetry = notify.RetryPolicy{
	MaxRetries:        3,
	RetryDelaySeconds: 2,
	BackoffMultiplier: 2,
}

// seedConfig supplies placeholder config satisfying each type's required keys;
// operators replace these before enabling real transports.
var seedConfig = map[notify.ChannelType]map[string]string{
	notify.ChannelEmail:   {"smtp_host": "localhost:25", "from": "notifyd@localhost"},
	notify.ChannelSMS:     {"provider": "log", "api_key": "unset"},
	notify.ChannelPush:    {"provider": "log"},
	notify.ChannelWebhook: {"url": "http://localhost/hook"},
	notify.ChannelSlack:   {"webhook_url": "http://localhost/slack"},
	notify.ChannelTeams:   {"webhook_url": "http://localhost/teams"},
	notify.ChannelPhone:   {"provider": "log", "api_key": "unset"},
}

// SeedDefaults creates one channel per default type when the registry is
// empty. It runs once at bootstrap; an intentionally emptied registry is
// never repopulated on read.
func SeedDefaults(ctx context.Context, repo storage.ChannelRepo, log logx.Logger) error {
	n, err := repo.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	now := time.Now().UTC()
	for i, typ := range notify.DefaultChannelTypes() {
		ch := &notify.Channel{
			ID:        string(typ) + "-primary",
			Type:      typ,
			Enabled:   true,
			Config:    seedConfig[typ],
			Priority:  i,
			Retry:     defaultRetry,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.Create(ctx, ch); err != nil {
			return err
		}
	}
	log.Info("seeded default channels", logx.Int("count", len(notify.DefaultChannelTypes())))
	return nil
}
