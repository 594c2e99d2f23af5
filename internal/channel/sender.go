package channel

import (
	"context"
	"sync"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

// Sender delivers one rendered message over a concrete transport. One
// implementation per channel type. Send must respect ctx: the dispatcher
// enforces a per-attempt timeout through it.
//
// A transport failure is reported as *notify.ChannelSendError so the retry
// loop can distinguish it from programming errors.
type Sender interface {
	Send(ctx context.Context, destination, subject, body string, config map[string]string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, destination, subject, body string, config map[string]string) error

func (f SenderFunc) Send(ctx context.Context, destination, subject, body string, config map[string]string) error {
	return f(ctx, destination, subject, body, config)
}

// Senders maps channel types to their transport implementations. Safe for
// concurrent use; lookups during dispatch race freely with registration at
// startup.
type Senders struct {
	mu sync.RWMutex
	m  map[notify.ChannelType]Sender
}

func NewSenders() *Senders {
	return &Senders{m: map[notify.ChannelType]Sender{}}
}

func (s *Senders) Register(typ notify.ChannelType, snd Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[typ] = snd
}

func (s *Senders) Lookup(typ notify.ChannelType) (Sender, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snd, ok := s.m[typ]
	return snd, ok
}

// DefaultSenders wires a logging sender for every channel type so the engine
// is operable before any real transport is plugged in.
func DefaultSenders(log logx.Logger) *Senders {
	s := NewSenders()
	for _, typ := range notify.DefaultChannelTypes() {
		s.Register(typ, logSender(typ, log))
	}
	return s
}

// logSender records the delivery instead of performing it.
func logSender(typ notify.ChannelType, log logx.Logger) Sender {
	l := log.With(logx.String("comp", "sender"), logx.String("type", string(typ)))
	return SenderFunc(func(ctx context.Context, destination, subject, body string, _ map[string]string) error {
		if err := ctx.Err(); err != nil {
			return &notify.ChannelSendError{Channel: string(typ), Reason: "context closed", Err: err}
		}
		l.Info("message delivered (log transport)",
			logx.String("to", destination),
			logx.String("subject", subject),
			logx.Int("body_bytes", len(body)))
		return nil
	})
}
