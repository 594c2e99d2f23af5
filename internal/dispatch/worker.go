package dispatch

import (
	"context"
	"errors"
	"time"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

func (s *Service) workerLoop(ctx context.Context, queue <-chan *task) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case t := <-queue:
			s.execTask(ctx, t)
		}
	}
}

func (s *Service) execTask(ctx context.Context, t *task) {
	defer t.done()

	s.mu.Lock()
	lim := s.limiter
	timeout := s.cfg.SendTimeout
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		s.finish(t, notify.StatusFailed, "dispatch cancelled: "+err.Error(), 0)
		return
	}

	// Initial try plus MaxRetries retries, sequential with exponential
	// backoff. retryCount on the log counts retries, not total attempts.
	maxRetries := t.retry.MaxRetries
	var lastReason string
	for attempt := 0; ; attempt++ {
		err := s.sendOnce(ctx, t, timeout)
		if err == nil {
			s.finish(t, notify.StatusSent, "", attempt)
			return
		}
		lastReason = err.Error()
		if attempt >= maxRetries {
			break
		}
		delay := t.retry.Delay(attempt)
		s.log.Debug("send retry scheduled",
			logx.String("log", t.log.ID),
			logx.String("channel", t.log.Channel),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			s.finish(t, notify.StatusFailed, "dispatch cancelled: "+ctx.Err().Error(), attempt)
			return
		case <-tmr.C:
		}
	}
	s.finish(t, notify.StatusFailed, lastReason, maxRetries)
}

func (s *Service) sendOnce(ctx context.Context, t *task, timeout time.Duration) error {
	snd, ok := s.senders.Lookup(t.chType)
	if !ok {
		return &notify.ChannelSendError{
			Channel: t.log.Channel,
			Reason:  "no sender registered for type " + string(t.chType),
		}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := snd.Send(attemptCtx, t.dest, t.log.Subject, t.log.Body, t.config); err != nil {
		var cse *notify.ChannelSendError
		if errors.As(err, &cse) {
			return err
		}
		return &notify.ChannelSendError{Channel: t.log.Channel, Reason: err.Error(), Err: err}
	}
	return nil
}

// finish records the terminal transition and publishes the lifecycle event.
// It deliberately uses a fresh context: the outcome must be durable even
// when the dispatch context is already cancelled.
func (s *Service) finish(t *task, to notify.Status, errMsg string, retryCount int) {
	final, err := s.store.Logs().SetStatus(context.Background(), t.log.ID, to, s.now(), errMsg, retryCount)
	if err != nil {
		s.log.Error("terminal status write failed",
			logx.String("log", t.log.ID),
			logx.String("status", string(to)),
			logx.Err(err))
		// Keep the caller's view consistent with what we tried to record.
		final = t.log
		final.Status = to
		final.ErrorMessage = errMsg
		final.RetryCount = retryCount
	}
	if t.results != nil {
		t.results[t.idx] = final
	}

	evType := eventbus.TypeNotificationSent
	if to == notify.StatusFailed {
		evType = eventbus.TypeNotificationFailed
		s.log.Warn("notification failed",
			logx.String("log", final.ID),
			logx.String("rule", final.RuleID),
			logx.String("template", final.TemplateID),
			logx.String("channel", final.Channel),
			logx.String("recipient", final.Recipient),
			logx.Int("retries", final.RetryCount),
			logx.String("reason", errMsg))
	} else {
		s.log.Info("notification sent",
			logx.String("log", final.ID),
			logx.String("channel", final.Channel),
			logx.String("recipient", final.Recipient),
			logx.Int("retries", final.RetryCount))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: evType, Data: map[string]string{
			"log":       final.ID,
			"template":  final.TemplateID,
			"channel":   final.Channel,
			"recipient": final.Recipient,
			"priority":  string(final.Priority),
		}})
	}
}
