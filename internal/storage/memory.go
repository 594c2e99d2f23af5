package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"notifyd/internal/notify"
)

// memStore keeps everything in process memory behind one lock.
// It is the correctness reference the other drivers are tested against,
// and the backing core of the file driver.
type memStore struct {
	mu sync.RWMutex

	channels  map[string]*notify.Channel
	templates map[string]*notify.Template
	rules     map[string]*notify.Rule
	prefs     map[string]*notify.Preference

	logs     map[string]*notify.NotificationLog
	logOrder []string // append order; List sorts by createdAt desc

	// onMutate, when set, is invoked with the lock held after every mutation.
	// The file driver uses it to persist write-through.
	onMutate func(collection string, doc any)
}

func NewMemory() Store { return newMemStore() }

func newMemStore() *memStore {
	return &memStore{
		channels:  map[string]*notify.Channel{},
		templates: map[string]*notify.Template{},
		rules:     map[string]*notify.Rule{},
		prefs:     map[string]*notify.Preference{},
		logs:      map[string]*notify.NotificationLog{},
	}
}

func (m *memStore) Channels() ChannelRepo       { return (*memChannels)(m) }
func (m *memStore) Templates() TemplateRepo     { return (*memTemplates)(m) }
func (m *memStore) Rules() RuleRepo             { return (*memRules)(m) }
func (m *memStore) Logs() LogRepo               { return (*memLogs)(m) }
func (m *memStore) Preferences() PreferenceRepo { return (*memPrefs)(m) }

func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Close() error                   { return nil }

func (m *memStore) mutated(collection string, doc any) {
	if m.onMutate != nil {
		m.onMutate(collection, doc)
	}
}

// ---- clone helpers (no aliasing across the store boundary) ----

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneBoolMap(in map[string]bool) map[string]bool {
	if in == nil {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneChannel(c *notify.Channel) *notify.Channel {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Config = cloneMap(c.Config)
	return &cp
}

func cloneTemplate(t *notify.Template) *notify.Template {
	if t == nil {
		return nil
	}
	cp := *t
	cp.ChannelIDs = cloneStrings(t.ChannelIDs)
	cp.VariableNames = cloneStrings(t.VariableNames)
	if t.Escalations != nil {
		cp.Escalations = make([]notify.EscalationRule, len(t.Escalations))
		for i, er := range t.Escalations {
			er.Channels = cloneStrings(er.Channels)
			er.Recipients = cloneStrings(er.Recipients)
			cp.Escalations[i] = er
		}
	}
	return &cp
}

func cloneRule(r *notify.Rule) *notify.Rule {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Trigger.Conditions = cloneMap(r.Trigger.Conditions)
	cp.Recipients = cloneStrings(r.Recipients)
	cp.FacilityFilter = cloneStrings(r.FacilityFilter)
	cp.DeviceFilter = cloneStrings(r.DeviceFilter)
	cp.LastTriggered = cloneTimePtr(r.LastTriggered)
	return &cp
}

func clonePreference(p *notify.Preference) *notify.Preference {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Channels = cloneBoolMap(p.Channels)
	cp.Categories = cloneBoolMap(p.Categories)
	if p.QuietHours != nil {
		q := *p.QuietHours
		cp.QuietHours = &q
	}
	return &cp
}

func cloneLog(l *notify.NotificationLog) *notify.NotificationLog {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Metadata = cloneMap(l.Metadata)
	cp.SentAt = cloneTimePtr(l.SentAt)
	cp.DeliveredAt = cloneTimePtr(l.DeliveredAt)
	cp.AcknowledgedAt = cloneTimePtr(l.AcknowledgedAt)
	cp.LastEscalatedAt = cloneTimePtr(l.LastEscalatedAt)
	return &cp
}

// ---- channels ----

type memChannels memStore

func (m *memChannels) List(ctx context.Context) ([]*notify.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*notify.Channel, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, cloneChannel(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memChannels) Get(ctx context.Context, id string) (*notify.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %q: %w", id, notify.ErrNotFound)
	}
	return cloneChannel(c), nil
}

func (m *memChannels) Create(ctx context.Context, c *notify.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[c.ID]; ok {
		return fmt.Errorf("channel %q: %w", c.ID, notify.ErrDuplicate)
	}
	m.channels[c.ID] = cloneChannel(c)
	(*memStore)(m).mutated("channels", nil)
	return nil
}

func (m *memChannels) Update(ctx context.Context, c *notify.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[c.ID]; !ok {
		return fmt.Errorf("channel %q: %w", c.ID, notify.ErrNotFound)
	}
	m.channels[c.ID] = cloneChannel(c)
	(*memStore)(m).mutated("channels", nil)
	return nil
}

func (m *memChannels) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels), nil
}

// ---- templates ----

type memTemplates memStore

func (m *memTemplates) List(ctx context.Context) ([]*notify.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*notify.Template, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memTemplates) Get(ctx context.Context, id string) (*notify.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %q: %w", id, notify.ErrNotFound)
	}
	return cloneTemplate(t), nil
}

func (m *memTemplates) Create(ctx context.Context, t *notify.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[t.ID]; ok {
		return fmt.Errorf("template %q: %w", t.ID, notify.ErrDuplicate)
	}
	m.templates[t.ID] = cloneTemplate(t)
	(*memStore)(m).mutated("templates", nil)
	return nil
}

func (m *memTemplates) Update(ctx context.Context, t *notify.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[t.ID]; !ok {
		return fmt.Errorf("template %q: %w", t.ID, notify.ErrNotFound)
	}
	m.templates[t.ID] = cloneTemplate(t)
	(*memStore)(m).mutated("templates", nil)
	return nil
}

func (m *memTemplates) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[id]; !ok {
		return fmt.Errorf("template %q: %w", id, notify.ErrNotFound)
	}
	delete(m.templates, id)
	(*memStore)(m).mutated("templates", nil)
	return nil
}

func (m *memTemplates) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.templates), nil
}

// ---- rules ----

type memRules memStore

func (m *memRules) List(ctx context.Context) ([]*notify.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*notify.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, cloneRule(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRules) Get(ctx context.Context, id string) (*notify.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %q: %w", id, notify.ErrNotFound)
	}
	return cloneRule(r), nil
}

func (m *memRules) Create(ctx context.Context, r *notify.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[r.ID]; ok {
		return fmt.Errorf("rule %q: %w", r.ID, notify.ErrDuplicate)
	}
	m.rules[r.ID] = cloneRule(r)
	(*memStore)(m).mutated("rules", nil)
	return nil
}

func (m *memRules) Update(ctx context.Context, r *notify.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[r.ID]; !ok {
		return fmt.Errorf("rule %q: %w", r.ID, notify.ErrNotFound)
	}
	m.rules[r.ID] = cloneRule(r)
	(*memStore)(m).mutated("rules", nil)
	return nil
}

func (m *memRules) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return fmt.Errorf("rule %q: %w", id, notify.ErrNotFound)
	}
	delete(m.rules, id)
	(*memStore)(m).mutated("rules", nil)
	return nil
}

func (m *memRules) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules), nil
}

func (m *memRules) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return fmt.Errorf("rule %q: %w", id, notify.ErrNotFound)
	}
	r.TriggerCount++
	fired := at
	r.LastTriggered = &fired
	r.UpdatedAt = at
	(*memStore)(m).mutated("rules", nil)
	return nil
}

// ---- preferences ----

type memPrefs memStore

func (m *memPrefs) Get(ctx context.Context, userID string) (*notify.Preference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[userID]
	if !ok {
		return nil, fmt.Errorf("preference for %q: %w", userID, notify.ErrNotFound)
	}
	return clonePreference(p), nil
}

func (m *memPrefs) Put(ctx context.Context, p *notify.Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.UserID] = clonePreference(p)
	(*memStore)(m).mutated("preferences", nil)
	return nil
}

// ---- logs ----

type memLogs memStore

func (m *memLogs) Append(ctx context.Context, l *notify.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.logs[l.ID]; ok {
		return fmt.Errorf("log %q: %w", l.ID, notify.ErrDuplicate)
	}
	m.logs[l.ID] = cloneLog(l)
	m.logOrder = append(m.logOrder, l.ID)
	(*memStore)(m).mutated("logs", m.logs[l.ID])
	return nil
}

func (m *memLogs) Get(ctx context.Context, id string) (*notify.NotificationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.logs[id]
	if !ok {
		return nil, fmt.Errorf("log %q: %w", id, notify.ErrNotFound)
	}
	return cloneLog(l), nil
}

func (m *memLogs) List(ctx context.Context, q LogQuery) ([]*notify.NotificationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*notify.NotificationLog, 0, 64)
	for _, l := range m.logs {
		if q.matches(l) {
			out = append(out, cloneLog(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memLogs) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs), nil
}

func (m *memLogs) SetStatus(ctx context.Context, id string, to notify.Status, at time.Time, errMsg string, retryCount int) (*notify.NotificationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return nil, fmt.Errorf("log %q: %w", id, notify.ErrNotFound)
	}
	if !notify.CanTransition(l.Status, to) {
		return nil, fmt.Errorf("log %q: transition %s -> %s: %w", id, l.Status, to, notify.ErrValidation)
	}
	applyTransition(l, to, at, errMsg, retryCount)
	(*memStore)(m).mutated("logs", l)
	return cloneLog(l), nil
}

func (m *memLogs) Acknowledge(ctx context.Context, id, by string, at time.Time) (*notify.NotificationLog, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return nil, false, fmt.Errorf("log %q: %w", id, notify.ErrNotFound)
	}
	if l.Status == notify.StatusAcknowledged {
		// First writer already won; report the settled state.
		return cloneLog(l), false, nil
	}
	if !notify.CanTransition(l.Status, notify.StatusAcknowledged) {
		return nil, false, fmt.Errorf("log %q: acknowledge from %s: %w", id, l.Status, notify.ErrValidation)
	}
	l.Status = notify.StatusAcknowledged
	acked := at
	l.AcknowledgedAt = &acked
	l.AcknowledgedBy = by
	(*memStore)(m).mutated("logs", l)
	return cloneLog(l), true, nil
}

func (m *memLogs) MarkEscalated(ctx context.Context, id string, at time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return false, fmt.Errorf("log %q: %w", id, notify.ErrNotFound)
	}
	if l.LastEscalatedAt != nil && at.Sub(*l.LastEscalatedAt) < window {
		return false, nil
	}
	esc := at
	l.LastEscalatedAt = &esc
	(*memStore)(m).mutated("logs", l)
	return true, nil
}

// applyTransition mutates l in place. Caller holds the write lock and has
// already validated the transition.
func applyTransition(l *notify.NotificationLog, to notify.Status, at time.Time, errMsg string, retryCount int) {
	l.Status = to
	switch to {
	case notify.StatusSent:
		sent := at
		l.SentAt = &sent
	case notify.StatusDelivered:
		delivered := at
		l.DeliveredAt = &delivered
	case notify.StatusFailed:
		l.ErrorMessage = errMsg
	}
	if retryCount >= 0 {
		l.RetryCount = retryCount
	}
}
