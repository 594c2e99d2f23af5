package notify

import "time"

// ChannelType enumerates supported delivery mechanisms.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSMS     ChannelType = "sms"
	ChannelPush    ChannelType = "push"
	ChannelInApp   ChannelType = "in_app"
	ChannelWebhook ChannelType = "webhook"
	ChannelSlack   ChannelType = "slack"
	ChannelTeams   ChannelType = "teams"
	ChannelPhone   ChannelType = "phone"
)

// DefaultChannelTypes is the set seeded at bootstrap when no channels exist.
func DefaultChannelTypes() []ChannelType {
	return []ChannelType{
		ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp,
		ChannelWebhook, ChannelSlack, ChannelTeams, ChannelPhone,
	}
}

func ValidChannelType(t ChannelType) bool {
	switch t {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp,
		ChannelWebhook, ChannelSlack, ChannelTeams, ChannelPhone:
		return true
	}
	return false
}

// Priority orders notifications; critical bypasses quiet hours and is
// eligible for escalation.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// RetryPolicy bounds the dispatcher's per-channel retry loop.
// Delay for attempt n (0-based) is RetryDelaySeconds * BackoffMultiplier^n.
type RetryPolicy struct {
	MaxRetries        int     `json:"maxRetries"`
	RetryDelaySeconds float64 `json:"retryDelaySeconds"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
}

// Delay returns the backoff before retry attempt n (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	d := p.RetryDelaySeconds
	for i := 0; i < attempt; i++ {
		d *= mult
	}
	return time.Duration(d * float64(time.Second))
}

// Channel is a configured delivery mechanism. Identity is ID.
type Channel struct {
	ID        string            `json:"id"`
	Type      ChannelType       `json:"type"`
	Enabled   bool              `json:"enabled"`
	Config    map[string]string `json:"config,omitempty"`
	Priority  int               `json:"priority"`
	Retry     RetryPolicy       `json:"retryPolicy"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// EscalationCondition selects when an escalation rule applies.
type EscalationCondition string

const (
	EscalateNoResponse      EscalationCondition = "no_response"
	EscalateNotAcknowledged EscalationCondition = "not_acknowledged"
	EscalateTimeBased       EscalationCondition = "time_based"
)

func ValidEscalationCondition(c EscalationCondition) bool {
	switch c {
	case EscalateNoResponse, EscalateNotAcknowledged, EscalateTimeBased:
		return true
	}
	return false
}

// EscalationRule re-dispatches an unacknowledged notification through extra
// channels/recipients once DelayMinutes have passed since the original send.
type EscalationRule struct {
	ID           string              `json:"id"`
	DelayMinutes int                 `json:"delayMinutes"`
	Channels     []string            `json:"channels"`
	Recipients   []string            `json:"recipients"`
	Condition    EscalationCondition `json:"condition"`
}

// Template is a parameterized message definition bound to one or more channels.
//
// Subject and Body may contain {{variableName}} placeholders. Every
// placeholder must be declared in VariableNames (validated at creation).
// Rendering with a missing variable leaves the placeholder literal.
type Template struct {
	ID            string           `json:"id"`
	Type          string           `json:"type"`
	Subject       string           `json:"subject"`
	Body          string           `json:"bodyTemplate"`
	ChannelIDs    []string         `json:"channelIds"`
	VariableNames []string         `json:"variableNames,omitempty"`
	Priority      Priority         `json:"priority"`
	Escalations   []EscalationRule `json:"escalationRules,omitempty"`
	Active        bool             `json:"active"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Trigger describes what fires a rule: an event type plus exact-match
// conditions, or a schedule descriptor ("daily@08:00", "weekly@mon:09:00",
// "monthly@1:00:00", or a raw cron expression).
type Trigger struct {
	Type       string            `json:"type"`
	Conditions map[string]string `json:"conditions,omitempty"`
	Schedule   string            `json:"schedule,omitempty"`
}

// Rule binds a trigger to a template and recipient list.
type Rule struct {
	ID             string     `json:"id"`
	Trigger        Trigger    `json:"trigger"`
	TemplateID     string     `json:"templateId"`
	Recipients     []string   `json:"recipients"`
	FacilityFilter []string   `json:"facilityFilter,omitempty"`
	DeviceFilter   []string   `json:"deviceFilter,omitempty"`
	Enabled        bool       `json:"enabled"`
	LastTriggered  *time.Time `json:"lastTriggered,omitempty"`
	TriggerCount   int        `json:"triggerCount"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// RecipientType says how Identifier resolves to delivery addresses.
// Resolution of role/external identifiers is a collaborator's concern.
type RecipientType string

const (
	RecipientUser     RecipientType = "user"
	RecipientRole     RecipientType = "role"
	RecipientExternal RecipientType = "external"
)

type Recipient struct {
	ID                string        `json:"id"`
	Type              RecipientType `json:"type"`
	Identifier        string        `json:"identifier"`
	PreferredChannels []string      `json:"preferredChannels,omitempty"`
	QuietHours        *QuietHours   `json:"quietHours,omitempty"`
}

// QuietHours is a daily local-time window, "HH:MM" inclusive start,
// exclusive end. A window may wrap midnight (e.g. 22:00–07:00).
type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Preference is a per-user opt-in map consulted before send.
// A channel type missing from Channels is treated as opted in.
type Preference struct {
	UserID     string          `json:"userId"`
	Channels   map[string]bool `json:"channels,omitempty"`
	Categories map[string]bool `json:"categories,omitempty"`
	QuietHours *QuietHours     `json:"quietHours,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Metadata keys written by the dispatcher.
const (
	// MetaEscalatedFrom links an escalation log back to the original log id.
	MetaEscalatedFrom = "escalated_from"
	// MetaEscalationRule records which escalation rule produced the log.
	MetaEscalationRule = "escalation_rule"
	// MetaVarPrefix prefixes the variable snapshot captured at dispatch time,
	// so escalations re-render deterministically from the same values.
	MetaVarPrefix = "var."
)

// NotificationLog records one delivery attempt chain and its outcome.
// Immutable once terminal except for the acknowledgement transition.
type NotificationLog struct {
	ID              string            `json:"id"`
	RuleID          string            `json:"ruleId,omitempty"`
	TemplateID      string            `json:"templateId"`
	Recipient       string            `json:"recipient"`
	Channel         string            `json:"channel"`
	Priority        Priority          `json:"priority"`
	Status          Status            `json:"status"`
	Subject         string            `json:"subject,omitempty"`
	Body            string            `json:"body"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	SentAt          *time.Time        `json:"sentAt,omitempty"`
	DeliveredAt     *time.Time        `json:"deliveredAt,omitempty"`
	AcknowledgedAt  *time.Time        `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy  string            `json:"acknowledgedBy,omitempty"`
	LastEscalatedAt *time.Time        `json:"lastEscalatedAt,omitempty"`
	ErrorMessage    string            `json:"errorMessage,omitempty"`
	RetryCount      int               `json:"retryCount"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// Acknowledged reports whether the log has been acknowledged.
func (l *NotificationLog) Acknowledged() bool { return l.Status == StatusAcknowledged }

// Variables reconstructs the variable snapshot captured at dispatch time.
func (l *NotificationLog) Variables() map[string]string {
	if len(l.Metadata) == 0 {
		return nil
	}
	vars := map[string]string{}
	for k, v := range l.Metadata {
		if len(k) > len(MetaVarPrefix) && k[:len(MetaVarPrefix)] == MetaVarPrefix {
			vars[k[len(MetaVarPrefix):]] = v
		}
	}
	if len(vars) == 0 {
		return nil
	}
	return vars
}

// Event is an external trigger delivered by an event source or the scheduler.
type Event struct {
	Type       string            `json:"type"`
	Context    map[string]string `json:"context,omitempty"`
	FacilityID string            `json:"facilityId,omitempty"`
	DeviceID   string            `json:"deviceId,omitempty"`
	At         time.Time         `json:"at,omitempty"`
}
