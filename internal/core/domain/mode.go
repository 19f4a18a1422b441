package domain

import "time"

// Mode is the policy governing when a migration may run.
type Mode string

const (
	ModeAuto      Mode = "auto"
	ModeManual    Mode = "manual"
	ModeHybrid    Mode = "hybrid"
	ModeScheduled Mode = "scheduled"
	ModeSilent    Mode = "silent"
)

// AllModes lists the modes in registration order.
var AllModes = []Mode{ModeAuto, ModeManual, ModeHybrid, ModeScheduled, ModeSilent}

// ModeConfiguration is the persisted per-mode configuration.
type ModeConfiguration struct {
	Enabled             bool          `json:"enabled"               yaml:"enabled"`
	AutoRetry           bool          `json:"auto_retry"            yaml:"auto_retry"`
	MaxRetries          int           `json:"max_retries"           yaml:"max_retries"`
	RetryDelay          time.Duration `json:"retry_delay"           yaml:"retry_delay"`
	RequireConfirmation bool          `json:"require_confirmation"  yaml:"require_confirmation"`
	ShowNotifications   bool          `json:"show_notifications"    yaml:"show_notifications"`
	NotifyOnComplete    bool          `json:"notify_on_complete"    yaml:"notify_on_complete"`
	NotifyOnError       bool          `json:"notify_on_error"       yaml:"notify_on_error"`
	ScheduleTime        string        `json:"schedule_time,omitempty" yaml:"schedule_time"` // HH:MM
}

// ModeConfigurationPatch carries a partial configuration update.
// Nil fields are left untouched.
type ModeConfigurationPatch struct {
	Enabled             *bool
	AutoRetry           *bool
	MaxRetries          *int
	RetryDelay          *time.Duration
	RequireConfirmation *bool
	ShowNotifications   *bool
	NotifyOnComplete    *bool
	NotifyOnError       *bool
	ScheduleTime        *string
}

// Apply returns cfg with the patch applied.
func (p ModeConfigurationPatch) Apply(cfg ModeConfiguration) ModeConfiguration {
	if p.Enabled != nil {
		cfg.Enabled = *p.Enabled
	}
	if p.AutoRetry != nil {
		cfg.AutoRetry = *p.AutoRetry
	}
	if p.MaxRetries != nil {
		cfg.MaxRetries = *p.MaxRetries
	}
	if p.RetryDelay != nil {
		cfg.RetryDelay = *p.RetryDelay
	}
	if p.RequireConfirmation != nil {
		cfg.RequireConfirmation = *p.RequireConfirmation
	}
	if p.ShowNotifications != nil {
		cfg.ShowNotifications = *p.ShowNotifications
	}
	if p.NotifyOnComplete != nil {
		cfg.NotifyOnComplete = *p.NotifyOnComplete
	}
	if p.NotifyOnError != nil {
		cfg.NotifyOnError = *p.NotifyOnError
	}
	if p.ScheduleTime != nil {
		cfg.ScheduleTime = *p.ScheduleTime
	}
	return cfg
}

// TriggerSource says what initiated an execution request.
type TriggerSource string

const (
	TriggerCondition TriggerSource = "condition"
	TriggerUser      TriggerSource = "user"
	TriggerSchedule  TriggerSource = "schedule"
	TriggerEvent     TriggerSource = "event"
)

// ExecutionContext is passed through a single trigger decision.
type ExecutionContext struct {
	Mode          Mode
	TriggeredBy   TriggerSource
	Conditions    map[string]any
	Timestamp     time.Time
	UserConfirmed bool
}
