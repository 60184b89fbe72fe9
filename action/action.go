package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/assign"
	"github.com/goliatone/go-pipeline/condition"
)

// Kind discriminates the closed set of action types.
type Kind string

const (
	KindUpdateField        Kind = "update_field"
	KindAssignUsers        Kind = "assign_users"
	KindSendNotification   Kind = "send_notification"
	KindCreateTimer        Kind = "create_timer"
	KindExecuteIntegration Kind = "execute_integration"
)

// FailMode controls whether an action failure aborts the transition.
type FailMode string

const (
	FailModeDefault    FailMode = ""
	FailModeFailFast   FailMode = "fail_fast"
	FailModeBestEffort FailMode = "best_effort"
)

// Spec is one configured automated effect executed on stage entry or
// exit. Exactly one shape applies per kind. String values may reference
// the transition snapshot with {{path}} templates.
type Spec struct {
	ID   string `yaml:"id" json:"id"`
	Kind Kind   `yaml:"kind" json:"kind"`

	// Condition gates conditional actions; a failing gate skips, never errors.
	Condition *condition.Spec `yaml:"condition,omitempty" json:"condition,omitempty"`

	// FailMode is only configurable for execute_integration; other kinds
	// carry their spec-mandated default.
	FailMode FailMode `yaml:"fail_mode,omitempty" json:"fail_mode,omitempty"`

	// update_field
	Field string `yaml:"field,omitempty" json:"field,omitempty"`
	Value any    `yaml:"value,omitempty" json:"value,omitempty"`

	// assign_users
	Strategy assign.Strategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Multi    bool            `yaml:"multi,omitempty" json:"multi,omitempty"`

	// send_notification
	Template   string   `yaml:"template,omitempty" json:"template,omitempty"`
	Recipients []string `yaml:"recipients,omitempty" json:"recipients,omitempty"`

	// create_timer
	Timer        string `yaml:"timer,omitempty" json:"timer,omitempty"`
	DelayMinutes int    `yaml:"delay_minutes,omitempty" json:"delay_minutes,omitempty"`

	// execute_integration
	Integration string         `yaml:"integration,omitempty" json:"integration,omitempty"`
	Params      map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Validate rejects unknown kinds and per-kind shape violations at load time.
func (s *Spec) Validate() error {
	if s == nil {
		return pipeline.CloneError(pipeline.ErrBadDefinition, "nil action spec", nil, nil)
	}
	if s.Condition != nil {
		if err := s.Condition.Validate(); err != nil {
			return err
		}
	}
	switch s.Kind {
	case KindUpdateField:
		if strings.TrimSpace(s.Field) == "" {
			return badAction(s, "update_field requires a field")
		}
	case KindAssignUsers:
		if err := s.Strategy.Validate(); err != nil {
			return err
		}
	case KindSendNotification:
		if strings.TrimSpace(s.Template) == "" {
			return badAction(s, "send_notification requires a template")
		}
	case KindCreateTimer:
		if s.DelayMinutes <= 0 {
			return badAction(s, "create_timer requires a positive delay")
		}
	case KindExecuteIntegration:
		if strings.TrimSpace(s.Integration) == "" {
			return badAction(s, "execute_integration requires an integration name")
		}
	default:
		return badAction(s, fmt.Sprintf("unknown action kind %q", s.Kind))
	}
	switch s.FailMode {
	case FailModeDefault, FailModeFailFast, FailModeBestEffort:
	default:
		return badAction(s, fmt.Sprintf("unknown fail mode %q", s.FailMode))
	}
	if s.FailMode != FailModeDefault && s.Kind != KindExecuteIntegration {
		return badAction(s, "fail_mode is only configurable for execute_integration")
	}
	return nil
}

// EffectiveFailMode resolves defaults: update_field and assign_users are
// fail-fast, notifications and timers are best-effort, integrations
// default to best-effort unless configured fail-fast.
func (s *Spec) EffectiveFailMode() FailMode {
	switch s.Kind {
	case KindUpdateField, KindAssignUsers:
		return FailModeFailFast
	case KindSendNotification, KindCreateTimer:
		return FailModeBestEffort
	case KindExecuteIntegration:
		if s.FailMode == FailModeFailFast {
			return FailModeFailFast
		}
		return FailModeBestEffort
	default:
		return FailModeFailFast
	}
}

func badAction(s *Spec, msg string) error {
	meta := map[string]any{}
	if s != nil && strings.TrimSpace(s.ID) != "" {
		meta["action_id"] = s.ID
	}
	return pipeline.CloneError(pipeline.ErrBadDefinition, msg, nil, meta)
}

// Notification is the payload handed to the Notifier collaborator.
type Notification struct {
	Tenant     string
	EntityID   string
	Template   string
	Recipients []string
	Data       map[string]any
}

// Notifier delivers notifications. Failures are logged, never propagated
// into the transition.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Timer describes a delayed re-check scheduled by a create_timer action.
type Timer struct {
	Tenant   string
	EntityID string
	Name     string
	FireAt   time.Time
}

// TimerScheduler schedules delayed re-checks used by escalation and
// reminder actions.
type TimerScheduler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, t Timer) error
}

// TimerSchedulerFunc adapts a function to the TimerScheduler interface.
type TimerSchedulerFunc func(ctx context.Context, delay time.Duration, t Timer) error

func (f TimerSchedulerFunc) ScheduleAfter(ctx context.Context, delay time.Duration, t Timer) error {
	return f(ctx, delay, t)
}

// Invocation is the payload handed to a named integration handler.
type Invocation struct {
	Tenant   string
	EntityID string
	Entity   *pipeline.Entity
	Params   map[string]any
}
