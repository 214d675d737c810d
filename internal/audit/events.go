package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action represents the gateway decision being audited.
type Action string

// Audited actions.
const (
	ActionAllow      Action = "allow"
	ActionBlock      Action = "block"
	ActionInvalidate Action = "invalidate"
	ActionWarm       Action = "warm"
	ActionReload     Action = "config_reload"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"

	// OutcomeDegraded marks decisions taken while the counter store
	// was unreachable and the limiter failed open.
	OutcomeDegraded Outcome = "degraded"
)

// Event represents a single audit record.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Identifier is the rate-limit identifier the decision applies to,
	// e.g. "ip:203.0.113.7" or "user:alice".
	Identifier string `json:"identifier,omitempty"`

	// Action is the decision being audited.
	Action Action `json:"action"`

	// Outcome is the outcome of the action.
	Outcome Outcome `json:"outcome"`

	// Scope is the route or partition the decision belongs to.
	Scope string `json:"scope,omitempty"`

	// Role is the resolved client role, when known.
	Role string `json:"role,omitempty"`

	// CorrelationID ties the event to a request.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Remaining is the remaining rate-limit quota after the decision.
	Remaining int64 `json:"remaining,omitempty"`

	// Reason carries a short explanation for failures and degraded
	// outcomes.
	Reason string `json:"reason,omitempty"`

	// Metadata contains additional details.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Duration is how long the audited operation took.
	Duration time.Duration `json:"duration,omitempty"`
}

// NewEvent creates a new audit event with a generated ID and the
// current UTC timestamp.
func NewEvent(action Action, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Outcome:   outcome,
	}
}

// WithIdentifier sets the rate-limit identifier.
func (e *Event) WithIdentifier(identifier string) *Event {
	e.Identifier = identifier
	return e
}

// WithScope sets the route or partition scope.
func (e *Event) WithScope(scope string) *Event {
	e.Scope = scope
	return e
}

// WithRole sets the resolved client role.
func (e *Event) WithRole(role string) *Event {
	e.Role = role
	return e
}

// WithCorrelationID sets the correlation ID.
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithRemaining sets the remaining quota.
func (e *Event) WithRemaining(remaining int64) *Event {
	e.Remaining = remaining
	return e
}

// WithReason sets the failure or degradation reason.
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// WithMetadata adds a metadata entry.
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithDuration sets the duration.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// DecisionEvent creates an allow or block event for a rate-limit
// decision.
func DecisionEvent(allowed bool, identifier, scope string) *Event {
	action := ActionAllow
	if !allowed {
		action = ActionBlock
	}
	return NewEvent(action, OutcomeSuccess).
		WithIdentifier(identifier).
		WithScope(scope)
}

// DegradedDecisionEvent creates an allow event recorded while the
// counter store was unreachable.
func DegradedDecisionEvent(identifier, scope, reason string) *Event {
	return NewEvent(ActionAllow, OutcomeDegraded).
		WithIdentifier(identifier).
		WithScope(scope).
		WithReason(reason)
}

// InvalidationEvent creates an event for a cache invalidation.
func InvalidationEvent(scope string, removed int) *Event {
	return NewEvent(ActionInvalidate, OutcomeSuccess).
		WithScope(scope).
		WithMetadata("removed", removed)
}

// WarmEvent creates an event for a cache warming run.
func WarmEvent(scope string, populated, failed int) *Event {
	outcome := OutcomeSuccess
	if failed > 0 && populated == 0 {
		outcome = OutcomeFailure
	}
	return NewEvent(ActionWarm, outcome).
		WithScope(scope).
		WithMetadata("populated", populated).
		WithMetadata("failed", failed)
}
