package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthTokenValidateFail EventType = "auth.token_validate_fail"

	// Authorization events
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"

	// Identity mutation events
	EventTypeUserCreate        EventType = "user.create"
	EventTypeUserUpdate        EventType = "user.update"
	EventTypeUserStatusChange  EventType = "user.status_change"
	EventTypeUserDelete        EventType = "user.delete"
	EventTypeUserGroupAdd      EventType = "user.group_add"
	EventTypeUserGroupRemove   EventType = "user.group_remove"
	EventTypeUserIndexCreate   EventType = "user.index_create"
	EventTypeUserIndexDelete   EventType = "user.index_delete"
	EventTypeUserAvatarReplace EventType = "user.avatar_replace"
	EventTypeUserAvatarDelete  EventType = "user.avatar_delete"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit trail entry
type Event struct {
	ID         int64             `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	EventType  EventType         `json:"event_type"`
	Status     EventStatus       `json:"status"`
	ActorID    string            `json:"actor_id,omitempty"`
	TargetID   string            `json:"target_id,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Method     string            `json:"method,omitempty"`
	Path       string            `json:"path,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Message    string            `json:"message,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RetentionPolicy controls how long audit events are kept
type RetentionPolicy struct {
	RetentionDays int
}

// DefaultRetentionPolicy keeps 90 days of audit history
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{RetentionDays: 90}
}
