package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeLoginSucceeded  = "auth.login_succeeded"
	EventTypeLoginFailed     = "auth.login_failed"
	EventTypeTokenRefreshed  = "auth.token_refreshed"
	EventTypeRefreshRejected = "auth.refresh_rejected"
	EventTypeLogout          = "auth.logout"
	EventTypeSessionsRevoked = "auth.sessions_revoked"
	EventTypeUserRegistered  = "user.registered"
	EventTypePasswordChanged = "user.password_changed"
	EventTypeProfileUpdated  = "user.profile_updated"
)

// AuditedEventTypes lists every event the audit log records.
var AuditedEventTypes = []string{
	EventTypeLoginSucceeded,
	EventTypeLoginFailed,
	EventTypeTokenRefreshed,
	EventTypeRefreshRejected,
	EventTypeLogout,
	EventTypeSessionsRevoked,
	EventTypeUserRegistered,
	EventTypePasswordChanged,
	EventTypeProfileUpdated,
}

// AuthEvent describes something an actor did to a subject account. Actor and
// subject are the same user for self-service actions such as login.
type AuthEvent struct {
	BaseEvent
	ActorID   string `json:"actor_id"`
	SubjectID string `json:"subject_id"`
}

func NewAuthEvent(eventType, actorID, subjectID string, data map[string]interface{}) *AuthEvent {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &AuthEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now().UTC(),
			Data:      data,
		},
		ActorID:   actorID,
		SubjectID: subjectID,
	}
}
