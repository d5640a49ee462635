// Package audit records security-relevant facts: who logged in or out, what
// each pull pass changed, and when the session sweep ran. Events flow
// through a Publisher into a Store (memory in tests, Kafka in production).
package audit

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventLoginSucceeded EventKind = "login_succeeded"
	EventLoginFailed    EventKind = "login_failed"
	EventLogout         EventKind = "logout"
	EventSessionsSwept  EventKind = "sessions_swept"
	EventPullCompleted  EventKind = "pull_completed"
	EventPullFailed     EventKind = "pull_failed"
)

// Event is one audit fact. Detail carries kind-specific fields (pull counts,
// failure reasons) as flat strings so every sink can serialize it.
type Event struct {
	ID     uuid.UUID         `json:"id"`
	Time   time.Time         `json:"time"`
	Kind   EventKind         `json:"kind"`
	Login  string            `json:"login,omitempty"`
	Source string            `json:"source,omitempty"`
	Detail map[string]string `json:"detail,omitempty"`
}

// NewEvent stamps identity and time on an event.
func NewEvent(kind EventKind) Event {
	return Event{
		ID:     uuid.New(),
		Time:   time.Now().UTC(),
		Kind:   kind,
		Detail: make(map[string]string),
	}
}
