package event

import (
	"encoding/json"
	"time"
)

type Type string

const (
	TaskCreated      Type = "task_created"
	TaskUpdated      Type = "task_updated"
	TaskDeleted      Type = "task_deleted"
	ProjectCreated   Type = "project_created"
	ProjectUpdated   Type = "project_updated"
	ProjectDeleted   Type = "project_deleted"
	UserConnected    Type = "user_connected"
	UserDisconnected Type = "user_disconnected"
	Error            Type = "error"
)

var known = map[Type]struct{}{
	TaskCreated: {}, TaskUpdated: {}, TaskDeleted: {},
	ProjectCreated: {}, ProjectUpdated: {}, ProjectDeleted: {},
	UserConnected: {}, UserDisconnected: {}, Error: {},
}

func (t Type) Valid() bool {
	_, ok := known[t]
	return ok
}

// IsUpdate reports whether events of this type replace entity state and may be coalesced.
func (t Type) IsUpdate() bool {
	return t == TaskUpdated || t == ProjectUpdated
}

type Message struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    *int64          `json:"userId,omitempty"`
}

func New(t Type, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: raw, Timestamp: time.Now().UTC()}, nil
}

// EntityID extracts payload.id, used as the debounce key.
func (m Message) EntityID() (string, bool) {
	var p struct {
		ID json.RawMessage `json:"id"`
	}
	if len(m.Payload) == 0 || json.Unmarshal(m.Payload, &p) != nil || len(p.ID) == 0 {
		return "", false
	}
	var s string
	if json.Unmarshal(p.ID, &s) == nil {
		return s, s != ""
	}
	return string(p.ID), string(p.ID) != "null"
}
