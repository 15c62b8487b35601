package realtime

import "time"

type ClientMessageType string

const (
	ClientMessageTypeSubscribe   ClientMessageType = "subscribe"
	ClientMessageTypeUnsubscribe ClientMessageType = "unsubscribe"
	ClientMessageTypePing        ClientMessageType = "ping"
	ClientMessageTypeCommand     ClientMessageType = "command"
)

type ServerMessageType string

const (
	ServerMessageTypeSnapshot ServerMessageType = "snapshot"
	ServerMessageTypeEvent    ServerMessageType = "event"
	ServerMessageTypeResult   ServerMessageType = "result"
	ServerMessageTypeError    ServerMessageType = "error"
	ServerMessageTypePong     ServerMessageType = "pong"
)

// ClientEnvelope is a message from a UI client. Command and Value are only
// read for command messages.
type ClientEnvelope struct {
	Type    ClientMessageType `json:"type"`
	Topics  []string          `json:"topics,omitempty"`
	Command string            `json:"command,omitempty"`
	Value   *string           `json:"value,omitempty"`
}

type ServerEnvelope struct {
	Type    ServerMessageType `json:"type"`
	Topic   string            `json:"topic,omitempty"`
	Payload any               `json:"payload,omitempty"`
	Message string            `json:"message,omitempty"`
}

type CommandState struct {
	Value   any  `json:"value"`
	Enabled bool `json:"enabled"`
}

// SessionStateSnapshot has a nil Session when no session is open.
type SessionStateSnapshot struct {
	Session *SessionState `json:"session"`
}

type SessionState struct {
	ID           string                  `json:"id"`
	State        string                  `json:"state"`
	ReadOnly     bool                    `json:"read_only"`
	DocumentName string                  `json:"document_name"`
	DocumentPath string                  `json:"document_path,omitempty"`
	Busy         string                  `json:"busy,omitempty"`
	Fonts        []string                `json:"fonts"`
	States       map[string]CommandState `json:"states"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

type SessionEvent struct {
	EventID   int64     `json:"event_id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Data      any       `json:"data,omitempty"`
}

type CommandResult struct {
	Command string `json:"command"`
	Sent    bool   `json:"sent"`
}
