package domain

import "time"

type EventType int

const (
	EventTypeReady EventType = iota
	EventTypeStateChanged
	EventTypeFontList
	EventTypeDocumentLoaded
	EventTypeDocumentSaved
	EventTypeError
	EventTypeDestroyed
)

func (t EventType) String() string {
	switch t {
	case EventTypeReady:
		return "ready"
	case EventTypeStateChanged:
		return "state-changed"
	case EventTypeFontList:
		return "font-list"
	case EventTypeDocumentLoaded:
		return "document-loaded"
	case EventTypeDocumentSaved:
		return "document-saved"
	case EventTypeError:
		return "error"
	case EventTypeDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) (EventType, bool) {
	for t := EventTypeReady; t <= EventTypeDestroyed; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

type Event struct {
	ID        int64
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      any
}

// StateChangedData carries the extracted scalar: a bool for toggles, a string
// otherwise.
type StateChangedData struct {
	Command string
	Value   any
	Enabled bool
}

type FontListData struct {
	Fonts []string
}

type DocumentLoadedData struct {
	Name string
	Path string
}

type DocumentSavedData struct {
	Name     string
	Path     string
	Data     []byte
	Checksum string
}

// Error operations.
const (
	OpBootstrap = "bootstrap"
	OpEngine    = "engine"
	OpLoad      = "load"
	OpSave      = "save"
)

type ErrorData struct {
	Op      string
	Message string
	Err     error
}

func NewReadyEvent(sessionID string) Event {
	return Event{Type: EventTypeReady, Timestamp: time.Now(), SessionID: sessionID}
}

func NewStateChangedEvent(sessionID, command string, value any, enabled bool) Event {
	return Event{
		Type:      EventTypeStateChanged,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      StateChangedData{Command: command, Value: value, Enabled: enabled},
	}
}

func NewFontListEvent(sessionID string, fonts []string) Event {
	return Event{
		Type:      EventTypeFontList,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      FontListData{Fonts: fonts},
	}
}

func NewDocumentLoadedEvent(sessionID string, doc DocumentHandle) Event {
	return Event{
		Type:      EventTypeDocumentLoaded,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      DocumentLoadedData{Name: doc.Name, Path: doc.Path},
	}
}

func NewDocumentSavedEvent(sessionID string, doc DocumentHandle, data []byte, checksum string) Event {
	return Event{
		Type:      EventTypeDocumentSaved,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      DocumentSavedData{Name: doc.Name, Path: doc.Path, Data: data, Checksum: checksum},
	}
}

func NewErrorEvent(sessionID, op, message string, err error) Event {
	return Event{
		Type:      EventTypeError,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      ErrorData{Op: op, Message: message, Err: err},
	}
}

func NewDestroyedEvent(sessionID string) Event {
	return Event{Type: EventTypeDestroyed, Timestamp: time.Now(), SessionID: sessionID}
}
