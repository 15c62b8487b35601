package api

import "time"

type SessionState string

const (
	SessionStateUninitialized SessionState = "uninitialized"
	SessionStateBootstrapping SessionState = "bootstrapping"
	SessionStateReady         SessionState = "ui_ready"
	SessionStateDestroyed     SessionState = "destroyed"
)

type ResourceRequest struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

type OpenSessionRequest struct {
	ReadOnly          *bool             `json:"read_only,omitempty"`
	DocumentName      string            `json:"document_name,omitempty"`
	AcceptedFileTypes string            `json:"accepted_file_types,omitempty"`
	Resources         []ResourceRequest `json:"resources,omitempty"`
}

type DocumentInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type CommandState struct {
	Value   any  `json:"value"`
	Enabled bool `json:"enabled"`
}

type SessionResponse struct {
	ID           string                  `json:"id"`
	State        SessionState            `json:"state"`
	ReadOnly     bool                    `json:"read_only"`
	DocumentName string                  `json:"document_name"`
	Document     *DocumentInfo           `json:"document,omitempty"`
	Busy         string                  `json:"busy,omitempty"`
	Fonts        []string                `json:"fonts"`
	Resources    []string                `json:"resources,omitempty"`
	States       map[string]CommandState `json:"states"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

type CommandRequest struct {
	Command string  `json:"command"`
	Value   *string `json:"value,omitempty"`
}

type CommandResponse struct {
	Command string `json:"command"`
	Sent    bool   `json:"sent"`
}

// InsertRequest inserts Text, or Lines separated by paragraph breaks. With
// ContentControl the text is wrapped in content controls.
type InsertRequest struct {
	Text           string   `json:"text,omitempty"`
	Lines          []string `json:"lines,omitempty"`
	ContentControl bool     `json:"content_control,omitempty"`
}

type DocumentNameRequest struct {
	Name string `json:"name"`
}

type ActionOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type Action struct {
	ID       string         `json:"id"`
	Command  string         `json:"command"`
	Kind     string         `json:"kind"`
	Label    string         `json:"label,omitempty"`
	Icon     string         `json:"icon,omitempty"`
	Shortcut string         `json:"shortcut,omitempty"`
	Encoding string         `json:"encoding,omitempty"`
	Options  []ActionOption `json:"options,omitempty"`
}

type ActionGroup struct {
	ID    string   `json:"id"`
	Label string   `json:"label,omitempty"`
	Items []Action `json:"items"`
}

type ActionsResponse struct {
	Groups  []ActionGroup `json:"groups"`
	Tracked []string      `json:"tracked"`
}

type RevisionResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SessionID string    `json:"session_id,omitempty"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	SavedAt   time.Time `json:"saved_at"`
}

type RevisionListResponse struct {
	Revisions []RevisionResponse `json:"revisions"`
}

type EventType string

const (
	EventTypeReady          EventType = "ready"
	EventTypeStateChanged   EventType = "state-changed"
	EventTypeFontList       EventType = "font-list"
	EventTypeDocumentLoaded EventType = "document-loaded"
	EventTypeDocumentSaved  EventType = "document-saved"
	EventTypeError          EventType = "error"
	EventTypeDestroyed      EventType = "destroyed"
)

type Event struct {
	EventID   int64     `json:"event_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Data      any       `json:"data,omitempty"`
}

type StateChangedData struct {
	Command string `json:"command"`
	Value   any    `json:"value"`
	Enabled bool   `json:"enabled"`
}

type FontListData struct {
	Fonts []string `json:"fonts"`
}

type DocumentLoadedData struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// DocumentSavedData omits the bytes; clients fetch them from the document
// or revision endpoints.
type DocumentSavedData struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int    `json:"size"`
	Checksum string `json:"checksum"`
}

type ErrorData struct {
	Op      string `json:"op"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
