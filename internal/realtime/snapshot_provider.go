package realtime

import (
	"fmt"

	"github.com/ricochet1k/officemesh/internal/domain"
	"github.com/ricochet1k/officemesh/internal/presentation"
	"github.com/ricochet1k/officemesh/internal/session"
	realtimeTypes "github.com/ricochet1k/officemesh/pkg/realtime"
)

// SessionSource yields the live session, or an error when none is open.
type SessionSource interface {
	Current() (*session.Controller, error)
}

type SnapshotProvider struct {
	source SessionSource
}

func NewSnapshotProvider(source SessionSource) *SnapshotProvider {
	return &SnapshotProvider{source: source}
}

func (p *SnapshotProvider) Snapshot(topic string) (any, error) {
	switch topic {
	case TopicSessionState:
		return p.sessionStateSnapshot(), nil
	case TopicSessionEvents:
		// Events are not replayed; the state snapshot carries what a late
		// subscriber needs.
		return p.sessionStateSnapshot(), nil
	default:
		return nil, fmt.Errorf("unsupported topic: %s", topic)
	}
}

func (p *SnapshotProvider) sessionStateSnapshot() realtimeTypes.SessionStateSnapshot {
	c, err := p.source.Current()
	if err != nil || c == nil {
		return realtimeTypes.SessionStateSnapshot{}
	}
	state := StateFromSnapshot(c.Snapshot())
	return realtimeTypes.SessionStateSnapshot{Session: &state}
}

func StateFromSnapshot(s session.Snapshot) realtimeTypes.SessionState {
	state := realtimeTypes.SessionState{
		ID:           s.ID,
		State:        s.State,
		ReadOnly:     s.ReadOnly,
		DocumentName: s.DocumentName,
		Busy:         s.Busy,
		Fonts:        s.Fonts,
		States:       make(map[string]realtimeTypes.CommandState, len(s.States)),
		UpdatedAt:    s.UpdatedAt,
	}
	if state.Fonts == nil {
		state.Fonts = []string{}
	}
	if s.Document != nil {
		state.DocumentPath = s.Document.Path
	}
	for command, st := range s.States {
		state.States[command] = realtimeTypes.CommandState{Value: st.Value, Enabled: st.Enabled}
	}
	return state
}

func EventFromDomain(e domain.Event) realtimeTypes.SessionEvent {
	rest := presentation.EventFromDomain(e)
	return realtimeTypes.SessionEvent{
		EventID:   rest.EventID,
		Type:      string(rest.Type),
		Timestamp: rest.Timestamp,
		SessionID: rest.SessionID,
		Data:      rest.Data,
	}
}

// ChangesState reports whether e alters the session.state view beyond a
// single command state.
func ChangesState(e domain.Event) bool {
	switch e.Type {
	case domain.EventTypeReady, domain.EventTypeFontList, domain.EventTypeDocumentLoaded,
		domain.EventTypeDocumentSaved, domain.EventTypeError, domain.EventTypeDestroyed:
		return true
	default:
		return false
	}
}
