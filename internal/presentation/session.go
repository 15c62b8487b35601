// Package presentation maps session state onto the REST and realtime types.
package presentation

import (
	"github.com/ricochet1k/officemesh/internal/actions"
	"github.com/ricochet1k/officemesh/internal/domain"
	"github.com/ricochet1k/officemesh/internal/session"
	"github.com/ricochet1k/officemesh/internal/storage"
	apiTypes "github.com/ricochet1k/officemesh/pkg/api"
)

func SessionResponseFromSnapshot(s session.Snapshot) apiTypes.SessionResponse {
	resp := apiTypes.SessionResponse{
		ID:           s.ID,
		State:        apiTypes.SessionState(s.State),
		ReadOnly:     s.ReadOnly,
		DocumentName: s.DocumentName,
		Busy:         s.Busy,
		Fonts:        s.Fonts,
		Resources:    s.Resources,
		States:       make(map[string]apiTypes.CommandState, len(s.States)),
		ErrorMessage: s.Error,
		UpdatedAt:    s.UpdatedAt,
	}
	if resp.Fonts == nil {
		resp.Fonts = []string{}
	}
	for command, st := range s.States {
		resp.States[command] = apiTypes.CommandState{Value: st.Value, Enabled: st.Enabled}
	}
	if s.Document != nil {
		resp.Document = &apiTypes.DocumentInfo{Name: s.Document.Name, Path: s.Document.Path, Size: s.Document.Size}
	}
	return resp
}

func EventFromDomain(e domain.Event) apiTypes.Event {
	return apiTypes.Event{
		EventID:   e.ID,
		Type:      apiTypes.EventType(e.Type.String()),
		Timestamp: e.Timestamp,
		SessionID: e.SessionID,
		Data:      eventData(e.Data),
	}
}

func eventData(data any) any {
	switch d := data.(type) {
	case domain.StateChangedData:
		return apiTypes.StateChangedData{Command: d.Command, Value: d.Value, Enabled: d.Enabled}
	case domain.FontListData:
		return apiTypes.FontListData{Fonts: d.Fonts}
	case domain.DocumentLoadedData:
		return apiTypes.DocumentLoadedData{Name: d.Name, Path: d.Path}
	case domain.DocumentSavedData:
		// Bytes stay server side; clients fetch them by revision.
		return apiTypes.DocumentSavedData{Name: d.Name, Path: d.Path, Size: len(d.Data), Checksum: d.Checksum}
	case domain.ErrorData:
		out := apiTypes.ErrorData{Op: d.Op, Message: d.Message}
		if d.Err != nil {
			out.Cause = d.Err.Error()
		}
		return out
	default:
		return d
	}
}

func ActionsFromTable(t *actions.Table) apiTypes.ActionsResponse {
	resp := apiTypes.ActionsResponse{Groups: []apiTypes.ActionGroup{}, Tracked: t.Tracked()}
	if resp.Tracked == nil {
		resp.Tracked = []string{}
	}
	for _, g := range t.Groups() {
		group := apiTypes.ActionGroup{ID: g.ID, Label: g.Label, Items: make([]apiTypes.Action, 0, len(g.Items))}
		for _, d := range g.Items {
			item := apiTypes.Action{
				ID:       d.ID,
				Command:  d.Command,
				Kind:     string(d.Kind),
				Label:    d.Label,
				Icon:     d.Icon,
				Shortcut: d.Shortcut,
				Encoding: string(d.EffectiveEncoding()),
			}
			for _, o := range d.Options {
				item.Options = append(item.Options, apiTypes.ActionOption{Value: o.Value, Label: o.Label})
			}
			group.Items = append(group.Items, item)
		}
		resp.Groups = append(resp.Groups, group)
	}
	return resp
}

func RevisionResponse(r *storage.Revision) apiTypes.RevisionResponse {
	return apiTypes.RevisionResponse{
		ID:        r.ID,
		Name:      r.Name,
		SessionID: r.SessionID,
		Size:      r.Size,
		Checksum:  r.Checksum,
		SavedAt:   r.SavedAt,
	}
}

func RevisionListResponse(revs []*storage.Revision) apiTypes.RevisionListResponse {
	resp := apiTypes.RevisionListResponse{Revisions: make([]apiTypes.RevisionResponse, 0, len(revs))}
	for _, r := range revs {
		resp.Revisions = append(resp.Revisions, RevisionResponse(r))
	}
	return resp
}
