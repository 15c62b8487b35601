package session

import (
	"time"
)

type DocumentInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Snapshot is a point-in-time view of a session for late subscribers.
type Snapshot struct {
	ID           string                  `json:"id"`
	State        string                  `json:"state"`
	ReadOnly     bool                    `json:"read_only"`
	DocumentName string                  `json:"document_name"`
	Document     *DocumentInfo           `json:"document,omitempty"`
	Busy         string                  `json:"busy,omitempty"`
	Fonts        []string                `json:"fonts,omitempty"`
	Resources    []string                `json:"resources,omitempty"`
	States       map[string]CommandState `json:"states"`
	Epoch        uint64                  `json:"epoch"`
	Error        string                  `json:"error,omitempty"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ID:           c.id,
		State:        c.readiness.State().String(),
		ReadOnly:     c.cfg.ReadOnly,
		DocumentName: c.docName,
		Fonts:        append([]string(nil), c.fonts...),
		Resources:    append([]string(nil), c.installed...),
		States:       c.reg.snapshot(),
		Epoch:        c.reg.epoch,
		UpdatedAt:    time.Now(),
	}
	if c.op != nil {
		snap.Busy = c.op.kind
	}
	if c.bootErr != nil {
		snap.Error = c.bootErr.Error()
	}
	if !c.doc.IsZero() {
		info := &DocumentInfo{Name: c.doc.Name, Path: c.doc.Path}
		if st, err := c.cfg.UIStore.Stat(c.uiPath); err == nil {
			info.Size = st.Size
		}
		snap.Document = info
	}
	return snap
}
