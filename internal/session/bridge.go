package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/digest"
	"github.com/ricochet1k/officemesh/internal/domain"
	"github.com/ricochet1k/officemesh/internal/vfs"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

type saveStage int

const (
	stageExporting saveStage = iota
	stageReading
)

// pendingOp is the single load or save round trip in flight.
type pendingOp struct {
	kind  string
	path  string
	stage saveStage
	timer *time.Timer

	prevDoc    domain.DocumentHandle
	prevUIPath string
	prevName   string
	// prevData holds bytes overwritten in the host store by the load.
	prevData []byte
}

func (c *Controller) startOpLocked(op *pendingOp) {
	c.op = op
	if c.cfg.OpTimeout < 0 {
		return
	}
	op.timer = c.afterLocked(c.cfg.OpTimeout, func() {
		if c.op != op {
			return
		}
		c.failOpLocked(fmt.Sprintf("%s timed out", op.kind), errors.New("engine did not respond"))
	})
}

func (c *Controller) finishOpLocked() *pendingOp {
	op := c.op
	if op != nil {
		c.stopTimerLocked(op.timer)
		c.op = nil
	}
	return op
}

func (c *Controller) failOpLocked(message string, err error) {
	op := c.finishOpLocked()
	if op == nil {
		return
	}
	if op.kind == domain.OpLoad {
		c.doc = op.prevDoc
		c.uiPath = op.prevUIPath
		c.docName = op.prevName
		if op.prevData != nil {
			if err := c.cfg.UIStore.WriteFile(op.prevUIPath, op.prevData); err != nil {
				c.log.Warn("restoring previous document failed", zap.Error(err))
			}
		}
		if !c.doc.IsZero() {
			c.subscribeAllLocked()
		}
	}
	c.log.Warn("document operation failed", zap.String("op", op.kind), zap.String("path", op.path), zap.Error(err))
	c.publishLocked(domain.NewErrorEvent(c.id, op.kind, message, err))
}

// LoadDocument reads r fully and loads it as name.
func (c *Controller) LoadDocument(name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	return c.LoadDocumentBuffer(name, data)
}

// LoadDocumentBuffer stages data in the host store, copies it into the engine
// filesystem and asks the engine to open it. Completion is reported by the
// document-loaded event.
func (c *Controller) LoadDocumentBuffer(name string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return ErrDestroyed
	}
	if !c.readiness.Ready() {
		return ErrNotReady
	}
	if c.op != nil {
		return fmt.Errorf("%w: %s", ErrBusy, c.op.kind)
	}
	if !domain.AcceptsFileType(c.cfg.AcceptedFileTypes, name) {
		return fmt.Errorf("%w: %s", ErrFileType, name)
	}

	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		return fmt.Errorf("%w: %q", vfs.ErrInvalidPath, name)
	}
	uiPath := path.Join(DocumentDir, base)
	prevData, readErr := c.cfg.UIStore.ReadFile(uiPath)
	existed := readErr == nil
	if err := vfs.WriteFileAll(c.cfg.UIStore, uiPath, data); err != nil {
		c.restoreUIFileLocked(uiPath, prevData, existed)
		return fmt.Errorf("stage document: %w", err)
	}
	doc := domain.NewDocumentHandle(base)
	if err := vfs.Copy(c.inst.FS, doc.Path, c.cfg.UIStore, uiPath); err != nil {
		c.restoreUIFileLocked(uiPath, prevData, existed)
		return fmt.Errorf("copy document to engine: %w", err)
	}

	op := &pendingOp{
		kind:       domain.OpLoad,
		path:       doc.Path,
		prevDoc:    c.doc,
		prevUIPath: c.uiPath,
		prevName:   c.docName,
	}
	if uiPath == c.uiPath {
		op.prevData = prevData
	}
	c.reg.suspend()
	c.doc = doc
	c.uiPath = uiPath
	c.docName = base
	c.startOpLocked(op)

	if !c.sendLocked(protocol.LoadDocument(doc.Path)) {
		c.failOpLocked("load request failed", errEngineSend)
		return fmt.Errorf("load %s: %w", name, errEngineSend)
	}
	c.log.Info("loading document", zap.String("name", base), zap.String("path", doc.Path), zap.Int("size", len(data)))
	return nil
}

var errEngineSend = errors.New("engine rejected message")

// restoreUIFileLocked puts back what the host store held at p before a load
// that never reached the engine.
func (c *Controller) restoreUIFileLocked(p string, prev []byte, existed bool) {
	var err error
	if existed {
		err = c.cfg.UIStore.WriteFile(p, prev)
	} else if vfs.Exists(c.cfg.UIStore, p) {
		err = c.cfg.UIStore.Remove(p)
	}
	if err != nil {
		c.log.Warn("restoring host document failed", zap.String("path", p), zap.Error(err))
	}
}

func (c *Controller) onDocLoadedLocked(p string) {
	if c.op != nil && c.op.kind == domain.OpLoad {
		if p != "" && p != c.op.path {
			c.log.Debug("ignoring doc_loaded for another path", zap.String("path", p), zap.String("want", c.op.path))
			return
		}
		c.finishOpLocked()
	} else if c.doc.IsZero() {
		if p == "" {
			return
		}
		c.doc = domain.DocumentHandle{Name: c.docName, Path: p}
	} else if p != "" && p != c.doc.Path {
		c.log.Debug("ignoring doc_loaded for another path", zap.String("path", p), zap.String("want", c.doc.Path))
		return
	}

	if !c.readiness.Ready() {
		return
	}
	c.subscribeAllLocked()
	if c.cfg.ReadOnly {
		c.sendLocked(protocol.Dispatch(c.cfg.ViewerToggleCommand))
	}
	c.sendLocked(protocol.Resize())
	c.afterLocked(c.cfg.ResizeDelay, func() {
		c.sendLocked(protocol.Resize())
	})
	c.publishLocked(domain.NewDocumentLoadedEvent(c.id, c.doc))
}

// Save exports the current document from the engine and commits the bytes
// to the host store. Completion is reported by the document-saved event,
// failure by an error event.
func (c *Controller) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Controller) saveLocked() error {
	if c.destroyed {
		return ErrDestroyed
	}
	if !c.readiness.Ready() {
		return ErrNotReady
	}
	if c.op != nil {
		return fmt.Errorf("%w: %s", ErrBusy, c.op.kind)
	}
	if c.doc.IsZero() || c.uiPath == "" {
		return ErrNoDocument
	}

	op := &pendingOp{kind: domain.OpSave, path: c.doc.Path, stage: stageExporting}
	c.startOpLocked(op)
	if !c.sendLocked(protocol.Export(c.doc.Path, domain.ExportFilterFor(c.doc.Path))) {
		c.failOpLocked("export request failed", errEngineSend)
		return fmt.Errorf("save: %w", errEngineSend)
	}
	return nil
}

func (c *Controller) onExportedLocked(p string) {
	op := c.op
	if op == nil || op.kind != domain.OpSave || op.stage != stageExporting || p != op.path {
		c.log.Debug("unexpected export confirmation", zap.String("path", p))
		return
	}
	op.stage = stageReading
	if !c.sendLocked(protocol.ReadFile(op.path)) {
		c.failOpLocked("read request failed", errEngineSend)
	}
}

func (c *Controller) onFileContentsLocked(p string, data []byte) {
	op := c.op
	if op == nil || op.kind != domain.OpSave || op.stage != stageReading || p != op.path {
		c.log.Debug("unexpected file contents", zap.String("path", p))
		return
	}
	if err := vfs.WriteFileAll(c.cfg.UIStore, c.uiPath, data); err != nil {
		c.failOpLocked("saved document could not be stored", err)
		return
	}
	c.finishOpLocked()

	sum := digest.Document(data).String()
	saved := domain.DocumentHandle{Name: c.docName, Path: c.doc.Path}
	c.log.Info("document saved", zap.String("name", saved.Name), zap.Int("size", len(data)), zap.String("checksum", sum))
	c.publishLocked(domain.NewDocumentSavedEvent(c.id, saved, bytes.Clone(data), sum))
}

func (c *Controller) onFailureLocked(env protocol.Envelope) {
	op := c.op
	if op == nil {
		c.log.Debug("engine failure with no operation", zap.String("op", env.Op), zap.String("error", env.Error))
		return
	}
	if env.Path != "" && env.Path != op.path {
		return
	}
	switch {
	case op.kind == domain.OpLoad && env.Op == protocol.OpLoad:
		c.failOpLocked("document could not be loaded", errors.New(env.Error))
	case op.kind == domain.OpSave && op.stage == stageExporting && env.Op == protocol.OpExport:
		c.failOpLocked("document export failed", errors.New(env.Error))
	case op.kind == domain.OpSave && op.stage == stageReading && env.Op == protocol.OpRead:
		c.failOpLocked("exported document could not be read", errors.New(env.Error))
	default:
		c.log.Debug("engine failure ignored", zap.String("op", env.Op), zap.String("error", env.Error))
	}
}

// Document returns the authoritative host-side bytes of the current
// document: the loaded bytes, or the last saved bytes.
func (c *Controller) Document() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uiPath == "" {
		return nil, ErrNoDocument
	}
	return c.cfg.UIStore.ReadFile(c.uiPath)
}

func (c *Controller) DocumentHandle() domain.DocumentHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

// Busy reports the kind of document operation in flight, or "".
func (c *Controller) Busy() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.op == nil {
		return ""
	}
	return c.op.kind
}
