package session

import (
	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/actions"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

// DispatchCommand sends the command registered under key, which may be an
// action id or an engine command. value is passed to the descriptor's
// encoding. Commands issued before the session is ready, unknown commands
// and commands blocked by read-only mode are dropped. The save command starts
// a save instead of reaching the engine, in read-only mode too. It reports
// whether anything was sent.
func (c *Controller) DispatchCommand(key string, value ...string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed || !c.readiness.Ready() {
		c.log.Debug("dispatch before ready dropped", zap.String("command", key))
		return false
	}

	d, ok := c.cfg.Actions.Lookup(key)
	if !ok {
		if key != c.cfg.ViewerToggleCommand {
			c.log.Debug("unknown command dropped", zap.String("command", key))
			return false
		}
		d = actions.Descriptor{ID: key, Command: key, Kind: actions.KindButton}
	}

	// Save runs in read-only mode too.
	if d.Command == actions.CommandSave {
		if err := c.saveLocked(); err != nil {
			c.log.Debug("save command ignored", zap.Error(err))
			return false
		}
		return true
	}

	if c.cfg.ReadOnly && d.Command != c.cfg.ViewerToggleCommand {
		c.log.Debug("read-only session dropped command", zap.String("command", d.Command))
		return false
	}

	var v *string
	if len(value) > 0 {
		v = &value[0]
	}
	env, err := actions.Encode(d, v)
	if err != nil {
		c.log.Warn("command encoding failed", zap.String("command", d.Command), zap.Error(err))
		return false
	}
	return c.sendLocked(env)
}

func (c *Controller) canEditLocked(what string) bool {
	if c.destroyed || !c.readiness.Ready() {
		c.log.Debug("insert before ready dropped", zap.String("op", what))
		return false
	}
	if c.cfg.ReadOnly {
		c.log.Debug("read-only session dropped insert", zap.String("op", what))
		return false
	}
	return true
}

var insertTextDescriptor = actions.Descriptor{
	ID:       "insert-text",
	Command:  actions.CommandInsertText,
	Encoding: actions.EncodingText,
}

// InsertText types text at the cursor.
func (c *Controller) InsertText(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.canEditLocked("insert-text") || text == "" {
		return false
	}
	return c.insertTextLocked(text)
}

func (c *Controller) insertTextLocked(text string) bool {
	env, err := actions.Encode(insertTextDescriptor, &text)
	if err != nil {
		return false
	}
	return c.sendLocked(env)
}

// InsertTextBlock types lines separated by paragraph breaks. Empty lines
// produce only the break.
func (c *Controller) InsertTextBlock(lines []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.canEditLocked("insert-text-block") || len(lines) == 0 {
		return false
	}
	for i, line := range lines {
		if i > 0 && !c.sendLocked(protocol.Dispatch(actions.CommandInsertPara)) {
			return false
		}
		if line != "" && !c.insertTextLocked(line) {
			return false
		}
	}
	return true
}

// InsertContentControl wraps text in a single content control.
func (c *Controller) InsertContentControl(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.canEditLocked("insert-content-control") {
		return false
	}
	return c.sendLocked(protocol.InsertContentControl(text))
}

// InsertContentControlBlock inserts one content control per non-empty line,
// with paragraph breaks between lines.
func (c *Controller) InsertContentControlBlock(lines []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.canEditLocked("insert-content-control-block") || len(lines) == 0 {
		return false
	}
	items := make([]protocol.BlockItem, 0, 2*len(lines))
	for i, line := range lines {
		if i > 0 {
			items = append(items, protocol.BlockItem{Para: true})
		}
		if line != "" {
			items = append(items, protocol.BlockItem{Text: line})
		}
	}
	return c.sendLocked(protocol.InsertContentControlBlock(items))
}
