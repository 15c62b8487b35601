// Package sim is an in-process document engine that speaks the engine
// protocol. It keeps its own filesystem, scans its font directory once at
// startup, tracks formatting state and honours subscriptions. The host side
// cannot tell it apart from a sandboxed engine.
package sim

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/engine"
	"github.com/ricochet1k/officemesh/internal/logging"
	"github.com/ricochet1k/officemesh/internal/resource"
	"github.com/ricochet1k/officemesh/internal/vfs"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

var defaultToggles = []string{
	".uno:Bold", ".uno:Italic", ".uno:Underline", ".uno:Strikeout",
	".uno:SubScript", ".uno:SuperScript",
	".uno:LeftPara", ".uno:CenterPara", ".uno:RightPara", ".uno:JustifyPara",
	".uno:DefaultBullet", ".uno:DefaultNumbering",
	".uno:FormatPaintbrush", ".uno:ControlCodes",
	".uno:ParaLeftToRight", ".uno:ParaRightToLeft",
}

var defaultFonts = []string{"DejaVu Sans", "Liberation Sans", "Liberation Serif"}

type Options struct {
	// FontDir is scanned once before ui_ready.
	FontDir string
	// Fonts are reported in addition to the files found in FontDir.
	Fonts []string
	// Toggles are commands whose dispatch flips a boolean state.
	Toggles []string
	// Unsupported commands answer subscribe with subscribeFailed.
	Unsupported []string
	// Fail maps an operation (protocol.OpExport, protocol.OpRead,
	// protocol.OpLoad) to the failure reason the engine reports.
	Fail map[string]string
	// Silent suppresses replies to export, so the host observes a timeout.
	Silent []string
	// WaitForStart delays startup until a start envelope arrives, as a
	// remote engine does.
	WaitForStart bool
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.FontDir == "" {
		o.FontDir = resource.FontDir
	}
	if o.Fonts == nil {
		o.Fonts = defaultFonts
	}
	if o.Toggles == nil {
		o.Toggles = defaultToggles
	}
	return o
}

type Engine struct {
	port engine.Port
	fs   vfs.Store
	opts Options
	log  *zap.Logger

	mu          sync.Mutex
	started     bool
	scanned     []string
	toggles     map[string]bool
	unsupported map[string]bool
	subs        map[string]uint64
	state       map[string]protocol.StateValue
	docPath     string
	content     []byte
	inserted    strings.Builder
	received    []protocol.Envelope
	sent        []protocol.Envelope
	resizes     int
	done        chan struct{}
}

// New wires an engine to its end of a port and its private filesystem.
func New(port engine.Port, fs vfs.Store, opts Options) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		port:        port,
		fs:          fs,
		opts:        opts,
		log:         logging.Or(opts.Logger).Named("engine.sim"),
		toggles:     make(map[string]bool),
		unsupported: make(map[string]bool),
		subs:        make(map[string]uint64),
		state:       make(map[string]protocol.StateValue),
		done:        make(chan struct{}),
	}
	for _, c := range opts.Toggles {
		e.toggles[c] = true
	}
	for _, c := range opts.Unsupported {
		e.unsupported[c] = true
	}
	return e
}

// Run serves the port until it closes or ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	if !e.opts.WaitForStart {
		if err := e.startup(); err != nil {
			return err
		}
	}
	for {
		env, err := e.port.Recv(ctx)
		if err != nil {
			if errors.Is(err, engine.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := e.handle(env); err != nil {
			return err
		}
	}
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) startup() error {
	e.mu.Lock()
	e.started = true
	fonts := e.scanFonts()
	e.mu.Unlock()

	if err := e.send(protocol.FontList(fonts)); err != nil {
		return err
	}
	return e.send(protocol.UIReady())
}

// scanFonts lists FontDir once; fonts installed later are never seen.
func (e *Engine) scanFonts() []string {
	names, err := e.fs.List(e.opts.FontDir)
	if err == nil {
		e.scanned = append(e.scanned, names...)
	}

	seen := make(map[string]bool)
	var fonts []string
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			fonts = append(fonts, f)
		}
	}
	for _, f := range e.opts.Fonts {
		add(f)
	}
	for _, n := range e.scanned {
		add(strings.TrimSuffix(n, path.Ext(n)))
	}
	sort.Slice(fonts, func(i, j int) bool {
		return strings.ToLower(fonts[i]) < strings.ToLower(fonts[j])
	})
	return fonts
}

func (e *Engine) send(env protocol.Envelope) error {
	e.mu.Lock()
	e.sent = append(e.sent, env)
	e.mu.Unlock()
	return e.port.Send(env)
}

func (e *Engine) fail(op, p, reason string) error {
	return e.send(protocol.Failure(op, p, reason))
}

func (e *Engine) handle(env protocol.Envelope) error {
	e.mu.Lock()
	e.received = append(e.received, env)
	started := e.started
	e.mu.Unlock()

	switch env.Cmd {
	case protocol.CmdWriteFile:
		if err := vfs.WriteFileAll(e.fs, env.Path, env.Data); err != nil {
			e.log.Warn("write failed", zap.String("path", env.Path), zap.Error(err))
		}
		return nil
	case protocol.CmdMkdir:
		if err := e.fs.MkdirAll(env.Path); err != nil {
			e.log.Warn("mkdir failed", zap.String("path", env.Path), zap.Error(err))
		}
		return nil
	case protocol.CmdStart:
		if started {
			return nil
		}
		return e.startup()
	}

	if !started {
		e.log.Debug("dropping envelope before start", zap.String("cmd", string(env.Cmd)))
		return nil
	}

	switch env.Cmd {
	case protocol.CmdSubscribe:
		return e.subscribe(env.Command, env.Epoch)
	case protocol.CmdDispatch:
		return e.dispatch(env)
	case protocol.CmdLoadDocument:
		return e.load(env.Path)
	case protocol.CmdExport:
		return e.export(env.Path, env.Filter)
	case protocol.CmdReadFile:
		return e.read(env.Path)
	case protocol.CmdResize:
		e.mu.Lock()
		e.resizes++
		e.mu.Unlock()
		return nil
	case protocol.CmdInsertContentControl:
		e.insert(env.Text)
		return nil
	case protocol.CmdInsertContentControlBlock:
		for _, item := range env.Items {
			if item.Para {
				e.insert("\n")
			} else {
				e.insert(item.Text)
			}
		}
		return nil
	default:
		e.log.Debug("ignoring envelope", zap.String("cmd", string(env.Cmd)))
		return nil
	}
}

func (e *Engine) subscribe(command string, epoch uint64) error {
	if e.unsupported[command] {
		return e.send(protocol.SubscribeFailed(command, "command not available for this document"))
	}
	e.mu.Lock()
	e.subs[command] = epoch
	current, ok := e.state[command]
	e.mu.Unlock()

	if !ok {
		current = e.initialState(command)
	}
	return e.send(protocol.StateChanged(command, current, true, epoch))
}

func (e *Engine) initialState(command string) protocol.StateValue {
	switch {
	case e.toggles[command]:
		return protocol.BoolState(false)
	case command == ".uno:FontHeight":
		return fontHeightState(12)
	case command == ".uno:CharFontName":
		return fontNameState("Liberation Serif")
	default:
		return protocol.NoState()
	}
}

func fontHeightState(h float64) protocol.StateValue {
	return protocol.StructState(map[string]any{"Height": h, "Prop": float64(100), "Diff": float64(0)})
}

func fontNameState(name string) protocol.StateValue {
	return protocol.StructState(map[string]any{
		"Name": name, "FamilyName": name, "StyleName": "",
		"Pitch": float64(0), "CharSet": float64(-1), "Family": float64(0),
	})
}

func (e *Engine) dispatch(env protocol.Envelope) error {
	var next *protocol.StateValue
	set := func(s protocol.StateValue) { next = &s }

	e.mu.Lock()
	switch {
	case e.toggles[env.Command]:
		cur := e.state[env.Command]
		set(protocol.BoolState(!cur.Bool))
	case env.Command == ".uno:FontHeight":
		if p, ok := env.Arg("FontHeight.Height"); ok {
			if h, ok := number(p.Value); ok {
				set(fontHeightState(h))
			}
		}
	case env.Command == ".uno:CharFontName":
		if p, ok := env.Arg("CharFontName.FamilyName"); ok {
			if name, ok := p.Value.(string); ok {
				set(fontNameState(name))
			}
		}
	case env.Command == ".uno:InsertText":
		if p, ok := env.Arg("Text"); ok {
			if text, ok := p.Value.(string); ok {
				e.inserted.WriteString(text)
			}
		}
	case env.Command == ".uno:InsertPara":
		e.inserted.WriteString("\n")
	case env.HasValue():
		set(protocol.StringState(*env.Value))
	}
	if next != nil {
		e.state[env.Command] = *next
	}
	epoch, subscribed := e.subs[env.Command]
	e.mu.Unlock()

	if next == nil || !subscribed {
		return nil
	}
	return e.send(protocol.StateChanged(env.Command, *next, true, epoch))
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func (e *Engine) insert(text string) {
	e.mu.Lock()
	e.inserted.WriteString(text)
	e.mu.Unlock()
}

// load replaces the current document. Subscriptions belong to the old
// document and are dropped with it.
func (e *Engine) load(p string) error {
	if reason, ok := e.opts.Fail[protocol.OpLoad]; ok {
		return e.fail(protocol.OpLoad, p, reason)
	}
	data, err := e.fs.ReadFile(p)
	if err != nil {
		return e.fail(protocol.OpLoad, p, err.Error())
	}

	e.mu.Lock()
	e.docPath = p
	e.content = data
	e.inserted.Reset()
	e.subs = make(map[string]uint64)
	e.state = make(map[string]protocol.StateValue)
	e.mu.Unlock()

	return e.send(protocol.DocLoaded(p))
}

func (e *Engine) silent(op string) bool {
	for _, s := range e.opts.Silent {
		if s == op {
			return true
		}
	}
	return false
}

func (e *Engine) export(p, filter string) error {
	if e.silent(protocol.OpExport) {
		return nil
	}
	if reason, ok := e.opts.Fail[protocol.OpExport]; ok {
		return e.fail(protocol.OpExport, p, reason)
	}

	e.mu.Lock()
	out := make([]byte, 0, len(e.content)+e.inserted.Len())
	out = append(out, e.content...)
	out = append(out, e.inserted.String()...)
	e.mu.Unlock()

	if err := vfs.WriteFileAll(e.fs, p, out); err != nil {
		return e.fail(protocol.OpExport, p, err.Error())
	}
	e.log.Debug("exported", zap.String("path", p), zap.String("filter", filter))
	return e.send(protocol.Exported(p))
}

func (e *Engine) read(p string) error {
	if reason, ok := e.opts.Fail[protocol.OpRead]; ok {
		return e.fail(protocol.OpRead, p, reason)
	}
	data, err := e.fs.ReadFile(p)
	if err != nil {
		return e.fail(protocol.OpRead, p, err.Error())
	}
	return e.send(protocol.FileContents(p, data))
}

// Received returns every envelope the engine has read, in order.
func (e *Engine) Received() []protocol.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]protocol.Envelope, len(e.received))
	copy(out, e.received)
	return out
}

// Sent returns every envelope the engine has written, in order.
func (e *Engine) Sent() []protocol.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]protocol.Envelope, len(e.sent))
	copy(out, e.sent)
	return out
}

// ScannedFonts lists the font files present at startup.
func (e *Engine) ScannedFonts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.scanned))
	copy(out, e.scanned)
	return out
}

func (e *Engine) Subscriptions() map[string]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]uint64, len(e.subs))
	for k, v := range e.subs {
		out[k] = v
	}
	return out
}

func (e *Engine) Resizes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resizes
}

func (e *Engine) DocumentPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.docPath
}
