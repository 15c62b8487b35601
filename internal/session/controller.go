package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/actions"
	"github.com/ricochet1k/officemesh/internal/domain"
	"github.com/ricochet1k/officemesh/internal/engine"
	"github.com/ricochet1k/officemesh/internal/logging"
	"github.com/ricochet1k/officemesh/internal/resource"
	"github.com/ricochet1k/officemesh/internal/vfs"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

var (
	ErrSessionExists  = errors.New("a session is already open on this page")
	ErrNotReady       = errors.New("session is not ready")
	ErrBusy           = errors.New("a document operation is already in progress")
	ErrNoDocument     = errors.New("no document loaded")
	ErrDestroyed      = errors.New("session destroyed")
	ErrFileType       = errors.New("file type not accepted")
	ErrNoBootstrapper = errors.New("no engine bootstrapper configured")
)

const (
	DefaultSettleDelay  = time.Second
	DefaultResizeDelay  = 500 * time.Millisecond
	DefaultOpTimeout    = 30 * time.Second
	DefaultDocumentName = "Untitled"

	// DocumentDir holds document bytes in the host-side store.
	DocumentDir = "/documents"

	DefaultAcceptedFileTypes = ".docx,.odt,.doc,.xlsx,.ods,.pptx,.odp"
)

type Config struct {
	// ID names the session in events. A random id is used when empty.
	ID           string
	Bootstrapper engine.Bootstrapper
	Actions      *actions.Table

	AcceptedFileTypes string
	DocumentName      string

	// ReadOnly blocks every command except ViewerToggleCommand, which is
	// also dispatched after each document load.
	ReadOnly            bool
	ViewerToggleCommand string

	Resources []resource.Descriptor
	Resolver  *resource.Resolver

	// SettleDelay separates the engine's ui_ready from the ready event.
	SettleDelay time.Duration
	// ResizeDelay schedules the second resize after a document load.
	ResizeDelay time.Duration
	// OpTimeout bounds load and save round trips. Negative disables it.
	OpTimeout time.Duration

	// UIStore holds the host-side copy of document bytes.
	UIStore vfs.Store
	Logger  *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Actions == nil {
		c.Actions = actions.Writer()
	}
	if c.AcceptedFileTypes == "" {
		c.AcceptedFileTypes = DefaultAcceptedFileTypes
	}
	if c.DocumentName == "" {
		c.DocumentName = DefaultDocumentName
	}
	if c.ViewerToggleCommand == "" {
		c.ViewerToggleCommand = actions.CommandEditDoc
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.ResizeDelay == 0 {
		c.ResizeDelay = DefaultResizeDelay
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = DefaultOpTimeout
	}
	if c.UIStore == nil {
		c.UIStore = vfs.NewMemStore()
	}
	c.Logger = logging.Or(c.Logger)
	if c.Resolver == nil {
		c.Resolver = &resource.Resolver{Logger: c.Logger}
	}
	return c
}

// Controller drives one engine session: bootstrap, command dispatch, state
// subscriptions and the document bridge. All engine traffic goes through it.
type Controller struct {
	cfg       Config
	id        string
	log       *zap.Logger
	page      *Page
	bus       *eventBus
	readiness *domain.Readiness

	bootCtx    context.Context
	bootCancel context.CancelFunc
	runCtx     context.Context
	runCancel  context.CancelFunc
	wg         sync.WaitGroup
	done       chan struct{}

	mu        sync.Mutex
	inst      *engine.Instance
	destroyed bool
	sawUI     bool
	bootErr   error
	timers    map[*time.Timer]struct{}
	fonts     []string
	installed []string

	reg     registry
	doc     domain.DocumentHandle
	uiPath  string
	docName string
	op      *pendingOp
}

func newController(page *Page, cfg Config) (*Controller, error) {
	if cfg.Bootstrapper == nil {
		return nil, ErrNoBootstrapper
	}
	cfg = cfg.withDefaults()
	log := cfg.Logger.Named("session").With(zap.String("session_id", cfg.ID))

	c := &Controller{
		cfg:       cfg,
		id:        cfg.ID,
		log:       log,
		page:      page,
		bus:       newEventBus(log),
		readiness: domain.NewReadiness(),
		done:      make(chan struct{}),
		timers:    make(map[*time.Timer]struct{}),
		reg:       newRegistry(cfg.Actions),
		docName:   cfg.DocumentName,
	}
	return c, nil
}

func (c *Controller) start(ctx context.Context) {
	c.bootCtx, c.bootCancel = context.WithCancel(ctx)
	c.runCtx, c.runCancel = context.WithCancel(context.Background())

	c.mu.Lock()
	if err := c.readiness.TransitionTo(domain.ReadinessBootstrapping, "open"); err != nil {
		c.log.Warn("bootstrap transition rejected", zap.Error(err))
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.bootstrap()
}

func (c *Controller) bootstrap() {
	defer c.wg.Done()
	ctx := c.bootCtx

	resolved := c.cfg.Resolver.Resolve(ctx, c.cfg.Resources)
	hook := resource.Hook(resolved, c.log, func(paths []string) {
		c.mu.Lock()
		c.installed = paths
		c.mu.Unlock()
	})

	c.log.Debug("booting engine", zap.Int("resources", len(resolved)))
	inst, err := c.cfg.Bootstrapper.Boot(ctx, engine.BootConfig{
		PreRun: []engine.PreRunFunc{hook},
		Logger: c.log,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		if inst != nil {
			_ = inst.Close()
		}
		return
	}
	if err != nil {
		c.bootErr = err
		c.log.Error("engine bootstrap failed", zap.Error(err))
		c.publishLocked(domain.NewErrorEvent(c.id, domain.OpBootstrap, "engine bootstrap failed", err))
		return
	}
	c.inst = inst
	c.wg.Add(1)
	go c.readLoop(inst.Port)
}

func (c *Controller) readLoop(port engine.Port) {
	defer c.wg.Done()
	for {
		env, err := port.Recv(c.runCtx)
		if err != nil {
			c.mu.Lock()
			if !c.destroyed {
				c.log.Error("engine port failed", zap.Error(err))
				c.publishLocked(domain.NewErrorEvent(c.id, domain.OpEngine, "engine connection lost", err))
			}
			c.mu.Unlock()
			return
		}
		c.handle(env)
	}
}

func (c *Controller) handle(env protocol.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}

	switch env.Cmd {
	case protocol.CmdUIReady:
		c.onUIReadyLocked()
	case protocol.CmdFontList:
		c.fonts = append([]string(nil), env.Fonts...)
		c.publishLocked(domain.NewFontListEvent(c.id, append([]string(nil), c.fonts...)))
	case protocol.CmdDocLoaded:
		c.onDocLoadedLocked(env.Path)
	case protocol.CmdStateChanged:
		c.onStateChangedLocked(env)
	case protocol.CmdSubscribeFailed:
		c.log.Debug("subscription failed", zap.String("command", env.Command), zap.String("reason", env.Error))
	case protocol.CmdExported:
		c.onExportedLocked(env.Path)
	case protocol.CmdFileContents:
		c.onFileContentsLocked(env.Path, env.Data)
	case protocol.CmdFailure:
		c.onFailureLocked(env)
	default:
		c.log.Debug("ignoring engine message", zap.String("cmd", string(env.Cmd)))
	}
}

func (c *Controller) onUIReadyLocked() {
	if c.sawUI || c.readiness.State() != domain.ReadinessBootstrapping {
		return
	}
	c.sawUI = true
	c.sendLocked(protocol.Resize())
	c.afterLocked(c.cfg.SettleDelay, func() {
		if err := c.readiness.TransitionTo(domain.ReadinessUIReady, "engine ui ready"); err != nil {
			c.log.Warn("ready transition rejected", zap.Error(err))
			return
		}
		c.subscribeAllLocked()
		c.log.Info("session ready")
		c.publishLocked(domain.NewReadyEvent(c.id))
	})
}

// sendLocked writes one envelope to the engine. Send failures surface later
// through the read loop, so they are only logged here.
func (c *Controller) sendLocked(env protocol.Envelope) bool {
	if c.inst == nil || c.destroyed {
		return false
	}
	if err := c.inst.Port.Send(env); err != nil {
		c.log.Warn("engine send failed", zap.String("cmd", string(env.Cmd)), zap.Error(err))
		return false
	}
	return true
}

func (c *Controller) publishLocked(e domain.Event) {
	c.bus.publish(e)
}

// afterLocked runs fn under the controller lock after d, unless the session
// has been destroyed by then.
func (c *Controller) afterLocked(d time.Duration, fn func()) *time.Timer {
	if c.destroyed {
		return nil
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.destroyed {
			return
		}
		delete(c.timers, t)
		fn()
	})
	c.timers[t] = struct{}{}
	return t
}

func (c *Controller) stopTimerLocked(t *time.Timer) {
	if t == nil {
		return
	}
	t.Stop()
	delete(c.timers, t)
}

// Destroy tears the session down. It is safe to call more than once and from
// event handlers; only the first call emits the destroyed event.
func (c *Controller) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	if err := c.readiness.TransitionTo(domain.ReadinessDestroyed, "destroy"); err != nil {
		c.log.Debug("destroy transition rejected", zap.Error(err))
	}
	for t := range c.timers {
		t.Stop()
	}
	c.timers = map[*time.Timer]struct{}{}
	c.op = nil
	c.reg.suspend()
	inst := c.inst
	c.mu.Unlock()

	c.bootCancel()
	c.runCancel()
	if inst != nil {
		if err := inst.Close(); err != nil {
			c.log.Debug("engine close", zap.Error(err))
		}
	}
	c.wg.Wait()
	c.page.release(c)

	c.log.Info("session destroyed")
	c.bus.publish(domain.NewDestroyedEvent(c.id))
	c.bus.close()
	close(c.done)
}

// Done is closed once Destroy has finished.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) State() domain.ReadinessState {
	return c.readiness.State()
}

func (c *Controller) Ready() bool {
	return c.readiness.Ready()
}

func (c *Controller) ReadOnly() bool {
	return c.cfg.ReadOnly
}

func (c *Controller) Actions() *actions.Table {
	return c.cfg.Actions
}

func (c *Controller) Transitions() []domain.StateTransition {
	return c.readiness.Transitions()
}

// Fonts returns the engine's font list, available once it has been reported.
func (c *Controller) Fonts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.fonts...)
}

// InstalledResources lists the engine paths written before startup.
func (c *Controller) InstalledResources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.installed...)
}

// BootError reports why the bootstrap failed, if it did.
func (c *Controller) BootError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootErr
}

func (c *Controller) DocumentName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docName
}

// SetDocumentName changes the display name reported with saved documents.
func (c *Controller) SetDocumentName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		name = DefaultDocumentName
	}
	c.docName = name
}

// Subscribe delivers events of the given types, or all events when none are
// named. Slow subscribers lose events instead of blocking the session.
func (c *Controller) Subscribe(buf int, types ...domain.EventType) *Subscription {
	return c.bus.subscribe(buf, types...)
}

// On calls fn for each matching event on the event goroutine. fn may call
// back into the controller. The returned func removes the handler.
func (c *Controller) On(fn func(domain.Event), types ...domain.EventType) func() {
	return c.bus.on(fn, types...)
}

// Once is On for a single delivery.
func (c *Controller) Once(fn func(domain.Event), types ...domain.EventType) func() {
	var once sync.Once
	var remove func()
	var mu sync.Mutex
	mu.Lock()
	remove = c.bus.on(func(e domain.Event) {
		once.Do(func() {
			mu.Lock()
			r := remove
			mu.Unlock()
			r()
			fn(e)
		})
	}, types...)
	mu.Unlock()
	return remove
}

func (c *Controller) String() string {
	return fmt.Sprintf("session %s (%s)", c.id, c.readiness.State())
}
