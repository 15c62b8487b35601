// Package service hosts the page's document session: it opens and destroys
// controllers, throttles failing bootstraps, archives saved documents and
// relays session events to host-wide listeners.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/actions"
	"github.com/ricochet1k/officemesh/internal/circuit"
	"github.com/ricochet1k/officemesh/internal/domain"
	"github.com/ricochet1k/officemesh/internal/engine"
	"github.com/ricochet1k/officemesh/internal/logging"
	"github.com/ricochet1k/officemesh/internal/resource"
	"github.com/ricochet1k/officemesh/internal/session"
	"github.com/ricochet1k/officemesh/internal/storage"
)

var (
	ErrNoSession    = errors.New("no session open")
	ErrHostShutdown = errors.New("host is shutting down")
)

const (
	DefaultBreakerThreshold = 3
	DefaultBreakerCooldown  = 30 * time.Second
)

type Config struct {
	Bootstrapper engine.Bootstrapper
	// Session is the template for every opened session. Its Bootstrapper
	// defaults to the one above.
	Session session.Config
	// Archive keeps saved documents. Nil disables archiving.
	Archive     *storage.Archive
	Broadcaster *EventBroadcaster

	BreakerThreshold int
	BreakerCooldown  time.Duration

	Logger *zap.Logger
}

// OpenOptions override the session template for one Open.
type OpenOptions struct {
	ReadOnly          *bool
	DocumentName      string
	AcceptedFileTypes string
	Resources         []resource.Descriptor
}

type Host struct {
	cfg         Config
	log         *zap.Logger
	page        *session.Page
	breaker     *circuit.Breaker
	archive     *storage.Archive
	broadcaster *EventBroadcaster

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHost(cfg Config) *Host {
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = DefaultBreakerThreshold
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = DefaultBreakerCooldown
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = NewEventBroadcaster(0)
	}
	if cfg.Session.Bootstrapper == nil {
		cfg.Session.Bootstrapper = cfg.Bootstrapper
	}
	log := logging.Or(cfg.Logger).Named("host")
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = logging.Or(cfg.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		cfg:         cfg,
		log:         log,
		page:        session.NewPage(),
		breaker:     circuit.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		archive:     cfg.Archive,
		broadcaster: cfg.Broadcaster,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Open starts a session on the page. It fails with session.ErrSessionExists
// while one is live and with a *circuit.CooldownError while recent
// bootstraps keep failing.
func (h *Host) Open(opts OpenOptions) (*session.Controller, error) {
	select {
	case <-h.ctx.Done():
		return nil, ErrHostShutdown
	default:
	}
	if err := h.breaker.Allow(); err != nil {
		return nil, err
	}

	cfg := h.cfg.Session
	cfg.ID = ""
	if opts.ReadOnly != nil {
		cfg.ReadOnly = *opts.ReadOnly
	}
	if opts.DocumentName != "" {
		cfg.DocumentName = opts.DocumentName
	}
	if opts.AcceptedFileTypes != "" {
		cfg.AcceptedFileTypes = opts.AcceptedFileTypes
	}
	if len(opts.Resources) > 0 {
		cfg.Resources = append(append([]resource.Descriptor(nil), cfg.Resources...), opts.Resources...)
	}

	c, err := h.page.Open(h.ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.On(func(e domain.Event) { h.relay(c, e) })
	h.log.Info("session opened", zap.String("session_id", c.ID()), zap.Bool("read_only", cfg.ReadOnly))
	return c, nil
}

// relay runs on the session's event goroutine.
func (h *Host) relay(c *session.Controller, e domain.Event) {
	switch e.Type {
	case domain.EventTypeReady:
		h.breaker.Success()
	case domain.EventTypeError:
		if data, ok := e.Data.(domain.ErrorData); ok && data.Op == domain.OpBootstrap {
			if h.breaker.Failure() {
				h.log.Warn("engine bootstraps failing, refusing opens",
					zap.Duration("cooldown", h.cfg.BreakerCooldown), zap.Int("trips", h.breaker.Trips()))
			}
			c.Destroy()
		}
	case domain.EventTypeDocumentSaved:
		h.archiveSaved(e)
	}
	h.broadcaster.Broadcast(e)
}

func (h *Host) archiveSaved(e domain.Event) {
	if h.archive == nil {
		return
	}
	data, ok := e.Data.(domain.DocumentSavedData)
	if !ok {
		return
	}
	rev, err := h.archive.Save(data.Name, e.SessionID, data.Data)
	if err != nil {
		h.log.Error("archive saved document", zap.String("session_id", e.SessionID), zap.Error(err))
		return
	}
	h.log.Info("document archived", zap.String("revision", rev.ID), zap.Int64("size", rev.Size))
}

// Current returns the live session or ErrNoSession.
func (h *Host) Current() (*session.Controller, error) {
	c := h.page.Current()
	if c == nil {
		return nil, ErrNoSession
	}
	return c, nil
}

// Destroy tears down the live session, if any.
func (h *Host) Destroy() {
	if c := h.page.Current(); c != nil {
		c.Destroy()
	}
}

// Remote returns the remote-engine bootstrapper when one is configured.
func (h *Host) Remote() *engine.Remote {
	r, _ := h.cfg.Session.Bootstrapper.(*engine.Remote)
	return r
}

// Actions is the action table new sessions use.
func (h *Host) Actions() *actions.Table {
	if h.cfg.Session.Actions != nil {
		return h.cfg.Session.Actions
	}
	return actions.Writer()
}

func (h *Host) Archive() *storage.Archive {
	return h.archive
}

func (h *Host) Broadcaster() *EventBroadcaster {
	return h.broadcaster
}

// BreakerRemaining is the cooldown left before Open is accepted again.
func (h *Host) BreakerRemaining() time.Duration {
	return h.breaker.Remaining()
}

// Shutdown destroys the live session and closes the broadcaster. It waits
// for the session to finish tearing down or ctx to end.
func (h *Host) Shutdown(ctx context.Context) error {
	h.cancel()

	c := h.page.Current()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if c != nil {
			c.Destroy()
		}
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown: %w", ctx.Err())
	}
	h.broadcaster.Close()
	return err
}
