package sim

import (
	"context"
	"sync"

	"github.com/ricochet1k/officemesh/internal/engine"
	"github.com/ricochet1k/officemesh/internal/vfs"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

// Bootstrapper starts a fresh simulated engine per Boot.
type Bootstrapper struct {
	Options Options

	mu      sync.Mutex
	engines []*Engine
}

func NewBootstrapper(opts Options) *Bootstrapper {
	return &Bootstrapper{Options: opts}
}

func (b *Bootstrapper) Boot(ctx context.Context, cfg engine.BootConfig) (*engine.Instance, error) {
	fs := vfs.NewMemStore()
	if err := engine.RunPreRun(fs, cfg.PreRun); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := b.Options
	opts.WaitForStart = false
	if opts.Logger == nil {
		opts.Logger = cfg.Logger
	}

	host, side := engine.Pipe()
	e := New(side, fs, opts)

	b.mu.Lock()
	b.engines = append(b.engines, e)
	b.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(runCtx) }()

	return engine.NewInstance(host, fs, func() error {
		cancel()
		<-e.Done()
		return nil
	}), nil
}

// Last returns the most recently booted engine, or nil.
func (b *Bootstrapper) Last() *Engine {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.engines) == 0 {
		return nil
	}
	return b.engines[len(b.engines)-1]
}

// Emit sends an arbitrary envelope from the engine side.
func (e *Engine) Emit(env protocol.Envelope) error {
	return e.send(env)
}

// Notify reports a state change for command, stamped with the epoch of its
// current subscription. It reports false when command is not subscribed.
func (e *Engine) Notify(command string, state protocol.StateValue, enabled bool) (bool, error) {
	e.mu.Lock()
	epoch, ok := e.subs[command]
	if ok {
		e.state[command] = state
	}
	e.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, e.send(protocol.StateChanged(command, state, enabled, epoch))
}
