package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ricochet1k/officemesh/internal/actions"
	"github.com/ricochet1k/officemesh/internal/domain"
	"github.com/ricochet1k/officemesh/internal/engine"
	"github.com/ricochet1k/officemesh/internal/vfs"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

const waitTimeout = 2 * time.Second

// pipeBootstrapper hands the engine end of each pipe to the test, which plays
// the engine by hand.
type pipeBootstrapper struct {
	err   error
	sides chan engine.Port
	fs    vfs.Store
}

func newPipeBootstrapper() *pipeBootstrapper {
	return &pipeBootstrapper{sides: make(chan engine.Port, 1), fs: vfs.NewMemStore()}
}

var errStoreFull = errors.New("engine fs full")

// fullableStore is an engine filesystem whose writes can be made to fail.
type fullableStore struct {
	*vfs.MemStore
	full atomic.Bool
}

func (s *fullableStore) WriteFile(name string, data []byte) error {
	if s.full.Load() {
		return errStoreFull
	}
	return s.MemStore.WriteFile(name, data)
}

func (b *pipeBootstrapper) Boot(ctx context.Context, cfg engine.BootConfig) (*engine.Instance, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := engine.RunPreRun(b.fs, cfg.PreRun); err != nil {
		return nil, err
	}
	host, side := engine.Pipe()
	b.sides <- side
	return engine.NewInstance(host, b.fs, nil), nil
}

func boldTable() *actions.Table {
	return actions.MustTable([]actions.Group{{ID: "formatting", Items: []actions.Descriptor{
		{ID: "bold", Command: "bold", Kind: actions.KindToggle},
		{ID: "font-size", Command: actions.CommandFontHeight, Kind: actions.KindSelect, Encoding: actions.EncodingFontHeight},
		{ID: "save", Command: actions.CommandSave},
	}}})
}

func testConfig(b engine.Bootstrapper) Config {
	return Config{
		Bootstrapper: b,
		SettleDelay:  5 * time.Millisecond,
		ResizeDelay:  5 * time.Millisecond,
		OpTimeout:    time.Second,
	}
}

func open(t *testing.T, cfg Config) (*Controller, *Subscription) {
	t.Helper()
	c, err := NewPage().Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sub := c.Subscribe(256)
	t.Cleanup(c.Destroy)
	return c, sub
}

func sideOf(t *testing.T, b *pipeBootstrapper) engine.Port {
	t.Helper()
	select {
	case side := <-b.sides:
		return side
	case <-time.After(waitTimeout):
		t.Fatal("engine was never booted")
		return nil
	}
}

func recvEnv(t *testing.T, p engine.Port) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	env, err := p.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	return env
}

func expectQuiet(t *testing.T, p engine.Port) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	env, err := p.Recv(ctx)
	if err == nil {
		t.Fatalf("expected no message, got %+v", env)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected error %v", err)
	}
}

// waitEvent returns the first event of type want, failing on timeout. Events
// of other types are skipped.
func waitEvent(t *testing.T, sub *Subscription, want domain.EventType) domain.Event {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed waiting for %s", want)
			}
			if e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// readyManual drives a hand-played engine through startup and drains the
// initial subscription round.
func readyManual(t *testing.T, c *Controller, sub *Subscription, side engine.Port) uint64 {
	t.Helper()
	if err := side.Send(protocol.UIReady()); err != nil {
		t.Fatalf("send ui_ready: %v", err)
	}
	if env := recvEnv(t, side); env.Cmd != protocol.CmdResize {
		t.Fatalf("expected resize after ui_ready, got %s", env.Cmd)
	}
	waitEvent(t, sub, domain.EventTypeReady)

	var epoch uint64
	for range c.Actions().Tracked() {
		env := recvEnv(t, side)
		if env.Cmd != protocol.CmdSubscribe {
			t.Fatalf("expected subscribe, got %s", env.Cmd)
		}
		epoch = env.Epoch
	}
	return epoch
}
