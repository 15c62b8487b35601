package session

import (
	"context"
	"errors"
	"testing"

	"github.com/ricochet1k/officemesh/internal/domain"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

func TestDispatchBeforeReadySendsNothing(t *testing.T) {
	b := newPipeBootstrapper()
	cfg := testConfig(b)
	cfg.Actions = boldTable()
	c, _ := open(t, cfg)
	side := sideOf(t, b)

	if c.DispatchCommand("bold") {
		t.Fatal("dispatch before ready must be dropped")
	}
	if c.InsertText("hello") {
		t.Fatal("insert before ready must be dropped")
	}
	expectQuiet(t, side)
	if c.State() != domain.ReadinessBootstrapping {
		t.Fatalf("expected bootstrapping, got %s", c.State())
	}
}

func TestBoldDispatchAndStateChange(t *testing.T) {
	b := newPipeBootstrapper()
	cfg := testConfig(b)
	cfg.Actions = boldTable()
	c, sub := open(t, cfg)
	side := sideOf(t, b)
	epoch := readyManual(t, c, sub, side)

	if !c.DispatchCommand("bold") {
		t.Fatal("expected bold to be sent")
	}
	raw, err := protocol.JSON.Marshal(recvEnv(t, side))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(raw) != `{"cmd":"dispatch","command":"bold"}` {
		t.Fatalf("unexpected envelope %s", raw)
	}

	if err := side.Send(protocol.StateChanged("bold", protocol.BoolState(true), true, epoch)); err != nil {
		t.Fatalf("send: %v", err)
	}
	e := waitEvent(t, sub, domain.EventTypeStateChanged)
	data := e.Data.(domain.StateChangedData)
	if data.Command != "bold" || data.Value != true || !data.Enabled {
		t.Fatalf("unexpected state change %+v", data)
	}
	if st := c.States()["bold"]; st.Value != true || !st.Enabled {
		t.Fatalf("state not cached: %+v", st)
	}
}

func TestFontHeightStructExtractsHeight(t *testing.T) {
	b := newPipeBootstrapper()
	cfg := testConfig(b)
	cfg.Actions = boldTable()
	c, sub := open(t, cfg)
	side := sideOf(t, b)
	epoch := readyManual(t, c, sub, side)

	state := protocol.StructState(map[string]any{"Height": 12.0, "Prop": 100.0})
	_ = side.Send(protocol.StateChanged(".uno:FontHeight", state, true, epoch))

	e := waitEvent(t, sub, domain.EventTypeStateChanged)
	data := e.Data.(domain.StateChangedData)
	if data.Command != ".uno:FontHeight" || data.Value != "12" {
		t.Fatalf("unexpected state change %+v", data)
	}
}

func TestStateNotificationsFiltered(t *testing.T) {
	b := newPipeBootstrapper()
	cfg := testConfig(b)
	cfg.Actions = boldTable()
	c, sub := open(t, cfg)
	side := sideOf(t, b)
	epoch := readyManual(t, c, sub, side)

	_ = side.Send(protocol.StateChanged("bold", protocol.BoolState(true), true, epoch+7))
	_ = side.Send(protocol.StateChanged(".uno:Italic", protocol.BoolState(true), true, epoch))
	_ = side.Send(protocol.SubscribeFailed("bold", "nope"))
	_ = side.Send(protocol.StateChanged("bold", protocol.BoolState(false), false, 0))

	e := waitEvent(t, sub, domain.EventTypeStateChanged)
	data := e.Data.(domain.StateChangedData)
	if data.Command != "bold" || data.Value != false || data.Enabled {
		t.Fatalf("stale or untracked notification leaked: %+v", data)
	}
}

func TestInsertBlocks(t *testing.T) {
	b := newPipeBootstrapper()
	cfg := testConfig(b)
	cfg.Actions = boldTable()
	c, sub := open(t, cfg)
	side := sideOf(t, b)
	readyManual(t, c, sub, side)

	if !c.InsertTextBlock([]string{"a", "", "b"}) {
		t.Fatal("InsertTextBlock failed")
	}
	want := []struct {
		command string
		text    string
	}{
		{".uno:InsertText", "a"},
		{".uno:InsertPara", ""},
		{".uno:InsertPara", ""},
		{".uno:InsertText", "b"},
	}
	for i, w := range want {
		env := recvEnv(t, side)
		if env.Cmd != protocol.CmdDispatch || env.Command != w.command {
			t.Fatalf("envelope %d: got %+v", i, env)
		}
		if w.text != "" {
			arg, ok := env.Arg("Text")
			if !ok || arg.Value != w.text {
				t.Fatalf("envelope %d: unexpected args %+v", i, env.Args)
			}
		}
	}

	if !c.InsertContentControlBlock([]string{"x", "", "y"}) {
		t.Fatal("InsertContentControlBlock failed")
	}
	env := recvEnv(t, side)
	items := []protocol.BlockItem{{Text: "x"}, {Para: true}, {Para: true}, {Text: "y"}}
	if env.Cmd != protocol.CmdInsertContentControlBlock || len(env.Items) != len(items) {
		t.Fatalf("unexpected envelope %+v", env)
	}
	for i := range items {
		if env.Items[i] != items[i] {
			t.Fatalf("item %d = %+v, want %+v", i, env.Items[i], items[i])
		}
	}

	if c.InsertContentControlBlock(nil) {
		t.Fatal("empty block must send nothing")
	}
	expectQuiet(t, side)
}

func TestBootstrapFailureEmitsOneError(t *testing.T) {
	b := newPipeBootstrapper()
	b.err = errors.New("module missing")
	c, sub := open(t, testConfig(b))

	e := waitEvent(t, sub, domain.EventTypeError)
	data := e.Data.(domain.ErrorData)
	if data.Op != domain.OpBootstrap || !errors.Is(data.Err, b.err) {
		t.Fatalf("unexpected error event %+v", data)
	}
	if c.State() != domain.ReadinessBootstrapping {
		t.Fatalf("failed bootstrap must not become ready, got %s", c.State())
	}
	if !errors.Is(c.BootError(), b.err) {
		t.Fatalf("BootError = %v", c.BootError())
	}
}

func TestEngineDisconnectReported(t *testing.T) {
	b := newPipeBootstrapper()
	c, sub := open(t, testConfig(b))
	side := sideOf(t, b)
	readyManual(t, c, sub, side)

	_ = side.Close()
	e := waitEvent(t, sub, domain.EventTypeError)
	if data := e.Data.(domain.ErrorData); data.Op != domain.OpEngine {
		t.Fatalf("unexpected error event %+v", data)
	}
}

func TestSecondOpenOnPageFails(t *testing.T) {
	page := NewPage()
	c, err := page.Open(context.Background(), testConfig(newPipeBootstrapper()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := page.Open(context.Background(), testConfig(newPipeBootstrapper())); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
	if page.Current() != c {
		t.Fatal("page should still hold the first session")
	}

	c.Destroy()
	if page.Current() != nil {
		t.Fatal("destroy must release the page")
	}
	c2, err := page.Open(context.Background(), testConfig(newPipeBootstrapper()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	c2.Destroy()
}

func TestOpenWithoutBootstrapper(t *testing.T) {
	page := NewPage()
	if _, err := page.Open(context.Background(), Config{}); !errors.Is(err, ErrNoBootstrapper) {
		t.Fatalf("expected ErrNoBootstrapper, got %v", err)
	}
	if page.Current() != nil {
		t.Fatal("failed open must not claim the page")
	}
}

func TestDestroyTwiceEmitsOneDestroyed(t *testing.T) {
	b := newPipeBootstrapper()
	c, err := NewPage().Open(context.Background(), testConfig(b))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sub := c.Subscribe(8, domain.EventTypeDestroyed)
	side := sideOf(t, b)

	c.Destroy()
	c.Destroy()

	count := 0
	for range sub.C {
		count++
	}
	if count != 1 {
		t.Fatalf("expected 1 destroyed event, got %d", count)
	}
	if c.State() != domain.ReadinessDestroyed {
		t.Fatalf("expected destroyed, got %s", c.State())
	}

	// A late ui_ready never revives the session.
	_ = side.Send(protocol.UIReady())
	if c.Ready() || c.DispatchCommand(".uno:Bold") {
		t.Fatal("destroyed session must stay inert")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Done must be closed after Destroy")
	}
}

func TestDestroyDuringSettleDelay(t *testing.T) {
	b := newPipeBootstrapper()
	cfg := testConfig(b)
	cfg.SettleDelay = 50 * waitTimeout
	c, sub := open(t, cfg)
	side := sideOf(t, b)

	_ = side.Send(protocol.UIReady())
	recvEnv(t, side)
	c.Destroy()

	for e := range sub.C {
		if e.Type == domain.EventTypeReady {
			t.Fatal("ready emitted after destroy")
		}
	}
}

func TestOnHandlerMayCallBack(t *testing.T) {
	b := newPipeBootstrapper()
	cfg := testConfig(b)
	cfg.Actions = boldTable()
	c, sub := open(t, cfg)
	side := sideOf(t, b)

	fired := make(chan bool, 1)
	c.Once(func(domain.Event) {
		fired <- c.DispatchCommand("bold")
	}, domain.EventTypeReady)

	readyManual(t, c, sub, side)
	if !<-fired {
		t.Fatal("dispatch from ready handler failed")
	}
	if env := recvEnv(t, side); env.Command != "bold" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestSubscriptionClose(t *testing.T) {
	c, _ := open(t, testConfig(newPipeBootstrapper()))
	sub := c.Subscribe(1)
	sub.Close()
	sub.Close()
	if _, ok := <-sub.C; ok {
		t.Fatal("closed subscription must not deliver")
	}
}
