package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ricochet1k/officemesh/internal/vfs"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

func recvWithin(t *testing.T, p Port) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	env, err := p.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	return env
}

func TestPipePreservesOrder(t *testing.T) {
	host, eng := Pipe()
	defer host.Close()

	for i := 0; i < 100; i++ {
		if err := host.Send(protocol.DispatchValue("c", strings.Repeat("x", i))); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for i := 0; i < 100; i++ {
		env := recvWithin(t, eng)
		if got := len(env.ValueOr("")); got != i {
			t.Fatalf("envelope %d arrived out of order (len %d)", i, got)
		}
	}
}

func TestPipeCloseDrainsThenFails(t *testing.T) {
	host, eng := Pipe()
	if err := host.Send(protocol.Resize()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := host.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if env := recvWithin(t, eng); env.Cmd != protocol.CmdResize {
		t.Fatalf("expected queued resize, got %s", env.Cmd)
	}
	if _, err := eng.Recv(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := eng.Send(protocol.UIReady()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on send, got %v", err)
	}
}

func TestPipeRecvHonoursContext(t *testing.T) {
	host, _ := Pipe()
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := host.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestStreamPortCodecs(t *testing.T) {
	for _, codec := range []protocol.Codec{protocol.JSON, protocol.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			aR, aW := io.Pipe()
			bR, bW := io.Pipe()
			left := NewStreamPort(codec, aR, bW, bW)
			right := NewStreamPort(codec, bR, aW, aW)
			defer left.Close()
			defer right.Close()

			sent := protocol.StateChanged(".uno:FontHeight",
				protocol.StructState(map[string]any{"Height": 12.0}), true, 3)
			go func() { _ = left.Send(sent) }()

			got := recvWithin(t, right)
			if got.Cmd != protocol.CmdStateChanged || got.Epoch != 3 || !got.IsEnabled() {
				t.Fatalf("unexpected envelope %+v", got)
			}
			if got.State == nil || got.State.Kind != protocol.StateStruct {
				t.Fatalf("expected struct state, got %+v", got.State)
			}
			if h, _ := got.State.Fields["Height"].(float64); h != 12 {
				t.Fatalf("expected height 12, got %v", got.State.Fields["Height"])
			}
		})
	}
}

func TestStreamPortEOFClosesPort(t *testing.T) {
	r, w := io.Pipe()
	p := NewStreamPort(protocol.JSON, r, io.Discard, nil)
	_ = w.Close()

	if _, err := p.Recv(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("expected Done to be closed")
	}
}

func TestPortStoreSendsWrites(t *testing.T) {
	host, eng := Pipe()
	defer host.Close()
	store := NewPortStore(host)

	if err := store.MkdirAll("/instdir/share/fonts/truetype"); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := store.WriteFile("/instdir/share/fonts/truetype/a.ttf", []byte("A")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := store.WriteFile("relative", nil); !errors.Is(err, vfs.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	if _, err := store.ReadFile("/x"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}

	if env := recvWithin(t, eng); env.Cmd != protocol.CmdMkdir {
		t.Fatalf("expected mkdir first, got %s", env.Cmd)
	}
	env := recvWithin(t, eng)
	if env.Cmd != protocol.CmdWriteFile || string(env.Data) != "A" {
		t.Fatalf("unexpected write envelope %+v", env)
	}
}

func TestRemoteBootReplaysPreRunBeforeStart(t *testing.T) {
	remote := NewRemote()
	host, eng := Pipe()
	if err := remote.Attach(host); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	other, _ := Pipe()
	if err := remote.Attach(other); !errors.Is(err, ErrEngineAttached) {
		t.Fatalf("expected ErrEngineAttached, got %v", err)
	}

	inst, err := remote.Boot(context.Background(), BootConfig{PreRun: []PreRunFunc{
		func(fs vfs.Store) error { return fs.WriteFile("/fonts/a.ttf", []byte("A")) },
	}})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer inst.Close()

	if env := recvWithin(t, eng); env.Cmd != protocol.CmdWriteFile {
		t.Fatalf("expected writeFile before start, got %s", env.Cmd)
	}
	if env := recvWithin(t, eng); env.Cmd != protocol.CmdStart {
		t.Fatalf("expected start, got %s", env.Cmd)
	}
}

func TestRemoteBootHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewRemote().Boot(ctx, BootConfig{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestInstanceCloseIsIdempotent(t *testing.T) {
	host, _ := Pipe()
	calls := 0
	inst := NewInstance(host, vfs.NewMemStore(), func() error {
		calls++
		return nil
	})
	_ = inst.Close()
	_ = inst.Close()
	if calls != 1 {
		t.Fatalf("expected close func to run once, ran %d times", calls)
	}
}

func TestWebSocketPortRoundTrip(t *testing.T) {
	serverPort := make(chan *WebSocketPort, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p := NewWebSocketPort(conn)
		serverPort <- p
		<-p.Done()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := NewWebSocketPort(conn)
	defer client.Close()

	server := <-serverPort
	if err := client.Send(protocol.UIReady()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if env := recvWithin(t, server); env.Cmd != protocol.CmdUIReady {
		t.Fatalf("expected ui_ready, got %s", env.Cmd)
	}

	if err := server.Send(protocol.Dispatch("bold")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if env := recvWithin(t, client); env.Cmd != protocol.CmdDispatch || env.Command != "bold" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	_ = client.Close()
	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server port did not observe close")
	}
}

func TestWasmBootstrapperWithoutModule(t *testing.T) {
	b := NewWasmBootstrapper(WasmConfig{})
	if _, err := b.Boot(context.Background(), BootConfig{}); err == nil {
		t.Fatal("expected an error without a module")
	}
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
