package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	apiTypes "github.com/ricochet1k/officemesh/pkg/api"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type sseMessage struct {
	ID    string
	Event string
	Data  string
}

// readSSEMessages launches a goroutine that parses SSE lines from resp.Body
// and sends decoded frames on the returned channel. The channel is closed
// when the body is closed or EOF is reached.
func readSSEMessages(resp *http.Response) <-chan sseMessage {
	ch := make(chan sseMessage, 32)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(resp.Body)
		var msg sseMessage
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "id: "):
				msg.ID = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				msg.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				msg.Data = strings.TrimPrefix(line, "data: ")
			case line == "" && msg.Data != "":
				ch <- msg
				msg = sseMessage{}
			}
		}
	}()
	return ch
}

func nextSSE(t *testing.T, ch <-chan sseMessage, event string) sseMessage {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed waiting for %s", event)
			}
			if msg.Event == event {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func getSSE(t *testing.T, url string, lastEventID string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	return resp
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestSSEStreamsSessionEvents(t *testing.T) {
	env := newSimEnv(t)
	srv := httptest.NewServer(env.router())
	defer srv.Close()

	resp := getSSE(t, srv.URL+"/api/session/events", "")
	msgs := readSSEMessages(resp)

	if _, err := http.Post(srv.URL+"/api/session", "application/json", nil); err != nil {
		t.Fatalf("open session: %v", err)
	}

	fonts := nextSSE(t, msgs, "font-list")
	ready := nextSSE(t, msgs, "ready")
	fontsID, _ := strconv.ParseInt(fonts.ID, 10, 64)
	readyID, _ := strconv.ParseInt(ready.ID, 10, 64)
	if fontsID == 0 || fontsID >= readyID {
		t.Errorf("expected font-list (%s) before ready (%s)", fonts.ID, ready.ID)
	}

	var event apiTypes.Event
	if err := json.Unmarshal([]byte(ready.Data), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != apiTypes.EventTypeReady || event.SessionID == "" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestSSETypeFilterAndReplay(t *testing.T) {
	env := newSimEnv(t)
	srv := httptest.NewServer(env.router())
	defer srv.Close()

	env.openReady(t)

	// Everything so far is retained; a client that saw event 1 gets the rest.
	resp := getSSE(t, srv.URL+"/api/session/events?types=ready", "1")
	msgs := readSSEMessages(resp)
	if msg := nextSSE(t, msgs, "ready"); msg.ID == "1" {
		t.Fatalf("replayed an event the client already had")
	}

	bad, err := http.Get(srv.URL + "/api/session/events?types=bogus")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown type: expected 400, got %d", bad.StatusCode)
	}
}

func TestSSEHeartbeat(t *testing.T) {
	env := newSimEnv(t)
	env.handler.heartbeat = 10 * time.Millisecond
	srv := httptest.NewServer(env.router())
	defer srv.Close()

	resp := getSSE(t, srv.URL+"/api/session/events", "")
	lines := make(chan string, 8)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	deadline := time.After(waitTimeout)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before a heartbeat")
			}
			if line == ": keepalive" {
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat on an idle stream")
		}
	}
}
