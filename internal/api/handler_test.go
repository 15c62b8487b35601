package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ricochet1k/officemesh/internal/digest"
	"github.com/ricochet1k/officemesh/internal/engine"
	"github.com/ricochet1k/officemesh/internal/engine/sim"
	"github.com/ricochet1k/officemesh/internal/service"
	"github.com/ricochet1k/officemesh/internal/session"
	"github.com/ricochet1k/officemesh/internal/storage"
	apiTypes "github.com/ricochet1k/officemesh/pkg/api"
)

// ---------------------------------------------------------------------------
// test environment
// ---------------------------------------------------------------------------

const waitTimeout = 2 * time.Second

type failingBootstrapper struct{}

func (failingBootstrapper) Boot(context.Context, engine.BootConfig) (*engine.Instance, error) {
	return nil, errors.New("engine missing")
}

type testEnv struct {
	host    *service.Host
	handler *Handler
	archive *storage.Archive
}

func newTestEnv(t *testing.T, b engine.Bootstrapper) *testEnv {
	t.Helper()
	archive, err := storage.NewArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	host := service.NewHost(service.Config{
		Bootstrapper: b,
		Session: session.Config{
			SettleDelay: 5 * time.Millisecond,
			ResizeDelay: 5 * time.Millisecond,
			OpTimeout:   time.Second,
		},
		Archive:          archive,
		BreakerThreshold: 1,
		BreakerCooldown:  time.Minute,
	})
	handler := NewHandler(host, Options{MaxUploadBytes: 1 << 10})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = host.Shutdown(ctx)
		handler.Close()
	})
	return &testEnv{host: host, handler: handler, archive: archive}
}

func newSimEnv(t *testing.T) *testEnv {
	return newTestEnv(t, sim.NewBootstrapper(sim.Options{}))
}

func (e *testEnv) router() http.Handler {
	r := chi.NewRouter()
	e.handler.Mount(r)
	return r
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router().ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// openReady opens a session over HTTP and waits until it reports ui_ready.
func (e *testEnv) openReady(t *testing.T) apiTypes.SessionResponse {
	t.Helper()
	if w := e.do(t, http.MethodPost, "/api/session", nil); w.Code != http.StatusCreated {
		t.Fatalf("open session: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp apiTypes.SessionResponse
	eventually(t, "session ready", func() bool {
		w := e.do(t, http.MethodGet, "/api/session", nil)
		if w.Code != http.StatusOK {
			return false
		}
		resp = decodeJSON[apiTypes.SessionResponse](t, w)
		return resp.State == apiTypes.SessionStateReady
	})
	return resp
}

func (e *testEnv) upload(t *testing.T, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/session/document?name="+name, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/octet-stream")
	w := httptest.NewRecorder()
	e.router().ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// session lifecycle
// ---------------------------------------------------------------------------

func TestOpenSession(t *testing.T) {
	env := newSimEnv(t)

	w := env.do(t, http.MethodPost, "/api/session", apiTypes.OpenSessionRequest{DocumentName: "Letter"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJSON[apiTypes.SessionResponse](t, w)
	if resp.ID == "" || resp.DocumentName != "Letter" {
		t.Fatalf("unexpected response %+v", resp)
	}

	if w := env.do(t, http.MethodPost, "/api/session", nil); w.Code != http.StatusConflict {
		t.Fatalf("second open: expected 409, got %d", w.Code)
	}

	if w := env.do(t, http.MethodDelete, "/api/session", nil); w.Code != http.StatusNoContent {
		t.Fatalf("destroy: expected 204, got %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/session", nil); w.Code != http.StatusNoContent {
		t.Fatalf("second destroy: expected 204, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/session", nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after destroy: expected 404, got %d", w.Code)
	}
}

func TestOpenSessionRejectsBadBody(t *testing.T) {
	env := newSimEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader("{"))
	w := httptest.NewRecorder()
	env.router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	body := apiTypes.OpenSessionRequest{Resources: []apiTypes.ResourceRequest{{URL: "http://fonts/x.ttf"}}}
	if w := env.do(t, http.MethodPost, "/api/session", body); w.Code != http.StatusBadRequest {
		t.Fatalf("nameless resource: expected 400, got %d", w.Code)
	}
}

func TestOpenSessionDuringCooldown(t *testing.T) {
	env := newTestEnv(t, failingBootstrapper{})

	if w := env.do(t, http.MethodPost, "/api/session", nil); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	eventually(t, "failed session destroyed", func() bool {
		return env.do(t, http.MethodGet, "/api/session", nil).Code == http.StatusNotFound
	})

	w := env.do(t, http.MethodPost, "/api/session", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

// ---------------------------------------------------------------------------
// commands
// ---------------------------------------------------------------------------

func TestSendCommand(t *testing.T) {
	env := newSimEnv(t)

	if w := env.do(t, http.MethodPost, "/api/session/commands", apiTypes.CommandRequest{Command: "bold"}); w.Code != http.StatusNotFound {
		t.Fatalf("without session: expected 404, got %d", w.Code)
	}

	env.openReady(t)

	if w := env.do(t, http.MethodPost, "/api/session/commands", apiTypes.CommandRequest{}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty command: expected 400, got %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/session/commands", apiTypes.CommandRequest{Command: "bold"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeJSON[apiTypes.CommandResponse](t, w); !resp.Sent {
		t.Fatal("expected bold to be sent")
	}

	eventually(t, "bold state", func() bool {
		resp := decodeJSON[apiTypes.SessionResponse](t, env.do(t, http.MethodGet, "/api/session", nil))
		return resp.States[".uno:Bold"].Value == true
	})

	size := "14"
	w = env.do(t, http.MethodPost, "/api/session/commands", apiTypes.CommandRequest{Command: "font-size", Value: &size})
	if resp := decodeJSON[apiTypes.CommandResponse](t, w); !resp.Sent {
		t.Fatal("expected font size to be sent")
	}

	w = env.do(t, http.MethodPost, "/api/session/commands", apiTypes.CommandRequest{Command: "no-such-action"})
	if resp := decodeJSON[apiTypes.CommandResponse](t, w); resp.Sent {
		t.Fatal("unknown commands are dropped")
	}
}

func TestSendCommandBeforeReady(t *testing.T) {
	env := newTestEnv(t, engine.NewRemote())
	if w := env.do(t, http.MethodPost, "/api/session", nil); w.Code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d", w.Code)
	}
	w := env.do(t, http.MethodPost, "/api/session/commands", apiTypes.CommandRequest{Command: "bold"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestInsertText(t *testing.T) {
	env := newSimEnv(t)
	env.openReady(t)

	if w := env.do(t, http.MethodPost, "/api/session/insert", apiTypes.InsertRequest{}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty insert: expected 400, got %d", w.Code)
	}
	for _, req := range []apiTypes.InsertRequest{
		{Text: "hello"},
		{Lines: []string{"a", "", "b"}},
		{Text: "field", ContentControl: true},
		{Lines: []string{"x", "y"}, ContentControl: true},
	} {
		w := env.do(t, http.MethodPost, "/api/session/insert", req)
		if w.Code != http.StatusAccepted {
			t.Fatalf("%+v: expected 202, got %d", req, w.Code)
		}
		if resp := decodeJSON[apiTypes.CommandResponse](t, w); !resp.Sent {
			t.Fatalf("%+v: expected insert to be sent", req)
		}
	}
}

func TestListActions(t *testing.T) {
	env := newSimEnv(t)
	w := env.do(t, http.MethodGet, "/api/actions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeJSON[apiTypes.ActionsResponse](t, w)
	if len(resp.Groups) == 0 || len(resp.Tracked) == 0 {
		t.Fatalf("unexpected actions %+v", resp)
	}
}

// ---------------------------------------------------------------------------
// documents
// ---------------------------------------------------------------------------

func TestUploadAndDownloadDocument(t *testing.T) {
	env := newSimEnv(t)
	env.openReady(t)

	if w := env.upload(t, "notes.exe", []byte("x")); w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("wrong type: expected 415, got %d", w.Code)
	}
	if w := env.upload(t, "", []byte("x")); w.Code != http.StatusBadRequest {
		t.Fatalf("no name: expected 400, got %d", w.Code)
	}
	if w := env.upload(t, "big.odt", bytes.Repeat([]byte("x"), 2<<10)); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized: expected 413, got %d", w.Code)
	}

	w := env.upload(t, "notes.odt", []byte("notes"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("upload: expected 202, got %d: %s", w.Code, w.Body.String())
	}
	eventually(t, "document loaded", func() bool {
		resp := decodeJSON[apiTypes.SessionResponse](t, env.do(t, http.MethodGet, "/api/session", nil))
		return resp.Document != nil && resp.Busy == ""
	})

	w = env.do(t, http.MethodGet, "/api/session/document", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", w.Code)
	}
	if w.Body.String() != "notes" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
	if got := w.Header().Get(checksumHeader); got != digest.Document([]byte("notes")).String() {
		t.Errorf("unexpected checksum %q", got)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "notes.odt") {
		t.Errorf("unexpected disposition %q", w.Header().Get("Content-Disposition"))
	}
}

func TestUploadMultipart(t *testing.T) {
	env := newSimEnv(t)
	env.openReady(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "plan.docx")
	_, _ = part.Write([]byte("plan"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/session/document", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJSON[apiTypes.SessionResponse](t, w)
	if resp.Document == nil || resp.Document.Path != "/tmp/input.docx" {
		t.Fatalf("unexpected document %+v", resp.Document)
	}
}

func TestDownloadWithoutDocument(t *testing.T) {
	env := newSimEnv(t)
	env.openReady(t)
	if w := env.do(t, http.MethodGet, "/api/session/document", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/session/save", nil); w.Code != http.StatusNotFound {
		t.Fatalf("save without document: expected 404, got %d", w.Code)
	}
}

func TestSaveArchivesRevision(t *testing.T) {
	env := newSimEnv(t)
	env.openReady(t)

	if w := env.upload(t, "memo.odt", []byte("memo:")); w.Code != http.StatusAccepted {
		t.Fatalf("upload: expected 202, got %d", w.Code)
	}
	eventually(t, "document loaded", func() bool {
		resp := decodeJSON[apiTypes.SessionResponse](t, env.do(t, http.MethodGet, "/api/session", nil))
		return resp.Busy == ""
	})
	if w := env.do(t, http.MethodPut, "/api/session/document/name", apiTypes.DocumentNameRequest{Name: "Memo"}); w.Code != http.StatusOK {
		t.Fatalf("rename: expected 200, got %d", w.Code)
	}
	env.do(t, http.MethodPost, "/api/session/insert", apiTypes.InsertRequest{Text: "hi"})

	if w := env.do(t, http.MethodPost, "/api/session/save", nil); w.Code != http.StatusAccepted {
		t.Fatalf("save: expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var list apiTypes.RevisionListResponse
	eventually(t, "revision archived", func() bool {
		list = decodeJSON[apiTypes.RevisionListResponse](t, env.do(t, http.MethodGet, "/api/documents", nil))
		return len(list.Revisions) == 1
	})
	rev := list.Revisions[0]
	if rev.Name != "Memo" {
		t.Errorf("expected display name Memo, got %q", rev.Name)
	}

	w := env.do(t, http.MethodGet, "/api/documents/"+rev.ID, nil)
	if w.Code != http.StatusOK || w.Body.String() != "memo:hi" {
		t.Fatalf("download revision: %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get(checksumHeader) != rev.Checksum {
		t.Errorf("checksum header %q, want %q", w.Header().Get(checksumHeader), rev.Checksum)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+rev.ID, nil)
	req.Header.Set("Accept", "application/json")
	mw := httptest.NewRecorder()
	env.router().ServeHTTP(mw, req)
	if meta := decodeJSON[apiTypes.RevisionResponse](t, mw); meta.ID != rev.ID || meta.Size != int64(len("memo:hi")) {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	if w := env.do(t, http.MethodGet, "/api/documents/bad.id", nil); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id: expected 400, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/documents/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing id: expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/documents/"+rev.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/documents/"+rev.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("after delete: expected 404, got %d", w.Code)
	}
}

func TestArchiveDisabled(t *testing.T) {
	host := service.NewHost(service.Config{Bootstrapper: sim.NewBootstrapper(sim.Options{})})
	handler := NewHandler(host, Options{})
	defer handler.Close()
	defer host.Shutdown(context.Background())

	r := chi.NewRouter()
	handler.Mount(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
