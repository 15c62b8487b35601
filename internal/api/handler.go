package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/circuit"
	"github.com/ricochet1k/officemesh/internal/digest"
	"github.com/ricochet1k/officemesh/internal/logging"
	"github.com/ricochet1k/officemesh/internal/presentation"
	"github.com/ricochet1k/officemesh/internal/realtime"
	"github.com/ricochet1k/officemesh/internal/resource"
	"github.com/ricochet1k/officemesh/internal/service"
	"github.com/ricochet1k/officemesh/internal/session"
	"github.com/ricochet1k/officemesh/internal/storage"
	apiTypes "github.com/ricochet1k/officemesh/pkg/api"
	realtimeTypes "github.com/ricochet1k/officemesh/pkg/realtime"
)

const (
	DefaultMaxUploadBytes = 64 << 20
	// DefaultSSEHeartbeat keeps idle event streams alive through proxies.
	DefaultSSEHeartbeat = 25 * time.Second

	checksumHeader = "X-Document-Checksum"
)

type Options struct {
	// MaxUploadBytes caps document uploads. Zero means DefaultMaxUploadBytes.
	MaxUploadBytes int64
	// SSEHeartbeat is the comment interval on idle event streams.
	SSEHeartbeat time.Duration
	Logger       *zap.Logger
}

// Handler routes REST, SSE and websocket requests to the session host.
type Handler struct {
	host        *service.Host
	broadcaster *service.EventBroadcaster
	realtimeHub *realtime.Hub
	snapshotter *realtime.SnapshotProvider
	maxUpload   int64
	heartbeat   time.Duration
	log         *zap.Logger

	bridgeID string
	done     chan struct{}
}

func NewHandler(host *service.Host, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.SSEHeartbeat <= 0 {
		opts.SSEHeartbeat = DefaultSSEHeartbeat
	}
	h := &Handler{
		host:        host,
		broadcaster: host.Broadcaster(),
		realtimeHub: realtime.NewHub(),
		snapshotter: realtime.NewSnapshotProvider(host),
		maxUpload:   opts.MaxUploadBytes,
		heartbeat:   opts.SSEHeartbeat,
		log:         logging.Or(opts.Logger).Named("api"),
		done:        make(chan struct{}),
	}
	h.startRealtimeBridge()
	return h
}

// Mount registers all API routes on the provided router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/api/session", h.openSession)
	r.Get("/api/session", h.getSession)
	r.Delete("/api/session", h.destroySession)
	r.Post("/api/session/commands", h.sendCommand)
	r.Post("/api/session/document", h.uploadDocument)
	r.Get("/api/session/document", h.downloadDocument)
	r.Put("/api/session/document/name", h.setDocumentName)
	r.Post("/api/session/save", h.saveDocument)
	r.Post("/api/session/insert", h.insertText)
	r.Get("/api/session/events", h.sseEvents)
	r.Get("/api/realtime", h.realtimeWebSocket)
	r.Get("/api/engine/ws", h.engineWebSocket)
	r.Get("/api/actions", h.listActions)
	r.Get("/api/documents", h.listRevisions)
	r.Get("/api/documents/{id}", h.getRevision)
	r.Delete("/api/documents/{id}", h.deleteRevision)
}

// Close stops the realtime bridge and disconnects websocket clients.
func (h *Handler) Close() {
	h.broadcaster.Unsubscribe(h.bridgeID)
	<-h.done
	h.realtimeHub.Close()
}

func (h *Handler) startRealtimeBridge() {
	h.bridgeID = generateID()
	sub := h.broadcaster.Subscribe(h.bridgeID, "")
	go func() {
		defer close(h.done)
		for event := range sub.Events {
			h.realtimeHub.Publish(realtime.TopicSessionEvents, realtimeTypes.ServerEnvelope{
				Type:    realtimeTypes.ServerMessageTypeEvent,
				Payload: realtime.EventFromDomain(event),
			})
			if !realtime.ChangesState(event) {
				continue
			}
			snapshot, err := h.snapshotter.Snapshot(realtime.TopicSessionState)
			if err != nil {
				continue
			}
			h.realtimeHub.Publish(realtime.TopicSessionState, realtimeTypes.ServerEnvelope{
				Type:    realtimeTypes.ServerMessageTypeEvent,
				Payload: snapshot,
			})
		}
	}()
}

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	var req apiTypes.OpenSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	opts := service.OpenOptions{
		ReadOnly:          req.ReadOnly,
		DocumentName:      req.DocumentName,
		AcceptedFileTypes: req.AcceptedFileTypes,
	}
	for _, res := range req.Resources {
		if strings.TrimSpace(res.Name) == "" {
			writeError(w, http.StatusBadRequest, "resource name is required", "")
			return
		}
		opts.Resources = append(opts.Resources, resource.Descriptor{Name: res.Name, URL: res.URL, Path: res.Path})
	}

	c, err := h.host.Open(opts)
	if err != nil {
		h.writeSessionError(w, err, "failed to open session")
		return
	}
	writeJSON(w, http.StatusCreated, presentation.SessionResponseFromSnapshot(c.Snapshot()))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	c, ok := h.current(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, presentation.SessionResponseFromSnapshot(c.Snapshot()))
}

func (h *Handler) destroySession(w http.ResponseWriter, r *http.Request) {
	h.host.Destroy()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sendCommand(w http.ResponseWriter, r *http.Request) {
	var req apiTypes.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required", "")
		return
	}

	c, ok := h.readySession(w)
	if !ok {
		return
	}
	var sent bool
	if req.Value != nil {
		sent = c.DispatchCommand(req.Command, *req.Value)
	} else {
		sent = c.DispatchCommand(req.Command)
	}
	writeJSON(w, http.StatusAccepted, apiTypes.CommandResponse{Command: req.Command, Sent: sent})
}

func (h *Handler) insertText(w http.ResponseWriter, r *http.Request) {
	var req apiTypes.InsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Text == "" && len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "text or lines is required", "")
		return
	}

	c, ok := h.readySession(w)
	if !ok {
		return
	}
	var sent bool
	switch {
	case len(req.Lines) > 0 && req.ContentControl:
		sent = c.InsertContentControlBlock(req.Lines)
	case len(req.Lines) > 0:
		sent = c.InsertTextBlock(req.Lines)
	case req.ContentControl:
		sent = c.InsertContentControl(req.Text)
	default:
		sent = c.InsertText(req.Text)
	}
	writeJSON(w, http.StatusAccepted, apiTypes.CommandResponse{Command: "insert", Sent: sent})
}

// uploadDocument accepts a multipart form with a "file" field, or a raw body
// named by the "name" query parameter.
func (h *Handler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	c, ok := h.current(w)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	var (
		name string
		body io.Reader
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			h.writeUploadError(w, err)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart field \"file\" is required", err.Error())
			return
		}
		defer file.Close()
		name, body = header.Filename, file
	} else {
		name, body = r.URL.Query().Get("name"), r.Body
	}
	if strings.TrimSpace(name) == "" {
		writeError(w, http.StatusBadRequest, "document name is required", "")
		return
	}

	if err := c.LoadDocument(name, body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeUploadError(w, err)
			return
		}
		h.writeSessionError(w, err, "failed to load document")
		return
	}
	writeJSON(w, http.StatusAccepted, presentation.SessionResponseFromSnapshot(c.Snapshot()))
}

func (h *Handler) writeUploadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "document too large", fmt.Sprintf("limit is %d bytes", maxErr.Limit))
		return
	}
	writeError(w, http.StatusBadRequest, "invalid upload", err.Error())
}

func (h *Handler) downloadDocument(w http.ResponseWriter, r *http.Request) {
	c, ok := h.current(w)
	if !ok {
		return
	}
	data, err := c.Document()
	if err != nil {
		h.writeSessionError(w, err, "failed to read document")
		return
	}
	writeDocument(w, c.DocumentHandle().Name, digest.Document(data).String(), data)
}

func (h *Handler) setDocumentName(w http.ResponseWriter, r *http.Request) {
	var req apiTypes.DocumentNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	c, ok := h.current(w)
	if !ok {
		return
	}
	c.SetDocumentName(strings.TrimSpace(req.Name))
	writeJSON(w, http.StatusOK, presentation.SessionResponseFromSnapshot(c.Snapshot()))
}

func (h *Handler) saveDocument(w http.ResponseWriter, r *http.Request) {
	c, ok := h.current(w)
	if !ok {
		return
	}
	if err := c.Save(); err != nil {
		h.writeSessionError(w, err, "failed to save document")
		return
	}
	writeJSON(w, http.StatusAccepted, presentation.SessionResponseFromSnapshot(c.Snapshot()))
}

func (h *Handler) listActions(w http.ResponseWriter, r *http.Request) {
	table := h.host.Actions()
	if c, err := h.host.Current(); err == nil {
		table = c.Actions()
	}
	writeJSON(w, http.StatusOK, presentation.ActionsFromTable(table))
}

func (h *Handler) listRevisions(w http.ResponseWriter, r *http.Request) {
	archive, ok := h.archive(w)
	if !ok {
		return
	}
	revs, err := archive.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, presentation.RevisionListResponse(revs))
}

// getRevision returns the revision bytes, or its metadata when the client
// asks for JSON.
func (h *Handler) getRevision(w http.ResponseWriter, r *http.Request) {
	archive, ok := h.archive(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		rev, err := archive.Get(id)
		if err != nil {
			writeRevisionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, presentation.RevisionResponse(rev))
		return
	}
	rev, data, err := archive.Load(id)
	if err != nil {
		writeRevisionError(w, err)
		return
	}
	writeDocument(w, rev.Name, rev.Checksum, data)
}

func (h *Handler) deleteRevision(w http.ResponseWriter, r *http.Request) {
	archive, ok := h.archive(w)
	if !ok {
		return
	}
	if err := archive.Delete(chi.URLParam(r, "id")); err != nil {
		writeRevisionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) current(w http.ResponseWriter) (*session.Controller, bool) {
	c, err := h.host.Current()
	if err != nil {
		h.writeSessionError(w, err, "no session")
		return nil, false
	}
	return c, true
}

func (h *Handler) readySession(w http.ResponseWriter) (*session.Controller, bool) {
	c, ok := h.current(w)
	if !ok {
		return nil, false
	}
	if !c.Ready() {
		h.writeSessionError(w, session.ErrNotReady, "session not ready")
		return nil, false
	}
	return c, true
}

func (h *Handler) archive(w http.ResponseWriter) (*storage.Archive, bool) {
	archive := h.host.Archive()
	if archive == nil {
		writeError(w, http.StatusNotFound, "document archive disabled", "")
		return nil, false
	}
	return archive, true
}

func (h *Handler) writeSessionError(w http.ResponseWriter, err error, message string) {
	var cooldown *circuit.CooldownError
	switch {
	case errors.As(err, &cooldown):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(cooldown.Remaining.Seconds()))))
		writeError(w, http.StatusServiceUnavailable, "engine unavailable", err.Error())
	case errors.Is(err, service.ErrNoSession):
		writeError(w, http.StatusNotFound, "no session open", "")
	case errors.Is(err, service.ErrHostShutdown):
		writeError(w, http.StatusServiceUnavailable, "server shutting down", "")
	case errors.Is(err, session.ErrSessionExists):
		writeError(w, http.StatusConflict, "session already open", err.Error())
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, message, err.Error())
	case errors.Is(err, session.ErrDestroyed):
		writeError(w, http.StatusGone, "session destroyed", "")
	case errors.Is(err, session.ErrFileType):
		writeError(w, http.StatusUnsupportedMediaType, "file type not accepted", err.Error())
	case errors.Is(err, session.ErrNoDocument):
		writeError(w, http.StatusNotFound, "no document loaded", "")
	default:
		h.log.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err.Error())
	}
}

func writeRevisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrRevisionNotFound):
		writeError(w, http.StatusNotFound, "document not found", "")
	case errors.Is(err, storage.ErrInvalidRevisionID):
		writeError(w, http.StatusBadRequest, "invalid document id", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "failed to read document", err.Error())
	}
}

func writeDocument(w http.ResponseWriter, name, checksum string, data []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set(checksumHeader, checksum)
	if name != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func generateID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":"failed to encode response"}`)
	}
}

func writeError(w http.ResponseWriter, code int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := apiTypes.ErrorResponse{Error: message}
	if details != "" {
		resp.Details = details
	}
	_ = json.NewEncoder(w).Encode(resp)
}
