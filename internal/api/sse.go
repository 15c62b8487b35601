package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ricochet1k/officemesh/internal/domain"
	"github.com/ricochet1k/officemesh/internal/presentation"
)

// sseEvents streams session events as Server-Sent Events. The subscription
// exists before the 200 is flushed. A Last-Event-ID header replays retained
// events newer than that id; the optional "types" query parameter is a comma
// separated event type filter.
func (h *Handler) sseEvents(w http.ResponseWriter, r *http.Request) {
	var types []domain.EventType
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			t, ok := domain.ParseEventType(strings.TrimSpace(name))
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown event type", name)
				return
			}
			types = append(types, t)
		}
	}

	var lastEventID int64
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid Last-Event-ID", err.Error())
			return
		}
		lastEventID = id
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	subID := generateID()
	sub, replay := h.broadcaster.SubscribeWithReplay(subID, "", lastEventID, types...)
	defer h.broadcaster.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if lastEventID > 0 {
		for _, event := range replay {
			if err := writeSSEEvent(w, event); err != nil {
				return
			}
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent serialises a single domain event in the SSE wire format:
//
//	id: <event id>\n
//	event: <type>\n
//	data: <json>\n
//	\n
func writeSSEEvent(w http.ResponseWriter, event domain.Event) error {
	apiEvent := presentation.EventFromDomain(event)
	data, err := json.Marshal(apiEvent)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", apiEvent.EventID, apiEvent.Type, data)
	return err
}
