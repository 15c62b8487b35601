package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/engine"
)

// engineWebSocket lets an engine running outside this process, usually a
// browser worker, attach to the remote bootstrapper. The request stays open
// for the life of the engine connection.
func (h *Handler) engineWebSocket(w http.ResponseWriter, r *http.Request) {
	remote := h.host.Remote()
	if remote == nil {
		writeError(w, http.StatusNotFound, "remote engines are not enabled", "")
		return
	}

	conn, err := realtimeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	port := engine.NewWebSocketPort(conn)
	if err := remote.Attach(port); err != nil {
		if errors.Is(err, engine.ErrEngineAttached) {
			h.log.Warn("remote engine rejected, another is waiting")
		}
		_ = port.Close()
		return
	}
	h.log.Info("remote engine connected", zap.String("remote_addr", r.RemoteAddr))

	select {
	case <-port.Done():
	case <-r.Context().Done():
		_ = port.Close()
	}
}
