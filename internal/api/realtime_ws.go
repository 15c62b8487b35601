package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/realtime"
	realtimeTypes "github.com/ricochet1k/officemesh/pkg/realtime"
)

var realtimeUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// realtimeSession serves one UI websocket. A false return from any reply
// ends the connection.
type realtimeSession struct {
	h      *Handler
	client *realtime.Client
}

func (h *Handler) realtimeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := realtimeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := realtime.NewClient(conn)
	h.realtimeHub.Register(client)
	defer h.realtimeHub.Unregister(client.ID())
	go client.WriteLoop()

	h.log.Debug("realtime client connected", zap.String("client", client.ID()))
	s := realtimeSession{h: h, client: client}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.log.Debug("realtime client gone", zap.String("client", client.ID()), zap.Error(err))
			return
		}
		client.Touch()

		var msg realtimeTypes.ClientEnvelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			if !s.fail("invalid message") {
				return
			}
			continue
		}
		if !s.handle(msg) {
			return
		}
	}
}

func (s realtimeSession) handle(msg realtimeTypes.ClientEnvelope) bool {
	switch msg.Type {
	case realtimeTypes.ClientMessageTypeSubscribe:
		return s.subscribe(msg.Topics)
	case realtimeTypes.ClientMessageTypeUnsubscribe:
		if topics, _ := splitTopics(msg.Topics); len(topics) > 0 {
			s.h.realtimeHub.Unsubscribe(s.client.ID(), topics)
		}
		return true
	case realtimeTypes.ClientMessageTypeCommand:
		return s.command(msg)
	case realtimeTypes.ClientMessageTypePing:
		return s.reply(realtimeTypes.ServerEnvelope{Type: realtimeTypes.ServerMessageTypePong})
	default:
		return s.fail("unsupported message type")
	}
}

// subscribe registers the supported topics and sends each one's snapshot.
func (s realtimeSession) subscribe(requested []string) bool {
	topics, unsupported := splitTopics(requested)
	for _, topic := range unsupported {
		if !s.fail("unsupported topic: " + topic) {
			return false
		}
	}
	if len(topics) == 0 {
		return true
	}

	s.h.realtimeHub.Subscribe(s.client.ID(), topics)
	for _, topic := range topics {
		snapshot, err := s.h.snapshotter.Snapshot(topic)
		if err != nil {
			s.h.log.Warn("realtime snapshot failed", zap.String("topic", topic), zap.Error(err))
			if !s.fail("failed to build snapshot") {
				return false
			}
			continue
		}
		if !s.reply(realtimeTypes.ServerEnvelope{
			Type:    realtimeTypes.ServerMessageTypeSnapshot,
			Topic:   topic,
			Payload: snapshot,
		}) {
			return false
		}
	}
	return true
}

// command dispatches like POST /api/session/commands. A session that is not
// ready yet answers sent=false rather than an error.
func (s realtimeSession) command(msg realtimeTypes.ClientEnvelope) bool {
	if strings.TrimSpace(msg.Command) == "" {
		return s.fail("command is required")
	}
	c, err := s.h.host.Current()
	if err != nil {
		return s.fail("no session open")
	}

	var sent bool
	if msg.Value != nil {
		sent = c.DispatchCommand(msg.Command, *msg.Value)
	} else {
		sent = c.DispatchCommand(msg.Command)
	}
	return s.reply(realtimeTypes.ServerEnvelope{
		Type:    realtimeTypes.ServerMessageTypeResult,
		Payload: realtimeTypes.CommandResult{Command: msg.Command, Sent: sent},
	})
}

func (s realtimeSession) fail(message string) bool {
	return s.reply(realtimeTypes.ServerEnvelope{
		Type:    realtimeTypes.ServerMessageTypeError,
		Message: message,
	})
}

func (s realtimeSession) reply(env realtimeTypes.ServerEnvelope) bool {
	if s.client.Queue(env) {
		return true
	}
	s.h.realtimeHub.Unregister(s.client.ID())
	return false
}

func splitTopics(requested []string) (supported, unsupported []string) {
	for _, topic := range requested {
		if realtime.IsSupportedTopic(topic) {
			supported = append(supported, topic)
		} else {
			unsupported = append(unsupported, topic)
		}
	}
	return supported, unsupported
}
