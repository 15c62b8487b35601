package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ricochet1k/officemesh/pkg/protocol"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WebSocketPort carries JSON envelopes as text frames. It is used for engines
// that run outside this process, typically a browser worker.
type WebSocketPort struct {
	conn *websocket.Conn
	in   *queue
	wmu  sync.Mutex
	once sync.Once
}

func NewWebSocketPort(conn *websocket.Conn) *WebSocketPort {
	p := &WebSocketPort{conn: conn, in: newQueue()}
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go p.readLoop()
	go p.pingLoop()
	return p
}

func (p *WebSocketPort) readLoop() {
	for {
		var env protocol.Envelope
		if err := p.conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.in.close(nil)
			} else {
				p.in.close(fmt.Errorf("%w: %v", ErrClosed, err))
			}
			_ = p.conn.Close()
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if err := p.in.push(env); err != nil {
			return
		}
	}
}

func (p *WebSocketPort) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.in.closed():
			return
		case <-ticker.C:
			p.wmu.Lock()
			err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			p.wmu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				_ = p.Close()
				return
			}
		}
	}
}

func (p *WebSocketPort) Send(env protocol.Envelope) error {
	select {
	case <-p.in.closed():
		return ErrClosed
	default:
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := p.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrClosed, env.Cmd, err)
	}
	return nil
}

func (p *WebSocketPort) Recv(ctx context.Context) (protocol.Envelope, error) {
	return p.in.pop(ctx)
}

func (p *WebSocketPort) Close() error {
	p.once.Do(func() {
		p.wmu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		p.wmu.Unlock()
		p.in.close(nil)
		_ = p.conn.Close()
	})
	return nil
}

// Done is closed when the connection ends from either side.
func (p *WebSocketPort) Done() <-chan struct{} {
	return p.in.closed()
}
