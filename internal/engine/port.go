// Package engine connects a session to a document engine. A Port carries
// envelopes in both directions; a Bootstrapper starts an engine and returns
// its port together with a handle on the engine's private filesystem.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/ricochet1k/officemesh/internal/vfs"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

var (
	ErrClosed      = errors.New("engine port closed")
	ErrUnsupported = vfs.ErrUnsupported
)

// Port is one ordered, bidirectional envelope channel. Send never blocks on
// the peer. Recv blocks until an envelope arrives, the port closes or ctx is
// done.
type Port interface {
	Send(env protocol.Envelope) error
	Recv(ctx context.Context) (protocol.Envelope, error)
	Close() error
}

// queue is an unbounded FIFO of envelopes. Receivers drain what is queued
// before they observe the close error.
type queue struct {
	mu     sync.Mutex
	items  []protocol.Envelope
	notify chan struct{}
	done   chan struct{}
	err    error
}

func newQueue() *queue {
	return &queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *queue) push(env protocol.Envelope) error {
	q.mu.Lock()
	if q.err != nil {
		err := q.err
		q.mu.Unlock()
		return err
	}
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *queue) pop(ctx context.Context) (protocol.Envelope, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items[0] = protocol.Envelope{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return env, nil
		}
		err := q.err
		q.mu.Unlock()
		if err != nil {
			return protocol.Envelope{}, err
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return protocol.Envelope{}, ctx.Err()
		}
	}
}

// close records err (ErrClosed when nil). Only the first call has effect.
func (q *queue) close(err error) {
	if err == nil {
		err = ErrClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return
	}
	q.err = err
	close(q.done)
}

func (q *queue) closed() <-chan struct{} {
	return q.done
}
