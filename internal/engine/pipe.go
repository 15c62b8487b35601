package engine

import (
	"context"

	"github.com/ricochet1k/officemesh/pkg/protocol"
)

type pipeEnd struct {
	in  *queue
	out *queue
}

// Pipe returns the two ends of an in-memory port. Closing either end closes
// both directions.
func Pipe() (host Port, engine Port) {
	a, b := newQueue(), newQueue()
	return &pipeEnd{in: a, out: b}, &pipeEnd{in: b, out: a}
}

func (p *pipeEnd) Send(env protocol.Envelope) error {
	return p.out.push(env)
}

func (p *pipeEnd) Recv(ctx context.Context) (protocol.Envelope, error) {
	return p.in.pop(ctx)
}

func (p *pipeEnd) Close() error {
	p.in.close(nil)
	p.out.close(nil)
	return nil
}

// Done is closed once the pipe is closed from either end.
func (p *pipeEnd) Done() <-chan struct{} {
	return p.in.closed()
}
