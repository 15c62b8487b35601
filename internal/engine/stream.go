package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ricochet1k/officemesh/pkg/protocol"
)

// StreamPort frames envelopes with a codec over a byte stream, such as the
// stdio of a sandboxed engine process.
type StreamPort struct {
	codec  protocol.Codec
	in     *queue
	wmu    sync.Mutex
	enc    protocol.Encoder
	closer io.Closer
	once   sync.Once
}

// NewStreamPort starts reading r immediately. closer, when non-nil, is called
// once on Close.
func NewStreamPort(codec protocol.Codec, r io.Reader, w io.Writer, closer io.Closer) *StreamPort {
	p := &StreamPort{
		codec:  codec,
		in:     newQueue(),
		enc:    codec.NewEncoder(w),
		closer: closer,
	}
	go p.readLoop(codec.NewDecoder(r))
	return p
}

func (p *StreamPort) readLoop(dec protocol.Decoder) {
	for {
		var env protocol.Envelope
		if err := dec.Decode(&env); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				p.in.close(nil)
			} else {
				p.in.close(fmt.Errorf("%w: decode %s: %v", ErrClosed, p.codec.Name(), err))
			}
			return
		}
		if err := p.in.push(env); err != nil {
			return
		}
	}
}

func (p *StreamPort) Send(env protocol.Envelope) error {
	select {
	case <-p.in.closed():
		return ErrClosed
	default:
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()
	if err := p.enc.Encode(env); err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrClosed, env.Cmd, err)
	}
	return nil
}

func (p *StreamPort) Recv(ctx context.Context) (protocol.Envelope, error) {
	return p.in.pop(ctx)
}

func (p *StreamPort) Close() error {
	var err error
	p.once.Do(func() {
		p.in.close(nil)
		if p.closer != nil {
			err = p.closer.Close()
		}
	})
	return err
}

func (p *StreamPort) Done() <-chan struct{} {
	return p.in.closed()
}
