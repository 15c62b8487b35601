package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ricochet1k/officemesh/internal/logging"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

var ErrEngineAttached = errors.New("an engine is already waiting to attach")

// Remote boots engines that dial in over a port, usually a websocket from a
// browser worker. Boot waits for Attach, replays the pre-run writes over the
// port and then tells the engine to start.
type Remote struct {
	ports chan Port
}

func NewRemote() *Remote {
	return &Remote{ports: make(chan Port, 1)}
}

// Attach offers a connected engine port to the next Boot call.
func (r *Remote) Attach(port Port) error {
	select {
	case r.ports <- port:
		return nil
	default:
		return ErrEngineAttached
	}
}

func (r *Remote) Boot(ctx context.Context, cfg BootConfig) (*Instance, error) {
	log := logging.Or(cfg.Logger).Named("engine.remote")

	var port Port
	select {
	case port = <-r.ports:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for remote engine: %w", ctx.Err())
	}

	store := NewPortStore(port)
	if err := RunPreRun(store, cfg.PreRun); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("pre-run: %w", err)
	}
	if err := port.Send(protocol.Start()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("start remote engine: %w", err)
	}
	log.Info("remote engine attached")
	return NewInstance(port, store, nil), nil
}
