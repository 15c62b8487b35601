package engine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/vfs"
)

// PreRunFunc prepares the engine filesystem. Every hook runs before the
// engine's own startup routine.
type PreRunFunc func(fs vfs.Store) error

type BootConfig struct {
	PreRun []PreRunFunc
	Logger *zap.Logger
}

// Instance is a started engine.
type Instance struct {
	Port Port
	// FS is the engine's private filesystem as seen from the host. It may be
	// write-only for engines running elsewhere.
	FS vfs.Store

	closeFn func() error
	once    sync.Once
	err     error
}

func NewInstance(port Port, fs vfs.Store, closeFn func() error) *Instance {
	return &Instance{Port: port, FS: fs, closeFn: closeFn}
}

// Close closes the port and releases the engine. Later calls return the
// first result.
func (i *Instance) Close() error {
	i.once.Do(func() {
		var errs []error
		if i.Port != nil {
			errs = append(errs, i.Port.Close())
		}
		if i.closeFn != nil {
			errs = append(errs, i.closeFn())
		}
		i.err = errors.Join(errs...)
	})
	return i.err
}

// Bootstrapper starts one engine per call.
type Bootstrapper interface {
	Boot(ctx context.Context, cfg BootConfig) (*Instance, error)
}

// RunPreRun applies hooks in order and stops at the first error.
func RunPreRun(fs vfs.Store, hooks []PreRunFunc) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(fs); err != nil {
			return err
		}
	}
	return nil
}
