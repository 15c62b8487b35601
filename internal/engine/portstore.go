package engine

import (
	"fmt"

	"github.com/ricochet1k/officemesh/internal/vfs"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

// PortStore is the host's view of a remote engine filesystem. Writes travel
// as envelopes and are applied by the engine in order; nothing can be read
// back through it.
type PortStore struct {
	port Port
}

func NewPortStore(port Port) *PortStore {
	return &PortStore{port: port}
}

func (s *PortStore) WriteFile(name string, data []byte) error {
	clean, err := vfs.Clean(name)
	if err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return s.port.Send(protocol.WriteFile(clean, buf))
}

func (s *PortStore) MkdirAll(dir string) error {
	clean, err := vfs.Clean(dir)
	if err != nil {
		return err
	}
	return s.port.Send(protocol.Mkdir(clean))
}

func (s *PortStore) ReadFile(name string) ([]byte, error) {
	return nil, fmt.Errorf("%w: read %s", ErrUnsupported, name)
}

func (s *PortStore) Remove(name string) error {
	return fmt.Errorf("%w: remove %s", ErrUnsupported, name)
}

func (s *PortStore) Stat(name string) (vfs.FileInfo, error) {
	return vfs.FileInfo{}, fmt.Errorf("%w: stat %s", ErrUnsupported, name)
}

func (s *PortStore) List(dir string) ([]string, error) {
	return nil, fmt.Errorf("%w: list %s", ErrUnsupported, dir)
}
