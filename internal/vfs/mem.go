package vfs

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// MemStore keeps files in memory. Directories are explicit: a write into a
// missing directory fails, as it does on engine filesystems.
type MemStore struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{
		files: make(map[string][]byte),
		dirs:  map[string]struct{}{"/": {}},
	}
}

func (m *MemStore) ReadFile(name string) ([]byte, error) {
	p, err := Clean(name)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.dirs[p]; ok {
		return nil, fmt.Errorf("%w: %s", ErrIsDir, p)
	}
	data, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemStore) WriteFile(name string, data []byte) error {
	p, err := Clean(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dirs[p]; ok {
		return fmt.Errorf("%w: %s", ErrIsDir, p)
	}
	if _, ok := m.dirs[path.Dir(p)]; !ok {
		return fmt.Errorf("%s: %w", path.Dir(p), ErrNotExist)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.files[p] = buf
	return nil
}

func (m *MemStore) MkdirAll(dir string) error {
	p, err := Clean(dir)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for cur := p; ; cur = path.Dir(cur) {
		if _, ok := m.files[cur]; ok {
			return fmt.Errorf("%s: %w", cur, ErrExist)
		}
		m.dirs[cur] = struct{}{}
		if cur == "/" {
			return nil
		}
	}
}

func (m *MemStore) Remove(name string) error {
	p, err := Clean(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[p]; ok {
		delete(m.files, p)
		return nil
	}
	if _, ok := m.dirs[p]; ok && p != "/" {
		prefix := p + "/"
		for f := range m.files {
			if strings.HasPrefix(f, prefix) {
				return fmt.Errorf("remove %s: directory not empty", p)
			}
		}
		delete(m.dirs, p)
		return nil
	}
	return fmt.Errorf("%s: %w", p, ErrNotExist)
}

func (m *MemStore) Stat(name string) (FileInfo, error) {
	p, err := Clean(name)
	if err != nil {
		return FileInfo{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.dirs[p]; ok {
		return FileInfo{Path: p, IsDir: true}, nil
	}
	if data, ok := m.files[p]; ok {
		return FileInfo{Path: p, Size: int64(len(data))}, nil
	}
	return FileInfo{}, fmt.Errorf("%s: %w", p, ErrNotExist)
}

// List returns the base names of the direct children of dir, sorted.
func (m *MemStore) List(dir string) ([]string, error) {
	p, err := Clean(dir)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.dirs[p]; !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	var names []string
	add := func(child string) {
		if child != p && path.Dir(child) == p {
			names = append(names, path.Base(child))
		}
	}
	for f := range m.files {
		add(f)
	}
	for d := range m.dirs {
		add(d)
	}
	sort.Strings(names)
	return names, nil
}
