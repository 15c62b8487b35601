package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

var ErrSymlinkNotAllowed = errors.New("symlinks not allowed in virtual store")

// DirStore maps a virtual filesystem onto a host directory. It is used when
// the engine runtime mounts a real directory as its root.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &DirStore{root: abs}, nil
}

func (d *DirStore) Root() string {
	return d.root
}

func (d *DirStore) resolve(name string) (string, error) {
	p, err := Clean(name)
	if err != nil {
		return "", err
	}
	full := filepath.Join(d.root, filepath.FromSlash(p))
	if info, err := os.Lstat(full); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("%w: %s", ErrSymlinkNotAllowed, p)
	}
	return full, nil
}

func (d *DirStore) ReadFile(name string) ([]byte, error) {
	full, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrIsDir, name)
	}
	return os.ReadFile(full)
}

func (d *DirStore) WriteFile(name string, data []byte) error {
	full, err := d.resolve(name)
	if err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o600)
}

func (d *DirStore) MkdirAll(dir string) error {
	full, err := d.resolve(dir)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0o700)
}

func (d *DirStore) Remove(name string) error {
	full, err := d.resolve(name)
	if err != nil {
		return err
	}
	if full == d.root {
		return fmt.Errorf("%w: cannot remove root", ErrInvalidPath)
	}
	return os.Remove(full)
}

func (d *DirStore) Stat(name string) (FileInfo, error) {
	full, err := d.resolve(name)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return FileInfo{}, err
	}
	p, _ := Clean(name)
	return FileInfo{Path: p, Size: info.Size(), IsDir: info.IsDir()}, nil
}

func (d *DirStore) List(dir string) ([]string, error) {
	full, err := d.resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink != 0 {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
