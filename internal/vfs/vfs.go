// Package vfs provides the private byte stores owned by each side of a
// session. The host and the engine each hold one; they never share state and
// content moves between them only through an explicit Copy.
package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

var (
	ErrNotExist    = fs.ErrNotExist
	ErrExist       = fs.ErrExist
	ErrInvalidPath = errors.New("invalid virtual path")
	ErrIsDir       = errors.New("path is a directory")
	ErrUnsupported = errors.New("operation not supported by store")
)

type FileInfo struct {
	Path  string
	Size  int64
	IsDir bool
}

// Store is a flat, slash-separated virtual filesystem. WriteFile does not
// create missing parent directories; callers that need that use MkdirAll.
type Store interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
	MkdirAll(dir string) error
	Remove(name string) error
	Stat(name string) (FileInfo, error)
	List(dir string) ([]string, error)
}

// Clean validates an absolute virtual path and returns its canonical form.
func Clean(name string) (string, error) {
	if name == "" || !strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return path.Clean(name), nil
}

// Copy moves the bytes at srcPath in src to dstPath in dst. Missing parent
// directories in dst are created. The two stores stay independent afterwards.
func Copy(dst Store, dstPath string, src Store, srcPath string) error {
	data, err := src.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("copy read %s: %w", srcPath, err)
	}
	return WriteFileAll(dst, dstPath, data)
}

// WriteFileAll writes data, creating the parent directory on demand.
func WriteFileAll(s Store, name string, data []byte) error {
	err := s.WriteFile(name, data)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotExist) {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := s.MkdirAll(path.Dir(name)); err != nil {
		return fmt.Errorf("mkdir %s: %w", path.Dir(name), err)
	}
	if err := s.WriteFile(name, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Exists reports whether name resolves to a file or directory.
func Exists(s Store, name string) bool {
	_, err := s.Stat(name)
	return err == nil
}
