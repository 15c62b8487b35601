// Package storage keeps saved document revisions on disk.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/ricochet1k/officemesh/internal/digest"
)

var (
	ErrRevisionNotFound  = errors.New("revision not found")
	ErrInvalidRevisionID = errors.New("invalid revision id")
	ErrStorageWrite      = errors.New("failed to write revision")
	ErrFileTooLarge      = errors.New("revision file too large")
	ErrSymlinkNotAllowed = errors.New("symlinks not allowed for revision files")
	ErrCorrupt           = errors.New("revision content does not match its checksum")
)

const (
	maxMetadataSize = 1 << 20
	maxBlobSize     = 256 << 20
)

var revisionIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func validateRevisionID(id string) error {
	if !revisionIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %s", ErrInvalidRevisionID, id)
	}
	return nil
}

// Encoder and decoder are safe for concurrent use and shared by every
// archive.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// Revision describes one saved document. Content is stored once per
// checksum, so identical saves share a blob.
type Revision struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SessionID string    `json:"session_id,omitempty"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	SavedAt   time.Time `json:"saved_at"`
}

// Archive stores revision metadata as JSON and content as zstd blobs named
// by their BLAKE3 digest.
type Archive struct {
	baseDir string
	mu      sync.RWMutex
}

func NewArchive(baseDir string) (*Archive, error) {
	for _, dir := range []string{filepath.Join(baseDir, "revisions"), filepath.Join(baseDir, "blobs")} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
		if info, err := os.Stat(dir); err == nil && info.Mode().Perm()&0o077 != 0 {
			_ = os.Chmod(dir, 0o700)
		}
	}
	return &Archive{baseDir: baseDir}, nil
}

// DefaultBaseDir honours OFFICEMESH_BASE_DIR, then ~/.officemesh.
func DefaultBaseDir() string {
	if dir := strings.TrimSpace(os.Getenv("OFFICEMESH_BASE_DIR")); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".officemesh"
	}
	return filepath.Join(home, ".officemesh")
}

func (a *Archive) BaseDir() string {
	return a.baseDir
}

func (a *Archive) revisionPath(id string) string {
	return filepath.Join(a.baseDir, "revisions", id+".json")
}

func (a *Archive) blobPath(checksum string) string {
	return filepath.Join(a.baseDir, "blobs", checksum+".zst")
}

// Save records data as a new revision of name.
func (a *Archive) Save(name, sessionID string, data []byte) (*Revision, error) {
	rev := &Revision{
		ID:        uuid.NewString(),
		Name:      name,
		SessionID: sessionID,
		Size:      int64(len(data)),
		Checksum:  digest.Document(data).String(),
		SavedAt:   time.Now().UTC(),
	}
	meta, err := json.MarshalIndent(rev, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal revision: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	blob := a.blobPath(rev.Checksum)
	if _, err := os.Lstat(blob); errors.Is(err, os.ErrNotExist) {
		if err := writeAtomic(blob, zstdEncoder.EncodeAll(data, nil)); err != nil {
			return nil, err
		}
	}
	if err := writeAtomic(a.revisionPath(rev.ID), meta); err != nil {
		return nil, err
	}
	return rev, nil
}

// writeAtomic writes through a synced temp file renamed into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	tmpName := f.Name()
	_ = os.Chmod(tmpName, 0o600)
	defer func() {
		if f != nil {
			f.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := f.Close(); err != nil {
		f = nil
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	f = nil

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	return nil
}

// readRegular refuses symlinks and files over limit.
func readRegular(path string, limit int64) ([]byte, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, ErrSymlinkNotAllowed
	}
	if info.Size() > limit {
		return nil, ErrFileTooLarge
	}
	return os.ReadFile(path)
}

func (a *Archive) Get(id string) (*Revision, error) {
	if err := validateRevisionID(id); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.getUnlocked(id)
}

func (a *Archive) getUnlocked(id string) (*Revision, error) {
	data, err := readRegular(a.revisionPath(id), maxMetadataSize)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrRevisionNotFound
		}
		return nil, err
	}
	var rev Revision
	if err := json.Unmarshal(data, &rev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal revision: %w", err)
	}
	if rev.ID != id {
		return nil, fmt.Errorf("%w: metadata names %q", ErrInvalidRevisionID, rev.ID)
	}
	return &rev, nil
}

// Load returns a revision and its content, verified against the checksum.
func (a *Archive) Load(id string) (*Revision, []byte, error) {
	if err := validateRevisionID(id); err != nil {
		return nil, nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	rev, err := a.getUnlocked(id)
	if err != nil {
		return nil, nil, err
	}
	want, ok := digest.Parse(rev.Checksum)
	if !ok {
		return nil, nil, fmt.Errorf("%w: bad checksum %q", ErrCorrupt, rev.Checksum)
	}
	compressed, err := readRegular(a.blobPath(rev.Checksum), maxBlobSize)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: blob missing", ErrCorrupt)
		}
		return nil, nil, err
	}
	data, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, rev.Size))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if digest.Document(data) != want {
		return nil, nil, ErrCorrupt
	}
	return rev, data, nil
}

// List returns every revision, newest first. Unreadable entries are
// skipped.
func (a *Archive) List() ([]*Revision, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(a.baseDir, "revisions"))
	if err != nil {
		return nil, fmt.Errorf("failed to read revisions directory: %w", err)
	}
	revs := make([]*Revision, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if validateRevisionID(id) != nil {
			continue
		}
		rev, err := a.getUnlocked(id)
		if err != nil {
			continue
		}
		revs = append(revs, rev)
	}
	sort.Slice(revs, func(i, j int) bool {
		return revs[i].SavedAt.After(revs[j].SavedAt)
	})
	return revs, nil
}

// Delete removes the metadata of a revision. Blobs may be shared and are
// left in place.
func (a *Archive) Delete(id string) error {
	if err := validateRevisionID(id); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.Remove(a.revisionPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrRevisionNotFound
		}
		return fmt.Errorf("failed to delete revision: %w", err)
	}
	return nil
}
