package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/zjrosen/agentmap/internal/log"
)

const (
	bundleSuffix = ".bundle.json"
	sourceSuffix = ".source.csv"
	lockSuffix   = ".lock"

	lockTimeout = 5 * time.Second
	lockRetry   = 50 * time.Millisecond
)

var (
	// ErrNotFound is returned when no artifact exists for a graph.
	ErrNotFound = errors.New("bundle not found")

	// ErrStale is returned when an artifact's hash or version does not match.
	ErrStale = errors.New("bundle is stale")
)

// Store reads and writes bundle artifacts under one directory. Paths are
// deterministic per graph name.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir is the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Path is where the bundle for graphName lives.
func (s *Store) Path(graphName string) string {
	return filepath.Join(s.dir, fileStem(graphName)+bundleSuffix)
}

// SourcePath is where an embedded source snapshot for graphName lives.
func (s *Store) SourcePath(graphName string) string {
	return filepath.Join(s.dir, fileStem(graphName)+sourceSuffix)
}

// Exists reports whether an artifact exists for graphName.
func (s *Store) Exists(graphName string) bool {
	_, err := os.Stat(s.Path(graphName))
	return err == nil
}

// ModTime returns the artifact's modification time.
func (s *Store) ModTime(graphName string) (time.Time, error) {
	info, err := os.Stat(s.Path(graphName))
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("stat bundle: %w", err)
	}
	return info.ModTime(), nil
}

// Save writes b atomically under an exclusive file lock. Concurrent writers
// of the same graph serialize; the last one wins.
func (s *Store) Save(ctx context.Context, b *Bundle) (string, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding bundle %s: %w", b.GraphName, err)
	}

	path := s.Path(b.GraphName)
	if err := s.writeLocked(ctx, path, append(data, '\n')); err != nil {
		return "", err
	}

	log.Debug(log.CatStore, "saved bundle", "graph", b.GraphName, "path", path, "bytes", len(data))
	return path, nil
}

// SaveSource writes a snapshot of the source content next to the bundle.
func (s *Store) SaveSource(ctx context.Context, graphName string, content []byte) (string, error) {
	path := s.SourcePath(graphName)
	if err := s.writeLocked(ctx, path, content); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads the artifact for graphName without checking its hash.
func (s *Store) Load(graphName string) (*Bundle, error) {
	path := s.Path(graphName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, graphName)
	}
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decoding bundle %s: %w", path, err)
	}
	if b.GraphName != graphName {
		return nil, fmt.Errorf("bundle %s holds graph %q, expected %q", path, b.GraphName, graphName)
	}
	return &b, nil
}

// LoadVerified reads the artifact and checks it was built from content
// with the given hash. A mismatch returns ErrStale along with the bundle.
func (s *Store) LoadVerified(graphName, hash string) (*Bundle, error) {
	b, err := s.Load(graphName)
	if err != nil {
		return nil, err
	}
	if !b.Matches(hash) {
		return b, fmt.Errorf("%w: %s (stored %s, current %s)", ErrStale, graphName, shortHash(b.SourceHash), shortHash(hash))
	}
	return b, nil
}

// RemoveSource deletes the source snapshot for graphName, if any.
func (s *Store) RemoveSource(graphName string) error {
	if err := os.Remove(s.SourcePath(graphName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing source snapshot: %w", err)
	}
	return nil
}

// Remove deletes the artifact and any source snapshot for graphName.
func (s *Store) Remove(graphName string) error {
	var errs []error
	for _, path := range []string{s.Path(graphName), s.SourcePath(graphName)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List returns the graph names with artifacts, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing bundles: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), bundleSuffix) {
			continue
		}
		b, err := s.Load(stemGraphName(e.Name()))
		if err != nil {
			// File stem and graph name differ when the name was sanitized.
			b, err = s.loadFile(filepath.Join(s.dir, e.Name()))
			if err != nil {
				log.Warn(log.CatStore, "skipping unreadable bundle", "file", e.Name(), "error", err)
				continue
			}
		}
		names = append(names, b.GraphName)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) loadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// writeLocked writes data to path through a temp file and rename while
// holding path's lock file.
func (s *Store) writeLocked(ctx context.Context, path string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating bundle directory: %w", err)
	}

	lock := flock.New(path + lockSuffix)
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, lockRetry)
	if err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("locking %s: lock held by another writer", path)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// fileStem maps a graph name to a file-safe stem. A name that needed
// sanitizing gets a suffix from its hash so distinct names never share a file.
func fileStem(graphName string) string {
	safe := sanitize(graphName)
	if safe == graphName {
		return safe
	}
	return safe + "-" + HashBytes([]byte(graphName))[:8]
}

func sanitize(graphName string) string {
	var sb strings.Builder
	for _, r := range graphName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "_"
	}
	return sb.String()
}

func stemGraphName(fileName string) string {
	return strings.TrimSuffix(fileName, bundleSuffix)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
