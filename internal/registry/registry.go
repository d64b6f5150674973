// Package registry maps filesystem project paths to stable identities and
// persists the mapping to a JSON file with debounced writes.
package registry

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

const fileVersion = 1

// Options tunes persistence behavior.
type Options struct {
	// FlushDelay is the debounce window between a change and the disk write.
	FlushDelay time.Duration
	// TouchInterval is the minimum gap between LastAccessedAt updates.
	TouchInterval time.Duration
	Logger        *slog.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

// Registry is safe for concurrent use. Resolve never fails; persistence
// errors are logged and retried on the next debounce cycle.
type Registry struct {
	path     string
	dataRoot string
	opts     Options
	logger   *slog.Logger

	// flushMu serializes disk writes from snapshot through rename, so a
	// later flush never lands before an earlier one and Close waits for an
	// in-flight timer write.
	flushMu sync.Mutex
	write   func(path string, f registryFile) error

	mu     sync.Mutex
	byID   map[string]*models.Project
	byPath map[string]string
	dirty  bool
	timer  *time.Timer
	closed bool
}

type registryFile struct {
	Version  int                        `json:"version"`
	Projects map[string]*models.Project `json:"projects"`
}

// Open loads the registry file at path, or starts empty when it does not
// exist. Per-project data directories are allocated under dataRoot.
func Open(path, dataRoot string, opts Options) (*Registry, error) {
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = 2 * time.Second
	}
	if opts.TouchInterval <= 0 {
		opts.TouchInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		path:     path,
		dataRoot: dataRoot,
		opts:     opts,
		logger:   logger.With("component", "registry"),
		byID:     make(map[string]*models.Project),
		byPath:   make(map[string]string),
		write:    writeFile,
	}

	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}

	var f registryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return memerr.New(memerr.KindCorrupt, "decode registry "+r.path, err)
	}
	for id, p := range f.Projects {
		if p == nil {
			continue
		}
		p.ID = id
		r.byID[id] = p
		r.byPath[p.Path] = id
	}
	return nil
}

// NormalizePath strips trailing separators and cleans the path. Case is
// preserved. Relative paths are made absolute.
func NormalizePath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		p = "."
	}
	if !filepath.IsAbs(p) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
	}
	return filepath.Clean(p)
}

// ProjectID computes the deterministic id for a normalized path.
func ProjectID(normalized string) string {
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h[:8])
}

// Resolve returns the identity for path, creating it on first sight.
func (r *Registry) Resolve(path string) models.Project {
	normalized := NormalizePath(path)
	now := r.opts.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byPath[normalized]; ok {
		p := r.byID[id]
		if now.Sub(p.LastAccessedAt) >= r.opts.TouchInterval {
			p.LastAccessedAt = now
			r.markDirtyLocked()
		}
		return *p
	}

	id := ProjectID(normalized)
	name := filepath.Base(normalized)
	if name == string(filepath.Separator) || name == "." {
		name = normalized
	}
	p := &models.Project{
		ID:             id,
		Path:           normalized,
		Name:           name,
		DataDir:        filepath.Join(r.dataRoot, "projects", id),
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if err := os.MkdirAll(p.DataDir, 0o755); err != nil {
		r.logger.Warn("create project data dir", "project_id", id, "dir", p.DataDir, "error", err)
	}

	r.byID[id] = p
	r.byPath[normalized] = id
	r.markDirtyLocked()
	r.logger.Info("project registered", "project_id", id, "path", normalized)
	return *p
}

// Get looks up an identity by id.
func (r *Registry) Get(id string) (models.Project, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return models.Project{}, false
	}
	return *p, true
}

// Lookup finds an existing identity by path without creating one.
func (r *Registry) Lookup(path string) (models.Project, bool) {
	normalized := NormalizePath(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPath[normalized]
	if !ok {
		return models.Project{}, false
	}
	return *r.byID[id], true
}

// List returns all identities, most recently accessed first.
func (r *Registry) List() []models.Project {
	r.mu.Lock()
	projects := make([]models.Project, 0, len(r.byID))
	for _, p := range r.byID {
		projects = append(projects, *p)
	}
	r.mu.Unlock()

	sort.SliceStable(projects, func(i, j int) bool {
		if projects[i].LastAccessedAt.Equal(projects[j].LastAccessedAt) {
			return projects[i].Path < projects[j].Path
		}
		return projects[i].LastAccessedAt.After(projects[j].LastAccessedAt)
	})
	return projects
}

// Len returns the number of known projects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// markDirtyLocked arms the debounce timer if none is pending.
func (r *Registry) markDirtyLocked() {
	r.dirty = true
	if r.closed || r.timer != nil {
		return
	}
	r.timer = time.AfterFunc(r.opts.FlushDelay, r.flushFromTimer)
}

func (r *Registry) flushFromTimer() {
	r.mu.Lock()
	r.timer = nil
	r.mu.Unlock()

	if err := r.Flush(); err != nil {
		r.logger.Warn("registry flush failed, will retry", "path", r.path, "error", err)
		r.mu.Lock()
		if r.dirty {
			r.markDirtyLocked()
		}
		r.mu.Unlock()
	}
}

// Flush writes pending changes to disk. It is a no-op when nothing changed.
func (r *Registry) Flush() error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	f := registryFile{Version: fileVersion, Projects: make(map[string]*models.Project, len(r.byID))}
	for id, p := range r.byID {
		cp := *p
		f.Projects[id] = &cp
	}
	r.dirty = false
	r.mu.Unlock()

	if err := r.write(r.path, f); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		return err
	}
	return nil
}

// Close stops the debounce timer and flushes unconditionally.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
	return r.Flush()
}

// writeFile replaces path atomically via a temp file rename.
func writeFile(path string, f registryFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".projects-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
