package cache

import (
	"log/slog"

	"github.com/iammorganparry/clive/apps/projmem/internal/models"
	"github.com/iammorganparry/clive/apps/projmem/internal/store"
	"github.com/iammorganparry/clive/apps/projmem/internal/vectorsync"
)

// ManagerConfig sizes the two resource pools.
type ManagerConfig struct {
	StoreCapacity  int
	VectorCapacity int
	Backend        vectorsync.BackendFactory
	Vector         vectorsync.Options
	Logger         *slog.Logger
}

// Manager owns the per-project resources: one pool of open stores and a
// smaller pool of vector clients, since a connected client may own a
// subprocess.
type Manager struct {
	stores  *Pool[*store.DB]
	vectors *Pool[*vectorsync.Client]
	backend vectorsync.BackendFactory
	vopts   vectorsync.Options
	logger  *slog.Logger
}

func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StoreCapacity <= 0 {
		cfg.StoreCapacity = 5
	}
	if cfg.VectorCapacity <= 0 {
		cfg.VectorCapacity = 3
	}
	if cfg.Vector.Logger == nil {
		cfg.Vector.Logger = logger
	}
	return &Manager{
		stores:  NewPool[*store.DB]("store", cfg.StoreCapacity, logger),
		vectors: NewPool[*vectorsync.Client]("vector", cfg.VectorCapacity, logger),
		backend: cfg.Backend,
		vopts:   cfg.Vector,
		logger:  logger,
	}
}

// Store leases the project's structured store, opening it on a miss.
func (m *Manager) Store(p models.Project) (*Lease[*store.DB], error) {
	return m.stores.Acquire(p.ID, func() (*store.DB, error) {
		return store.OpenProject(p.DataDir, m.logger)
	})
}

// Vector leases the project's vector client. Construction is lazy: the
// backend is not connected until the first vector operation.
func (m *Manager) Vector(p models.Project) (*Lease[*vectorsync.Client], error) {
	return m.vectors.Acquire(p.ID, func() (*vectorsync.Client, error) {
		return vectorsync.New(p, m.backend, m.vopts), nil
	})
}

// Resource bundles both leases for one project.
type Resource struct {
	Project models.Project
	Store   *store.DB
	Vector  *vectorsync.Client

	storeLease  *Lease[*store.DB]
	vectorLease *Lease[*vectorsync.Client]
}

// Release returns both leases.
func (r *Resource) Release() {
	if r.vectorLease != nil {
		r.vectorLease.Release()
	}
	if r.storeLease != nil {
		r.storeLease.Release()
	}
}

// Acquire leases the store and vector client for p together.
func (m *Manager) Acquire(p models.Project) (*Resource, error) {
	sl, err := m.Store(p)
	if err != nil {
		return nil, err
	}
	vl, err := m.Vector(p)
	if err != nil {
		sl.Release()
		return nil, err
	}
	return &Resource{
		Project:     p,
		Store:       sl.Value,
		Vector:      vl.Value,
		storeLease:  sl,
		vectorLease: vl,
	}, nil
}

// VectorState reports a cached client's state without touching recency.
// Projects without a resident client are Disconnected.
func (m *Manager) VectorState(projectID string) vectorsync.State {
	if c, ok := m.vectors.Peek(projectID); ok {
		return c.State()
	}
	return vectorsync.Disconnected
}

// Sizes returns the resident entry counts of both pools.
func (m *Manager) Sizes() (stores, vectors int) {
	return m.stores.Len(), m.vectors.Len()
}

// StoreKeys lists resident store keys, least recently used first.
func (m *Manager) StoreKeys() []string {
	return m.stores.Keys()
}

// VectorKeys lists resident vector client keys, least recently used first.
func (m *Manager) VectorKeys() []string {
	return m.vectors.Keys()
}

// Close shuts both pools down, terminating any vector subprocesses.
func (m *Manager) Close() {
	m.vectors.Close()
	m.stores.Close()
}
