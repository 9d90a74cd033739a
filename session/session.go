// Package session maps session ids to Requestors, evicting the
// least-recently-touched session once a global memory ceiling is
// exceeded, while sharing one GeomCache per backend URL across every
// session that targets it.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kvnloo/triplemap/backend"
	"github.com/kvnloo/triplemap/geomcache"
	"github.com/kvnloo/triplemap/requestor"
)

// ErrOutOfMemory mirrors requestor.ErrOutOfMemory at the session
// layer: raised when every evictable session has already been
// dropped and the ceiling is still exceeded.
var ErrOutOfMemory = errors.New("session: memory ceiling exceeded with no evictable session")

// Entry is one session's (backend, query, materialised Requestor)
// triple, keyed by a generated session id.
type Entry struct {
	ID         string
	BackendURL string
	Query      string

	Req      *requestor.Requestor
	building atomic.Bool
}

// Manager owns the session registry and the per-backend cache pool. It
// is safe for concurrent use.
type Manager struct {
	maxMemory int64
	log       zerolog.Logger

	cachesMu sync.Mutex
	caches   map[string]*geomcache.Cache
	clients  map[string]*backend.Client
	rowCache *geomcache.RowCache

	entriesMu sync.Mutex
	lru       *lru.Cache[string, *Entry]
	used      int64
}

// NewManager constructs a Manager with capacity slots (an upper bound
// on concurrently tracked sessions, independent of the byte-based
// maxMemoryBytes ceiling that drives eviction decisions).
func NewManager(maxMemoryBytes int64, capacity int, log zerolog.Logger) (*Manager, error) {
	m := &Manager{
		maxMemory: maxMemoryBytes,
		log:       log.With().Str("component", "session").Logger(),
		caches:    map[string]*geomcache.Cache{},
		clients:   map[string]*backend.Client{},
	}
	c, err := lru.NewWithEvict[string, *Entry](capacity, m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("session: build LRU: %w", err)
	}
	m.lru = c
	return m, nil
}

// SetRowCache attaches a shared bbolt-backed attribute row cache to
// every GeomCache this Manager builds from now on, including ones
// already built. Every backend shares the same row cache instance;
// rows are keyed by (query, offset), so this is safe as long as two
// different backends don't happen to serve identical query strings.
func (m *Manager) SetRowCache(rc *geomcache.RowCache) {
	m.cachesMu.Lock()
	defer m.cachesMu.Unlock()
	m.rowCache = rc
	for _, c := range m.caches {
		c.AttachRowCache(rc)
	}
}

// onEvict runs synchronously inside lru.Cache's own locking whenever a
// slot is reclaimed, either by capacity overflow or by our own
// explicit evictOldest call; it only needs to keep the byte accounting
// consistent.
func (m *Manager) onEvict(key string, e *Entry) {
	if e.Req != nil {
		atomic.AddInt64(&m.used, -e.Req.MemoryBytes())
	}
	m.log.Info().Str("session", key).Msg("session evicted")
}

func (m *Manager) cacheFor(backendURL string) (*geomcache.Cache, *backend.Client) {
	m.cachesMu.Lock()
	defer m.cachesMu.Unlock()
	cache, ok := m.caches[backendURL]
	if !ok {
		cache = geomcache.New(backendURL, m.log)
		if m.rowCache != nil {
			cache.AttachRowCache(m.rowCache)
		}
		m.caches[backendURL] = cache
	}
	client, ok := m.clients[backendURL]
	if !ok {
		client = backend.New(backendURL, http.DefaultClient)
		m.clients[backendURL] = client
	}
	return cache, client
}

// PreloadCache loads a previously persisted geometry cache from path
// and registers it as the GeomCache for backendURL, so the first
// NewSession call against that backend skips the WKT/binary-id build
// passes entirely. Call before serving any request; it is not safe to
// call once a cache for backendURL already exists and is in use.
func (m *Manager) PreloadCache(backendURL, path string) error {
	cache, _ := m.cacheFor(backendURL)
	if cache.Ready() {
		return nil
	}
	return cache.FromDisk(path)
}

// NewSession builds (or reuses) the GeomCache for backendURL, creates
// a fresh Requestor for query, and runs its build, evicting older
// sessions if the result would exceed the memory ceiling.
func (m *Manager) NewSession(ctx context.Context, backendURL, query string) (*Entry, error) {
	cache, client := m.cacheFor(backendURL)
	if !cache.Ready() {
		if err := cache.Build(ctx, client); err != nil {
			return nil, err
		}
	}

	entry := &Entry{
		ID:         uuid.NewString(),
		BackendURL: backendURL,
		Query:      query,
		Req:        requestor.New(cache, client, query, m.maxMemory, m.log),
	}
	entry.building.Store(true)

	m.entriesMu.Lock()
	m.lru.Add(entry.ID, entry)
	m.entriesMu.Unlock()

	err := entry.Req.Request(ctx)
	entry.building.Store(false)
	if err != nil {
		m.Remove(entry.ID)
		return nil, err
	}

	if err := m.reclaimToFit(entry.Req.MemoryBytes()); err != nil {
		m.Remove(entry.ID)
		return nil, err
	}
	atomic.AddInt64(&m.used, entry.Req.MemoryBytes())

	m.log.Info().Str("session", entry.ID).Str("backend", backendURL).Msg("session built")
	return entry, nil
}

// reclaimToFit evicts the least-recently-touched, non-building
// sessions until adding addBytes would no longer exceed maxMemory, or
// returns ErrOutOfMemory once nothing evictable remains.
func (m *Manager) reclaimToFit(addBytes int64) error {
	if m.maxMemory <= 0 {
		return nil
	}
	for atomic.LoadInt64(&m.used)+addBytes > m.maxMemory {
		if !m.evictOldest() {
			return ErrOutOfMemory
		}
	}
	return nil
}

// evictOldest removes the oldest session that is not currently
// building, returning false if every tracked session is mid-build.
func (m *Manager) evictOldest() bool {
	m.entriesMu.Lock()
	defer m.entriesMu.Unlock()

	keys := m.lru.Keys()
	for _, k := range keys {
		e, ok := m.lru.Peek(k)
		if !ok || e.building.Load() {
			continue
		}
		m.lru.Remove(k)
		return true
	}
	return false
}

// Get returns the session with id, touching it so it counts as
// recently used for eviction purposes.
func (m *Manager) Get(id string) (*Entry, bool) {
	m.entriesMu.Lock()
	defer m.entriesMu.Unlock()
	return m.lru.Get(id)
}

// Remove drops a session immediately, e.g. on an explicit
// clearsession request.
func (m *Manager) Remove(id string) {
	m.entriesMu.Lock()
	defer m.entriesMu.Unlock()
	m.lru.Remove(id)
}
