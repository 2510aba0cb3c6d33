// SPDX-License-Identifier: MIT

package credstore

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/metrics"
	"github.com/ManuGH/flockd/internal/sealbox"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// RootFileName holds the session's root identity record.
	RootFileName = "creds.json"

	// readCacheTTL bounds how long a cached record serves reads. Short on
	// purpose: stale subkeys corrupt the protocol session.
	readCacheTTL = 30 * time.Second

	// flushDelay is the per-key write quiescence window.
	flushDelay = 50 * time.Millisecond

	// maintenanceInterval and evictAge drive the periodic cache sweep.
	maintenanceInterval = 120 * time.Second
	evictAge            = 300 * time.Second

	// maxBatchFlights bounds concurrent backend writes per SetBatch call.
	maxBatchFlights = 20

	flushTimeout = 10 * time.Second
)

type cacheKey struct {
	sessionID string
	fileName  string
}

type cacheEntry struct {
	data    []byte
	deleted bool
	at      time.Time
}

// Manager owns the process-wide credential cache and flush machinery. Bound
// per-session views are obtained via Session.
type Manager struct {
	backend Backend
	box     *sealbox.Box
	logger  zerolog.Logger

	mu      sync.Mutex
	cache   map[cacheKey]*cacheEntry
	pending map[cacheKey]*time.Timer
	closed  bool
	wg      sync.WaitGroup

	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager builds a manager over backend, encrypting records with box.
// The maintenance sweep starts immediately.
func NewManager(backend Backend, box *sealbox.Box) *Manager {
	m := &Manager{
		backend: backend,
		box:     box,
		logger:  log.WithComponent("credstore"),
		cache:   make(map[cacheKey]*cacheEntry),
		pending: make(map[cacheKey]*time.Timer),
		stop:    make(chan struct{}),
	}
	go m.maintenanceLoop()
	return m
}

// Session returns the credential view bound to one session.
func (m *Manager) Session(sessionID string) *Store {
	return &Store{m: m, sessionID: sessionID}
}

// IsDurable reports whether writes currently reach the backing.
func (m *Manager) IsDurable() bool { return m.backend.Connected() }

func (m *Manager) get(ctx context.Context, key cacheKey) ([]byte, error) {
	m.mu.Lock()
	if e, ok := m.cache[key]; ok && time.Since(e.at) < readCacheTTL {
		m.mu.Unlock()
		if e.deleted {
			return nil, nil
		}
		return append([]byte(nil), e.data...), nil
	}
	m.mu.Unlock()

	sealed, err := m.backend.Get(ctx, key.sessionID, key.fileName)
	if err != nil {
		// Read errors mean "new session" to callers.
		m.logger.Warn().Err(err).
			Str(log.FieldSessionID, key.sessionID).
			Str(log.FieldFileName, key.fileName).
			Msg("credential read failed")
		return nil, nil
	}
	if sealed == "" {
		return nil, nil
	}
	data, err := m.box.Open(sealed)
	if err != nil {
		m.logger.Error().Err(err).
			Str(log.FieldSessionID, key.sessionID).
			Str(log.FieldFileName, key.fileName).
			Msg("credential record failed to decrypt")
		return nil, nil
	}

	m.mu.Lock()
	m.cache[key] = &cacheEntry{data: data, at: time.Now()}
	m.mu.Unlock()
	return append([]byte(nil), data...), nil
}

// put stores the value in the cache and schedules a debounced flush.
// A nil data marks deletion.
func (m *Manager) put(key cacheKey, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = &cacheEntry{
		data:    append([]byte(nil), data...),
		deleted: data == nil,
		at:      time.Now(),
	}
	if m.closed {
		// Late writers after Close flush inline from Close's final sweep;
		// schedule nothing.
		return
	}
	if t, ok := m.pending[key]; ok {
		t.Reset(flushDelay)
		return
	}
	m.wg.Add(1)
	m.pending[key] = time.AfterFunc(flushDelay, func() {
		defer m.wg.Done()
		m.mu.Lock()
		delete(m.pending, key)
		m.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		m.flush(ctx, key)
	})
}

// flush writes the cached value of key to the backing. The cache stays the
// truth on error.
func (m *Manager) flush(ctx context.Context, key cacheKey) {
	m.mu.Lock()
	e, ok := m.cache[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	deleted := e.deleted
	data := append([]byte(nil), e.data...)
	m.mu.Unlock()

	start := time.Now()
	var err error
	if deleted {
		err = m.backend.Delete(ctx, key.sessionID, key.fileName)
	} else {
		var sealed string
		sealed, err = m.box.Seal(data)
		if err == nil {
			err = m.backend.Set(ctx, key.sessionID, key.fileName, sealed)
		}
	}
	if err != nil {
		metrics.RecordStoreError("credential", "backend", "flush")
		m.logger.Warn().Err(err).
			Str(log.FieldSessionID, key.sessionID).
			Str(log.FieldFileName, key.fileName).
			Msg("credential flush failed, cache remains authoritative")
		return
	}
	metrics.ObserveFlush("credential", "backend", time.Since(start).Seconds())
}

// cancelPending stops a scheduled flush for key if one exists.
func (m *Manager) cancelPending(key cacheKey) {
	if t, ok := m.pending[key]; ok {
		delete(m.pending, key)
		if t.Stop() {
			m.wg.Done()
		}
	}
}

// flushNow cancels any scheduled flush for key and writes synchronously.
func (m *Manager) flushNow(ctx context.Context, key cacheKey) error {
	m.mu.Lock()
	m.cancelPending(key)
	e, ok := m.cache[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	deleted := e.deleted
	data := append([]byte(nil), e.data...)
	m.mu.Unlock()

	if deleted {
		return m.backend.Delete(ctx, key.sessionID, key.fileName)
	}
	sealed, err := m.box.Seal(data)
	if err != nil {
		return err
	}
	return m.backend.Set(ctx, key.sessionID, key.fileName, sealed)
}

// setBatch applies a category→id→value map for one session, flushing to the
// backing with bounded concurrency. nil values delete.
func (m *Manager) setBatch(ctx context.Context, sessionID string, data map[string]map[string][]byte) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchFlights)

	for category, entries := range data {
		for id, value := range entries {
			key := cacheKey{sessionID: sessionID, fileName: batchFileName(category, id)}

			m.mu.Lock()
			m.cache[key] = &cacheEntry{
				data:    append([]byte(nil), value...),
				deleted: value == nil,
				at:      time.Now(),
			}
			m.cancelPending(key)
			m.mu.Unlock()

			g.Go(func() error {
				m.flush(gctx, key)
				return nil
			})
		}
	}
	return g.Wait()
}

func batchFileName(category, id string) string {
	return category + "-" + id
}

// resetSubkeys removes every record of a session except the root identity.
// Remediation path for crypto-state divergence: the root is still valid,
// only the subkeys are suspect.
func (m *Manager) resetSubkeys(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	for key := range m.cache {
		if key.sessionID == sessionID && key.fileName != RootFileName {
			delete(m.cache, key)
			m.cancelPending(key)
		}
	}
	m.mu.Unlock()

	records, err := m.backend.List(ctx, sessionID)
	if err != nil {
		return err
	}
	for fileName := range records {
		if fileName == RootFileName {
			continue
		}
		if err := m.backend.Delete(ctx, sessionID, fileName); err != nil {
			return err
		}
	}
	return nil
}

// cleanupSession drops every cache entry and pending flush of a session and
// removes its records from the backing.
func (m *Manager) cleanupSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	for key := range m.cache {
		if key.sessionID == sessionID {
			delete(m.cache, key)
			m.cancelPending(key)
		}
	}
	m.mu.Unlock()
	return m.backend.DeleteSession(ctx, sessionID)
}

func (m *Manager) maintenanceLoop() {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			evicted := 0
			for key, e := range m.cache {
				if _, pending := m.pending[key]; pending {
					continue
				}
				if time.Since(e.at) > evictAge {
					delete(m.cache, key)
					evicted++
				}
			}
			m.mu.Unlock()
			if evicted > 0 {
				m.logger.Debug().Int("evicted", evicted).Msg("credential cache sweep")
			}
		}
	}
}

// Close flushes every pending write, stops the maintenance loop and closes
// the backing.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	m.closed = true
	keys := make([]cacheKey, 0, len(m.pending))
	for key := range m.pending {
		keys = append(keys, key)
	}
	for _, key := range keys {
		m.cancelPending(key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.flush(ctx, key)
	}
	m.wg.Wait()
	return m.backend.Close()
}

// Store is the credential view bound to one session. It satisfies the
// socket's credential surface.
type Store struct {
	m         *Manager
	sessionID string
}

// SessionID returns the bound session.
func (s *Store) SessionID() string { return s.sessionID }

// Get returns the record bytes, or nil when the record does not exist or the
// backing is unreadable.
func (s *Store) Get(ctx context.Context, fileName string) ([]byte, error) {
	return s.m.get(ctx, cacheKey{sessionID: s.sessionID, fileName: fileName})
}

// Set stores the record in the cache and schedules a debounced flush.
// It returns immediately; durability is eventual within the flush window.
func (s *Store) Set(ctx context.Context, fileName string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	s.m.put(cacheKey{sessionID: s.sessionID, fileName: fileName}, data)
	return nil
}

// Delete removes the record. Like Set, the backing delete is debounced.
func (s *Store) Delete(ctx context.Context, fileName string) error {
	s.m.put(cacheKey{sessionID: s.sessionID, fileName: fileName}, nil)
	return nil
}

// GetBatch retrieves records of one category by ID. Missing records are
// absent from the result.
func (s *Store) GetBatch(ctx context.Context, category string, ids []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(ids))
	for _, id := range ids {
		data, err := s.Get(ctx, batchFileName(category, id))
		if err != nil {
			return nil, err
		}
		if data != nil {
			out[id] = data
		}
	}
	return out, nil
}

// SetBatch applies a category→id→value map. nil values delete. Backend
// writes run with bounded concurrency and complete before SetBatch returns.
func (s *Store) SetBatch(ctx context.Context, data map[string]map[string][]byte) error {
	return s.m.setBatch(ctx, s.sessionID, data)
}

// SaveRoot persists the root identity record synchronously.
func (s *Store) SaveRoot(ctx context.Context) error {
	return s.m.flushNow(ctx, cacheKey{sessionID: s.sessionID, fileName: RootFileName})
}

// ResetSubkeys removes every record of this session except the root
// identity record.
func (s *Store) ResetSubkeys(ctx context.Context) error {
	return s.m.resetSubkeys(ctx, s.sessionID)
}

// CleanupSession removes every record of this session, cache and backing.
func (s *Store) CleanupSession(ctx context.Context) error {
	return s.m.cleanupSession(ctx, s.sessionID)
}

// IsDurable reports whether writes currently reach the backing. Controllers
// must not commit a connected transition while this is false.
func (s *Store) IsDurable() bool { return s.m.IsDurable() }
