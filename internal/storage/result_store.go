/**
 * Result Store - the last pipeline bundle of each session
 *
 * The pipeline page saves a bundle when a run finishes; the dashboard page
 * loads it independently. Saving always replaces the whole bundle, so slots
 * left empty by a failed stage never show values from an earlier run.
 */

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adverant/nexus/docintel/internal/processor"
)

// ErrNotFound is returned when a session has no stored bundle.
var ErrNotFound = errors.New("no results stored for session")

// ResultStore holds one pipeline bundle per session
type ResultStore interface {
	Save(ctx context.Context, sessionID string, result *processor.Result) error
	Load(ctx context.Context, sessionID string) (*processor.Result, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryStore keeps bundles in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store; ttl <= 0 keeps bundles forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Save replaces the session's bundle. The bundle is stored as an encoded
// copy so later changes by the caller are not visible to readers.
func (s *MemoryStore) Save(_ context.Context, sessionID string, result *processor.Result) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	entry := memoryEntry{data: data}
	if s.ttl > 0 {
		entry.expires = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = entry
	s.evictExpired()
	return nil
}

// Load returns the session's bundle or ErrNotFound.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (*processor.Result, error) {
	s.mu.RLock()
	entry, ok := s.entries[sessionID]
	s.mu.RUnlock()

	if !ok || (!entry.expires.IsZero() && s.now().After(entry.expires)) {
		return nil, ErrNotFound
	}

	var result processor.Result
	if err := json.Unmarshal(entry.data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return &result, nil
}

// Delete drops the session's bundle.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

// Len reports the number of stored bundles, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error { return nil }

// evictExpired must be called with the write lock held.
func (s *MemoryStore) evictExpired() {
	now := s.now()
	for id, e := range s.entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(s.entries, id)
		}
	}
}
