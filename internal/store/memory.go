package store

import (
	"context"
	"sync"
	"time"

	"github.com/amrrdev/keygen/internal/types"
)

// Memory is an in-process ResultStore honoring document TTLs. It backs tests
// and single-process development runs.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]types.ResultDocument
	writes int
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]types.ResultDocument),
		now:  time.Now,
	}
}

// SetClock overrides the time source used for expiry checks.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Upsert(_ context.Context, doc *types.ResultDocument) error {
	if err := validateDocument(doc); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.RequestID] = *doc
	m.writes++
	return nil
}

func (m *Memory) Get(_ context.Context, requestID string) (*types.ResultDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[requestID]
	if !ok || !m.now().Before(doc.ExpiresAt()) {
		return nil, ErrNotFound
	}
	return &doc, nil
}

// Len counts stored documents, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Writes counts successful upserts.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *Memory) Close() error {
	return nil
}
