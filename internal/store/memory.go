package store

import (
	"context"
	"sync"
)

// Memory is an in-process backend for tests and dry runs. It can be told to fail
// so callers can exercise their persistence error paths.
type Memory struct {
	mu     sync.RWMutex
	doc    Document
	cursor int64

	FailLoad error
	FailSave error
	saves    int
}

func NewMemory(seed Document) *Memory {
	if seed == nil {
		seed = Document{}
	}
	return &Memory{doc: seed.Clone()}
}

func (m *Memory) LoadRegistry(ctx context.Context) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailLoad != nil {
		return nil, m.FailLoad
	}
	return m.doc.Clone(), nil
}

func (m *Memory) SaveRegistry(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	m.doc = doc.Clone()
	m.saves++
	return nil
}

func (m *Memory) LoadCursor(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursor, nil
}

func (m *Memory) SaveCursor(ctx context.Context, lastMessageID int64) error {
	m.mu.Lock()
	m.cursor = lastMessageID
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Saves reports how many registry saves succeeded.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Snapshot returns a copy of the last saved document.
func (m *Memory) Snapshot() Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Clone()
}
