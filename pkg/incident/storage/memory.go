package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nemonet1337/farmcore/pkg/incident"
)

// MemoryStorage is an in-memory incident Storage for tests and local runs.
// Each call locks on its own, so two transitions may interleave between
// their read and their write the way two database sessions would; the
// version check in UpdateIncident is what keeps them apart.
// テスト・ローカル実行用のインメモリストレージ
type MemoryStorage struct {
	mu        sync.RWMutex
	incidents map[int64]incident.Incident
	users     map[int64]incident.User
	nextID    int64
}

var _ incident.Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		incidents: make(map[int64]incident.Incident),
		users:     make(map[int64]incident.User),
	}
}

// PutUser registers a user
func (m *MemoryStorage) PutUser(u incident.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// PutIncident stores inc as-is, assigning an ID when it has none.
// This stands in for the external reporting flow and for other writers in tests.
// インシデントを登録（報告フローの代替）
func (m *MemoryStorage) PutIncident(inc incident.Incident) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inc.ID == 0 {
		m.nextID++
		inc.ID = m.nextID
	} else if inc.ID > m.nextID {
		m.nextID = inc.ID
	}
	if inc.Status == "" {
		inc.Status = incident.StatusOpen
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now()
	}
	m.incidents[inc.ID] = inc
	return inc.ID
}

// WithTx runs fn; the memory store has nothing to roll back because
// UpdateIncident is the only write and it is the last step of a transition.
func (m *MemoryStorage) WithTx(_ context.Context, fn func(tx incident.Tx) error) error {
	return fn(m)
}

func (m *MemoryStorage) GetIncident(_ context.Context, incidentID int64) (*incident.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.incidents[incidentID]
	if !ok {
		return nil, incident.ErrIncidentNotFound
	}
	return &inc, nil
}

func (m *MemoryStorage) GetUser(_ context.Context, userID int64) (*incident.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, incident.ErrUserNotFound
	}
	return &u, nil
}

// UpdateIncident compares and swaps on the version counter
// バージョンを比較して更新
func (m *MemoryStorage) UpdateIncident(_ context.Context, inc *incident.Incident, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.incidents[inc.ID]
	if !ok || stored.Version != expectedVersion {
		return incident.ErrOptimisticConflict
	}
	next := *inc
	next.Version = expectedVersion + 1
	m.incidents[inc.ID] = next
	return nil
}

// ListIncidents returns matching incidents, newest first
func (m *MemoryStorage) ListIncidents(_ context.Context, filter incident.Filter) ([]incident.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []incident.Incident{}
	for _, inc := range m.incidents {
		switch {
		case filter.Status != nil && inc.Status != *filter.Status:
			continue
		case filter.Severity != nil && inc.Severity != *filter.Severity:
			continue
		case filter.Type != "" && inc.IncidentType != filter.Type:
			continue
		}
		result = append(result, inc)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset >= len(result) {
		return []incident.Incident{}, nil
	}
	result = result[filter.Offset:]
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MemoryStorage) Ping(context.Context) error { return nil }

func (m *MemoryStorage) Close() error { return nil }
