package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Cecilia-Banda/multilingual-file-manager/internal/model"
)

// MemoryFileRepository is an in-memory FileRepository twin guarded by an
// RWMutex. It backs tests and the single-binary dev mode.
type MemoryFileRepository struct {
	mu    sync.RWMutex
	files map[string]*model.FileRecord
}

// NewMemoryFileRepository constructs an empty repository.
func NewMemoryFileRepository() *MemoryFileRepository {
	return &MemoryFileRepository{files: make(map[string]*model.FileRecord)}
}

// Create inserts a pending record.
func (m *MemoryFileRepository) Create(_ context.Context, rec *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	rec.Status = model.StatusPending
	rec.UploadedAt = now
	rec.UpdatedAt = now
	cp := *rec
	m.files[rec.ID] = &cp
	return nil
}

// GetByID returns a record copy by id.
func (m *MemoryFileRepository) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetByName returns the newest record owned by ownerID with the given name.
func (m *MemoryFileRepository) GetByName(_ context.Context, ownerID, name string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var newest *model.FileRecord
	for _, rec := range m.files {
		if rec.OwnerID != ownerID || rec.OriginalName != name {
			continue
		}
		if newest == nil || rec.UploadedAt.After(newest.UploadedAt) {
			newest = rec
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

// List returns all records owned by ownerID, newest first.
func (m *MemoryFileRepository) List(_ context.Context, ownerID string) ([]*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.FileRecord
	for _, rec := range m.files {
		if rec.OwnerID == ownerID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

// UpdateStatus applies the same forward-only guard as the SQL repository.
func (m *MemoryFileRepository) UpdateStatus(_ context.Context, id string, status model.FileStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[id]
	if !ok {
		return ErrNotFound
	}
	if !rec.Status.CanTransition(status) {
		return ErrStaleStatus
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Rename updates the name, storage key, and size.
func (m *MemoryFileRepository) Rename(_ context.Context, id, newName, newKey string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[id]
	if !ok {
		return ErrNotFound
	}
	rec.OriginalName = newName
	rec.StorageKey = newKey
	rec.SizeBytes = size
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes the record.
func (m *MemoryFileRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return ErrNotFound
	}
	delete(m.files, id)
	return nil
}

// Stuck returns records in one of the given statuses older than the cutoff.
func (m *MemoryFileRepository) Stuck(_ context.Context, statuses []model.FileStatus, cutoff time.Time) ([]*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.FileRecord
	for _, rec := range m.files {
		for _, s := range statuses {
			if rec.Status == s && rec.UpdatedAt.Before(cutoff) {
				cp := *rec
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// MemoryUserRepository is the in-memory twin of UserRepository.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*model.User // keyed by username
}

// NewMemoryUserRepository constructs an empty repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]*model.User)}
}

// Create inserts a new user.
func (m *MemoryUserRepository) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.CreatedAt = time.Now().UTC()
	cp := *u
	m.users[u.Username] = &cp
	return nil
}

// GetByUsername returns the user with the given username.
func (m *MemoryUserRepository) GetByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}
