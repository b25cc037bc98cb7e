package store

import (
	"context"
	"errors"
	"sync"
)

// MemoryShareRepo keeps shares for the life of the process.
type MemoryShareRepo struct {
	mu     sync.RWMutex
	shares map[string]Share
}

func NewMemoryShareRepo() *MemoryShareRepo {
	return &MemoryShareRepo{shares: make(map[string]Share)}
}

func (r *MemoryShareRepo) Insert(_ context.Context, s Share) error {
	if s.ID == "" {
		return errors.New("share id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shares[s.ID]; ok {
		return errors.New("share already exists")
	}
	r.shares[s.ID] = s
	return nil
}

func (r *MemoryShareRepo) Get(_ context.Context, id string) (Share, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shares[id]
	if !ok {
		return Share{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryShareRepo) IncrementViews(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shares[id]
	if !ok {
		return 0, ErrNotFound
	}
	s.Views++
	r.shares[id] = s
	return s.Views, nil
}
