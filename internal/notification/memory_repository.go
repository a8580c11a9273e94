package notification

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu    sync.RWMutex
	items map[string]Notification
}

// NewMemoryRepository builds an in-memory notification store.
func NewMemoryRepository() Repository {
	return &memoryRepository{items: make(map[string]Notification)}
}

func (r *memoryRepository) Create(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[n.ID] = n
	return nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string, opts ListOptions) ([]Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Notification, 0)
	for _, n := range r.items {
		if n.UserID != userID || (opts.UnreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) MarkRead(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	r.items[id] = n
	return nil
}

func (r *memoryRepository) MarkAllRead(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := 0
	for id, n := range r.items {
		if n.UserID == userID && !n.Read {
			n.Read = true
			r.items[id] = n
			changed++
		}
	}
	return changed, nil
}
