package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"nexvmeta/internal/domain"
)

// MemoryStore keeps queue items in process memory. Items are lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*domain.QueueItem
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*domain.QueueItem), now: time.Now}
}

func (s *MemoryStore) Add(ctx context.Context, items ...*domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		cp := cloneItem(item)
		s.items[cp.ID] = cp
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneItem(item), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.QueueItem, 0, len(s.items))
	for _, item := range s.items {
		cp := cloneItem(item)
		cp.Data = nil
		out = append(out, *cp)
	}
	sortItems(out)
	return out, nil
}

func (s *MemoryStore) ClaimNext(ctx context.Context) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *domain.QueueItem
	for _, item := range s.items {
		if item.Status != domain.QueueStatusPending {
			continue
		}
		if next == nil || item.CreatedAt.Before(next.CreatedAt) || (item.CreatedAt.Equal(next.CreatedAt) && item.ID < next.ID) {
			next = item
		}
	}
	if next == nil {
		return nil, domain.ErrNotFound
	}
	next.Status = domain.QueueStatusUploading
	next.Attempts++
	next.UpdatedAt = s.now()
	return cloneItem(next), nil
}

func (s *MemoryStore) Update(ctx context.Context, item *domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[item.ID]
	if !ok {
		return domain.ErrNotFound
	}
	current.Status = item.Status
	current.ImageURL = item.ImageURL
	current.StorageKey = item.StorageKey
	current.Result = item.Result
	current.Error = item.Error
	if item.Data == nil {
		current.Data = nil
	}
	current.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) ResetFailed(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if item.Status == domain.QueueStatusError {
			item.Status = domain.QueueStatusPending
			item.Error = ""
			item.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func cloneItem(item *domain.QueueItem) *domain.QueueItem {
	cp := *item
	if item.Result != nil {
		r := *item.Result
		cp.Result = &r
	}
	return &cp
}

func sortItems(items []domain.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

var _ domain.QueueRepository = (*MemoryStore)(nil)
