package domain

import "context"

// QueueRepository persists batch queue items.
type QueueRepository interface {
	Add(ctx context.Context, items ...*QueueItem) error
	Get(ctx context.Context, id string) (*QueueItem, error)
	List(ctx context.Context) ([]QueueItem, error)
	// ClaimNext moves the oldest pending item to uploading and returns it.
	// It returns ErrNotFound when nothing is pending.
	ClaimNext(ctx context.Context) (*QueueItem, error)
	Update(ctx context.Context, item *QueueItem) error
	Delete(ctx context.Context, id string) error
	// ResetFailed moves every errored item back to pending and reports how many moved.
	ResetFailed(ctx context.Context) (int, error)
}
