package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/infra"
	"nexvmeta/internal/metrics"
)

// NewItem is one image submitted for batch analysis: inline bytes or a URL.
type NewItem struct {
	Filename string
	Data     []byte
	MIMEType string
	ImageURL string
}

// Notifier receives a full queue snapshot after every change.
type Notifier interface {
	Broadcast(items []domain.QueueItem)
}

// Service is the batch queue API shared by the HTTP handlers and the runner.
type Service struct {
	repo     domain.QueueRepository
	logger   *infra.Logger
	now      func() time.Time
	wake     chan struct{}
	mu       sync.RWMutex
	notifier Notifier
}

func NewService(repo domain.QueueRepository, logger *infra.Logger) *Service {
	if logger == nil {
		discard := infra.Logger(zerolog.New(io.Discard))
		logger = &discard
	}
	return &Service{repo: repo, logger: logger, now: time.Now, wake: make(chan struct{}, 1)}
}

// SetNotifier installs the snapshot receiver, typically the websocket hub.
func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// Wake returns a channel that receives after items become pending.
func (s *Service) Wake() <-chan struct{} { return s.wake }

// Enqueue stores new pending items with shared settings and locale.
func (s *Service) Enqueue(ctx context.Context, items []NewItem, settings domain.ConstraintSettings, locale string) ([]domain.QueueItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no images", domain.ErrInvalidImage)
	}
	now := s.now().UTC()
	records := make([]*domain.QueueItem, 0, len(items))
	out := make([]domain.QueueItem, 0, len(items))
	for i, in := range items {
		if len(in.Data) == 0 && strings.TrimSpace(in.ImageURL) == "" {
			return nil, fmt.Errorf("%w: item %d has no image data or url", domain.ErrInvalidImage, i)
		}
		filename := strings.TrimSpace(in.Filename)
		if filename == "" {
			filename = fmt.Sprintf("image-%d", i+1)
		}
		item := &domain.QueueItem{
			ID:        uuid.NewString(),
			Filename:  filename,
			Status:    domain.QueueStatusPending,
			MIMEType:  in.MIMEType,
			ImageURL:  strings.TrimSpace(in.ImageURL),
			Settings:  settings,
			Locale:    locale,
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
			Data:      in.Data,
		}
		records = append(records, item)
		view := *item
		view.Data = nil
		out = append(out, view)
	}
	if err := s.repo.Add(ctx, records...); err != nil {
		return nil, err
	}
	s.logger.Info().Int("items", len(records)).Msg("queue: enqueued")
	s.signal()
	s.Notify(ctx)
	return out, nil
}

func (s *Service) List(ctx context.Context) ([]domain.QueueItem, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.QueueItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Delete removes an item. Items being processed cannot be removed.
func (s *Service) Delete(ctx context.Context, id string) error {
	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.Status == domain.QueueStatusUploading || item.Status == domain.QueueStatusAnalyzing {
		return ErrItemBusy
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.Notify(ctx)
	return nil
}

// RetryFailed moves errored items back to pending.
func (s *Service) RetryFailed(ctx context.Context) (int, error) {
	n, err := s.repo.ResetFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int("items", n).Msg("queue: retrying failed items")
		s.signal()
		s.Notify(ctx)
	}
	return n, nil
}

// Notify pushes the current snapshot to the notifier and refreshes the gauges.
func (s *Service) Notify(ctx context.Context) {
	items, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("queue: snapshot failed")
		return
	}
	metrics.SetQueueCounts(CountByStatus(items))
	s.mu.RLock()
	n := s.notifier
	s.mu.RUnlock()
	if n != nil {
		n.Broadcast(items)
	}
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// CountByStatus tallies items per status.
func CountByStatus(items []domain.QueueItem) map[domain.QueueStatus]int {
	counts := make(map[domain.QueueStatus]int, 5)
	for _, item := range items {
		counts[item.Status]++
	}
	return counts
}

// ErrItemBusy is returned when deleting an item that is being processed.
var ErrItemBusy = errors.New("queue item is being processed")
