package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/infra"
	"nexvmeta/internal/sqlinline"
)

// PostgresStore persists the queue in the analysis_queue table. Claiming uses
// FOR UPDATE SKIP LOCKED so several runners can share one table.
type PostgresStore struct {
	db infra.SQLExecutor
}

func NewPostgresStore(db infra.SQLExecutor) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the queue and token tables when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, sqlinline.QCreateQueueSchema); err != nil {
		return fmt.Errorf("queue: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Add(ctx context.Context, items ...*domain.QueueItem) error {
	for _, item := range items {
		settings, err := json.Marshal(item.Settings)
		if err != nil {
			return fmt.Errorf("queue: encode settings: %w", err)
		}
		created := item.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := s.db.Exec(ctx, sqlinline.QInsertQueueItem,
			item.ID, item.Filename, string(item.Status), item.MIMEType, item.ImageURL,
			item.StorageKey, item.Data, string(settings), item.Locale, created,
		); err != nil {
			return fmt.Errorf("queue: insert %s: %w", item.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.QueueItem, error) {
	row := s.db.QueryRow(ctx, sqlinline.QSelectQueueItem, id)
	item, err := scanItem(row, false)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}

func (s *PostgresStore) List(ctx context.Context) ([]domain.QueueItem, error) {
	rows, err := s.db.Query(ctx, sqlinline.QListQueueItems)
	if err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	defer rows.Close()
	var out []domain.QueueItem
	for rows.Next() {
		item, err := scanItem(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ClaimNext(ctx context.Context) (*domain.QueueItem, error) {
	row := s.db.QueryRow(ctx, sqlinline.QClaimQueueItem)
	item, err := scanItem(row, true)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}

func (s *PostgresStore) Update(ctx context.Context, item *domain.QueueItem) error {
	var result any
	if item.Result != nil {
		raw, err := json.Marshal(item.Result)
		if err != nil {
			return fmt.Errorf("queue: encode result: %w", err)
		}
		result = string(raw)
	}
	tag, err := s.db.Exec(ctx, sqlinline.QUpdateQueueItem,
		item.ID, string(item.Status), item.ImageURL, item.StorageKey, result, item.Error, item.Data == nil,
	)
	if err != nil {
		return fmt.Errorf("queue: update %s: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, sqlinline.QDeleteQueueItem, id)
	if err != nil {
		return fmt.Errorf("queue: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ResetFailed(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, sqlinline.QResetFailedQueueItems)
	if err != nil {
		return 0, fmt.Errorf("queue: reset failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanItem(row pgx.Row, withData bool) (*domain.QueueItem, error) {
	var (
		item     domain.QueueItem
		status   string
		settings []byte
		result   []byte
	)
	dest := []any{&item.ID, &item.Filename, &status, &item.MIMEType, &item.ImageURL, &item.StorageKey}
	if withData {
		dest = append(dest, &item.Data)
	}
	dest = append(dest, &settings, &item.Locale, &result, &item.Error, &item.Attempts, &item.CreatedAt, &item.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	item.Status = domain.QueueStatus(status)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &item.Settings); err != nil {
			return nil, fmt.Errorf("queue: decode settings: %w", err)
		}
	}
	if len(result) > 0 {
		var r domain.AnalysisResult
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("queue: decode result: %w", err)
		}
		item.Result = &r
	}
	return &item, nil
}

var _ domain.QueueRepository = (*PostgresStore)(nil)
