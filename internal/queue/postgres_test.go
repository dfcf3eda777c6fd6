package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/sqlinline"
)

type execCall struct {
	query string
	args  []any
}

type stubExecutor struct {
	execs []execCall
	tag   pgconn.CommandTag
	row   func(query string, args []any) pgx.Row
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, execCall{query: query, args: args})
	return s.tag, nil
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if s.row == nil {
		return stubRow{}
	}
	return s.row(query, args)
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

func TestPostgresClaimNextScansData(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	db := &stubExecutor{row: func(query string, args []any) pgx.Row {
		if query != sqlinline.QClaimQueueItem {
			t.Fatalf("unexpected query %q", query)
		}
		return stubRow{scan: func(dest ...any) error {
			if len(dest) != 14 {
				t.Fatalf("dest len = %d, want 14", len(dest))
			}
			*dest[0].(*string) = "8f0e2c1a-8d55-4c3e-9a61-0f5b7f1d2c3b"
			*dest[1].(*string) = "fox.jpg"
			*dest[2].(*string) = "uploading"
			*dest[3].(*string) = "image/jpeg"
			*dest[4].(*string) = ""
			*dest[5].(*string) = ""
			*dest[6].(*[]byte) = []byte("jpeg-bytes")
			*dest[7].(*[]byte) = []byte(`{"titleMax":20,"keywordMax":10}`)
			*dest[8].(*string) = "de"
			*dest[9].(*[]byte) = nil
			*dest[10].(*string) = ""
			*dest[11].(*int) = 1
			*dest[12].(*time.Time) = created
			*dest[13].(*time.Time) = created
			return nil
		}}
	}}
	item, err := NewPostgresStore(db).ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}
	if item.Status != domain.QueueStatusUploading || string(item.Data) != "jpeg-bytes" || item.Attempts != 1 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.Settings.TitleMax != 20 || item.Settings.KeywordMax != 10 || item.Locale != "de" {
		t.Fatalf("settings not decoded: %+v", item.Settings)
	}
	if item.Result != nil {
		t.Fatalf("expected nil result, got %+v", item.Result)
	}
}

func TestPostgresNoRowsIsNotFound(t *testing.T) {
	store := NewPostgresStore(&stubExecutor{})
	if _, err := store.ClaimNext(context.Background()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ClaimNext error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(context.Background(), "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestPostgresUpdate(t *testing.T) {
	db := &stubExecutor{tag: pgconn.NewCommandTag("UPDATE 1")}
	store := NewPostgresStore(db)
	item := &domain.QueueItem{
		ID:     "id-1",
		Status: domain.QueueStatusDone,
		Result: &domain.AnalysisResult{Title: "Red fox"},
	}
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	call := db.execs[0]
	if call.query != sqlinline.QUpdateQueueItem || len(call.args) != 7 {
		t.Fatalf("unexpected exec: %+v", call)
	}
	if status := call.args[1].(string); status != "done" {
		t.Fatalf("status arg = %q, want done", status)
	}
	if result, _ := call.args[4].(string); !strings.Contains(result, `"title":"Red fox"`) {
		t.Fatalf("result arg = %v", call.args[4])
	}
	if clear := call.args[6].(bool); !clear {
		t.Fatalf("expected data to be cleared")
	}

	db.tag = pgconn.NewCommandTag("UPDATE 0")
	if err := store.Update(context.Background(), item); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update on missing row error = %v, want ErrNotFound", err)
	}
}

func TestPostgresResetFailed(t *testing.T) {
	db := &stubExecutor{tag: pgconn.NewCommandTag("UPDATE 3")}
	n, err := NewPostgresStore(db).ResetFailed(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("ResetFailed = %d, %v; want 3", n, err)
	}
}
