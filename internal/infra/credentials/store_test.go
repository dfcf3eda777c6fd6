package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	token   string
	err     error
	queried []any
	exec    struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queried = args
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestToken(t *testing.T) {
	exec := &stubExecutor{token: " gsk_abc123 "}
	store := NewStore(exec)
	key, err := store.Token(context.Background(), ProviderGroq)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "gsk_abc123" {
		t.Fatalf("expected gsk_abc123, got %q", key)
	}
	if len(exec.queried) != 1 || exec.queried[0] != ProviderGroq {
		t.Fatalf("unexpected query args: %v", exec.queried)
	}
}

func TestToken_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.Token(context.Background(), ProviderGemini)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestResolvePrefersConfigured(t *testing.T) {
	exec := &stubExecutor{token: "stored"}
	key, err := NewStore(exec).Resolve(context.Background(), ProviderGemini, " env-key ")
	if err != nil || key != "env-key" {
		t.Fatalf("Resolve = %q, %v; want env-key", key, err)
	}
	if exec.queried != nil {
		t.Fatal("store should not be queried when a key is configured")
	}
	key, err = NewStore(exec).Resolve(context.Background(), ProviderGemini, "")
	if err != nil || key != "stored" {
		t.Fatalf("Resolve = %q, %v; want stored", key, err)
	}
	var nilStore *Store
	if key, err := nilStore.Resolve(context.Background(), ProviderGemini, ""); err != nil || key != "" {
		t.Fatalf("nil store Resolve = %q, %v", key, err)
	}
}

func TestSet(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.Set(context.Background(), " RemoveBG ", "secret", nil); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	args := exec.exec.args
	if len(args) != 4 {
		t.Fatalf("Exec got %d args, want 4", len(args))
	}
	if id, ok := args[0].(string); !ok || uuid.Validate(id) != nil {
		t.Fatalf("args[0] = %T %v, want a uuid string", args[0], args[0])
	}
	if v, ok := args[1].(string); !ok || v != ProviderRemoveBG {
		t.Fatalf("args[1] = %v, want %q", args[1], ProviderRemoveBG)
	}
	if v, ok := args[2].(string); !ok || v != "secret" {
		t.Fatalf("args[2] = %v, want %q", args[2], "secret")
	}
	if v, ok := args[3].([]byte); !ok || string(v) != "{}" {
		t.Fatalf("args[3] = %T %v, want {}", args[3], args[3])
	}
}

func TestSetRejectsInvalid(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.Set(context.Background(), ProviderGemini, " ", nil); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := store.Set(context.Background(), "openai", "sk-1", nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
