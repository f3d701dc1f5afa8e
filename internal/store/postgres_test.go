package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

func newMockStore(t *testing.T, opts ...PostgresOption) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgxmock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewPostgres(mock, opts...), mock
}

func TestPostgresTableName(t *testing.T) {
	p, _ := newMockStore(t)
	if p.tableName != defaultTableName {
		t.Errorf("tableName = %q, want %q", p.tableName, defaultTableName)
	}
	p, _ = newMockStore(t, WithTableName("piesta_chats"))
	if p.tableName != `"piesta_chats"` {
		t.Errorf("tableName = %q, want quoted identifier", p.tableName)
	}
}

func TestPostgresEnsureSchema(t *testing.T) {
	p, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS conversations").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	if err := p.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresPut(t *testing.T) {
	p, mock := newMockStore(t)
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	chat := Chat{ID: "chat-1", Preview: "p", CreatedAt: now, LastUpdated: now}
	data, _ := json.Marshal(chat)

	mock.ExpectExec("INSERT INTO conversations").
		WithArgs("chat-1", data, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := p.Put(context.Background(), chat); err != nil {
		t.Fatalf("Put() unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresGet(t *testing.T) {
	p, mock := newMockStore(t)
	data, _ := json.Marshal(Chat{ID: "chat-1", Preview: "a red fox", MessageCount: 2})

	mock.ExpectQuery("SELECT data FROM conversations WHERE id").
		WithArgs("chat-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	got, err := p.Get(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if got.Preview != "a red fox" || got.MessageCount != 2 {
		t.Errorf("Get() = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresGetErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{name: "no rows", err: pgx.ErrNoRows, notFound: true},
		{name: "connection", err: fmt.Errorf("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mock := newMockStore(t)
			mock.ExpectQuery("SELECT data FROM conversations WHERE id").
				WithArgs("chat-x").
				WillReturnError(tt.err)

			_, err := p.Get(context.Background(), "chat-x")
			if err == nil {
				t.Fatal("Get() expected error")
			}
			if errors.Is(err, ErrNotFound) != tt.notFound {
				t.Errorf("Get() error = %v, notFound = %v", err, tt.notFound)
			}
		})
	}
}

func TestPostgresList(t *testing.T) {
	p, mock := newMockStore(t)
	a, _ := json.Marshal(Chat{ID: "chat-b"})
	b, _ := json.Marshal(Chat{ID: "chat-a"})

	mock.ExpectQuery("SELECT data FROM conversations ORDER BY updated_at DESC").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(a).AddRow(b))

	got, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "chat-b" || got[1].ID != "chat-a" {
		t.Errorf("List() = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresListEmpty(t *testing.T) {
	p, mock := newMockStore(t)
	mock.ExpectQuery("SELECT data FROM conversations").
		WillReturnRows(pgxmock.NewRows([]string{"data"}))

	got, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("List() = %#v, want empty non-nil slice", got)
	}
}

func TestPostgresDeleteAndClear(t *testing.T) {
	p, mock := newMockStore(t, WithTableName("chats"))
	mock.ExpectExec(`DELETE FROM "chats" WHERE id`).
		WithArgs("chat-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM "chats"`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	ctx := context.Background()
	if err := p.Delete(ctx, "chat-1"); err != nil {
		t.Fatalf("Delete() unexpected error: %v", err)
	}
	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear() unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresCloseLeavesCallerExecutor(t *testing.T) {
	p, mock := newMockStore(t)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	mock.ExpectExec("DELETE FROM conversations").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	if err := p.Clear(context.Background()); err != nil {
		t.Errorf("executor unusable after Close(): %v", err)
	}
}
