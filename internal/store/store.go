// Package store persists chat history records behind a small key/value
// interface with memory, Redis and PostgreSQL backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"piesta-gateway/internal/config"
)

// ErrNotFound is returned when no chat exists for an id.
var ErrNotFound = errors.New("chat not found")

// Message types recorded in a chat.
const (
	MessageUser      = "user"
	MessageAssistant = "assistant"
)

// Message is one entry of a stored chat.
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model,omitempty"`
}

// Chat is a stored conversation.
type Chat struct {
	ID           string    `json:"id"`
	Preview      string    `json:"preview"`
	Models       []string  `json:"models"`
	Messages     []Message `json:"messages"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Store is implemented by every backend. Delete of an unknown id is not an
// error. List returns chats most recently updated first.
type Store interface {
	Get(ctx context.Context, id string) (Chat, error)
	Put(ctx context.Context, chat Chat) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Chat, error)
	Clear(ctx context.Context) error
	Close() error
}

// Open builds the backend selected by cfg. PostgreSQL tables are created when
// missing.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", config.StoreMemory:
		return NewMemory(), nil
	case config.StoreRedis:
		r := NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL, cfg.Redis.Prefix)
		if err := r.Ping(ctx); err != nil {
			return nil, errors.Join(err, r.Close())
		}
		return r, nil
	case config.StorePostgres:
		return OpenPostgres(ctx, cfg.Postgres.DSN, WithTableName(cfg.Postgres.Table))
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func sortByLastUpdated(chats []Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].LastUpdated.After(chats[j].LastUpdated)
	})
}

func cloneChat(c Chat) Chat {
	if c.Models != nil {
		c.Models = append([]string(nil), c.Models...)
	}
	if c.Messages != nil {
		c.Messages = append([]Message(nil), c.Messages...)
	}
	return c
}
