package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPreview   = "New chat"
	previewMaxLength = 100
)

// ErrInvalidMessage is returned for messages with an unknown type or no
// content.
var ErrInvalidMessage = errors.New("invalid chat message")

// History implements the chat history operations on top of a Store.
type History struct {
	store Store
	now   func() time.Time
}

// NewHistory wraps s.
func NewHistory(s Store) *History {
	return &History{store: s, now: time.Now}
}

// Create stores a new chat built from draft. Id and timestamps are assigned
// here; missing previews become "New chat".
func (h *History) Create(ctx context.Context, draft Chat) (Chat, error) {
	now := h.now().UTC()
	c := Chat{
		ID:          "chat-" + uuid.NewString(),
		Preview:     draft.Preview,
		Models:      draft.Models,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if strings.TrimSpace(c.Preview) == "" {
		c.Preview = defaultPreview
	}
	if c.Models == nil {
		c.Models = []string{}
	}
	msgs, err := h.normalizeMessages(draft.Messages, now)
	if err != nil {
		return Chat{}, err
	}
	c.Messages = msgs
	c.MessageCount = len(msgs)

	if err := h.store.Put(ctx, c); err != nil {
		return Chat{}, err
	}
	return c, nil
}

// Update overwrites the non-empty fields of the chat stored under id.
func (h *History) Update(ctx context.Context, id string, draft Chat) (Chat, error) {
	c, err := h.store.Get(ctx, id)
	if err != nil {
		return Chat{}, err
	}
	now := h.now().UTC()

	if strings.TrimSpace(draft.Preview) != "" {
		c.Preview = draft.Preview
	}
	if draft.Models != nil {
		c.Models = draft.Models
	}
	if draft.Messages != nil {
		msgs, err := h.normalizeMessages(draft.Messages, now)
		if err != nil {
			return Chat{}, err
		}
		c.Messages = msgs
	}
	c.MessageCount = len(c.Messages)
	c.LastUpdated = now

	if err := h.store.Put(ctx, c); err != nil {
		return Chat{}, err
	}
	return c, nil
}

// AddMessage appends msg to the chat stored under chatID, creating the chat
// when it does not exist yet.
func (h *History) AddMessage(ctx context.Context, chatID string, msg Message) (Chat, error) {
	if strings.TrimSpace(chatID) == "" {
		return Chat{}, fmt.Errorf("%w: chat id is required", ErrInvalidMessage)
	}
	now := h.now().UTC()
	if err := h.normalizeMessage(&msg, now); err != nil {
		return Chat{}, err
	}

	c, err := h.store.Get(ctx, chatID)
	switch {
	case errors.Is(err, ErrNotFound):
		c = Chat{ID: chatID, Models: []string{}, CreatedAt: now}
	case err != nil:
		return Chat{}, err
	}

	c.Messages = append(c.Messages, msg)
	c.MessageCount = len(c.Messages)
	c.LastUpdated = now
	if c.Preview == "" || c.Preview == defaultPreview {
		c.Preview = preview(msg.Content)
	}
	if msg.Model != "" && !slices.Contains(c.Models, msg.Model) {
		c.Models = append(c.Models, msg.Model)
	}

	if err := h.store.Put(ctx, c); err != nil {
		return Chat{}, err
	}
	return c, nil
}

// Get returns the chat stored under id.
func (h *History) Get(ctx context.Context, id string) (Chat, error) {
	return h.store.Get(ctx, id)
}

// List returns every chat, most recent first.
func (h *History) List(ctx context.Context) ([]Chat, error) {
	return h.store.List(ctx)
}

// Delete removes one chat.
func (h *History) Delete(ctx context.Context, id string) error {
	return h.store.Delete(ctx, id)
}

// Clear removes every chat.
func (h *History) Clear(ctx context.Context) error {
	return h.store.Clear(ctx)
}

func (h *History) normalizeMessages(msgs []Message, now time.Time) ([]Message, error) {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if err := h.normalizeMessage(&m, now); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (h *History) normalizeMessage(m *Message, now time.Time) error {
	if m.Type != MessageUser && m.Type != MessageAssistant {
		return fmt.Errorf("%w: type %q must be %q or %q", ErrInvalidMessage, m.Type, MessageUser, MessageAssistant)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidMessage)
	}
	if m.ID == "" {
		m.ID = "msg-" + uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	return nil
}

func preview(content string) string {
	r := []rune(strings.TrimSpace(content))
	if len(r) > previewMaxLength {
		r = r[:previewMaxLength]
	}
	return string(r)
}
