package chat

import (
	"context"
	"fmt"
	"sort"

	"go-chatroom/internal/store"
)

const (
	allowedUsersKey = "allowed_users"
	messagesKey     = "messages"
)

// Repository persists one room's state in the room's private store.
type Repository struct {
	st store.Store
}

func NewRepository(st store.Store) *Repository {
	return &Repository{st: st}
}

// LoadAllowed returns the allow-list, or nil when none was ever saved.
func (r *Repository) LoadAllowed(ctx context.Context) (map[string]struct{}, error) {
	var users []string
	found, err := r.st.Get(ctx, allowedUsersKey, &users)
	if err != nil {
		return nil, fmt.Errorf("load allowed users: %w", err)
	}
	if !found {
		return nil, nil
	}
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		set[u] = struct{}{}
	}
	return set, nil
}

func (r *Repository) SaveAllowed(ctx context.Context, set map[string]struct{}) error {
	if set == nil {
		return nil
	}
	if err := r.st.Put(ctx, allowedUsersKey, sortedKeys(set)); err != nil {
		return fmt.Errorf("save allowed users: %w", err)
	}
	return nil
}

func (r *Repository) LoadMessages(ctx context.Context) ([]Message, error) {
	var msgs []Message
	if _, err := r.st.Get(ctx, messagesKey, &msgs); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

func (r *Repository) SaveMessages(ctx context.Context, msgs []Message) error {
	if err := r.st.Put(ctx, messagesKey, msgs); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	return nil
}

// Reset removes everything the room ever stored.
func (r *Repository) Reset(ctx context.Context) error {
	if err := r.st.DeleteAll(ctx); err != nil {
		return fmt.Errorf("reset room: %w", err)
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
