// Package mirror holds the local copy of the workspace: users, channels and
// the ids the remote graph assigned to them.
package mirror

import (
	"context"
	"slices"
	"sync"

	apperrors "graphmirror/backend/pkg/errors"
)

// User is a workspace member as last observed on the platform
type User struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Avatar   string   `json:"avatar,omitempty"`
	RemoteID string   `json:"remote_id,omitempty"`
	Channels []string `json:"channels,omitempty"` // joined channel ids, in join order
}

// HasChannel reports whether channelID is in the user's joined set
func (u User) HasChannel(channelID string) bool {
	return slices.Contains(u.Channels, channelID)
}

// Channel is a workspace channel as last observed on the platform
type Channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RemoteID string `json:"remote_id,omitempty"`
}

// Collection is a keyed, insertion-ordered record set
type Collection[T any] struct {
	name  string
	mu    sync.RWMutex
	items map[string]T
	order []string
	key   func(T) string
	merge func(prev, next T) T
	clone func(T) T
}

func newCollection[T any](name string, key func(T) string, merge func(prev, next T) T, clone func(T) T) *Collection[T] {
	return &Collection[T]{
		name:  name,
		items: make(map[string]T),
		key:   key,
		merge: merge,
		clone: clone,
	}
}

// Get returns the record with the given id or a storage not-found error
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, apperrors.NewContextCancelled("get "+c.name, err)
	}
	rec, ok := c.GetSync(id)
	if !ok {
		return zero, apperrors.NewStorageNotFound(c.name, id)
	}
	return rec, nil
}

// GetSync returns a copy of the record with the given id
func (c *Collection[T]) GetSync(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	return c.clone(rec), true
}

// Save upserts rec, merging it into any existing record with the same id
func (c *Collection[T]) Save(ctx context.Context, rec T) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewContextCancelled("save "+c.name, err)
	}
	id := c.key(rec)
	if id == "" {
		return apperrors.NewStorageMissingID(c.name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.items[id]
	if !ok {
		c.order = append(c.order, id)
		c.items[id] = c.clone(rec)
		return nil
	}
	c.items[id] = c.merge(prev, c.clone(rec))
	return nil
}

// AllSync returns copies of every record in insertion order
func (c *Collection[T]) AllSync() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.clone(c.items[id]))
	}
	return out
}

// Len returns the number of records
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Store is the local mirror of the workspace
type Store struct {
	Users    *Collection[User]
	Channels *Collection[Channel]
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		Users:    newCollection("users", func(u User) string { return u.ID }, mergeUser, cloneUser),
		Channels: newCollection("channels", func(c Channel) string { return c.ID }, mergeChannel, func(c Channel) Channel { return c }),
	}
}

// FindChannelByName returns the most recently added channel with the given name
func (s *Store) FindChannelByName(name string) (Channel, bool) {
	all := s.Channels.AllSync()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Name == name {
			return all[i], true
		}
	}
	return Channel{}, false
}

func cloneUser(u User) User {
	if u.Channels != nil {
		u.Channels = slices.Clone(u.Channels)
	}
	return u
}

// mergeUser overlays next on prev. Empty profile fields keep the stored value,
// the remote id is write-once and a nil joined set leaves membership untouched.
func mergeUser(prev, next User) User {
	out := prev
	if next.Name != "" {
		out.Name = next.Name
	}
	if next.Avatar != "" {
		out.Avatar = next.Avatar
	}
	if out.RemoteID == "" {
		out.RemoteID = next.RemoteID
	}
	if next.Channels != nil {
		out.Channels = next.Channels
	}
	return out
}

func mergeChannel(prev, next Channel) Channel {
	out := prev
	if next.Name != "" {
		out.Name = next.Name
	}
	if out.RemoteID == "" {
		out.RemoteID = next.RemoteID
	}
	return out
}
