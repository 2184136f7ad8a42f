package mirror

import "sync"

// EdgeKey identifies an edge by type and remote endpoint ids
type EdgeKey struct {
	Type string
	From string
	To   string
}

// RemoteIDCache maps remote graph ids back to local knowledge: edge ids by
// endpoint pair (needed to delete an edge) and node ids to platform ids
// (needed to absorb a downloaded graph).
type RemoteIDCache struct {
	mu       sync.RWMutex
	edges    map[EdgeKey]string
	users    map[string]string
	channels map[string]string
}

// NewRemoteIDCache creates an empty cache
func NewRemoteIDCache() *RemoteIDCache {
	return &RemoteIDCache{
		edges:    make(map[EdgeKey]string),
		users:    make(map[string]string),
		channels: make(map[string]string),
	}
}

// PutEdge records the remote id of an acknowledged edge
func (c *RemoteIDCache) PutEdge(key EdgeKey, edgeID string) {
	if key.From == "" || key.To == "" || edgeID == "" {
		return
	}
	c.mu.Lock()
	c.edges[key] = edgeID
	c.mu.Unlock()
}

// EdgeID returns the remote id for key
func (c *RemoteIDCache) EdgeID(key EdgeKey) (string, bool) {
	if key.From == "" || key.To == "" {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.edges[key]
	return id, ok
}

// DeleteEdge forgets key
func (c *RemoteIDCache) DeleteEdge(key EdgeKey) {
	c.mu.Lock()
	delete(c.edges, key)
	c.mu.Unlock()
}

// EdgeCount returns the number of cached edges
func (c *RemoteIDCache) EdgeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.edges)
}

// PutUser maps a remote node id to a platform user id
func (c *RemoteIDCache) PutUser(remoteID, userID string) {
	c.mu.Lock()
	c.users[remoteID] = userID
	c.mu.Unlock()
}

// UserFor returns the platform user id of a remote node
func (c *RemoteIDCache) UserFor(remoteID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.users[remoteID]
	return id, ok
}

// PutChannel maps a remote node id to a platform channel id
func (c *RemoteIDCache) PutChannel(remoteID, channelID string) {
	c.mu.Lock()
	c.channels[remoteID] = channelID
	c.mu.Unlock()
}

// ChannelFor returns the platform channel id of a remote node
func (c *RemoteIDCache) ChannelFor(remoteID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.channels[remoteID]
	return id, ok
}
