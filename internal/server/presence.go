// Package server tracks which users are online through the PresenceRegistry,
// the mapping from a username to its currently active connection.
package server

import (
	"sort"
	"sync"
)

// PresenceRegistry maps online usernames to their live client sessions.
// A later connect from the same username displaces the earlier mapping;
// every read-modify-write happens under one mutex so concurrent connects
// and disconnects for the same username cannot lose updates.
type PresenceRegistry struct {
	mu     sync.RWMutex
	online map[string]*Client
}

// NewPresenceRegistry creates an empty PresenceRegistry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{online: make(map[string]*Client)}
}

// SetOnline records client as the live session for username, unconditionally
// overwriting any prior mapping. It returns the displaced session, if any.
func (p *PresenceRegistry) SetOnline(username string, client *Client) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	displaced := p.online[username]
	p.online[username] = client
	if displaced == client {
		return nil
	}
	return displaced
}

// Get returns the live session for username, if one exists.
func (p *PresenceRegistry) Get(username string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	client, ok := p.online[username]
	return client, ok
}

// SetOffline removes the mapping for username, but only while it still
// points at client. A displaced session's late cleanup therefore cannot
// evict the session that replaced it.
func (p *PresenceRegistry) SetOffline(username string, client *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.online[username]
	if !ok || current != client {
		return false
	}
	delete(p.online, username)
	return true
}

// ListOnline returns the usernames currently online in ascending order.
func (p *PresenceRegistry) ListOnline() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	usernames := make([]string, 0, len(p.online))
	for username := range p.online {
		usernames = append(usernames, username)
	}
	sort.Strings(usernames)
	return usernames
}
