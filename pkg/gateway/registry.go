package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/observability"
)

// idleAfter marks a client idle in ClientInfo.
const idleAfter = 5 * time.Minute

// ClientRegistry tracks connected WebSocket clients and the conversations
// each one watches. A client that watches nothing hears about every
// conversation.
type ClientRegistry struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	watching map[string]map[string]struct{} // client ID -> conversation IDs
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients:  make(map[string]*Client),
		watching: make(map[string]map[string]struct{}),
	}
}

func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	n := len(r.clients)
	r.mu.Unlock()

	observability.SetWSClients(n)
}

// Remove forgets the client and its watches.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	delete(r.watching, clientID)
	n := len(r.clients)
	r.mu.Unlock()

	observability.SetWSClients(n)
}

func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[clientID]
	return client, ok
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// All returns every connected client.
func (r *ClientRegistry) All() []*Client {
	return r.collect(func(string) bool { return true })
}

// Watch narrows what clientID hears to the conversations it has watched.
// It reports false for an unknown client.
func (r *ClientRegistry) Watch(clientID, conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientID]; !ok {
		return false
	}
	set := r.watching[clientID]
	if set == nil {
		set = make(map[string]struct{})
		r.watching[clientID] = set
	}
	set[conversationID] = struct{}{}
	return true
}

// Unwatch drops one watch. With none left the client hears everything again.
func (r *ClientRegistry) Unwatch(clientID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.watching[clientID]
	delete(set, conversationID)
	if len(set) == 0 {
		delete(r.watching, clientID)
	}
}

// Audience returns the clients that should hear about conversationID.
func (r *ClientRegistry) Audience(conversationID string) []*Client {
	return r.collect(func(id string) bool {
		set, filtered := r.watching[id]
		if !filtered {
			return true
		}
		_, ok := set[conversationID]
		return ok
	})
}

func (r *ClientRegistry) collect(keep func(clientID string) bool) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for id, client := range r.clients {
		if keep(id) {
			out = append(out, client)
		}
	}
	return out
}

// Touch records activity from clientID.
func (r *ClientRegistry) Touch(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[clientID]; ok {
		client.LastActivity = time.Now()
	}
}

// Describe reports every client, oldest connection first.
func (r *ClientRegistry) Describe() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for id, client := range r.clients {
		var watching []string
		for conv := range r.watching[id] {
			watching = append(watching, conv)
		}
		sort.Strings(watching)

		infos = append(infos, ClientInfo{
			ID:           id,
			ConnectedAt:  client.ConnectedAt,
			LastActivity: client.LastActivity,
			IPAddress:    client.IPAddress,
			Idle:         now.Sub(client.LastActivity) > idleAfter,
			Watching:     watching,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
