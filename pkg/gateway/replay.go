package gateway

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const (
	replayCacheSize = 1024
	replayTTL       = 5 * time.Minute
)

type replayEntry struct {
	resp    RPCResponse
	expires time.Time
}

// replayCache remembers responses by method and idempotency key so a client
// retrying a request gets the first answer back. The least recently used
// entry is dropped once the cache is full.
type replayCache struct {
	entries *lru.Cache
	ttl     time.Duration
	now     func() time.Time
}

func newReplayCache(size int, ttl time.Duration) *replayCache {
	entries, err := lru.New(size)
	if err != nil {
		// Only a non-positive size fails.
		panic(err)
	}
	return &replayCache{entries: entries, ttl: ttl, now: time.Now}
}

func replayKey(req *RPCRequest) string {
	if req.IdempotencyKey == "" {
		return ""
	}
	return req.Method + "\x00" + req.IdempotencyKey
}

func (c *replayCache) lookup(key, id string) (*RPCResponse, bool) {
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(replayEntry)
	if !c.now().Before(e.expires) {
		c.entries.Remove(key)
		return nil, false
	}
	resp := e.resp.copy()
	resp.ID = id
	return &resp, true
}

func (c *replayCache) store(key string, resp *RPCResponse) {
	c.entries.Add(key, replayEntry{resp: resp.copy(), expires: c.now().Add(c.ttl)})
}

func (c *replayCache) len() int {
	return c.entries.Len()
}

func (r RPCResponse) copy() RPCResponse {
	if r.Error != nil {
		e := *r.Error
		r.Error = &e
	}
	return r
}
