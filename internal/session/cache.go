package session

import (
	"net/url"
	"sort"
	"sync"
)

// Cache is the ephemeral per-connection store of active sessions, one slot
// per schema kind. Values are copied in and out so callers never share a
// map with the cache.
type Cache struct {
	mu    sync.Mutex
	slots map[string]Fields
}

func NewCache() *Cache {
	return &Cache{slots: make(map[string]Fields)}
}

// Save replaces every field of the kind's slot.
func (c *Cache) Save(kind string, fields Fields) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[kind] = fields.clone()
}

func (c *Cache) Load(kind string) (Fields, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fields, ok := c.slots[kind]
	if !ok {
		return nil, false
	}
	return fields.clone(), true
}

func (c *Cache) Clear(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, kind)
}

// Keys lists the occupied slots in sorted order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.slots))
	for k := range c.slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot copies the whole cache, for debug output.
func (c *Cache) Snapshot() map[string]Fields {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Fields, len(c.slots))
	for k, v := range c.slots {
		out[k] = v.clone()
	}
	return out
}

// Conn is the context of one browser connection: its cache and the query
// parameters of the page URL as the browser will see them after this
// rerender. Every Manager call takes the Conn explicitly.
type Conn struct {
	ID    string
	Cache *Cache
	Query url.Values
}

// NewConn returns a connection with an empty cache and a copy of query.
// Init and Switch reject a Conn without a cache; a nil Query is allocated
// on first token write.
func NewConn(id string, query url.Values) *Conn {
	return &Conn{ID: id, Cache: NewCache(), Query: cloneQuery(query)}
}

// SetQuery replaces the URL state, for example when the browser navigates.
func (c *Conn) SetQuery(query url.Values) {
	c.Query = cloneQuery(query)
}

func (c *Conn) query() url.Values {
	if c.Query == nil {
		c.Query = url.Values{}
	}
	return c.Query
}

func cloneQuery(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}
