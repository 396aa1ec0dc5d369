package bluez

import (
	"time"

	dbus "github.com/godbus/dbus/v5"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 512
	defaultCacheTTL  = 10 * time.Minute
)

// propCache remembers the last known Device1 properties per object path, so a
// PropertiesChanged signal carrying only RSSI still yields a complete record.
type propCache struct {
	lru *lru.LRU[dbus.ObjectPath, map[string]dbus.Variant]
}

func newPropCache(size int, ttl time.Duration) *propCache {
	if size <= 0 {
		size = defaultCacheSize
	}

	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &propCache{lru: lru.NewLRU[dbus.ObjectPath, map[string]dbus.Variant](size, nil, ttl)}
}

func (c *propCache) get(p dbus.ObjectPath) (map[string]dbus.Variant, bool) {
	return c.lru.Get(p)
}

// merge folds a change into the cached properties and returns the result.
// Stored maps are never mutated after insertion.
func (c *propCache) merge(p dbus.ObjectPath, changed map[string]dbus.Variant, invalidated []string) map[string]dbus.Variant {
	base, _ := c.lru.Get(p)
	merged := mergeProps(base, changed, invalidated)
	c.lru.Add(p, merged)

	return merged
}

func (c *propCache) forget(p dbus.ObjectPath) {
	c.lru.Remove(p)
}

func (c *propCache) len() int {
	return c.lru.Len()
}
