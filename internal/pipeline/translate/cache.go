package translate

import (
	"container/list"
	"sync"
	"time"

	"github.com/go-redis/redis"
)

// Cache stores finished translations keyed by CacheKey. Misses are
// cheap; the cache only exists to dodge repeat backend calls when a
// merge re-finalizes identical text.
type Cache interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

const (
	redisKeyPrefix  = "auric:translation:"
	redisTTL        = 24 * time.Hour
	defaultMemLimit = 512
)

// redisCache shares translations across instances.
type redisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) Cache {
	return &redisCache{client: client}
}

func (c *redisCache) Get(key string) (string, bool) {
	val, err := c.client.Get(redisKeyPrefix + key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (c *redisCache) Set(key, value string) {
	c.client.Set(redisKeyPrefix+key, value, redisTTL)
}

// memoryCache is a small LRU for single-instance runs and tests.
type memoryCache struct {
	mu    sync.Mutex
	limit int
	order *list.List
	items map[string]*list.Element
}

type memEntry struct {
	key   string
	value string
}

func NewMemoryCache(limit int) Cache {
	if limit <= 0 {
		limit = defaultMemLimit
	}
	return &memoryCache{
		limit: limit,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *memoryCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(memEntry).value, true
}

func (c *memoryCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value = memEntry{key: key, value: value}
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(memEntry{key: key, value: value})
	if c.order.Len() > c.limit {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(memEntry).key)
	}
}
