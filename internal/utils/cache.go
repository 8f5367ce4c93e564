package utils

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/patrickmn/go-cache"
)

// TTLCache 带过期时间的键值缓存（推荐结果）
type TTLCache struct {
	storage *cache.Cache
}

// NewTTLCache 创建缓存，ttl 为默认过期时间，cleanup 为清理间隔
func NewTTLCache(ttl, cleanup time.Duration) *TTLCache {
	return &TTLCache{storage: cache.New(ttl, cleanup)}
}

// Get 获取缓存值
func (c *TTLCache) Get(key string) (interface{}, bool) {
	return c.storage.Get(key)
}

// Set 使用默认过期时间设置缓存值
func (c *TTLCache) Set(key string, value interface{}) {
	c.storage.SetDefault(key, value)
}

// Flush 清空所有缓存
func (c *TTLCache) Flush() {
	c.storage.Flush()
}

// ItemCount 当前条数
func (c *TTLCache) ItemCount() int {
	return c.storage.ItemCount()
}

// CacheItem 包装实际的数据，增加过期时间
type CacheItem[T any] struct {
	Value     T
	ExpiredAt time.Time
}

// LRUCache 定长 LRU 缓存，条目带 TTL
type LRUCache[T any] struct {
	storage *lru.Cache[string, CacheItem[T]]
	ttl     time.Duration
}

// NewLRUCache 初始化，size 是最大缓存条数，ttl 是数据有效期
func NewLRUCache[T any](size int, ttl time.Duration) *LRUCache[T] {
	if size <= 0 {
		size = 1
	}
	// lru.New 是线程安全的，size > 0 时不会返回错误
	c, _ := lru.New[string, CacheItem[T]](size)
	return &LRUCache[T]{
		storage: c,
		ttl:     ttl,
	}
}

// Set 写入（已存在则覆盖）
func (c *LRUCache[T]) Set(key string, value T) {
	c.storage.Add(key, CacheItem[T]{
		Value:     value,
		ExpiredAt: time.Now().Add(c.ttl),
	})
}

// Get 读取，过期条目视为不存在
func (c *LRUCache[T]) Get(key string) (T, bool) {
	var zero T
	item, ok := c.storage.Get(key)
	if !ok {
		return zero, false
	}

	if time.Now().After(item.ExpiredAt) {
		c.storage.Remove(key)
		return zero, false
	}

	return item.Value, true
}

// Len 当前长度
func (c *LRUCache[T]) Len() int {
	return c.storage.Len()
}
