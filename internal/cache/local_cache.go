package cache

import (
	"sync"
	"time"
)

// LocalCache 进程内缓存。
//
// 用于缓存渠道健康快照等短命派生数据。
// 过期惰性处理：命中时检查并剔除过期条目，
// 不开后台清理协程（整个服务没有常驻后台任务）。
type LocalCache struct {
	data sync.Map
	ttl  time.Duration
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// NewLocalCache 创建缓存，ttl 为默认过期时间。
func NewLocalCache(ttl time.Duration) *LocalCache {
	return &LocalCache{ttl: ttl}
}

// Get 获取缓存值；条目过期时删除并返回未命中。
func (c *LocalCache) Get(key string) (interface{}, bool) {
	val, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}

	entry := val.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.data.Delete(key)
		return nil, false
	}
	return entry.value, true
}

// Set 写入缓存值，ttl<=0 时使用默认过期时间。
func (c *LocalCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.data.Store(key, &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
}

// Delete 删除缓存值。
func (c *LocalCache) Delete(key string) {
	c.data.Delete(key)
}

// Clear 清空所有缓存。
func (c *LocalCache) Clear() {
	c.data = sync.Map{}
}
