package detect

import (
	"sync"

	"github.com/gowvp/thermalstream/internal/core/camera"
)

// MaxAge 检测结果在不刷新的情况下最多沿用的帧数
const MaxAge = 3

type cacheEntry struct {
	dets []Detection
	age  int
}

// Cache 按会话缓存最近一次检测结果，用于推理间隔帧上保持叠加框不闪烁
type Cache struct {
	mu      sync.Mutex
	entries map[camera.Handle]*cacheEntry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[camera.Handle]*cacheEntry)}
}

// Update 替换缓存结果并将帧龄归零
func (c *Cache) Update(h camera.Handle, dets []Detection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[h] = &cacheEntry{dets: dets, age: 0}
}

// Get 每次读取帧龄加一，超过 MaxAge 时清除并返回空
func (c *Cache) Get(h camera.Handle) []Detection {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[h]
	if !ok {
		return nil
	}
	e.age++
	if e.age > MaxAge {
		delete(c.entries, h)
		return nil
	}
	return e.dets
}

// Clear 删除会话的缓存
func (c *Cache) Clear(h camera.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, h)
}

// Len 当前缓存条目数
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
