package cache

import "sync"

type shard[T any] struct {
	mu sync.RWMutex
	m  map[string]*Entry[T]
}

func (c *Cache[T]) getShard(id string) *shard[T] {
	return &c.shards[hashKey(id)&c.shardMask]
}

func (c *Cache[T]) lookup(id string) *Entry[T] {
	sh := c.getShard(id)
	sh.mu.RLock()
	e := sh.m[id]
	sh.mu.RUnlock()
	return e
}

// unlink は e がまだ登録されていればマップから外します。
func (c *Cache[T]) unlink(e *Entry[T]) bool {
	sh := c.getShard(e.id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.m[e.id]; ok && cur == e {
		delete(sh.m, e.id)
		return true
	}
	return false
}

func (c *Cache[T]) snapshot(i int) []*Entry[T] {
	sh := &c.shards[i]
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	out := make([]*Entry[T], 0, len(sh.m))
	for _, e := range sh.m {
		out = append(out, e)
	}
	return out
}
