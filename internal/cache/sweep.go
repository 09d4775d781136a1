package cache

import (
	"context"
	"time"
)

func (c *Cache[T]) sweepLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	t := time.NewTicker(c.cfg.sweepInterval())
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Sweep(ctx)
		case <-c.stopCh:
			return
		}
	}
}

// Sweep はアイドルタイムアウトを過ぎたエントリを退避し、退避した件数を返します。
// 通常はバックグラウンドから呼ばれますが、診断やテストのため直接呼ぶこともできます。
// 個々の失敗はログに記録され、該当エントリはメモリに残ります。
func (c *Cache[T]) Sweep(ctx context.Context) int {
	if c.cfg.SessionTimeout < 0 || c.stopped.Load() {
		return 0
	}
	now := c.now()
	groups := make(map[string]struct{})
	passivated := 0

	for _, id := range c.drainPending() {
		if e := c.lookup(id); e != nil && c.sweepEntry(ctx, e, now, groups, true) {
			passivated++
		}
	}
	for i := range c.shards {
		for _, e := range c.snapshot(i) {
			if ctx.Err() != nil {
				return passivated
			}
			if c.sweepEntry(ctx, e, now, groups, false) {
				passivated++
			}
		}
	}
	for gid := range groups {
		n, err := c.cfg.Groups.tryPassivate(ctx, gid, false)
		if err != nil {
			if c.cfg.Logger != nil {
				c.cfg.Logger.Error("cache.sweep.group_failed", "cache", c.cfg.Name, "group", gid, "err", err)
			}
			continue
		}
		passivated += n
	}

	if c.cfg.Logger != nil && passivated > 0 {
		c.cfg.Logger.Info("cache.sweep", "cache", c.cfg.Name, "passivated", passivated, "resident", c.Len())
	}
	return passivated
}

// sweepEntry は判定と退避を 1 つのエントリロックの中で行います。
// 同じロックの下で Get が inUse を増やすので、どちらか一方だけが勝ちます。
func (c *Cache[T]) sweepEntry(ctx context.Context, e *Entry[T], now time.Time, groups map[string]struct{}, requeued bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateResident {
		return false
	}
	if requeued {
		e.pending = false
	}
	if !c.expired(e, now) {
		return false
	}
	if e.inUse > 0 {
		if !e.pending {
			e.pending = true
			c.enqueuePending(e.id)
		}
		return false
	}
	if e.group != "" {
		groups[e.group] = struct{}{}
		return false
	}
	if !c.allows(e, now) {
		return false
	}
	if err := c.passivateLocked(ctx, e); err != nil {
		if c.cfg.Logger != nil {
			c.cfg.Logger.Error("cache.sweep.passivate_failed", "cache", c.cfg.Name, "id", e.id, "err", err)
		}
		return false
	}
	return true
}

func (c *Cache[T]) enqueuePending(id string) {
	c.pendingMu.Lock()
	c.pending.Add(id)
	c.pendingMu.Unlock()
}

func (c *Cache[T]) drainPending() []string {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	n := c.pending.Length()
	if n == 0 {
		return nil
	}
	ids := make([]string, 0, n)
	for c.pending.Length() > 0 {
		ids = append(ids, c.pending.Remove().(string))
	}
	return ids
}
