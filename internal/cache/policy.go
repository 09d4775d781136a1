package cache

import "time"

// EvictPolicy は sweep が退避してよいかを最終判定する戦略です。
// 使用中でなく、アイドルタイムアウトを過ぎたエントリに対してのみ呼ばれます。
// エントリのロックを保持した状態で呼ばれるため、キャッシュを操作してはいけません。
//
// Passivated(id string) を実装している場合、退避完了後に通知されます。
// Removed(id string) は削除後に、Stopped() は Stop でメモリ上のエントリを破棄した後に通知されます。
type EvictPolicy interface {
	ShouldEvict(info EntryInfo, now time.Time) bool
}

// EvictPolicyFunc は関数を EvictPolicy として扱うアダプタです。
type EvictPolicyFunc func(info EntryInfo, now time.Time) bool

func (f EvictPolicyFunc) ShouldEvict(info EntryInfo, now time.Time) bool { return f(info, now) }

func (c *Cache[T]) expired(e *Entry[T], now time.Time) bool {
	if c.cfg.SessionTimeout < 0 {
		return false
	}
	return now.Sub(e.lastUsed) >= c.cfg.SessionTimeout
}

func (c *Cache[T]) allows(e *Entry[T], now time.Time) bool {
	if c.cfg.Policy == nil {
		return true
	}
	return c.cfg.Policy.ShouldEvict(e.info(), now)
}

func (c *Cache[T]) notifyPassivated(id string) {
	if p, ok := c.cfg.Policy.(interface{ Passivated(id string) }); ok {
		p.Passivated(id)
	}
}

func (c *Cache[T]) notifyRemoved(id string) {
	if p, ok := c.cfg.Policy.(interface{ Removed(id string) }); ok {
		p.Removed(id)
	}
}

func (c *Cache[T]) notifyStopped() {
	if p, ok := c.cfg.Policy.(interface{ Stopped() }); ok {
		p.Stopped()
	}
}
