// Package cache implements the stateful-instance cache with passivation.
//
// A Cache keeps live instances in a sharded in-memory map and moves idle ones
// to an ObjectStore (passivation), bringing them back transparently on the
// next Get (activation). An entry that is in use is never passivated, removed
// or activated twice. Groups extends this so that related entries, possibly
// living in different caches, are passivated and activated as one unit.
//
// Lock order: group mutex, then entry mutex, then shard mutex.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/sourcegraph/conc"

	"github.com/amakane-hakari/nemuri/internal/objectstore"
)

// Cache はステートフルなインスタンスのキャッシュです。
type Cache[T any] struct {
	cfg         Config
	factory     Factory[T]
	store       ObjectStore[T]
	passivation PassivationManager[T]
	codec       objectstore.Codec[T]

	shards    []shard[T]
	shardMask uint32
	resident  atomic.Int64

	pendingMu sync.Mutex
	pending   *queue.Queue // 期限切れ時に使用中だった ID

	lifecycleMu sync.Mutex
	started     bool
	stopped     atomic.Bool
	stopCh      chan struct{}
	wg          conc.WaitGroup
}

// New は新しい Cache を作成します。sweep を動かすには Start を呼びます。
func New[T any](deps Deps[T], opts ...Option) (*Cache[T], error) {
	if deps.Factory == nil {
		return nil, errors.New("cache: factory is required")
	}
	if deps.Store == nil {
		return nil, errors.New("cache: object store is required")
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.Shards < 1 {
		cfg.Shards = 16
	}
	// 2 の冪に揃える
	cfg.Shards = nextPowerOfTwo(cfg.Shards)

	c := &Cache[T]{
		cfg:         cfg,
		factory:     deps.Factory,
		store:       deps.Store,
		passivation: deps.Passivation,
		shards:      make([]shard[T], cfg.Shards),
		shardMask:   uint32(cfg.Shards - 1),
		pending:     queue.New(),
	}
	if c.passivation == nil {
		c.passivation = NoopPassivation[T]{}
	}
	if cs, ok := deps.Store.(interface{ Codec() objectstore.Codec[T] }); ok {
		c.codec = cs.Codec()
	} else {
		c.codec = objectstore.NewGobCodec[T](nil)
	}
	for i := range c.shards {
		c.shards[i].m = make(map[string]*Entry[T])
	}
	if cfg.Groups != nil {
		if err := cfg.Groups.register(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Name はキャッシュ名を返します。
func (c *Cache[T]) Name() string { return c.cfg.Name }

// SessionTimeout はアイドルタイムアウトを返します。
func (c *Cache[T]) SessionTimeout() time.Duration { return c.cfg.SessionTimeout }

// Clock は時刻の取得元を返します。
func (c *Cache[T]) Clock() Clock { return c.cfg.Clock }

// Len はメモリ上のエントリ数を返します。
func (c *Cache[T]) Len() int { return int(c.resident.Load()) }

// Resident は id がメモリ上にあるかを返します。ストアは参照しません。
func (c *Cache[T]) Resident(id string) bool {
	e := c.lookup(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateResident
}

// Start はバックグラウンドの sweep を開始します。タイムアウトが負の場合は何もしません。
func (c *Cache[T]) Start() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started || c.stopped.Load() || c.cfg.SessionTimeout < 0 {
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.wg.Go(c.sweepLoop)
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info("cache.start", "cache", c.cfg.Name,
			"session_timeout", c.cfg.SessionTimeout.String(),
			"sweep_interval", c.cfg.sweepInterval().String())
	}
}

// Stop は sweep を止め、メモリ上のエントリを退避せずに破棄します。
// 退避済みのレコードはストアに残ります。2 回目以降の呼び出しは何もしません。
func (c *Cache[T]) Stop() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.stopped.Swap(true) {
		return
	}
	if c.started {
		close(c.stopCh)
		c.wg.Wait()
	}

	dropped := 0
	for i := range c.shards {
		for _, e := range c.snapshot(i) {
			e.mu.Lock()
			if e.state == stateResident && c.unlink(e) {
				e.state = stateGone
				dropped++
			}
			e.mu.Unlock()
		}
	}
	c.resident.Store(0)
	c.cfg.Metrics.SetResident(0)

	c.pendingMu.Lock()
	c.pending = queue.New()
	c.pendingMu.Unlock()
	c.notifyStopped()

	if c.cfg.Logger != nil {
		c.cfg.Logger.Info("cache.stop", "cache", c.cfg.Name, "dropped", dropped)
	}
}

// Stat は診断用にエントリの状態を返します。状態は変更しません。
func (c *Cache[T]) Stat(ctx context.Context, id string) (EntryStat, error) {
	if e := c.lookup(id); e != nil {
		e.mu.Lock()
		if e.state == stateResident {
			st := EntryStat{
				ID:                 id,
				Resident:           true,
				InUse:              e.inUse,
				LastUsed:           e.lastUsed,
				PassivationPending: e.pending,
				Group:              e.group,
			}
			e.mu.Unlock()
			return st, nil
		}
		e.mu.Unlock()
	}
	if c.cfg.Groups != nil {
		gid, ok, err := c.cfg.Groups.groupOf(ctx, c.cfg.Name, id)
		if err != nil {
			return EntryStat{}, err
		}
		if ok {
			return EntryStat{ID: id, Group: gid}, nil
		}
	}
	ok, err := c.store.Has(ctx, id)
	if err != nil {
		return EntryStat{}, err
	}
	if !ok {
		return EntryStat{}, ErrNotFound
	}
	return EntryStat{ID: id}, nil
}

func (c *Cache[T]) now() time.Time { return c.cfg.Clock.Now() }

func (c *Cache[T]) addResident(n int64) {
	c.cfg.Metrics.SetResident(int(c.resident.Add(n)))
}

func (c *Cache[T]) errorf(op, id string, err error) error {
	return fmt.Errorf("cache %s: %s %s: %w", c.cfg.Name, op, id, err)
}
