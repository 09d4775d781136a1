// Package longevity adds a second idle deadline to a cache.Cache.
//
// The deadline starts when the caller marks an entry as finished, which may
// happen before the entry is released. An entry is passivated only after it
// has been released, the inner session timeout has elapsed, and the
// longevity timeout has elapsed since Finished.
package longevity

import (
	"fmt"
	"sync"
	"time"

	"github.com/amakane-hakari/nemuri/internal/cache"
)

// Cache は cache.Cache に終了後のタイムアウトを重ねるデコレータです。
// Create/Get/Peek/Release/Remove などは内側のキャッシュにそのまま委譲されます。
type Cache[T any] struct {
	*cache.Cache[T]
	policy *policy
}

// New は longevity タイムアウト付きのキャッシュを作成します。
// opts に WithEvictPolicy を渡しても longevity の判定で置き換えられます。
func New[T any](deps cache.Deps[T], timeout time.Duration, opts ...cache.Option) (*Cache[T], error) {
	if timeout < 0 {
		return nil, fmt.Errorf("longevity: negative timeout %s", timeout)
	}
	p := &policy{timeout: timeout, finished: make(map[string]time.Time)}
	opts = append(opts[:len(opts):len(opts)], cache.WithEvictPolicy(p))
	inner, err := cache.New(deps, opts...)
	if err != nil {
		return nil, err
	}
	return &Cache[T]{Cache: inner, policy: p}, nil
}

// Timeout は longevity タイムアウトを返します。
func (c *Cache[T]) Timeout() time.Duration { return c.policy.timeout }

// Finished はエントリの会話が論理的に終わったことを記録します。release とは独立に呼べます。
// 2 回目以降の呼び出しは時刻を更新します。退避・削除・Stop で記録は消えます。
// メモリ上にないエントリは記録されません。
func (c *Cache[T]) Finished(e *cache.Entry[T]) {
	id := e.ID()
	c.policy.mark(id, c.Clock().Now())
	// 記録してから確認する
	if !c.Resident(id) {
		c.policy.clear(id)
	}
}

// FinishedAt は id が Finished された時刻を返します。
func (c *Cache[T]) FinishedAt(id string) (time.Time, bool) {
	return c.policy.at(id)
}

type policy struct {
	timeout  time.Duration
	mu       sync.Mutex
	finished map[string]time.Time
}

func (p *policy) ShouldEvict(info cache.EntryInfo, now time.Time) bool {
	at, ok := p.at(info.ID)
	return ok && now.Sub(at) >= p.timeout
}

func (p *policy) Passivated(id string) { p.clear(id) }

func (p *policy) Removed(id string) { p.clear(id) }

func (p *policy) Stopped() {
	p.mu.Lock()
	clear(p.finished)
	p.mu.Unlock()
}

func (p *policy) mark(id string, at time.Time) {
	p.mu.Lock()
	p.finished[id] = at
	p.mu.Unlock()
}

func (p *policy) at(id string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.finished[id]
	return at, ok
}

func (p *policy) clear(id string) {
	p.mu.Lock()
	delete(p.finished, id)
	p.mu.Unlock()
}
