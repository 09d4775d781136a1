package pool

import (
	"context"
	"fmt"
	"sync"
)

// Lease は PerWorker から借りたインスタンスです。PerWorker.Release で返します。
type Lease[T any] struct {
	Value  T
	worker string
	owned  bool // ワーカーのスロットのインスタンスなら true
}

type slot[T any] struct {
	v      T
	leased bool
}

// PerWorker はワーカーごとに 1 つのインスタンスを持たせ、スロットが使えないときは Shared から借ります。
// スロットのインスタンスは Teardown されるまでワーカーが所有します。
type PerWorker[T any] struct {
	shared *Shared[T]

	mu    sync.Mutex
	slots map[string]*slot[T]
}

// NewPerWorker は shared を後ろ盾にした PerWorker を作成します。
func NewPerWorker[T any](shared *Shared[T]) *PerWorker[T] {
	return &PerWorker[T]{shared: shared, slots: make(map[string]*slot[T])}
}

// Get は worker のスロットのインスタンスを貸し出します。スロットが空なら Shared から取得して
// スロットに収め、貸し出し中なら Shared から一時的に借ります。
func (p *PerWorker[T]) Get(ctx context.Context, worker string) (Lease[T], error) {
	p.mu.Lock()
	s, ok := p.slots[worker]
	if ok && !s.leased {
		s.leased = true
		p.mu.Unlock()
		return Lease[T]{Value: s.v, worker: worker, owned: true}, nil
	}
	p.mu.Unlock()

	v, err := p.shared.Get(ctx)
	if err != nil {
		return Lease[T]{}, err
	}
	if ok {
		return Lease[T]{Value: v, worker: worker}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, raced := p.slots[worker]; raced {
		return Lease[T]{Value: v, worker: worker}, nil
	}
	p.slots[worker] = &slot[T]{v: v, leased: true}
	return Lease[T]{Value: v, worker: worker, owned: true}, nil
}

// Release は借りたインスタンスを返します。スロットのものはスロットに、それ以外は Shared に戻ります。
func (p *PerWorker[T]) Release(l Lease[T]) {
	if l.owned {
		p.mu.Lock()
		if s, ok := p.slots[l.worker]; ok && s.leased {
			s.leased = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
	p.shared.Release(l.Value)
}

// Teardown は worker のスロットを片付け、インスタンスを Shared に戻します。
// 貸し出し中の場合は ErrLeased を返します。
func (p *PerWorker[T]) Teardown(worker string) error {
	p.mu.Lock()
	s, ok := p.slots[worker]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	if s.leased {
		p.mu.Unlock()
		return fmt.Errorf("worker %s: %w", worker, ErrLeased)
	}
	delete(p.slots, worker)
	p.mu.Unlock()

	p.shared.Release(s.v)
	return nil
}

// Workers はスロットを持つワーカー数を返します。
func (p *PerWorker[T]) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
