// Package pool provides bounded pools of stateless instances.
//
// Shared is a pool any goroutine may borrow from. PerWorker gives each named
// worker an owned slot backed by a Shared pool; slots are returned with an
// explicit Teardown instead of relying on the garbage collector.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed は Close 済みのプールからの取得を表します。
	ErrClosed = errors.New("pool: closed")
	// ErrLeased は貸し出し中のスロットを片付けようとしたことを表します。
	ErrLeased = errors.New("pool: slot is leased")
)

// Factory はプールするインスタンスの生成と破棄を担います。
type Factory[T any] interface {
	Create(ctx context.Context, args ...any) (T, error)
	Destroy(ctx context.Context, v T) error
}

// Shared は最大 MaxSize 個までインスタンスを生成して使い回すプールです。
type Shared[T any] struct {
	factory Factory[T]
	idle    chan T
	slots   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewShared は新しい Shared を作成します。
func NewShared[T any](factory Factory[T], maxSize int) (*Shared[T], error) {
	if factory == nil {
		return nil, errors.New("pool: factory is required")
	}
	if maxSize < 1 {
		return nil, fmt.Errorf("pool: max size must be positive, got %d", maxSize)
	}
	return &Shared[T]{
		factory: factory,
		idle:    make(chan T, maxSize),
		slots:   make(chan struct{}, maxSize),
	}, nil
}

// Get は空いているインスタンスを返します。無ければ上限まで生成し、上限に達していれば
// Release されるか ctx が終わるまで待ちます。
func (p *Shared[T]) Get(ctx context.Context) (T, error) {
	var zero T
	if p.isClosed() {
		return zero, ErrClosed
	}
	select {
	case v := <-p.idle:
		return v, nil
	default:
	}
	select {
	case v := <-p.idle:
		return v, nil
	case p.slots <- struct{}{}:
		v, err := p.factory.Create(ctx)
		if err != nil {
			<-p.slots
			return zero, fmt.Errorf("pool: create: %w", err)
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release はインスタンスをプールに戻します。Close 後は破棄されます。
func (p *Shared[T]) Release(v T) {
	p.mu.Lock()
	if !p.closed {
		p.idle <- v
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	_ = p.Discard(context.Background(), v)
}

// Discard はインスタンスを破棄し、その分の枠を空けます。
func (p *Shared[T]) Discard(ctx context.Context, v T) error {
	defer func() { <-p.slots }()
	return p.factory.Destroy(ctx, v)
}

// Live は生成済みで破棄されていないインスタンス数を返します。
func (p *Shared[T]) Live() int { return len(p.slots) }

// Idle は空いているインスタンス数を返します。
func (p *Shared[T]) Idle() int { return len(p.idle) }

// Close は以降の取得を止め、空いているインスタンスを破棄します。
// 貸し出し中のインスタンスは Release された時点で破棄されます。
func (p *Shared[T]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case v := <-p.idle:
			if err := p.Discard(ctx, v); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

func (p *Shared[T]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
