package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sourcegraph/conc"

	"github.com/amakane-hakari/nemuri/internal/pool"
)

var (
	// ErrCheckoutClosed は停止済みの Checkout への依頼を表します。
	ErrCheckoutClosed = errors.New("session: checkout closed")
	// ErrNoPricer は Pricer を借りられなかったことを表します。
	ErrNoPricer = errors.New("session: no pricer available")
)

// Pricer は状態を持たない会計処理で、プールから借りて使います。
type Pricer struct {
	id      int64
	taxBP   int64 // ベーシスポイント (1% = 100)
	handled int
}

// Price は明細を集計します。
func (p *Pricer) Price(items []Item) Receipt {
	var sub int64
	for _, it := range items {
		sub += int64(it.Qty) * it.PriceCents
	}
	tax := sub * p.taxBP / 10000
	p.handled++
	return Receipt{
		Lines:         len(items),
		SubtotalCents: sub,
		TaxCents:      tax,
		TotalCents:    sub + tax,
		PricedBy:      fmt.Sprintf("pricer-%d", p.id),
	}
}

// PricerFactory は Pricer を生成する pool.Factory です。
type PricerFactory struct {
	TaxBasisPoints int64
	seq            atomic.Int64
}

func (f *PricerFactory) Create(context.Context, ...any) (*Pricer, error) {
	return &Pricer{id: f.seq.Add(1), taxBP: f.TaxBasisPoints}, nil
}

func (f *PricerFactory) Destroy(context.Context, *Pricer) error { return nil }

type job struct {
	ctx   context.Context
	items []Item
	reply chan Receipt
}

// Checkout は固定数のワーカーで会計を行います。各ワーカーは自分の Pricer を所有し、
// 使えないときは共有プールから借ります。
type Checkout struct {
	pricers *pool.PerWorker[*Pricer]
	shared  *pool.Shared[*Pricer]
	jobs    chan job
	workers int
	closed  atomic.Bool
	wg      conc.WaitGroup
	logger  logLike
}

// NewCheckout は workers 個のワーカーを起動します。
func NewCheckout(shared *pool.Shared[*Pricer], workers int, logger logLike) *Checkout {
	if workers < 1 {
		workers = 1
	}
	c := &Checkout{
		pricers: pool.NewPerWorker(shared),
		shared:  shared,
		jobs:    make(chan job),
		workers: workers,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("checkout-%d", i)
		c.wg.Go(func() { c.work(name) })
	}
	return c
}

func (c *Checkout) work(name string) {
	for j := range c.jobs {
		l, err := c.pricers.Get(j.ctx, name)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("checkout.pricer_unavailable", "worker", name, "err", err)
			}
			close(j.reply)
			continue
		}
		j.reply <- l.Value.Price(j.items)
		c.pricers.Release(l)
	}
	if err := c.pricers.Teardown(name); err != nil && c.logger != nil {
		c.logger.Error("checkout.teardown", "worker", name, "err", err)
	}
}

// Price は明細の会計をワーカーに依頼し、結果を待ちます。
func (c *Checkout) Price(ctx context.Context, items []Item) (Receipt, error) {
	if c.closed.Load() {
		return Receipt{}, ErrCheckoutClosed
	}
	j := job{ctx: ctx, items: items, reply: make(chan Receipt, 1)}
	select {
	case c.jobs <- j:
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	}
	select {
	case r, ok := <-j.reply:
		if !ok {
			return Receipt{}, ErrNoPricer
		}
		return r, nil
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	}
}

// Close はワーカーを止め、各ワーカーの Pricer を共有プールに返してからプールを閉じます。
// 実行中の Price と並行に呼んではいけません。
func (c *Checkout) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.jobs)
	c.wg.Wait()
	return c.shared.Close(ctx)
}
