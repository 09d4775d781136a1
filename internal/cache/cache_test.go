package cache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amakane-hakari/nemuri/internal/metrics"
)

func TestCache_PassivateThenActivate(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c, h := newWidgetCache(t, nil, WithClock(clk), WithSessionTimeout(time.Second))

	e, err := c.Create(ctx, "alpha")
	require.NoError(t, err)
	orig := e.Value()
	orig.Count = 3
	require.NoError(t, c.Release(ctx, e))

	clk.Advance(500 * time.Millisecond)
	assert.Equal(t, 0, c.Sweep(ctx))
	assert.Equal(t, int32(0), h.pre.Load())

	clk.Advance(time.Second)
	assert.Equal(t, 1, c.Sweep(ctx))
	assert.Equal(t, int32(1), h.pre.Load())
	assert.Equal(t, 0, c.Len())

	got, err := c.Get(ctx, e.ID())
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.post.Load())
	assert.NotSame(t, orig, got.Value())
	assert.Equal(t, &widget{Name: "alpha", Count: 3}, got.Value())
	assert.Equal(t, 1, c.Len())

	st, err := c.Stat(ctx, e.ID())
	require.NoError(t, err)
	assert.True(t, st.Resident)
	assert.Equal(t, 1, st.InUse)
}

func TestCache_PassivatesInBackground(t *testing.T) {
	ctx := context.Background()
	c, h := newWidgetCache(t, nil,
		WithSessionTimeout(50*time.Millisecond),
		WithSweepInterval(10*time.Millisecond))
	c.Start()

	e, err := c.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, e))

	require.Eventually(t, func() bool { return h.pre.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c.Len())

	_, err = c.Get(ctx, e.ID())
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.post.Load())
}

func TestCache_PeekLeavesStateAlone(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c, h := newWidgetCache(t, nil, WithClock(clk), WithSessionTimeout(time.Second))

	e, err := c.Create(ctx, "beta")
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, e))

	clk.Advance(900 * time.Millisecond)
	v, err := c.Peek(ctx, e.ID())
	require.NoError(t, err)
	assert.Same(t, e.Value(), v)

	st, err := c.Stat(ctx, e.ID())
	require.NoError(t, err)
	assert.Equal(t, 0, st.InUse)

	clk.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, c.Sweep(ctx))

	// 退避済みでも Peek は復元もフックも起こさない
	v, err = c.Peek(ctx, e.ID())
	require.NoError(t, err)
	assert.Equal(t, "beta", v.Name)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int32(0), h.post.Load())

	_, err = c.Peek(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_InUseIsNeverPassivated(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c, h := newWidgetCache(t, nil, WithClock(clk), WithSessionTimeout(time.Second))

	e, err := c.Create(ctx)
	require.NoError(t, err)

	clk.Advance(5 * time.Second)
	assert.Equal(t, 0, c.Sweep(ctx))
	assert.Equal(t, int32(0), h.pre.Load())

	st, err := c.Stat(ctx, e.ID())
	require.NoError(t, err)
	assert.True(t, st.PassivationPending)

	err = c.Passivate(ctx, e.ID())
	assert.ErrorIs(t, err, ErrContextInUse)

	require.NoError(t, c.Release(ctx, e))
	assert.Equal(t, 0, c.Sweep(ctx))

	clk.Advance(time.Second)
	assert.Equal(t, 1, c.Sweep(ctx))
	assert.Equal(t, int32(1), h.pre.Load())
}

func TestCache_ConcurrentGetActivatesOnce(t *testing.T) {
	ctx := context.Background()
	c, h := newWidgetCache(t, nil, WithSessionTimeout(time.Hour))

	e, err := c.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, e))
	require.NoError(t, c.Passivate(ctx, e.ID()))
	require.Equal(t, 0, c.Len())

	const n = 64
	var wg sync.WaitGroup
	var handles sync.Map
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := c.Get(ctx, e.ID())
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			handles.Store(i, got)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.post.Load())
	assert.Equal(t, 1, c.Len())

	var first *Entry[*widget]
	handles.Range(func(_, v any) bool {
		got := v.(*Entry[*widget])
		if first == nil {
			first = got
		}
		assert.Same(t, first, got)
		return true
	})
	st, err := c.Stat(ctx, e.ID())
	require.NoError(t, err)
	assert.Equal(t, n, st.InUse)
}

func TestCache_ConcurrentCreateRelease(t *testing.T) {
	ctx := context.Background()
	c, _ := newWidgetCache(t, nil, WithSessionTimeout(0))

	const n = 200
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := c.Create(ctx, "w"+strconv.Itoa(i))
			if err != nil {
				failures.Add(1)
				return
			}
			if err := c.Release(ctx, e); err != nil {
				failures.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(0), failures.Load())
	assert.Equal(t, 0, c.Len())
}

func TestCache_ReleaseErrors(t *testing.T) {
	ctx := context.Background()
	c, _ := newWidgetCache(t, nil, WithSessionTimeout(time.Hour))

	e, err := c.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, e))
	assert.ErrorIs(t, c.Release(ctx, e), ErrNotInUse)

	require.NoError(t, c.Passivate(ctx, e.ID()))
	assert.ErrorIs(t, c.Release(ctx, e), ErrNotFound)
}

func TestCache_Remove(t *testing.T) {
	ctx := context.Background()
	c, h := newWidgetCache(t, nil, WithSessionTimeout(time.Hour))

	e, err := c.Create(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Remove(ctx, e.ID()), ErrContextInUse)

	require.NoError(t, c.Release(ctx, e))
	require.NoError(t, c.Remove(ctx, e.ID()))
	assert.Equal(t, int32(1), h.destroyed.Load())
	_, err = c.Get(ctx, e.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	// 退避済みのエントリは破棄フックのために一度復元される
	e2, err := c.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, e2))
	require.NoError(t, c.Passivate(ctx, e2.ID()))
	require.NoError(t, c.Remove(ctx, e2.ID()))
	assert.Equal(t, int32(2), h.destroyed.Load())
	_, err = c.Stat(ctx, e2.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, c.Remove(ctx, "missing"), ErrNotFound)
}

func TestCache_FailedPassivationKeepsEntry(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	m := metrics.NewSimple()
	c, h := newWidgetCache(t, nil, WithClock(clk), WithSessionTimeout(time.Second), WithMetrics(m))

	e, err := c.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, e))

	h.failPre.Store(true)
	clk.Advance(2 * time.Second)
	assert.Equal(t, 0, c.Sweep(ctx))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, uint64(1), m.PassivationFailed.Load())

	got, err := c.Get(ctx, e.ID())
	require.NoError(t, err)
	assert.Same(t, e, got)
	assert.Equal(t, int32(0), h.post.Load())
}

func TestCache_StoreFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	fb := &failingBlobs{Blobs: newMemBlobs(t, "widgets")}
	fb.fail.Store(true)
	c, h := newWidgetCache(t, fb, WithSessionTimeout(time.Hour))

	e, err := c.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, e))

	require.Error(t, c.Passivate(ctx, e.ID()))
	assert.Equal(t, int32(1), h.pre.Load())
	assert.Equal(t, int32(1), h.post.Load())
	assert.Equal(t, 1, c.Len())

	fb.fail.Store(false)
	require.NoError(t, c.Passivate(ctx, e.ID()))
	assert.Equal(t, 0, c.Len())
}

func TestCache_ZeroTimeoutPassivatesOnRelease(t *testing.T) {
	ctx := context.Background()
	c, h := newWidgetCache(t, nil, WithSessionTimeout(0))

	e, err := c.Create(ctx)
	require.NoError(t, err)
	got, err := c.Get(ctx, e.ID())
	require.NoError(t, err)

	require.NoError(t, c.Release(ctx, got))
	assert.Equal(t, 1, c.Len())
	require.NoError(t, c.Release(ctx, e))
	assert.Equal(t, int32(1), h.pre.Load())
	assert.Equal(t, 0, c.Len())
}

func TestCache_NegativeTimeoutNeverPassivates(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c, h := newWidgetCache(t, nil, WithClock(clk), WithSessionTimeout(-1))

	e, err := c.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, e))

	clk.Advance(24 * time.Hour)
	assert.Equal(t, 0, c.Sweep(ctx))
	assert.Equal(t, int32(0), h.pre.Load())
	assert.Equal(t, 1, c.Len())
}

type recordingPolicy struct {
	allow      atomic.Bool
	mu         sync.Mutex
	passivated []string
	removed    []string
}

func (p *recordingPolicy) ShouldEvict(EntryInfo, time.Time) bool { return p.allow.Load() }

func (p *recordingPolicy) Passivated(id string) {
	p.mu.Lock()
	p.passivated = append(p.passivated, id)
	p.mu.Unlock()
}

func (p *recordingPolicy) Removed(id string) {
	p.mu.Lock()
	p.removed = append(p.removed, id)
	p.mu.Unlock()
}

func TestCache_EvictPolicyVetoesSweep(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	p := &recordingPolicy{}
	c, _ := newWidgetCache(t, nil, WithClock(clk), WithSessionTimeout(time.Second), WithEvictPolicy(p))

	a, err := c.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, a))
	b, err := c.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, b))

	clk.Advance(2 * time.Second)
	assert.Equal(t, 0, c.Sweep(ctx))

	p.allow.Store(true)
	assert.Equal(t, 2, c.Sweep(ctx))
	assert.ElementsMatch(t, []string{a.ID(), b.ID()}, p.passivated)

	require.NoError(t, c.Remove(ctx, a.ID()))
	assert.Equal(t, []string{a.ID()}, p.removed)
}

func TestCache_Stop(t *testing.T) {
	ctx := context.Background()
	c, h := newWidgetCache(t, nil, WithSessionTimeout(20*time.Millisecond), WithSweepInterval(5*time.Millisecond))
	c.Start()

	e, err := c.Create(ctx)
	require.NoError(t, err)
	c.Stop()
	c.Stop()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int32(0), h.pre.Load())
	_, err = c.Get(ctx, e.ID())
	assert.ErrorIs(t, err, ErrStopped)
	_, err = c.Create(ctx)
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, c.Remove(ctx, e.ID()), ErrStopped)
	assert.Equal(t, 0, c.Sweep(ctx))
}

func TestCache_Metrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewSimple()
	c, _ := newWidgetCache(t, nil, WithSessionTimeout(time.Hour), WithMetrics(m))

	e, err := c.Create(ctx)
	require.NoError(t, err)
	_, err = c.Get(ctx, e.ID())
	require.NoError(t, err)
	_, err = c.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, c.Release(ctx, e))
	require.NoError(t, c.Release(ctx, e))
	require.NoError(t, c.Passivate(ctx, e.ID()))
	got, err := c.Get(ctx, e.ID())
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, got))

	assert.Equal(t, uint64(1), m.Created.Load())
	assert.Equal(t, uint64(1), m.GetHit.Load())
	assert.Equal(t, uint64(1), m.GetMiss.Load())
	assert.Equal(t, uint64(1), m.Passivated.Load())
	assert.Equal(t, uint64(1), m.Activated.Load())
	assert.Equal(t, uint64(1), m.Resident.Load())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps[*widget]{})
	assert.Error(t, err)
	_, err = New(Deps[*widget]{Factory: &hooks{}})
	assert.Error(t, err)
}

func TestConfig_SweepIntervalClamp(t *testing.T) {
	cfg := defaultConfig()
	cfg.SessionTimeout = 100 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, cfg.sweepInterval())

	cfg.SessionTimeout = time.Minute
	assert.Equal(t, DefaultSweepInterval, cfg.sweepInterval())

	cfg.SweepInterval = 0
	assert.Equal(t, DefaultSweepInterval, cfg.sweepInterval())
}

func BenchmarkCache_GetRelease(b *testing.B) {
	ctx := context.Background()
	c, _ := newWidgetCache(b, nil, WithSessionTimeout(time.Hour))
	ids := make([]string, 1024)
	for i := range ids {
		e, err := c.Create(ctx)
		require.NoError(b, err)
		require.NoError(b, c.Release(ctx, e))
		ids[i] = e.ID()
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			e, err := c.Get(ctx, ids[i&1023])
			if err != nil {
				b.Fatal(err)
			}
			_ = c.Release(ctx, e)
			i++
		}
	})
}
