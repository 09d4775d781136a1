package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"

	"github.com/amakane-hakari/nemuri/internal/objectstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type widget struct {
	Name  string
	Count int
}

// hooks は Factory と PassivationManager を兼ね、呼び出し回数を数えます。
type hooks struct {
	created   atomic.Int32
	destroyed atomic.Int32
	pre       atomic.Int32
	post      atomic.Int32
	failPre   atomic.Bool
}

func (h *hooks) Create(_ context.Context, args ...any) (*widget, error) {
	h.created.Add(1)
	w := &widget{}
	if len(args) > 0 {
		w.Name = fmt.Sprint(args[0])
	}
	return w, nil
}

func (h *hooks) Destroy(context.Context, *widget) error {
	h.destroyed.Add(1)
	return nil
}

func (h *hooks) PrePassivate(context.Context, *widget) error {
	h.pre.Add(1)
	if h.failPre.Load() {
		return errors.New("pre-passivate refused")
	}
	return nil
}

func (h *hooks) PostActivate(context.Context, *widget) error {
	h.post.Add(1)
	return nil
}

func newMemBlobs(t testing.TB, dir string) *objectstore.FileBlobs {
	t.Helper()
	b, err := objectstore.NewFileBlobs(memfs.New(), dir)
	require.NoError(t, err)
	return b
}

func newWidgetCache(t testing.TB, blobs objectstore.Blobs, opts ...Option) (*Cache[*widget], *hooks) {
	t.Helper()
	h := &hooks{}
	if blobs == nil {
		blobs = newMemBlobs(t, "widgets")
	}
	c, err := New(Deps[*widget]{
		Factory:     h,
		Store:       objectstore.NewStore[*widget](blobs, nil),
		Passivation: h,
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c, h
}

// failingBlobs は Put だけを失敗させます。only が空でなければそのキーへの Put だけが失敗します。
type failingBlobs struct {
	objectstore.Blobs
	fail atomic.Bool
	only string
}

func (f *failingBlobs) Put(ctx context.Context, key string, data []byte) error {
	if f.fail.Load() && (f.only == "" || f.only == key) {
		return errors.New("disk full")
	}
	return f.Blobs.Put(ctx, key, data)
}
