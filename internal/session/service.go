package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/amakane-hakari/nemuri/internal/cache"
)

// ErrFinished は会計済みのセッションを変更しようとしたことを表します。
var ErrFinished = errors.New("session: already finished")

// Inspector は診断 API から見たキャッシュです。
type Inspector interface {
	Name() string
	Len() int
	Stat(ctx context.Context, id string) (cache.EntryStat, error)
	Sweep(ctx context.Context) int
}

// Config は Service の構成要素です。
type Config struct {
	Sessions *cache.Cache[*Session]
	Carts    *cache.Cache[*Cart]
	Groups   *cache.Groups
	Checkout *Checkout
	// Finished は会計時に呼ばれます。longevity.Cache.Finished を渡します。
	Finished func(*cache.Entry[*Session])
	Logger   logLike
}

// Service はセッションとカートを組にして扱うアプリケーション層です。
type Service struct {
	cfg   Config
	locks [64]sync.Mutex
}

// NewService は新しい Service を作成します。
func NewService(cfg Config) (*Service, error) {
	if cfg.Sessions == nil || cfg.Carts == nil || cfg.Groups == nil || cfg.Checkout == nil {
		return nil, errors.New("session: sessions, carts, groups and checkout are required")
	}
	return &Service{cfg: cfg}, nil
}

// Caches は診断対象のキャッシュを返します。
func (s *Service) Caches() []Inspector {
	return []Inspector{s.cfg.Sessions, s.cfg.Carts}
}

// Start は各キャッシュの sweep を開始します。
func (s *Service) Start() {
	s.cfg.Sessions.Start()
	s.cfg.Carts.Start()
}

// Stop はキャッシュと Checkout を停止します。
func (s *Service) Stop(ctx context.Context) error {
	s.cfg.Sessions.Stop()
	s.cfg.Carts.Stop()
	return s.cfg.Checkout.Close(ctx)
}

// Open は顧客の新しいセッションとカートを作り、1 つのグループにまとめます。
func (s *Service) Open(ctx context.Context, customer string) (View, error) {
	cust := &Customer{Name: customer, Visits: 1}
	gid := s.cfg.Groups.CreateGroup()
	defer func() {
		if err := s.cfg.Groups.ReleaseGroup(gid); err != nil && s.cfg.Logger != nil {
			s.cfg.Logger.Warn("session.open.release_group", "group", gid, "err", err)
		}
	}()

	ce, err := s.cfg.Carts.Create(ctx, cust)
	if err != nil {
		return View{}, err
	}
	se, err := s.cfg.Sessions.Create(ctx, cust, ce.ID(), gid, time.Now())
	if err != nil {
		s.discard(ctx, ce, nil)
		return View{}, err
	}
	ce.Value().SessionID = se.ID()

	if err := s.cfg.Carts.AssignToGroup(ctx, ce, gid); err != nil {
		s.discard(ctx, ce, se)
		return View{}, err
	}
	if err := s.cfg.Sessions.AssignToGroup(ctx, se, gid); err != nil {
		s.discard(ctx, ce, se)
		return View{}, err
	}

	v := newView(se.ID(), se.Value(), ce.Value())
	s.release(ctx, se, ce)
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info("session.open", "id", se.ID(), "cart", ce.ID(), "group", gid)
	}
	return v, nil
}

// AddItem はカートに明細を追加します。
func (s *Service) AddItem(ctx context.Context, id string, it Item) (View, error) {
	if it.Qty <= 0 || it.SKU == "" {
		return View{}, fmt.Errorf("session: invalid item %+v", it)
	}
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	se, ce, err := s.acquire(ctx, id)
	if err != nil {
		return View{}, err
	}
	defer s.release(ctx, se, ce)

	if se.Value().Finished() {
		return View{}, ErrFinished
	}
	c := ce.Value()
	c.Items = append(c.Items, it)
	if cust := c.Customer(); cust != nil {
		cust.Visits++
	}
	return newView(id, se.Value(), c), nil
}

// Finish はカートを会計し、セッションを終了済みにします。2 回目以降は同じ結果を返します。
func (s *Service) Finish(ctx context.Context, id string) (View, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	se, ce, err := s.acquire(ctx, id)
	if err != nil {
		return View{}, err
	}
	defer s.release(ctx, se, ce)

	sess := se.Value()
	if !sess.Finished() {
		r, err := s.cfg.Checkout.Price(ctx, ce.Value().Items)
		if err != nil {
			return View{}, err
		}
		sess.Receipt = &r
		if s.cfg.Logger != nil {
			s.cfg.Logger.Info("session.finish", "id", id, "total_cents", r.TotalCents, "priced_by", r.PricedBy)
		}
	}
	if s.cfg.Finished != nil {
		s.cfg.Finished(se)
	}
	return newView(id, sess, ce.Value()), nil
}

// View はセッションの状態を変えずに返します。
func (s *Service) View(ctx context.Context, id string) (View, error) {
	sess, err := s.cfg.Sessions.Peek(ctx, id)
	if err != nil {
		return View{}, err
	}
	c, err := s.cfg.Carts.Peek(ctx, sess.CartID)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return View{}, err
	}
	return newView(id, sess, c), nil
}

// Close はセッションとカートを破棄します。
func (s *Service) Close(ctx context.Context, id string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.cfg.Sessions.Peek(ctx, id)
	if err != nil {
		return err
	}
	if err := s.cfg.Carts.Remove(ctx, sess.CartID); err != nil && !errors.Is(err, cache.ErrNotFound) {
		return err
	}
	if err := s.cfg.Sessions.Remove(ctx, id); err != nil {
		return err
	}
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info("session.close", "id", id, "cart", sess.CartID)
	}
	return nil
}

func (s *Service) acquire(ctx context.Context, id string) (*cache.Entry[*Session], *cache.Entry[*Cart], error) {
	se, err := s.cfg.Sessions.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ce, err := s.cfg.Carts.Get(ctx, se.Value().CartID)
	if err != nil {
		s.release(ctx, se, nil)
		return nil, nil, err
	}
	return se, ce, nil
}

func (s *Service) release(ctx context.Context, se *cache.Entry[*Session], ce *cache.Entry[*Cart]) {
	if ce != nil {
		if err := s.cfg.Carts.Release(ctx, ce); err != nil && s.cfg.Logger != nil {
			s.cfg.Logger.Warn("session.release", "cart", ce.ID(), "err", err)
		}
	}
	if se != nil {
		if err := s.cfg.Sessions.Release(ctx, se); err != nil && s.cfg.Logger != nil {
			s.cfg.Logger.Warn("session.release", "id", se.ID(), "err", err)
		}
	}
}

// discard は Open の途中で作ったエントリを片付けます。
func (s *Service) discard(ctx context.Context, ce *cache.Entry[*Cart], se *cache.Entry[*Session]) {
	s.release(ctx, se, ce)
	if ce != nil {
		_ = s.cfg.Carts.Remove(ctx, ce.ID())
	}
	if se != nil {
		_ = s.cfg.Sessions.Remove(ctx, se.ID())
	}
}

func (s *Service) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}
