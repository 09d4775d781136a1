package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/amakane-hakari/nemuri/internal/objectstore"
)

// Create はファクトリで新しいインスタンスを生成し、使用中 (inUse=1) として登録します。
// 呼び出し側は利用後に Release する必要があります。
func (c *Cache[T]) Create(ctx context.Context, args ...any) (*Entry[T], error) {
	if c.stopped.Load() {
		return nil, ErrStopped
	}
	v, err := c.factory.Create(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("cache %s: create: %w", c.cfg.Name, err)
	}
	e := &Entry[T]{
		id:       uuid.NewString(),
		value:    v,
		state:    stateResident,
		inUse:    1,
		lastUsed: c.now(),
	}
	sh := c.getShard(e.id)
	sh.mu.Lock()
	sh.m[e.id] = e
	sh.mu.Unlock()

	c.addResident(1)
	c.cfg.Metrics.IncCreated()
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("cache.create", "cache", c.cfg.Name, "id", e.id)
	}
	return e, nil
}

// Get は id のエントリを使用中にして返します。退避済みならストアから復元します。
// グループに所属している場合はグループ全体が復元されます。
func (c *Cache[T]) Get(ctx context.Context, id string) (*Entry[T], error) {
	if c.stopped.Load() {
		return nil, ErrStopped
	}
	for {
		g, err := c.enterGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		e, activated, err := c.acquire(ctx, id)
		if err != nil {
			g.unlock()
			if errors.Is(err, ErrNotFound) {
				c.cfg.Metrics.IncGetMiss()
			}
			return nil, err
		}
		if e.group != g.groupID() {
			// 所属グループが変わったのでグループのロックを取り直す
			e.mu.Unlock()
			g.unlock()
			continue
		}
		e.inUse++
		e.lastUsed = c.now()
		e.mu.Unlock()
		g.unlock()

		if !activated {
			c.cfg.Metrics.IncGetHit()
		}
		return e, nil
	}
}

// Peek は id のインスタンスを状態を変えずに返します。
// 退避済みの場合はストアのレコードを読み取り専用で復元し、フックは呼びません。
func (c *Cache[T]) Peek(ctx context.Context, id string) (T, error) {
	var zero T
	if c.stopped.Load() {
		return zero, ErrStopped
	}
	// ストア読み出しの間に復元されるとレコードが消えるので、一度だけメモリを見直す
	for attempt := 0; attempt < 2; attempt++ {
		if e := c.lookup(id); e != nil {
			e.mu.Lock()
			if e.state == stateResident {
				v := e.value
				e.mu.Unlock()
				return v, nil
			}
			e.mu.Unlock()
		}
		if c.cfg.Groups != nil {
			state, shared, ok, err := c.cfg.Groups.peekState(ctx, c.cfg.Name, id)
			if err != nil {
				return zero, c.errorf("peek", id, err)
			}
			if ok {
				v, err := c.decodeMember(state, shared)
				if err != nil {
					return zero, c.errorf("peek", id, err)
				}
				return v, nil
			}
		}
		v, err := c.store.Load(ctx, id)
		if err == nil {
			return v, nil
		}
		if !objectstore.IsNotFound(err) {
			return zero, c.errorf("peek", id, err)
		}
	}
	return zero, ErrNotFound
}

// Release は使用中カウントを減らします。0 になると lastUsed を更新し、
// タイムアウトが 0 の場合はその場で退避します。その際の失敗は呼び出し側に返され、エントリはメモリに残ります。
func (c *Cache[T]) Release(ctx context.Context, e *Entry[T]) error {
	e.mu.Lock()
	if e.state != stateResident || c.lookup(e.id) != e {
		e.mu.Unlock()
		return c.errorf("release", e.id, ErrNotFound)
	}
	if e.inUse == 0 {
		e.mu.Unlock()
		return c.errorf("release", e.id, ErrNotInUse)
	}
	e.inUse--
	if e.inUse > 0 {
		e.mu.Unlock()
		return nil
	}
	now := c.now()
	e.lastUsed = now
	if c.cfg.SessionTimeout != 0 || c.stopped.Load() {
		e.mu.Unlock()
		return nil
	}

	if gid := e.group; gid != "" {
		e.mu.Unlock()
		_, err := c.cfg.Groups.tryPassivate(ctx, gid, false)
		return err
	}
	defer e.mu.Unlock()
	if !c.allows(e, now) {
		return nil
	}
	return c.passivateLocked(ctx, e)
}

// Remove はファクトリの破棄フックを呼び、メモリとストアの両方から id を削除します。
// 使用中の場合は ErrContextInUse を返します。退避済みのエントリは破棄フックのために一度復元されます。
func (c *Cache[T]) Remove(ctx context.Context, id string) error {
	if c.stopped.Load() {
		return ErrStopped
	}
	for {
		g, err := c.enterGroup(ctx, id)
		if err != nil {
			return err
		}
		e, _, err := c.acquire(ctx, id)
		if err != nil {
			g.unlock()
			return err
		}
		if e.group != g.groupID() {
			e.mu.Unlock()
			g.unlock()
			continue
		}
		err = c.removeLocked(ctx, e, g)
		e.mu.Unlock()
		g.unlock()
		return err
	}
}

// Passivate は id を明示的に退避します。使用中の場合は ErrContextInUse を返します。
func (c *Cache[T]) Passivate(ctx context.Context, id string) error {
	if c.stopped.Load() {
		return ErrStopped
	}
	for {
		e := c.lookup(id)
		if e == nil {
			return c.passivatedOrMissing(ctx, id)
		}
		e.mu.Lock()
		if e.state != stateResident {
			e.mu.Unlock()
			continue
		}
		if gid := e.group; gid != "" {
			e.mu.Unlock()
			_, err := c.cfg.Groups.tryPassivate(ctx, gid, true)
			return err
		}
		if e.inUse > 0 {
			e.mu.Unlock()
			return c.errorf("passivate", id, ErrContextInUse)
		}
		err := c.passivateLocked(ctx, e)
		e.mu.Unlock()
		return err
	}
}

// AssignToGroup はエントリを groupID のグループに所属させます。
func (c *Cache[T]) AssignToGroup(ctx context.Context, e *Entry[T], groupID string) error {
	if c.cfg.Groups == nil {
		return ErrNoGroups
	}
	g, err := c.cfg.Groups.lockGroup(ctx, groupID)
	if err != nil {
		return err
	}
	defer g.unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateResident || c.lookup(e.id) != e {
		return c.errorf("assign", e.id, ErrNotFound)
	}
	switch e.group {
	case groupID:
		return nil
	case "":
	default:
		return c.errorf("assign", e.id, ErrGroupMismatch)
	}
	e.group = groupID
	c.cfg.Groups.joinLocked(g, c.cfg.Name, e.id)
	return nil
}

func (c *Cache[T]) passivatedOrMissing(ctx context.Context, id string) error {
	if c.cfg.Groups != nil {
		_, ok, err := c.cfg.Groups.groupOf(ctx, c.cfg.Name, id)
		if err != nil {
			return c.errorf("passivate", id, err)
		}
		if ok {
			return nil
		}
	}
	ok, err := c.store.Has(ctx, id)
	if err != nil {
		return c.errorf("passivate", id, err)
	}
	if !ok {
		return c.errorf("passivate", id, ErrNotFound)
	}
	return nil
}

func (c *Cache[T]) enterGroup(ctx context.Context, id string) (*group, error) {
	if c.cfg.Groups == nil {
		return nil, nil
	}
	// 常駐していてグループに属さないエントリはストアのポインタを引かない。
	// 直後に割り当てられた場合は呼び出し側のグループ不一致の検査でやり直す
	if e := c.lookup(id); e != nil {
		e.mu.Lock()
		ungrouped := e.state == stateResident && e.group == ""
		e.mu.Unlock()
		if ungrouped {
			return nil, nil
		}
	}
	return c.cfg.Groups.enter(ctx, c.cfg.Name, id)
}

// acquire は id のエントリをロックした状態で返します。メモリに無ければストアから復元します。
// 同じ id の復元はプレースホルダのロックで直列化されるため、二重に復元されることはありません。
func (c *Cache[T]) acquire(ctx context.Context, id string) (*Entry[T], bool, error) {
	for {
		sh := c.getShard(id)
		sh.mu.Lock()
		e, ok := sh.m[id]
		if !ok {
			e = &Entry[T]{id: id, state: stateLoading}
			e.mu.Lock()
			sh.m[id] = e
			sh.mu.Unlock()
			if err := c.activateLocked(ctx, e); err != nil {
				c.unlink(e)
				e.state = stateGone
				e.mu.Unlock()
				return nil, false, err
			}
			return e, true, nil
		}
		sh.mu.Unlock()

		e.mu.Lock()
		if e.state == stateResident {
			return e, false, nil
		}
		e.mu.Unlock()
	}
}

func (c *Cache[T]) activateLocked(ctx context.Context, e *Entry[T]) error {
	v, err := c.store.Load(ctx, e.id)
	if err != nil {
		if objectstore.IsNotFound(err) {
			return c.errorf("get", e.id, ErrNotFound)
		}
		return c.errorf("activate", e.id, err)
	}
	if err := c.passivation.PostActivate(ctx, v); err != nil {
		return c.errorf("post-activate", e.id, err)
	}
	if err := c.store.Remove(ctx, e.id); err != nil && c.cfg.Logger != nil {
		// 次回の退避で上書きされる
		c.cfg.Logger.Warn("cache.activate.stale_record", "cache", c.cfg.Name, "id", e.id, "err", err)
	}
	e.value = v
	e.state = stateResident
	e.lastUsed = c.now()
	c.addResident(1)
	c.cfg.Metrics.IncActivated()
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info("cache.activate", "cache", c.cfg.Name, "id", e.id)
	}
	return nil
}

func (c *Cache[T]) passivateLocked(ctx context.Context, e *Entry[T]) error {
	if err := c.passivation.PrePassivate(ctx, e.value); err != nil {
		c.cfg.Metrics.IncPassivationFailed()
		return c.errorf("pre-passivate", e.id, err)
	}
	if err := c.store.Store(ctx, e.id, e.value); err != nil {
		c.cfg.Metrics.IncPassivationFailed()
		c.undoPrePassivate(ctx, e)
		return c.errorf("passivate", e.id, err)
	}
	c.evictLocked(e)
	c.cfg.Metrics.IncPassivated()
	c.notifyPassivated(e.id)
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info("cache.passivate", "cache", c.cfg.Name, "id", e.id)
	}
	return nil
}

func (c *Cache[T]) undoPrePassivate(ctx context.Context, e *Entry[T]) {
	if err := c.passivation.PostActivate(ctx, e.value); err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Error("cache.passivate.rollback_failed", "cache", c.cfg.Name, "id", e.id, "err", err)
	}
}

func (c *Cache[T]) evictLocked(e *Entry[T]) {
	if c.unlink(e) {
		c.addResident(-1)
	}
	e.state = stateGone
	e.pending = false
}

func (c *Cache[T]) removeLocked(ctx context.Context, e *Entry[T], g *group) error {
	if e.inUse > 0 {
		return c.errorf("remove", e.id, ErrContextInUse)
	}
	if err := c.factory.Destroy(ctx, e.value); err != nil {
		return c.errorf("destroy", e.id, err)
	}
	c.evictLocked(e)
	if err := c.store.Remove(ctx, e.id); err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Warn("cache.remove.store_failed", "cache", c.cfg.Name, "id", e.id, "err", err)
	}
	if g != nil {
		c.cfg.Groups.leaveLocked(ctx, g, c.cfg.Name, e.id)
	}
	c.notifyRemoved(e.id)
	c.cfg.Metrics.IncRemoved()
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("cache.remove", "cache", c.cfg.Name, "id", e.id)
	}
	return nil
}
