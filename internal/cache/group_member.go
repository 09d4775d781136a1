package cache

import (
	"context"
	"fmt"
)

// 以下は Groups から呼ばれるメンバー側の処理で、呼び出し時には対象グループのロックが保持されています。

// groupIdle は id が使用中でないかを返します。strict でなければ EvictPolicy の判定も加えます。
func (c *Cache[T]) groupIdle(id string, strict bool) bool {
	e := c.lookup(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateResident || e.inUse > 0 {
		return false
	}
	return strict || c.allows(e, c.now())
}

func (c *Cache[T]) groupPrepare(ctx context.Context, id string) (memberState, error) {
	e := c.lookup(id)
	if e == nil {
		return memberState{}, c.errorf("passivate", id, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateResident {
		return memberState{}, c.errorf("passivate", id, ErrNotFound)
	}
	if e.inUse > 0 {
		return memberState{}, c.errorf("passivate", id, ErrContextInUse)
	}
	if err := c.passivation.PrePassivate(ctx, e.value); err != nil {
		c.cfg.Metrics.IncPassivationFailed()
		return memberState{}, c.errorf("pre-passivate", id, err)
	}
	data, err := c.codec.Marshal(e.value)
	if err != nil {
		c.cfg.Metrics.IncPassivationFailed()
		c.undoPrePassivate(ctx, e)
		return memberState{}, c.errorf("encode", id, err)
	}
	st := memberState{key: memberKey{c.cfg.Name, id}, state: data}
	if sg, ok := any(e.value).(SharedGraph); ok {
		st.refs = sg.SharedRefs()
	}
	return st, nil
}

func (c *Cache[T]) groupRollback(ctx context.Context, id string) {
	e := c.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateResident {
		c.cfg.Metrics.IncPassivationFailed()
		c.undoPrePassivate(ctx, e)
	}
}

func (c *Cache[T]) groupEvict(id string) {
	e := c.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateResident {
		return
	}
	c.evictLocked(e)
	c.cfg.Metrics.IncPassivated()
	c.notifyPassivated(id)
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("cache.passivate", "cache", c.cfg.Name, "id", id, "group", e.group)
	}
}

func (c *Cache[T]) groupRestore(ctx context.Context, groupID string, rec memberRecord, shared map[string]any) error {
	if c.stopped.Load() {
		return ErrStopped
	}
	v, err := c.decodeMember(rec.State, shared)
	if err != nil {
		return c.errorf("activate", rec.ID, err)
	}
	if err := c.passivation.PostActivate(ctx, v); err != nil {
		return c.errorf("post-activate", rec.ID, err)
	}
	e := &Entry[T]{
		id:       rec.ID,
		value:    v,
		state:    stateResident,
		lastUsed: c.now(),
		group:    groupID,
	}
	sh := c.getShard(rec.ID)
	sh.mu.Lock()
	if _, ok := sh.m[rec.ID]; ok {
		sh.mu.Unlock()
		return fmt.Errorf("cache %s: activate %s: already resident", c.cfg.Name, rec.ID)
	}
	sh.m[rec.ID] = e
	sh.mu.Unlock()

	c.addResident(1)
	c.cfg.Metrics.IncActivated()
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("cache.activate", "cache", c.cfg.Name, "id", rec.ID, "group", groupID)
	}
	return nil
}

func (c *Cache[T]) groupDrop(id string) {
	e := c.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateResident {
		c.evictLocked(e)
	}
}

// decodeMember はグループのレコードからインスタンスを復元し、共有オブジェクトを付け直します。
func (c *Cache[T]) decodeMember(state []byte, shared map[string]any) (T, error) {
	v, err := c.codec.Unmarshal(state)
	if err != nil {
		return v, err
	}
	if sg, ok := any(v).(SharedGraph); ok && len(shared) > 0 {
		sg.Relink(shared)
	}
	return v, nil
}
