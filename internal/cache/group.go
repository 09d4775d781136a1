package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/amakane-hakari/nemuri/internal/objectstore"
)

// Groups は複数のキャッシュにまたがるグループを管理し、グループ単位の退避・復元を行います。
//
// グループは CreateGroup で作成者が保持した状態 (refCount=1) で作られ、ReleaseGroup で
// 参照が 0 になり、かつ全メンバーが使用中でないときにだけ退避されます。
// 退避はメンバー全員を 1 つのレコードとして書き出し、どれか 1 つの Get で全員が復元されます。
// 各メンバーからグループへのポインタも書き出すため、別プロセスの Groups からも退避済みグループを辿れます。
type Groups struct {
	mu       sync.Mutex
	caches   map[string]member
	groups   map[string]*group
	memberOf map[memberKey]*group

	blobs   objectstore.Blobs
	shared  objectstore.Codec[map[string]any]
	records objectstore.Codec[groupRecord]
	logger  logLike
	workers int
}

// GroupsOption は Groups のオプションを設定する関数です。
type GroupsOption func(*Groups)

// WithGroupsLogger はロガーを設定するオプションです。
func WithGroupsLogger(l logLike) GroupsOption {
	return func(g *Groups) { g.logger = l }
}

// WithSharedCodec は共有オブジェクトの Codec を設定するオプションです。
func WithSharedCodec(c objectstore.Codec[map[string]any]) GroupsOption {
	return func(g *Groups) { g.shared = c }
}

// WithEncodeWorkers はメンバーを並行にシリアライズする数を設定するオプションです。
func WithEncodeWorkers(n int) GroupsOption {
	return func(g *Groups) {
		if n > 0 {
			g.workers = n
		}
	}
}

// GroupStat は診断用のグループ状態です。
type GroupStat struct {
	ID         string `json:"id"`
	Members    int    `json:"members"`
	RefCount   int    `json:"ref_count"`
	Passivated bool   `json:"passivated"`
}

type memberKey struct {
	cache string
	id    string
}

type group struct {
	id         string
	mu         sync.Mutex
	members    map[memberKey]struct{}
	refCount   int
	passivated bool
	removed    bool
}

func (g *group) unlock() {
	if g != nil {
		g.mu.Unlock()
	}
}

func (g *group) groupID() string {
	if g == nil {
		return ""
	}
	return g.id
}

func (g *group) sortedMembers() []memberKey {
	keys := make([]memberKey, 0, len(g.members))
	for k := range g.members {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].cache != keys[j].cache {
			return keys[i].cache < keys[j].cache
		}
		return keys[i].id < keys[j].id
	})
	return keys
}

type groupRecord struct {
	Shared  []byte
	Members []memberRecord
}

type memberRecord struct {
	Cache string
	ID    string
	State []byte
}

type memberState struct {
	key   memberKey
	state []byte
	refs  map[string]any
}

// member は Groups から見たキャッシュの振る舞いで、*Cache[T] が実装します。
type member interface {
	Name() string
	SessionTimeout() time.Duration
	groupIdle(id string, strict bool) bool
	groupPrepare(ctx context.Context, id string) (memberState, error)
	groupRollback(ctx context.Context, id string)
	groupEvict(id string)
	groupRestore(ctx context.Context, groupID string, rec memberRecord, shared map[string]any) error
	groupDrop(id string)
}

// NewGroups は blobs にグループのレコードを保存する Groups を作成します。
func NewGroups(blobs objectstore.Blobs, opts ...GroupsOption) *Groups {
	gs := &Groups{
		caches:   make(map[string]member),
		groups:   make(map[string]*group),
		memberOf: make(map[memberKey]*group),
		blobs:    blobs,
		records:  objectstore.NewGobCodec[groupRecord](nil),
		workers:  4,
	}
	for _, o := range opts {
		o(gs)
	}
	if gs.shared == nil {
		gs.shared = objectstore.NewGobCodec[map[string]any](nil)
	}
	return gs
}

func (gs *Groups) register(m member) error {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if _, ok := gs.caches[m.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, m.Name())
	}
	gs.caches[m.Name()] = m
	return nil
}

// CreateGroup は作成者が保持した状態のグループを作成し、その ID を返します。
func (gs *Groups) CreateGroup() string {
	g := &group{
		id:       uuid.NewString(),
		members:  make(map[memberKey]struct{}),
		refCount: 1,
	}
	gs.mu.Lock()
	gs.groups[g.id] = g
	gs.mu.Unlock()
	if gs.logger != nil {
		gs.logger.Debug("group.create", "group", g.id)
	}
	return g.id
}

// AcquireGroup はグループの参照カウントを増やします。保持されている間グループは退避されません。
func (gs *Groups) AcquireGroup(ctx context.Context, id string) error {
	g, err := gs.lockGroup(ctx, id)
	if err != nil {
		return err
	}
	defer g.unlock()
	g.refCount++
	return nil
}

// ReleaseGroup はグループの参照カウントを減らします。0 になったグループは退避の対象になります。
// タイムアウト 0 のキャッシュのメンバーを含む場合は、Release と同じくその場で退避を試み、失敗を返します。
func (gs *Groups) ReleaseGroup(id string) error {
	g := gs.get(id)
	if g == nil {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	g.mu.Lock()
	if g.removed {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	if g.refCount == 0 {
		g.mu.Unlock()
		return fmt.Errorf("group %s: %w", id, ErrNotInUse)
	}
	g.refCount--
	if g.refCount > 0 {
		g.mu.Unlock()
		return nil
	}
	if len(g.members) == 0 {
		gs.dropLocked(context.Background(), g)
		g.mu.Unlock()
		return nil
	}
	eager := false
	for k := range g.members {
		if m := gs.cache(k.cache); m != nil && m.SessionTimeout() == 0 {
			eager = true
			break
		}
	}
	g.mu.Unlock()
	if !eager {
		return nil
	}
	_, err := gs.tryPassivate(context.Background(), id, false)
	return err
}

// Passivate はグループを明示的に退避します。使用中のメンバーがいる、またはグループが保持されている場合は
// ErrContextInUse を返します。
func (gs *Groups) Passivate(ctx context.Context, id string) error {
	_, err := gs.tryPassivate(ctx, id, true)
	return err
}

// Len は管理しているグループ数を返します。
func (gs *Groups) Len() int {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return len(gs.groups)
}

// Stat は診断用にグループの状態を返します。
func (gs *Groups) Stat(id string) (GroupStat, error) {
	g := gs.get(id)
	if g == nil {
		return GroupStat{}, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return GroupStat{ID: g.id, Members: len(g.members), RefCount: g.refCount, Passivated: g.passivated}, nil
}

func (gs *Groups) get(id string) *group {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.groups[id]
}

func (gs *Groups) cache(name string) member {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.caches[name]
}

func (gs *Groups) groupOf(ctx context.Context, cache, id string) (string, bool, error) {
	g, err := gs.resolve(ctx, memberKey{cache, id})
	if err != nil || g == nil {
		return "", false, err
	}
	return g.id, true, nil
}

// memberPointerKey は退避済みメンバーから所属グループへのポインタのキーです。
// キャッシュ名の長さを前置して区切りの曖昧さをなくします。
func memberPointerKey(k memberKey) string {
	return "member~" + strconv.Itoa(len(k.cache)) + "~" + k.cache + "~" + k.id
}

// resolve は key の所属グループを返します。メモリに無い場合はストアのポインタから退避済みグループを読み込みます。
func (gs *Groups) resolve(ctx context.Context, key memberKey) (*group, error) {
	gs.mu.Lock()
	g := gs.memberOf[key]
	gs.mu.Unlock()
	if g != nil {
		return g, nil
	}

	data, err := gs.blobs.Get(ctx, memberPointerKey(key))
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("group member %s/%s: %w", key.cache, key.id, err)
	}
	g, err = gs.install(ctx, string(data))
	if err != nil {
		return nil, err
	}
	if g == nil {
		// グループのレコードが無いポインタは古いので消す
		gs.deletePointers(ctx, []memberKey{key})
		return nil, nil
	}
	g.mu.Lock()
	_, ok := g.members[key]
	g.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return g, nil
}

// install は退避済みグループ id をストアから読み込み、メモリに登録します。
// 既に登録済みならそれを返し、レコードが無ければ nil を返します。
func (gs *Groups) install(ctx context.Context, id string) (*group, error) {
	if g := gs.get(id); g != nil {
		return g, nil
	}
	rec, _, err := gs.load(ctx, id)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()
	if g := gs.groups[id]; g != nil {
		return g, nil
	}
	g := &group{id: id, members: make(map[memberKey]struct{}, len(rec.Members)), passivated: true}
	for _, mr := range rec.Members {
		k := memberKey{mr.Cache, mr.ID}
		g.members[k] = struct{}{}
		gs.memberOf[k] = g
	}
	gs.groups[id] = g
	if gs.logger != nil {
		gs.logger.Info("group.recover", "group", id, "members", len(rec.Members))
	}
	return g, nil
}

func (gs *Groups) deletePointers(ctx context.Context, keys []memberKey) {
	for _, k := range keys {
		if err := gs.blobs.Delete(ctx, memberPointerKey(k)); err != nil && gs.logger != nil {
			gs.logger.Warn("group.pointer.delete_failed", "cache", k.cache, "id", k.id, "err", err)
		}
	}
}

// enter は cache/id の所属グループをロックして返します。退避済みならグループ全体を復元します。
// 所属していない場合は nil を返します。
func (gs *Groups) enter(ctx context.Context, cache, id string) (*group, error) {
	key := memberKey{cache, id}
	for {
		g, err := gs.resolve(ctx, key)
		if err != nil {
			return nil, err
		}
		if g == nil {
			return nil, nil
		}
		g.mu.Lock()
		if _, ok := g.members[key]; g.removed || !ok {
			g.mu.Unlock()
			continue
		}
		if g.passivated {
			if err := gs.activateLocked(ctx, g); err != nil {
				g.mu.Unlock()
				return nil, err
			}
		}
		return g, nil
	}
}

func (gs *Groups) lockGroup(ctx context.Context, id string) (*group, error) {
	g, err := gs.install(ctx, id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	g.mu.Lock()
	if g.removed {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	if g.passivated {
		if err := gs.activateLocked(ctx, g); err != nil {
			g.mu.Unlock()
			return nil, err
		}
	}
	return g, nil
}

func (gs *Groups) joinLocked(g *group, cache, id string) {
	key := memberKey{cache, id}
	g.members[key] = struct{}{}
	gs.mu.Lock()
	gs.memberOf[key] = g
	gs.mu.Unlock()
}

func (gs *Groups) leaveLocked(ctx context.Context, g *group, cache, id string) {
	key := memberKey{cache, id}
	delete(g.members, key)
	gs.mu.Lock()
	delete(gs.memberOf, key)
	gs.mu.Unlock()
	if len(g.members) == 0 && g.refCount == 0 {
		gs.dropLocked(ctx, g)
	}
}

func (gs *Groups) dropLocked(ctx context.Context, g *group) {
	g.removed = true
	gs.mu.Lock()
	delete(gs.groups, g.id)
	gs.mu.Unlock()
	if err := gs.blobs.Delete(ctx, g.id); err != nil && gs.logger != nil {
		gs.logger.Warn("group.drop.store_failed", "group", g.id, "err", err)
	}
	if gs.logger != nil {
		gs.logger.Debug("group.drop", "group", g.id)
	}
}

// tryPassivate は条件を満たしていればグループを退避し、退避したメンバー数を返します。
// strict の場合、条件を満たさないことを ErrContextInUse として返します。
func (gs *Groups) tryPassivate(ctx context.Context, id string, strict bool) (int, error) {
	g := gs.get(id)
	if g == nil {
		if strict {
			return 0, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
		}
		return 0, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.removed || g.passivated || len(g.members) == 0 {
		return 0, nil
	}
	if g.refCount > 0 {
		if strict {
			return 0, fmt.Errorf("group %s is held: %w", id, ErrContextInUse)
		}
		return 0, nil
	}

	keys := g.sortedMembers()
	for _, k := range keys {
		m := gs.cache(k.cache)
		if m == nil || !m.groupIdle(k.id, strict) {
			if strict {
				return 0, fmt.Errorf("group %s member %s/%s: %w", id, k.cache, k.id, ErrContextInUse)
			}
			return 0, nil
		}
	}

	p := pool.NewWithResults[memberState]().WithErrors().WithMaxGoroutines(gs.workers)
	for _, k := range keys {
		m := gs.cache(k.cache)
		p.Go(func() (memberState, error) {
			return m.groupPrepare(ctx, k.id)
		})
	}
	states, err := p.Wait()
	if err != nil {
		gs.rollback(ctx, states)
		return 0, fmt.Errorf("group %s: passivate: %w", id, err)
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].key.cache != states[j].key.cache {
			return states[i].key.cache < states[j].key.cache
		}
		return states[i].key.id < states[j].key.id
	})

	rec := groupRecord{Members: make([]memberRecord, 0, len(states))}
	shared := make(map[string]any)
	for _, st := range states {
		for k, v := range st.refs {
			if _, ok := shared[k]; !ok {
				shared[k] = v
			}
		}
		rec.Members = append(rec.Members, memberRecord{Cache: st.key.cache, ID: st.key.id, State: st.state})
	}
	if len(shared) > 0 {
		if rec.Shared, err = gs.shared.Marshal(shared); err != nil {
			gs.rollback(ctx, states)
			return 0, &objectstore.StoreError{Op: "encode", Key: id, Err: err}
		}
	}
	data, err := gs.records.Marshal(rec)
	if err != nil {
		gs.rollback(ctx, states)
		return 0, &objectstore.StoreError{Op: "encode", Key: id, Err: err}
	}
	// ポインタを先に書く。グループのレコードが無いポインタは読み出し時に古いものとして消される
	for i, st := range states {
		if err := gs.blobs.Put(ctx, memberPointerKey(st.key), []byte(id)); err != nil {
			gs.deletePointers(ctx, stateKeys(states[:i]))
			gs.rollback(ctx, states)
			return 0, fmt.Errorf("group %s: passivate: %w", id, err)
		}
	}
	if err := gs.blobs.Put(ctx, id, data); err != nil {
		gs.deletePointers(ctx, stateKeys(states))
		gs.rollback(ctx, states)
		return 0, fmt.Errorf("group %s: passivate: %w", id, err)
	}

	for _, st := range states {
		gs.cache(st.key.cache).groupEvict(st.key.id)
	}
	g.passivated = true
	if gs.logger != nil {
		gs.logger.Info("group.passivate", "group", id, "members", len(states), "shared", len(shared))
	}
	return len(states), nil
}

func stateKeys(states []memberState) []memberKey {
	keys := make([]memberKey, len(states))
	for i, st := range states {
		keys[i] = st.key
	}
	return keys
}

func (gs *Groups) rollback(ctx context.Context, states []memberState) {
	for _, st := range states {
		if m := gs.cache(st.key.cache); m != nil {
			m.groupRollback(ctx, st.key.id)
		}
	}
}

func (gs *Groups) activateLocked(ctx context.Context, g *group) error {
	rec, shared, err := gs.load(ctx, g.id)
	if err != nil {
		return err
	}

	restored := make([]memberKey, 0, len(rec.Members))
	for _, mr := range rec.Members {
		m := gs.cache(mr.Cache)
		if m == nil {
			err = fmt.Errorf("unknown cache %q", mr.Cache)
			break
		}
		if err = m.groupRestore(ctx, g.id, mr, shared); err != nil {
			break
		}
		restored = append(restored, memberKey{mr.Cache, mr.ID})
	}
	if err != nil {
		for _, k := range restored {
			gs.cache(k.cache).groupDrop(k.id)
		}
		return fmt.Errorf("group %s: activate: %w", g.id, err)
	}

	if err := gs.blobs.Delete(ctx, g.id); err != nil && gs.logger != nil {
		gs.logger.Warn("group.activate.stale_record", "group", g.id, "err", err)
	}
	gs.deletePointers(ctx, restored)
	g.passivated = false
	if gs.logger != nil {
		gs.logger.Info("group.activate", "group", g.id, "members", len(rec.Members))
	}
	return nil
}

func (gs *Groups) load(ctx context.Context, id string) (groupRecord, map[string]any, error) {
	return loadGroupRecord(ctx, gs.blobs, gs.records, gs.shared, id)
}

func loadGroupRecord(ctx context.Context, blobs objectstore.Blobs, records objectstore.Codec[groupRecord],
	sharedCodec objectstore.Codec[map[string]any], id string) (groupRecord, map[string]any, error) {
	data, err := blobs.Get(ctx, id)
	if err != nil {
		return groupRecord{}, nil, fmt.Errorf("group %s: load: %w", id, err)
	}
	rec, err := records.Unmarshal(data)
	if err != nil {
		return groupRecord{}, nil, &objectstore.StoreError{Op: "decode", Key: id, Err: err}
	}
	shared := make(map[string]any)
	if len(rec.Shared) > 0 {
		if shared, err = sharedCodec.Unmarshal(rec.Shared); err != nil {
			return groupRecord{}, nil, &objectstore.StoreError{Op: "decode", Key: id, Err: err}
		}
	}
	return rec, shared, nil
}

// ReadGroupMember は退避済みグループのレコードから cacheName/id のメンバーを読み取り専用で復元します。
// キャッシュを起動せずにストアを調べるためのもので、フックは呼びません。
func ReadGroupMember[T any](ctx context.Context, blobs objectstore.Blobs, groupID, cacheName, id string,
	codec objectstore.Codec[T], sharedCodec objectstore.Codec[map[string]any]) (T, error) {
	var zero T
	if codec == nil {
		codec = objectstore.NewGobCodec[T](nil)
	}
	if sharedCodec == nil {
		sharedCodec = objectstore.NewGobCodec[map[string]any](nil)
	}
	rec, shared, err := loadGroupRecord(ctx, blobs, objectstore.NewGobCodec[groupRecord](nil), sharedCodec, groupID)
	if err != nil {
		return zero, err
	}
	for _, mr := range rec.Members {
		if mr.Cache != cacheName || mr.ID != id {
			continue
		}
		v, err := codec.Unmarshal(mr.State)
		if err != nil {
			return zero, &objectstore.StoreError{Op: "decode", Key: id, Err: err}
		}
		if sg, ok := any(v).(SharedGraph); ok && len(shared) > 0 {
			sg.Relink(shared)
		}
		return v, nil
	}
	return zero, fmt.Errorf("group %s: %s/%s: %w", groupID, cacheName, id, ErrNotFound)
}

// peekState は退避済みグループから cache/id のメンバーの状態を読み取り専用で取り出します。
func (gs *Groups) peekState(ctx context.Context, cache, id string) ([]byte, map[string]any, bool, error) {
	g, err := gs.resolve(ctx, memberKey{cache, id})
	if err != nil {
		return nil, nil, false, err
	}
	if g == nil {
		return nil, nil, false, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.passivated {
		return nil, nil, false, nil
	}
	rec, shared, err := gs.load(ctx, g.id)
	if err != nil {
		return nil, nil, false, err
	}
	for _, mr := range rec.Members {
		if mr.Cache == cache && mr.ID == id {
			return mr.State, shared, true, nil
		}
	}
	return nil, nil, false, nil
}
