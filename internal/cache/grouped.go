package cache

import "context"

// GroupedCache は Groups に参加する Cache で、グループ操作をまとめて提供します。
type GroupedCache[T any] struct {
	*Cache[T]
	groups *Groups
}

// NewGrouped は groups に登録された Cache を作成します。名前は groups の中で一意である必要があります。
func NewGrouped[T any](groups *Groups, deps Deps[T], opts ...Option) (*GroupedCache[T], error) {
	opts = append(opts[:len(opts):len(opts)], WithGroups(groups))
	c, err := New(deps, opts...)
	if err != nil {
		return nil, err
	}
	return &GroupedCache[T]{Cache: c, groups: groups}, nil
}

// CreateGroup は作成者が保持した状態の新しいグループを作成します。
func (gc *GroupedCache[T]) CreateGroup() string { return gc.groups.CreateGroup() }

// SetGroup はエントリをグループに所属させます。
func (gc *GroupedCache[T]) SetGroup(ctx context.Context, e *Entry[T], groupID string) error {
	return gc.AssignToGroup(ctx, e, groupID)
}

// ReleaseGroup はグループの保持を解除します。
func (gc *GroupedCache[T]) ReleaseGroup(groupID string) error { return gc.groups.ReleaseGroup(groupID) }

// Groups は協調者を返します。
func (gc *GroupedCache[T]) Groups() *Groups { return gc.groups }
