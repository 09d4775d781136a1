package cache

import "context"

// Factory はインスタンスの生成と破棄を担います。
type Factory[T any] interface {
	Create(ctx context.Context, args ...any) (T, error)
	Destroy(ctx context.Context, v T) error
}

// PassivationManager は退避・復元の前後に呼ばれるライフサイクルフックです。
type PassivationManager[T any] interface {
	PrePassivate(ctx context.Context, v T) error
	PostActivate(ctx context.Context, v T) error
}

// ObjectStore は退避されたインスタンスの永続化先です。
type ObjectStore[T any] interface {
	Store(ctx context.Context, id string, v T) error
	Load(ctx context.Context, id string) (T, error)
	Remove(ctx context.Context, id string) error
	Has(ctx context.Context, id string) (bool, error)
}

// SharedGraph はグループ内の他のメンバーと共有するオブジェクトを持つインスタンスが実装します。
// グループの退避時に SharedRefs の値は一度だけシリアライズされ、復元後に Relink で全メンバーへ同じ参照が戻されます。
type SharedGraph interface {
	SharedRefs() map[string]any
	Relink(shared map[string]any)
}

// Deps はキャッシュが利用する協調者です。
type Deps[T any] struct {
	Factory     Factory[T]
	Store       ObjectStore[T]
	Passivation PassivationManager[T] // nil の場合はフックなし
}

// FactoryFuncs は関数を Factory として扱うアダプタです。
type FactoryFuncs[T any] struct {
	CreateFunc  func(ctx context.Context, args ...any) (T, error)
	DestroyFunc func(ctx context.Context, v T) error
}

func (f FactoryFuncs[T]) Create(ctx context.Context, args ...any) (T, error) {
	return f.CreateFunc(ctx, args...)
}

func (f FactoryFuncs[T]) Destroy(ctx context.Context, v T) error {
	if f.DestroyFunc == nil {
		return nil
	}
	return f.DestroyFunc(ctx, v)
}

// PassivationFuncs は関数を PassivationManager として扱うアダプタです。nil の関数は何もしません。
type PassivationFuncs[T any] struct {
	PrePassivateFunc func(ctx context.Context, v T) error
	PostActivateFunc func(ctx context.Context, v T) error
}

func (p PassivationFuncs[T]) PrePassivate(ctx context.Context, v T) error {
	if p.PrePassivateFunc == nil {
		return nil
	}
	return p.PrePassivateFunc(ctx, v)
}

func (p PassivationFuncs[T]) PostActivate(ctx context.Context, v T) error {
	if p.PostActivateFunc == nil {
		return nil
	}
	return p.PostActivateFunc(ctx, v)
}

// NoopPassivation は何もしない PassivationManager です。
type NoopPassivation[T any] struct{}

func (NoopPassivation[T]) PrePassivate(context.Context, T) error { return nil }
func (NoopPassivation[T]) PostActivate(context.Context, T) error { return nil }
