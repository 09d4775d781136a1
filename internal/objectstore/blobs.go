// Package objectstore implements the durable storage used for passivated
// instances.
//
// Blobs is a byte-level key/value store (one object per key, no index: the
// presence of the object is the index). Store[T] layers a Codec on top of it
// and is what caches talk to.
package objectstore

import "context"

// Blobs はキー単位でバイト列を保存するストアです。
// 異なるキーへの並行アクセスは安全でなければなりません。同一キーの順序付けは呼び出し側の責務です。
type Blobs interface {
	// Put は data を key に保存します。既存の内容は原子的に置き換えられます。
	Put(ctx context.Context, key string, data []byte) error
	// Get は key の内容を返します。存在しない場合は ErrNotFound を返します。
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete は key を削除します。存在しない key はエラーになりません。
	Delete(ctx context.Context, key string) error
	// Has は key が存在するかを返します。
	Has(ctx context.Context, key string) (bool, error)
}

type logLike interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
