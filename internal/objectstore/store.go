package objectstore

import (
	"context"
	"errors"
)

// Store はインスタンスを Codec でシリアライズして Blobs に保存する ObjectStore です。
type Store[T any] struct {
	blobs Blobs
	codec Codec[T]
}

// NewStore は新しい Store を作成します。codec が nil の場合は無圧縮の GobCodec を使います。
func NewStore[T any](blobs Blobs, codec Codec[T]) *Store[T] {
	if codec == nil {
		codec = NewGobCodec[T](nil)
	}
	return &Store[T]{blobs: blobs, codec: codec}
}

// Blobs は下位のバイトストアを返します。
func (s *Store[T]) Blobs() Blobs { return s.blobs }

// Codec は利用中の Codec を返します。
func (s *Store[T]) Codec() Codec[T] { return s.codec }

// Store は v をシリアライズして id に保存します。
func (s *Store[T]) Store(ctx context.Context, id string, v T) error {
	data, err := s.codec.Marshal(v)
	if err != nil {
		return ioErr("encode", id, err)
	}
	return s.blobs.Put(ctx, id, data)
}

// Load は id のレコードを復元します。存在しない場合は ErrNotFound を返します。
func (s *Store[T]) Load(ctx context.Context, id string) (T, error) {
	var zero T
	data, err := s.blobs.Get(ctx, id)
	if err != nil {
		return zero, err
	}
	v, err := s.codec.Unmarshal(data)
	if err != nil {
		return zero, ioErr("decode", id, err)
	}
	return v, nil
}

// Remove は id のレコードを削除します。
func (s *Store[T]) Remove(ctx context.Context, id string) error {
	return s.blobs.Delete(ctx, id)
}

// Has は id のレコードが存在するかを返します。
func (s *Store[T]) Has(ctx context.Context, id string) (bool, error) {
	return s.blobs.Has(ctx, id)
}

// IsNotFound は err が ErrNotFound を表すかを返します。
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
