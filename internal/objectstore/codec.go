package objectstore

import (
	"bytes"
	"encoding/gob"
)

// Codec はインスタンスとバイト列を相互変換します。
type Codec[T any] interface {
	Marshal(v T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}

// GobCodec は encoding/gob でオブジェクトグラフをシリアライズする Codec です。
// インタフェース型のフィールドに入る具象型は gob.Register で登録しておく必要があります。
type GobCodec[T any] struct {
	c *Compressor
}

// NewGobCodec は GobCodec を作成します。c が nil の場合は圧縮しません。
func NewGobCodec[T any](c *Compressor) *GobCodec[T] {
	return &GobCodec[T]{c: c}
}

func (g *GobCodec[T]) Marshal(v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return g.c.Compress(buf.Bytes()), nil
}

func (g *GobCodec[T]) Unmarshal(data []byte) (T, error) {
	var v T
	raw, err := g.c.Decompress(data)
	if err != nil {
		return v, err
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}
