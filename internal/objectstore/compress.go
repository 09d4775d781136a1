package objectstore

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	frameRaw  byte = 0
	frameZstd byte = 1

	minCompressSize = 128
)

// Compressor はレコードを zstd で圧縮します。先頭 1 バイトのフレームヘッダで形式を判別します。
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

// NewCompressor は level (1: fastest, 2: default, 3: better) の Compressor を作成します。
// enabled が false の場合は常に無圧縮フレームを書き出しますが、圧縮フレームの読み出しは可能です。
func NewCompressor(level int, enabled bool) (*Compressor, error) {
	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	c := &Compressor{enabled: enabled}
	if enabled {
		encoder, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(encoderLevel),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			return nil, err
		}
		c.encoder = encoder
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	c.decoder = decoder
	return c, nil
}

// Compress はフレームヘッダ付きのデータを返します。小さすぎるデータや縮まないデータは無圧縮のままです。
func (c *Compressor) Compress(data []byte) []byte {
	if c == nil || !c.enabled || len(data) < minCompressSize {
		return append([]byte{frameRaw}, data...)
	}
	out := c.encoder.EncodeAll(data, append(make([]byte, 0, len(data)+1), frameZstd))
	if len(out)-1 >= len(data) {
		return append([]byte{frameRaw}, data...)
	}
	return out
}

// Decompress は Compress の逆変換です。
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty frame")
	}
	switch data[0] {
	case frameRaw:
		return data[1:], nil
	case frameZstd:
		if c == nil || c.decoder == nil {
			return nil, errors.New("zstd frame without decoder")
		}
		out, err := c.decoder.DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown frame type %d", data[0])
	}
}

// Close はエンコーダ・デコーダを解放します。
func (c *Compressor) Close() error {
	if c == nil {
		return nil
	}
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
