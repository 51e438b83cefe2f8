package compressor

import (
	"io"
	"runtime"

	"github.com/klauspost/compress/zstd"
)

const EncodingZstd = "zstd"

// ZstdCompressor 基于 github.com/klauspost/compress/zstd 的流式实现。
type ZstdCompressor struct {
	concurrency int
	level       zstd.EncoderLevel
}

// 编译期断言：确保 ZstdCompressor 实现了 Compressor 接口。
var _ Compressor = (*ZstdCompressor)(nil)

// NewZstdCompressor 创建一个 ZstdCompressor，默认并发度为 GOMAXPROCS。
func NewZstdCompressor() *ZstdCompressor {
	return NewZstdCompressorWithConcurrency(0)
}

// NewZstdCompressorWithConcurrency 创建一个 ZstdCompressor，并允许显式指定 zstd 的并发数。
//
//   - concurrency <= 0：使用 GOMAXPROCS。
//   - concurrency > 0 ：使用指定并发度。
func NewZstdCompressorWithConcurrency(concurrency int) *ZstdCompressor {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &ZstdCompressor{
		concurrency: concurrency,
		level:       zstd.SpeedDefault,
	}
}

// SetLevel 设置压缩等级。
func (c *ZstdCompressor) SetLevel(level zstd.EncoderLevel) {
	c.level = level
}

func (c *ZstdCompressor) Encoding() string { return EncodingZstd }

func (c *ZstdCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w,
		zstd.WithZeroFrames(true),
		zstd.WithEncoderConcurrency(c.concurrency),
		zstd.WithEncoderLevel(c.level),
	)
}

func (c *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
