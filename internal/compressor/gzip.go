package compressor

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

const EncodingGzip = "gzip"

// GzipCompressor 基于 github.com/klauspost/compress/gzip 的流式实现。
type GzipCompressor struct {
	level int
}

var _ Compressor = (*GzipCompressor)(nil)

func NewGzipCompressor() *GzipCompressor {
	return &GzipCompressor{level: gzip.DefaultCompression}
}

// SetLevel 设置压缩等级，取值范围同 gzip 包。
func (c *GzipCompressor) SetLevel(level int) {
	c.level = level
}

func (c *GzipCompressor) Encoding() string { return EncodingGzip }

func (c *GzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, c.level)
}

func (c *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}
