package compressor

import (
	"io"
	"strings"

	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

// Compressor 抽象了流式压缩/解压能力，对应 HTTP 的 Content-Encoding。
//
// 调用方按需创建具体实现的实例，不做全局单例。
type Compressor interface {
	// Encoding 返回 Content-Encoding 头中使用的名称，空串表示不压缩。
	Encoding() string

	// NewWriter 返回一个把压缩结果写入 w 的 WriteCloser。
	// Close 只刷新并结束压缩流，不会关闭 w。
	NewWriter(w io.Writer) (io.WriteCloser, error)

	// NewReader 返回一个从 r 读取并解压的 ReadCloser。
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// NopCompressor 是一个空实现：不做任何压缩/解压，直接透传数据。
type NopCompressor struct{}

// 编译期断言：确保 NopCompressor 实现了 Compressor 接口。
var _ Compressor = NopCompressor{}

func (NopCompressor) Encoding() string { return "" }

func (NopCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (NopCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// ByEncoding 按 Content-Encoding 名称返回对应的 Compressor。
// 空串和 identity 返回 NopCompressor。
func ByEncoding(encoding string) (Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return NopCompressor{}, nil
	case EncodingZstd:
		return NewZstdCompressor(), nil
	case EncodingGzip, "x-gzip":
		return NewGzipCompressor(), nil
	default:
		return nil, merr.WrapErrParameterInvalid("zstd|gzip|identity", encoding, "unsupported content encoding")
	}
}
