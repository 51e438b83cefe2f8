// Package json 统一项目内的 JSON 编解码入口，底层使用 bytedance/sonic。
package json

import (
	stdjson "encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

// api 与 encoding/json 行为保持一致：map 键排序、转义 HTML 字符。
var api = sonic.ConfigStd

// Number 与 encoding/json.Number 为同一类型，便于调用方直接比较。
type Number = stdjson.Number

// Marshaler 与 encoding/json.Marshaler 为同一接口。
type Marshaler = stdjson.Marshaler

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// NewEncoder 返回一个写入 w 的流式编码器。
func NewEncoder(w io.Writer) sonic.Encoder {
	return api.NewEncoder(w)
}

// NewDecoder 返回一个从 r 读取的流式解码器。
func NewDecoder(r io.Reader) sonic.Decoder {
	return api.NewDecoder(r)
}

// Valid 判断 data 是否为合法 JSON。
func Valid(data []byte) bool {
	return api.Valid(data)
}
