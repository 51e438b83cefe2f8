package formpack

import (
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/formpack-go/internal/json"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

// Kind 标识 Value 的种类。
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
	KindBinary
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "bool",
	KindNumber:   "number",
	KindString:   "string",
	KindSequence: "sequence",
	KindMapping:  "mapping",
	KindBinary:   "binary",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Member 是 Mapping 中的一个键值对，Mapping 按插入顺序保存成员。
type Member struct {
	Key   string
	Value Value
}

// Value 是编解码过程中使用的带标签的值树。
// 数字以 JSON 文本形式保存，避免在编码端丢失精度。
type Value struct {
	kind    Kind
	b       bool
	s       string
	items   []Value
	members []Member
	leaf    BinaryLeaf
}

func Null() Value {
	return Value{kind: KindNull}
}

func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Number 以 JSON 数字文本构造一个数字，调用方保证 text 合法。
func Number(text string) Value {
	return Value{kind: KindNumber, s: text}
}

func Int(n int64) Value {
	return Number(strconv.FormatInt(n, 10))
}

func String(s string) Value {
	return Value{kind: KindString, s: s}
}

func Sequence(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindSequence, items: items}
}

func Mapping(members ...Member) Value {
	if members == nil {
		members = []Member{}
	}
	return Value{kind: KindMapping, members: members}
}

func Binary(leaf BinaryLeaf) Value {
	return Value{kind: KindBinary, leaf: leaf}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// Bool 返回布尔值，非 KindBool 时返回 false。
func (v Value) Bool() bool {
	return v.b
}

// Text 返回字符串内容或数字文本。
func (v Value) Text() string {
	return v.s
}

func (v Value) Items() []Value {
	return v.items
}

func (v Value) Members() []Member {
	return v.members
}

// Leaf 返回二进制叶子，非 KindBinary 时返回 nil。
func (v Value) Leaf() BinaryLeaf {
	return v.leaf
}

// Len 返回 Sequence 的元素个数或 Mapping 的成员个数。
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.items)
	case KindMapping:
		return len(v.members)
	default:
		return 0
	}
}

// Get 按键查找 Mapping 成员。
func (v Value) Get(key string) (Value, bool) {
	for _, m := range v.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// Index 返回 Sequence 的第 i 个元素。
func (v Value) Index(i int) (Value, bool) {
	if i < 0 || i >= len(v.items) {
		return Value{}, false
	}
	return v.items[i], true
}

// Walk 以深度优先、先序的方式访问值树，fn 返回 false 时不再进入当前节点的子节点。
func (v Value) Walk(fn func(v Value) bool) {
	if !fn(v) {
		return
	}
	switch v.kind {
	case KindSequence:
		for _, item := range v.items {
			item.Walk(fn)
		}
	case KindMapping:
		for _, m := range v.members {
			m.Value.Walk(fn)
		}
	}
}

// Interface 把值树转换为 encoding/json 风格的 Go 值：
// map[string]any、[]any、float64、string、bool、nil，二进制叶子原样返回。
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		f, _ := strconv.ParseFloat(v.s, 64)
		return f
	case KindString:
		return v.s
	case KindSequence:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(v.members))
		for _, m := range v.members {
			out[m.Key] = m.Value.Interface()
		}
		return out
	case KindBinary:
		return v.leaf
	default:
		return nil
	}
}

// MarshalJSON 输出紧凑 JSON，Mapping 保持成员顺序。
// 值树中仍包含二进制叶子时返回 merr.ErrUnsupportedValue。
func (v Value) MarshalJSON() ([]byte, error) {
	return v.appendJSON(make([]byte, 0, 64))
}

func (v Value) appendJSON(dst []byte) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return append(dst, "null"...), nil
	case KindBool:
		return strconv.AppendBool(dst, v.b), nil
	case KindNumber:
		return append(dst, v.s...), nil
	case KindString:
		return appendString(dst, v.s)
	case KindSequence:
		var err error
		dst = append(dst, '[')
		for i, item := range v.items {
			if i > 0 {
				dst = append(dst, ',')
			}
			if dst, err = item.appendJSON(dst); err != nil {
				return nil, err
			}
		}
		return append(dst, ']'), nil
	case KindMapping:
		var err error
		dst = append(dst, '{')
		for i, m := range v.members {
			if i > 0 {
				dst = append(dst, ',')
			}
			if dst, err = appendString(dst, m.Key); err != nil {
				return nil, err
			}
			dst = append(dst, ':')
			if dst, err = m.Value.appendJSON(dst); err != nil {
				return nil, err
			}
		}
		return append(dst, '}'), nil
	case KindBinary:
		return nil, merr.WrapErrUnsupportedValue("", "binary leaf", "binary leaf must be tokenized before marshal")
	default:
		return nil, errors.Newf("unknown value kind %d", v.kind)
	}
}

func appendString(dst []byte, s string) ([]byte, error) {
	quoted, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return append(dst, quoted...), nil
}
