package formpack

import (
	"io"
	"strconv"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"

	"github.com/lk2023060901/formpack-go/internal/json"
	"github.com/lk2023060901/formpack-go/pkg/log"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

var iterAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseValue 把 JSON 文本解析为值树，对象成员保持原始顺序，重复的键以最后一次出现为准。
// 非法 JSON 或值之后还有多余内容时返回 merr.ErrJSONParse。
func ParseValue(data []byte) (Value, error) {
	iter := iterAPI.BorrowIterator(data)
	defer iterAPI.ReturnIterator(iter)

	v := readValue(iter)
	if iter.Error != nil && iter.Error != io.EOF {
		return Value{}, merr.WrapErrJSONParse(iter.Error)
	}
	iter.Error = nil
	iter.WhatIsNext()
	if iter.Error != io.EOF {
		return Value{}, merr.WrapErrJSONParse(errors.New("unexpected data after top-level value"))
	}
	return v, nil
}

func readValue(iter *jsoniter.Iterator) Value {
	switch iter.WhatIsNext() {
	case jsoniter.StringValue:
		return String(iter.ReadString())
	case jsoniter.NumberValue:
		n := string(iter.ReadNumber())
		if iterOK(iter) && !isNumber(n) {
			iter.ReportError("readValue", "invalid number "+strconv.Quote(n))
		}
		return Number(n)
	case jsoniter.NilValue:
		iter.ReadNil()
		return Null()
	case jsoniter.BoolValue:
		return Bool(iter.ReadBool())
	case jsoniter.ArrayValue:
		items := []Value{}
		iter.ReadArrayCB(func(iter *jsoniter.Iterator) bool {
			items = append(items, readValue(iter))
			return iterOK(iter)
		})
		return Sequence(items...)
	case jsoniter.ObjectValue:
		members := []Member{}
		index := map[string]int{}
		iter.ReadMapCB(func(iter *jsoniter.Iterator, key string) bool {
			val := readValue(iter)
			// 重复的键保留第一次出现的位置，值以最后一次为准。
			if i, ok := index[key]; ok {
				members[i].Value = val
			} else {
				index[key] = len(members)
				members = append(members, Member{Key: key, Value: val})
			}
			return iterOK(iter)
		})
		return Mapping(members...)
	default:
		iter.ReportError("readValue", "expect a JSON value")
		return Value{}
	}
}

// iterOK 判断迭代器是否仍可继续，读到输入末尾本身不算错误。
func iterOK(iter *jsoniter.Iterator) bool {
	return iter.Error == nil || iter.Error == io.EOF
}

// resolver 把解析后的值树转换为 Go 值，并把令牌替换为对应的文件。
type resolver struct {
	protocol  Protocol
	lookup    func(name string) (any, bool)
	useNumber bool
	logger    *log.MLogger
}

func (r *resolver) resolve(v Value) (any, error) {
	switch v.Kind() {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.Bool(), nil
	case KindNumber:
		if r.useNumber {
			return json.Number(v.Text()), nil
		}
		f, err := strconv.ParseFloat(v.Text(), 64)
		if err != nil {
			return nil, merr.WrapErrJSONParse(err, "number out of float64 range")
		}
		return f, nil
	case KindString:
		return r.resolveString(v.Text()), nil
	case KindSequence:
		out := make([]any, len(v.Items()))
		for i, item := range v.Items() {
			val, err := r.resolve(item)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil
	case KindMapping:
		out := make(map[string]any, v.Len())
		for _, m := range v.Members() {
			val, err := r.resolve(m.Value)
			if err != nil {
				return nil, err
			}
			out[m.Key] = val
		}
		return out, nil
	default:
		return nil, merr.WrapErrJSONParse(errors.Newf("unexpected %s value", v.Kind()))
	}
}

// resolveString 只有当 s 是合法令牌且存在同名分段时才替换；
// 找不到分段的令牌原样保留为字符串。
func (r *resolver) resolveString(s string) any {
	if !r.protocol.IsToken(s) {
		return s
	}
	if part, ok := r.lookup(s); ok {
		return part
	}
	r.logger.Debug("token has no matching part, keep it as string", log.FieldToken(s))
	return s
}
