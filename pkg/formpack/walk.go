package formpack

import (
	"encoding"
	"encoding/base64"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/lk2023060901/formpack-go/internal/json"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
	"github.com/lk2023060901/formpack-go/pkg/util/typeutil"
)

const rootPath = "$"

var (
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	numberType        = reflect.TypeOf((*json.Number)(nil)).Elem()
	valueType         = reflect.TypeOf((*Value)(nil)).Elem()
)

// Walk 把任意 Go 值转换为值树。capability 为 nil 时使用 DefaultCapability。
//
// 转换规则与 encoding/json 一致：结构体按 json 标签输出导出字段，map 的键按字典序排列，
// []byte 输出为 base64 字符串，实现了 json.Marshaler 的值先序列化再解析。
// 被 capability 识别的值变为 KindBinary 叶子。
// 当前路径上重复出现的指针、map 或切片返回 merr.ErrCyclicStructure；
// 通道、函数、复数、NaN 与 Inf 返回 merr.ErrUnsupportedValue。
func Walk(graph any, capability Capability) (Value, error) {
	if capability == nil {
		capability = DefaultCapability
	}
	w := &walker{
		capability: capability,
		visiting:   typeutil.NewSet[visitKey](),
	}
	return w.walk(reflect.ValueOf(graph), rootPath)
}

// visitKey 标识当前路径上的一个引用类型节点，切片需要同时比较长度。
type visitKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type walker struct {
	capability Capability
	visiting   typeutil.Set[visitKey]
}

func (w *walker) walk(v reflect.Value, path string) (Value, error) {
	if !v.IsValid() {
		return Null(), nil
	}
	if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
		return Null(), nil
	}
	if v.Kind() == reflect.Interface {
		return w.walk(v.Elem(), path)
	}
	if leaf, ok := w.detect(v); ok {
		return Binary(leaf), nil
	}
	if v.Type() == valueType && v.CanInterface() {
		return v.Interface().(Value), nil
	}
	if m, ok := asInterface[json.Marshaler](v, marshalerType); ok {
		return marshaled(m, v.Type(), path)
	}
	if m, ok := asInterface[encoding.TextMarshaler](v, textMarshalerType); ok {
		text, err := m.MarshalText()
		if err != nil {
			return Value{}, merr.WrapErrUnsupportedValue(path, v.Type().String(), err.Error())
		}
		return String(string(text)), nil
	}

	switch v.Kind() {
	case reflect.Bool:
		return Bool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(strconv.FormatInt(v.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(strconv.FormatUint(v.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, merr.WrapErrUnsupportedValue(path, v.Type().String(), "NaN or Inf is not a JSON number")
		}
		return Number(formatFloat(f, v.Type().Bits())), nil
	case reflect.String:
		if v.Type() == numberType {
			n := v.String()
			if n == "" {
				n = "0"
			}
			if !isNumber(n) {
				return Value{}, merr.WrapErrUnsupportedValue(path, v.Type().String(), "invalid number literal "+strconv.Quote(n))
			}
			return Number(n), nil
		}
		return String(v.String()), nil
	case reflect.Pointer:
		key := visitKey{ptr: v.Pointer(), typ: v.Type()}
		if !w.visiting.TryInsert(key) {
			return Value{}, merr.WrapErrCyclicStructure(path)
		}
		defer w.visiting.Remove(key)
		return w.walk(v.Elem(), path)
	case reflect.Map:
		return w.walkMap(v, path)
	case reflect.Slice:
		if v.IsNil() {
			return Null(), nil
		}
		if isByteSlice(v.Type()) {
			return String(base64.StdEncoding.EncodeToString(v.Bytes())), nil
		}
		key := visitKey{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}
		if !w.visiting.TryInsert(key) {
			return Value{}, merr.WrapErrCyclicStructure(path)
		}
		defer w.visiting.Remove(key)
		return w.walkArray(v, path)
	case reflect.Array:
		return w.walkArray(v, path)
	case reflect.Struct:
		return w.walkStruct(v, path)
	default:
		return Value{}, merr.WrapErrUnsupportedValue(path, v.Type().String())
	}
}

// detect 依次用值本身和它的地址询问 capability，
// 使指针接收者实现的 BinaryLeaf 在以值形式出现时也能被识别。
func (w *walker) detect(v reflect.Value) (BinaryLeaf, bool) {
	if v.CanInterface() {
		if leaf, ok := w.capability.Detect(v.Interface()); ok && leaf != nil {
			return leaf, true
		}
	}
	if v.Kind() != reflect.Pointer && v.CanAddr() && v.Addr().CanInterface() {
		if leaf, ok := w.capability.Detect(v.Addr().Interface()); ok && leaf != nil {
			return leaf, true
		}
	}
	return nil, false
}

func asInterface[T any](v reflect.Value, iface reflect.Type) (T, bool) {
	var zero T
	if v.Type().Implements(iface) && v.CanInterface() {
		t, ok := v.Interface().(T)
		return t, ok
	}
	if v.Kind() != reflect.Pointer && v.CanAddr() && reflect.PointerTo(v.Type()).Implements(iface) && v.Addr().CanInterface() {
		t, ok := v.Addr().Interface().(T)
		return t, ok
	}
	return zero, false
}

func marshaled(m json.Marshaler, typ reflect.Type, path string) (Value, error) {
	data, err := m.MarshalJSON()
	if err != nil {
		return Value{}, merr.WrapErrUnsupportedValue(path, typ.String(), err.Error())
	}
	val, err := ParseValue(data)
	if err != nil {
		return Value{}, merr.WrapErrUnsupportedValue(path, typ.String(), "MarshalJSON returned invalid JSON")
	}
	return val, nil
}

func (w *walker) walkMap(v reflect.Value, path string) (Value, error) {
	if v.IsNil() {
		return Null(), nil
	}
	key := visitKey{ptr: v.Pointer(), typ: v.Type()}
	if !w.visiting.TryInsert(key) {
		return Value{}, merr.WrapErrCyclicStructure(path)
	}
	defer w.visiting.Remove(key)

	type entry struct {
		key string
		val reflect.Value
	}
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, ok := mapKey(iter.Key())
		if !ok {
			return Value{}, merr.WrapErrUnsupportedValue(path, v.Type().String(), "map key must be a string or an integer")
		}
		entries = append(entries, entry{key: k, val: iter.Value()})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return strings.Compare(a.key, b.key)
	})

	members := make([]Member, 0, len(entries))
	for _, e := range entries {
		val, err := w.walk(e.val, path+"."+e.key)
		if err != nil {
			return Value{}, err
		}
		members = append(members, Member{Key: e.key, Value: val})
	}
	return Mapping(members...), nil
}

func mapKey(k reflect.Value) (string, bool) {
	if k.Kind() == reflect.String {
		return k.String(), true
	}
	if m, ok := asInterface[encoding.TextMarshaler](k, textMarshalerType); ok {
		text, err := m.MarshalText()
		return string(text), err == nil
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), true
	default:
		return "", false
	}
}

func (w *walker) walkArray(v reflect.Value, path string) (Value, error) {
	items := make([]Value, v.Len())
	for i := range items {
		val, err := w.walk(v.Index(i), path+"["+strconv.Itoa(i)+"]")
		if err != nil {
			return Value{}, err
		}
		items[i] = val
	}
	return Sequence(items...), nil
}

func (w *walker) walkStruct(v reflect.Value, path string) (Value, error) {
	fields := cachedFields(v.Type())
	members := make([]Member, 0, len(fields))
	for i := range fields {
		f := &fields[i]
		fv, ok := fieldByIndex(v, f.index)
		if !ok {
			continue
		}
		if f.omitEmpty && isEmptyValue(fv) {
			continue
		}
		val, err := w.walk(fv, path+"."+f.name)
		if err != nil {
			return Value{}, err
		}
		if f.quoted {
			if val, err = quoteScalar(val); err != nil {
				return Value{}, err
			}
		}
		members = append(members, Member{Key: f.name, Value: val})
	}
	return Mapping(members...), nil
}

// quoteScalar 实现 `json:",string"`：标量以其 JSON 文本作为字符串输出。
func quoteScalar(v Value) (Value, error) {
	switch v.Kind() {
	case KindBool, KindNumber, KindString:
		text, err := v.MarshalJSON()
		if err != nil {
			return Value{}, err
		}
		return String(string(text)), nil
	default:
		return v, nil
	}
}

func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Interface, reflect.Pointer:
		return v.IsZero()
	}
	return false
}

func isByteSlice(t reflect.Type) bool {
	if t.Elem().Kind() != reflect.Uint8 {
		return false
	}
	p := reflect.PointerTo(t.Elem())
	return !p.Implements(marshalerType) && !p.Implements(textMarshalerType)
}

// formatFloat 与 encoding/json 的浮点数输出保持一致。
func formatFloat(f float64, bits int) string {
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 {
		if bits == 64 && (abs < 1e-6 || abs >= 1e21) ||
			bits == 32 && (float32(abs) < 1e-6 || float32(abs) >= 1e21) {
			format = 'e'
		}
	}
	b := strconv.AppendFloat(nil, f, format, -1, bits)
	if format == 'e' {
		// e-09 => e-9
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	return string(b)
}

// isNumber 判断 s 是否为一个完整的 JSON 数字字面量。
func isNumber(s string) bool {
	if s == "" {
		return false
	}
	if c := s[0]; c != '-' && (c < '0' || c > '9') {
		return false
	}
	if c := s[len(s)-1]; c < '0' || c > '9' {
		return false
	}
	return json.Valid([]byte(s))
}

// field 描述结构体中一个参与序列化的字段。
type field struct {
	name      string
	index     []int
	tagged    bool
	omitEmpty bool
	quoted    bool
}

var fieldCache = xsync.NewMapOf[reflect.Type, []field]()

func cachedFields(t reflect.Type) []field {
	fields, _ := fieldCache.LoadOrCompute(t, func() []field {
		return typeFields(t)
	})
	return fields
}

// typeFields 按 encoding/json 的规则收集字段：
// 广度优先展开匿名嵌入的结构体，同名字段取层级最浅者，同层级冲突时带标签者优先，
// 仍无法区分时全部丢弃。
func typeFields(t reflect.Type) []field {
	type queued struct {
		typ   reflect.Type
		index []int
	}

	var fields []field
	visited := typeutil.NewSet[reflect.Type]()
	next := []queued{{typ: t}}
	for len(next) > 0 {
		current := next
		next = nil
		for _, q := range current {
			if !visited.TryInsert(q.typ) {
				continue
			}
			for i := 0; i < q.typ.NumField(); i++ {
				sf := q.typ.Field(i)
				ft := sf.Type
				if ft.Name() == "" && ft.Kind() == reflect.Pointer {
					ft = ft.Elem()
				}
				if sf.Anonymous {
					if !sf.IsExported() && ft.Kind() != reflect.Struct {
						continue
					}
				} else if !sf.IsExported() {
					continue
				}

				tag := sf.Tag.Get("json")
				if tag == "-" {
					continue
				}
				name, opts, _ := strings.Cut(tag, ",")
				if !isValidTag(name) {
					name = ""
				}
				index := append(slices.Clone(q.index), i)

				if name == "" && sf.Anonymous && ft.Kind() == reflect.Struct {
					next = append(next, queued{typ: ft, index: index})
					continue
				}
				f := field{
					name:      name,
					index:     index,
					tagged:    name != "",
					omitEmpty: hasOption(opts, "omitempty"),
				}
				if f.name == "" {
					f.name = sf.Name
				}
				if hasOption(opts, "string") {
					switch ft.Kind() {
					case reflect.Bool,
						reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
						reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
						reflect.Float32, reflect.Float64,
						reflect.String:
						f.quoted = true
					}
				}
				fields = append(fields, f)
			}
		}
	}

	slices.SortStableFunc(fields, func(a, b field) int {
		if c := strings.Compare(a.name, b.name); c != 0 {
			return c
		}
		if c := len(a.index) - len(b.index); c != 0 {
			return c
		}
		if a.tagged != b.tagged {
			if a.tagged {
				return -1
			}
			return 1
		}
		return slices.Compare(a.index, b.index)
	})

	out := make([]field, 0, len(fields))
	for i := 0; i < len(fields); {
		j := i + 1
		for j < len(fields) && fields[j].name == fields[i].name {
			j++
		}
		group := fields[i:j]
		if len(group) == 1 ||
			len(group[0].index) < len(group[1].index) ||
			group[0].tagged && !group[1].tagged {
			out = append(out, group[0])
		}
		i = j
	}

	slices.SortFunc(out, func(a, b field) int {
		return slices.Compare(a.index, b.index)
	})
	return out
}

func hasOption(opts, name string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == name {
			return true
		}
	}
	return false
}

func isValidTag(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case strings.ContainsRune("!#$%&()*+-./:;<=>?@[]^_{|}~ ", c):
		case !unicode.IsLetter(c) && !unicode.IsDigit(c):
			return false
		}
	}
	return true
}
