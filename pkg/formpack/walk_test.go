package formpack

import (
	"math"
	"mime/multipart"
	"net/textproto"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/formpack-go/internal/json"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

func marshalWalk(t *testing.T, graph any) string {
	t.Helper()
	v, err := Walk(graph, nil)
	require.NoError(t, err)
	data, err := v.MarshalJSON()
	require.NoError(t, err)
	return string(data)
}

type person struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

type Base struct {
	ID      int64  `json:"id"`
	Shadow  string `json:"shadow"`
	private string
}

type tagged struct {
	Base
	*Extra
	Shadow   string            `json:"shadow"`
	Skip     string            `json:"-"`
	Dash     string            `json:"-,"`
	Empty    string            `json:"empty,omitempty"`
	Count    int64             `json:"count,string"`
	Flag     bool              `json:",string"`
	Untagged float64
	Raw      []byte            `json:"raw"`
	When     time.Time         `json:"when"`
	Labels   map[string]string `json:"labels,omitempty"`
	hidden   int
}

type Extra struct {
	Note string `json:"note"`
}

func TestWalkStruct(t *testing.T) {
	assert.Equal(t, `{"name":"John Doe","age":30}`, marshalWalk(t, person{Name: "John Doe", Age: 30}))

	v := tagged{
		Base:     Base{ID: 7, Shadow: "base"},
		Shadow:   "outer",
		Skip:     "skip",
		Dash:     "dash",
		Count:    42,
		Flag:     true,
		Untagged: 0.5,
		Raw:      []byte("hi"),
		When:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		hidden:   1,
	}
	assert.Equal(t,
		`{"id":7,"shadow":"outer","-":"dash","count":"42","Flag":"true","Untagged":0.5,"raw":"aGk=","when":"2024-01-02T03:04:05Z"}`,
		marshalWalk(t, v))

	v.Extra = &Extra{Note: "n"}
	v.Labels = map[string]string{"b": "2", "a": "1"}
	assert.Equal(t,
		`{"id":7,"note":"n","shadow":"outer","-":"dash","count":"42","Flag":"true","Untagged":0.5,"raw":"aGk=","when":"2024-01-02T03:04:05Z","labels":{"a":"1","b":"2"}}`,
		marshalWalk(t, v))
}

func TestWalkMatchesEncodingJSON(t *testing.T) {
	graphs := []any{
		map[string]any{"b": []any{1, "two", 3.25, nil, true}, "a": map[int]string{10: "x", 2: "y"}},
		[]float64{0, 1e-7, 1e21, 123456789, -0.000001, 1.5},
		[]float32{1e-7, 3.14},
		map[string]json.Number{"n": "12.50"},
		struct {
			P *int
			S []string
			M map[string]int
		}{},
		[2]uint8{1, 2},
		"<html>&amp;",
	}
	for _, g := range graphs {
		want, err := json.Marshal(g)
		require.NoError(t, err)
		assert.JSONEq(t, string(want), marshalWalk(t, g))
	}
}

func TestWalkFloatFormat(t *testing.T) {
	assert.Equal(t, "1e-7", formatFloat(1e-7, 64))
	assert.Equal(t, "1e+21", formatFloat(1e21, 64))
	assert.Equal(t, "100000000000000000000", formatFloat(1e20, 64))
	assert.Equal(t, "0.000001", formatFloat(1e-6, 64))
	assert.Equal(t, "3.14", formatFloat(float64(float32(3.14)), 32))
}

func TestWalkBinaryLeaves(t *testing.T) {
	a := NewBlob("a.png", "image/png", []byte("A"))
	b := &FsFile{Name: "b.txt", Type: "text/plain"}
	fh := &multipart.FileHeader{Filename: "c.bin", Header: textproto.MIMEHeader{"Content-Type": {"application/x-c"}}}

	v, err := Walk(map[string]any{
		"one":  a,
		"many": []BinaryLeaf{a, b},
		"fh":   fh,
	}, nil)
	require.NoError(t, err)

	one, _ := v.Get("one")
	assert.Equal(t, KindBinary, one.Kind())
	assert.Equal(t, "a.png", one.Leaf().Filename())

	many, _ := v.Get("many")
	require.Equal(t, 2, many.Len())
	assert.Equal(t, "a.png", many.Items()[0].Leaf().Filename())
	assert.Equal(t, "b.txt", many.Items()[1].Leaf().Filename())

	hdr, _ := v.Get("fh")
	require.Equal(t, KindBinary, hdr.Kind())
	assert.Equal(t, "c.bin", hdr.Leaf().Filename())
	assert.Equal(t, "application/x-c", hdr.Leaf().ContentType())
}

func TestWalkAddressableLeaf(t *testing.T) {
	type holder struct {
		File FsFile `json:"file"`
	}
	h := &holder{File: FsFile{Name: "x.bin"}}

	v, err := Walk(h, nil)
	require.NoError(t, err)
	file, _ := v.Get("file")
	assert.Equal(t, KindBinary, file.Kind())
}

func TestWalkCustomCapability(t *testing.T) {
	type upload struct {
		Name string
		Data []byte
	}
	capability := CapabilityFunc(func(v any) (BinaryLeaf, bool) {
		if u, ok := v.(upload); ok {
			return NewBlob(u.Name, "", u.Data), true
		}
		return nil, false
	})

	v, err := Walk([]any{upload{Name: "u.bin"}, "plain"}, ChainCapability(nil, capability, DefaultCapability))
	require.NoError(t, err)
	assert.Equal(t, KindBinary, v.Items()[0].Kind())
	assert.Equal(t, KindString, v.Items()[1].Kind())
}

type selfRef struct {
	Name string   `json:"name"`
	Next *selfRef `json:"next"`
}

func TestWalkCycles(t *testing.T) {
	node := &selfRef{Name: "a"}
	node.Next = node
	_, err := Walk(node, nil)
	assert.ErrorIs(t, err, merr.ErrCyclicStructure)
	assert.Contains(t, err.Error(), "$.next")

	m := map[string]any{}
	m["self"] = m
	_, err = Walk(m, nil)
	assert.ErrorIs(t, err, merr.ErrCyclicStructure)

	s := []any{nil}
	s[0] = s
	_, err = Walk(s, nil)
	assert.ErrorIs(t, err, merr.ErrCyclicStructure)

	// 同一个对象在兄弟节点中出现两次不是环。
	shared := &person{Name: "shared"}
	assert.Equal(t, `[{"name":"shared","age":0},{"name":"shared","age":0}]`, marshalWalk(t, []*person{shared, shared}))
}

type failingMarshaler struct{}

func (failingMarshaler) MarshalJSON() ([]byte, error) {
	return nil, errors.New("cannot marshal")
}

type brokenMarshaler struct{}

func (brokenMarshaler) MarshalJSON() ([]byte, error) {
	return []byte(`{"a":`), nil
}

func TestWalkUnsupported(t *testing.T) {
	cases := map[string]any{
		"$.posts[1].image": map[string]any{"posts": []any{map[string]any{"image": "ok"}, map[string]any{"image": make(chan int)}}},
		"$.fn":             map[string]any{"fn": func() {}},
		"$[0]":             []any{complex(1, 2)},
		"$.nan":            map[string]float64{"nan": math.NaN()},
		"$.inf":            map[string]any{"inf": math.Inf(1)},
		"$.key":            map[string]any{"key": map[float64]int{1.5: 1}},
		"$.m":              map[string]any{"m": failingMarshaler{}},
		"$.b":              map[string]any{"b": brokenMarshaler{}},
		"$.num":            map[string]any{"num": json.Number("abc")},
	}
	for path, graph := range cases {
		_, err := Walk(graph, nil)
		assert.ErrorIs(t, err, merr.ErrUnsupportedValue, path)
		assert.Contains(t, err.Error(), path)
	}
}

func TestWalkNilValues(t *testing.T) {
	var p *person
	var leaf *FsFile
	var iface BinaryLeaf = leaf
	assert.Equal(t, `[null,null,null,null,null]`, marshalWalk(t, []any{nil, p, leaf, iface, map[string]int(nil)}))
}

func TestWalkValuePassthrough(t *testing.T) {
	v := Mapping(Member{Key: "z", Value: Int(1)}, Member{Key: "a", Value: Int(2)})
	assert.Equal(t, `{"wrapped":{"z":1,"a":2}}`, marshalWalk(t, map[string]any{"wrapped": v}))
}
