package formpack

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/samber/lo"

	"github.com/lk2023060901/formpack-go/pkg/util/merr"
	"github.com/lk2023060901/formpack-go/pkg/util/typeutil"
)

// defaultBlobName 为没有文件名的附件使用的分段文件名，
// 没有 filename 的分段会被接收端当作普通字段。
const defaultBlobName = "blob"

// BinaryPart 是 Envelope 中的一个附件分段。
type BinaryPart struct {
	Token string
	Leaf  BinaryLeaf
}

// Envelope 是打包结果：JSON 文本加上按遍历顺序排列的附件分段。
// Envelope 不是并发安全的，WriteTo 与 Reader 每次都会重新打开附件。
type Envelope struct {
	JSON     []byte
	Parts    []BinaryPart
	Protocol Protocol

	boundary string
}

// NewEnvelope 使用给定协议构造 Envelope，protocol 为零值时使用默认协议。
func NewEnvelope(protocol Protocol, data []byte, parts []BinaryPart) *Envelope {
	e := &Envelope{
		JSON:     data,
		Parts:    parts,
		Protocol: protocol.orDefault(),
	}
	e.Boundary()
	return e
}

// Boundary 返回 multipart 分隔符，首次调用时随机生成。
func (e *Envelope) Boundary() string {
	if e.boundary == "" {
		e.boundary = multipart.NewWriter(io.Discard).Boundary()
	}
	return e.boundary
}

// ContentType 返回带 boundary 参数的 multipart/form-data 类型。
func (e *Envelope) ContentType() string {
	return "multipart/form-data; boundary=" + e.Boundary()
}

// Tokens 按分段顺序返回全部令牌。
func (e *Envelope) Tokens() []string {
	return lo.Map(e.Parts, func(p BinaryPart, _ int) string {
		return p.Token
	})
}

// WriteTo 以 multipart/form-data 格式写出 Envelope：先写 JSON 字段，再按顺序写每个附件。
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	mw := multipart.NewWriter(cw)
	if err := mw.SetBoundary(e.Boundary()); err != nil {
		return cw.n, err
	}

	protocol := e.Protocol.orDefault()
	fw, err := mw.CreateFormField(protocol.JSONField)
	if err != nil {
		return cw.n, err
	}
	if _, err := fw.Write(e.JSON); err != nil {
		return cw.n, err
	}

	for _, part := range e.Parts {
		if err := writePart(mw, part); err != nil {
			return cw.n, err
		}
	}

	err = mw.Close()
	return cw.n, err
}

func writePart(mw *multipart.Writer, part BinaryPart) error {
	filename := part.Leaf.Filename()
	if filename == "" {
		filename = defaultBlobName
	}
	contentType := part.Leaf.ContentType()
	if contentType == "" {
		contentType = defaultContentType
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(part.Token), escapeQuotes(filename)))
	h.Set("Content-Type", contentType)
	pw, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	rc, err := part.Leaf.Open()
	if err != nil {
		return fmt.Errorf("open attachment %s: %w", part.Token, err)
	}
	defer rc.Close()
	_, err = io.Copy(pw, rc)
	return err
}

// Reader 返回一个流式读取整个请求体的 ReadCloser，由后台协程通过 io.Pipe 写入。
// 提前关闭 Reader 会终止后台写入。
func (e *Envelope) Reader() io.ReadCloser {
	e.Boundary()
	pr, pw := io.Pipe()
	go func() {
		_, err := e.WriteTo(pw)
		pw.CloseWithError(err)
	}()
	return pr
}

// Validate 检查令牌与分段一一对应：JSON 中出现的每个令牌恰好有一个分段，
// 每个分段的令牌至少在 JSON 中出现一次。
func (e *Envelope) Validate() error {
	protocol := e.Protocol.orDefault()
	root, err := ParseValue(e.JSON)
	if err != nil {
		return merr.WrapErrEnvelopeInvalid("json field is not valid JSON")
	}

	inJSON := typeutil.NewSet[string]()
	root.Walk(func(v Value) bool {
		if v.Kind() == KindString && protocol.IsToken(v.Text()) {
			inJSON.Insert(v.Text())
		}
		return true
	})

	inParts := typeutil.NewSet[string]()
	for _, part := range e.Parts {
		if !protocol.IsToken(part.Token) {
			return merr.WrapErrEnvelopeInvalid("malformed part token " + part.Token)
		}
		if part.Leaf == nil {
			return merr.WrapErrEnvelopeInvalid("part " + part.Token + " has no payload")
		}
		if !inParts.TryInsert(part.Token) {
			return merr.WrapErrEnvelopeInvalid("duplicate part " + part.Token)
		}
	}

	if missing := inJSON.Complement(inParts); missing.Len() > 0 {
		return merr.WrapErrEnvelopeInvalid("tokens without part: " + strings.Join(typeutil.SortedCollect(missing), ","))
	}
	if unused := inParts.Complement(inJSON); unused.Len() > 0 {
		return merr.WrapErrEnvelopeInvalid("parts not referenced by json: " + strings.Join(typeutil.SortedCollect(unused), ","))
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// escapeQuotes 与 mime/multipart 对 Content-Disposition 参数的转义方式一致。
func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
