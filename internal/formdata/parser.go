package formdata

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/lk2023060901/formpack-go/pkg/log"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

const (
	mediaTypeMultipart  = "multipart/form-data"
	mediaTypeURLEncoded = "application/x-www-form-urlencoded"

	defaultFileType = "application/octet-stream"
)

// Parser 流式解析 multipart/form-data 与 application/x-www-form-urlencoded 请求体。
// Parser 自身无状态，可以被多个请求并发使用。
type Parser struct {
	cfg Config
}

// NewParser 创建一个 Parser，非法的摘要算法或字符集返回 merr.ErrParameterInvalid。
func NewParser(opts ...Option) (*Parser, error) {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.fillDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Parser{cfg: cfg}, nil
}

// Config 返回填充默认值之后的配置副本。
func (p *Parser) Config() Config {
	return p.cfg
}

// Parse 解析 body。失败或 ctx 被取消时，已暂存的文件会在返回错误前删除。
func (p *Parser) Parse(ctx context.Context, body io.Reader, contentType string) (*Form, error) {
	s := &parseState{
		ctx:    ctx,
		cfg:    &p.cfg,
		form:   newForm(),
		logger: p.logger(ctx),
	}
	if err := s.initDecoder(); err != nil {
		return nil, err
	}

	err := s.parse(ctxReader{ctx: ctx, r: body}, contentType)
	if err != nil {
		s.cleanup()
		return nil, err
	}
	return s.form, nil
}

func (p *Parser) logger(ctx context.Context) *log.MLogger {
	if l, ok := log.FromContext(ctx); ok {
		return l.WithComponent("formdata")
	}
	if p.cfg.Logger != nil {
		return p.cfg.Logger
	}
	return log.With(log.FieldComponent("formdata"))
}

// ctxReader 在每次读取前检查 ctx。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// parseState 保存单次解析的全部可变状态。
type parseState struct {
	ctx    context.Context
	cfg    *Config
	form   *Form
	logger *log.MLogger

	decoder    *encoding.Decoder
	fileBytes  int64
	fieldBytes int64
	// pending 为正在写入、尚未登记到 form 的暂存文件。
	pending string
}

func (s *parseState) initDecoder() error {
	enc, err := htmlindex.Get(s.cfg.Encoding)
	if err != nil {
		return merr.WrapErrParameterInvalidMsg("unsupported encoding %q", s.cfg.Encoding)
	}
	if name, _ := htmlindex.Name(enc); name != "utf-8" {
		s.decoder = enc.NewDecoder()
	}
	return nil
}

func (s *parseState) parse(body io.Reader, contentType string) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return merr.WrapErrTransportParse(err, "invalid content type")
	}

	switch mediaType {
	case mediaTypeMultipart:
		boundary := params["boundary"]
		if boundary == "" {
			return merr.WrapErrTransportParse(http.ErrMissingBoundary)
		}
		return s.parseMultipart(multipart.NewReader(body, boundary))
	case mediaTypeURLEncoded:
		return s.parseURLEncoded(body)
	default:
		return merr.WrapErrTransportParse(errors.Newf("unsupported content type %q", mediaType))
	}
}

func (s *parseState) parseMultipart(mr *multipart.Reader) error {
	for {
		if err := s.ctx.Err(); err != nil {
			return s.transportErr(err)
		}

		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return s.transportErr(err)
		}

		err = s.handlePart(part)
		part.Close()
		if err != nil {
			return err
		}
	}
}

func (s *parseState) handlePart(part *multipart.Part) error {
	name := part.FormName()
	if name == "" {
		return nil
	}

	_, params, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if _, isFile := params["filename"]; !isFile {
		return s.handleField(name, part)
	}

	filename := part.FileName()
	if filename == "" {
		// 浏览器对未选择文件的 <input type="file"> 也会发送一个空分段。
		s.logger.Debug("skip file part without filename", log.FieldPart(name))
		return nil
	}

	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultFileType
	}
	file, err := s.stageFile(part, name, filename, contentType)
	if err != nil {
		return err
	}
	if prev, ok := s.form.Files[name]; ok {
		if err := prev.Remove(); err != nil {
			s.logger.Warn("failed to remove overridden staged file",
				log.FieldPart(name), zap.String("path", prev.Path), zap.Error(err))
		}
	}
	s.form.Files[name] = file
	return nil
}

func (s *parseState) handleField(name string, r io.Reader) error {
	remaining := s.cfg.MaxFieldsSize - s.fieldBytes
	data, err := io.ReadAll(io.LimitReader(r, remaining+1))
	s.fieldBytes += int64(len(data))
	if err != nil {
		return s.transportErr(err)
	}
	if s.fieldBytes > s.cfg.MaxFieldsSize {
		return merr.WrapErrSizeLimit("fields", s.fieldBytes, s.cfg.MaxFieldsSize,
			"maxFieldsSize exceeded while receiving "+name)
	}

	value, err := s.decode(data)
	if err != nil {
		return merr.WrapErrTransportParse(err, "decode field "+name)
	}
	s.form.Fields[name] = value
	return nil
}

func (s *parseState) parseURLEncoded(body io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(body, s.cfg.MaxFieldsSize+1))
	if err != nil {
		return s.transportErr(err)
	}
	if int64(len(data)) > s.cfg.MaxFieldsSize {
		return merr.WrapErrSizeLimit("fields", int64(len(data)), s.cfg.MaxFieldsSize)
	}

	values, err := url.ParseQuery(string(data))
	if err != nil {
		return merr.WrapErrTransportParse(err, "parse urlencoded body")
	}
	for name, vs := range values {
		if len(vs) == 0 {
			continue
		}
		value, err := s.decode([]byte(vs[len(vs)-1]))
		if err != nil {
			return merr.WrapErrTransportParse(err, "decode field "+name)
		}
		s.form.Fields[name] = value
	}
	return nil
}

func (s *parseState) decode(data []byte) (string, error) {
	if s.decoder == nil {
		return string(data), nil
	}
	out, err := s.decoder.Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// transportErr 把读取请求体时遇到的错误统一转换为 ErrTransportParse；
// ctx 结束导致的错误同时保留 ctx 的错误标记。
func (s *parseState) transportErr(err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return errors.Mark(merr.WrapErrTransportParse(ctxErr, "request aborted"), ctxErr)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return merr.WrapErrTransportParse(err, "truncated body")
	}
	return merr.WrapErrTransportParse(err)
}

// cleanup 删除本次解析已暂存的所有文件，包括写到一半的文件。
func (s *parseState) cleanup() {
	if s.pending != "" {
		if err := s.cfg.Fs.Remove(s.pending); err != nil {
			s.logger.Warn("failed to remove pending staged file", zap.String("path", s.pending), zap.Error(err))
		}
		s.pending = ""
	}
	if err := s.form.RemoveAll(); err != nil {
		s.logger.Warn("failed to remove staged files", zap.Error(err))
	}
	s.form = newForm()
}
