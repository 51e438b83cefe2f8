package formpack

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/lk2023060901/formpack-go/internal/formdata"
	"github.com/lk2023060901/formpack-go/pkg/log"
	"github.com/lk2023060901/formpack-go/pkg/metrics"
	"github.com/lk2023060901/formpack-go/pkg/util/conc"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

// MapFunc 把一个已暂存的文件转换为最终放入还原结果中的值。
// 同一次解码中的多个调用会并发执行，任何一个返回错误都会使整个解码失败，
// 此时传入的 ctx 会被取消。
type MapFunc func(ctx context.Context, file *formdata.File) (any, error)

// Options 为解码配置。除 MapFiles、MapConcurrency、UseNumber 与 Protocol 外，
// 其余选项直接转交给 formdata.Parser，MaxJSONSize 对应其 MaxFieldsSize。
type Options struct {
	Encoding       string
	Hash           string
	UploadDir      string
	KeepExtensions bool
	MaxFileSize    int64
	MaxJSONSize    int64

	MapFiles MapFunc
	// MapConcurrency 为 MapFiles 协程池容量，<= 0 时使用 GOMAXPROCS。
	MapConcurrency int
	// UseNumber 为 true 时数字还原为 json.Number，否则为 float64。
	UseNumber bool

	Protocol Protocol
	Fs       afero.Fs
	Logger   *log.MLogger
}

// Option 为 Options 的可选配置项。
type Option func(*Options)

func WithEncoding(encoding string) Option {
	return func(o *Options) {
		o.Encoding = encoding
	}
}

// WithHash 设置文件摘要算法：md5、sha1、sha256 或 blake3。
func WithHash(hash string) Option {
	return func(o *Options) {
		o.Hash = hash
	}
}

func WithUploadDir(dir string) Option {
	return func(o *Options) {
		o.UploadDir = dir
	}
}

func WithKeepExtensions(keep bool) Option {
	return func(o *Options) {
		o.KeepExtensions = keep
	}
}

// WithMaxFileSize 设置所有文件累计大小上限，单位字节。
func WithMaxFileSize(n int64) Option {
	return func(o *Options) {
		o.MaxFileSize = n
	}
}

// WithMaxJSONSize 设置所有普通字段（包括 JSON 字段）累计大小上限，单位字节。
func WithMaxJSONSize(n int64) Option {
	return func(o *Options) {
		o.MaxJSONSize = n
	}
}

func WithMapFiles(fn MapFunc) Option {
	return func(o *Options) {
		o.MapFiles = fn
	}
}

func WithMapConcurrency(n int) Option {
	return func(o *Options) {
		o.MapConcurrency = n
	}
}

func WithUseNumber(v bool) Option {
	return func(o *Options) {
		o.UseNumber = v
	}
}

func WithProtocol(p Protocol) Option {
	return func(o *Options) {
		o.Protocol = p
	}
}

// WithFs 设置暂存文件系统。
func WithFs(fs afero.Fs) Option {
	return func(o *Options) {
		o.Fs = fs
	}
}

func WithLogger(l *log.MLogger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Result 是一次解码的结果。
type Result struct {
	// Data 为还原后的值图，令牌已替换为 *formdata.File 或 MapFiles 的返回值。
	// 纯表单请求时为 nil。
	Data any
	// Form 为解析出的原始字段与文件。
	Form *formdata.Form

	plain bool
}

// IsPlainForm 表示请求中没有 JSON 字段，Form 按原样返回。
func (r *Result) IsPlainForm() bool {
	return r.plain
}

// Cleanup 删除本次解码暂存的所有文件。
func (r *Result) Cleanup() error {
	if r == nil {
		return nil
	}
	return r.Form.RemoveAll()
}

// Unpacker 解码 formpack 请求，可以被多个协程并发使用。
//
// 形如令牌但没有同名分段的字符串不会报错，而是原样保留为字符串。
type Unpacker struct {
	log.Binder

	opts   Options
	parser *formdata.Parser
	pool   *conc.Pool[any]
}

// NewUnpacker 创建 Unpacker，配置非法时返回 merr.ErrParameterInvalid。
func NewUnpacker(opts ...Option) (*Unpacker, error) {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	o.Protocol = o.Protocol.orDefault()
	if err := o.Protocol.Validate(); err != nil {
		return nil, err
	}

	parser, err := formdata.NewParser(
		formdata.WithEncoding(o.Encoding),
		formdata.WithHash(o.Hash),
		formdata.WithUploadDir(o.UploadDir),
		formdata.WithKeepExtensions(o.KeepExtensions),
		formdata.WithMaxFileSize(o.MaxFileSize),
		formdata.WithMaxFieldsSize(o.MaxJSONSize),
		formdata.WithFs(o.Fs),
		formdata.WithLogger(o.Logger),
	)
	if err != nil {
		return nil, err
	}

	u := &Unpacker{
		opts:   o,
		parser: parser,
	}
	if o.Logger != nil {
		u.SetLogger(o.Logger)
	}
	if o.MapFiles != nil {
		u.pool = conc.NewPool[any](o.MapConcurrency,
			conc.WithConcealPanic(true),
			conc.WithLogger(u.Logger().WithComponent("formpack-mapfiles")),
		)
	}
	return u, nil
}

// Options 返回 Unpacker 的配置。
func (u *Unpacker) Options() Options {
	return u.opts
}

// ParserConfig 返回底层 formdata.Parser 填充默认值之后的配置。
func (u *Unpacker) ParserConfig() formdata.Config {
	return u.parser.Config()
}

// Close 释放 MapFiles 协程池。
func (u *Unpacker) Close() {
	if u.pool != nil {
		u.pool.Release()
	}
}

// Unpack 解码 HTTP 请求体。
func (u *Unpacker) Unpack(ctx context.Context, r *http.Request) (*Result, error) {
	return u.UnpackReader(ctx, r.Body, r.Header.Get("Content-Type"))
}

// UnpackReader 解码 body。
//
// 没有 JSON 字段时返回 IsPlainForm 为 true 的 Result。
// 出错时不返回部分结果，本次已暂存的文件会被删除。
func (u *Unpacker) UnpackReader(ctx context.Context, body io.Reader, contentType string) (*Result, error) {
	start := time.Now()
	res, err := u.unpack(ctx, body, contentType)

	label := metrics.SuccessLabel
	switch {
	case err != nil:
		label = metrics.FailLabel
	case res.IsPlainForm():
		label = metrics.PlainLabel
	}
	metrics.UnpackTotal.WithLabelValues(label).Inc()
	metrics.UnpackDuration.WithLabelValues(label).Observe(float64(time.Since(start).Milliseconds()))
	return res, err
}

func (u *Unpacker) unpack(ctx context.Context, body io.Reader, contentType string) (*Result, error) {
	logger := u.logger(ctx)

	form, err := u.parser.Parse(ctx, body, contentType)
	if err != nil {
		logger.Warn("failed to parse form", zap.Error(err))
		return nil, err
	}
	metrics.UnpackPartsTotal.Add(float64(len(form.Files)))

	data, ok := form.Fields[u.opts.Protocol.JSONField]
	if !ok {
		logger.Debug("json field absent, return plain form",
			zap.Int("fields", len(form.Fields)), zap.Int("files", len(form.Files)))
		return &Result{Form: form, plain: true}, nil
	}

	lookup, err := u.mapFiles(ctx, form)
	if err != nil {
		logger.Warn("map files failed", zap.Error(err))
		u.discard(logger, form)
		return nil, err
	}

	root, err := ParseValue([]byte(data))
	if err != nil {
		logger.Warn("invalid json field", zap.Error(err))
		u.discard(logger, form)
		return nil, err
	}
	r := &resolver{
		protocol:  u.opts.Protocol,
		lookup:    lookup,
		useNumber: u.opts.UseNumber,
		logger:    logger,
	}
	graph, err := r.resolve(root)
	if err != nil {
		u.discard(logger, form)
		return nil, err
	}
	return &Result{Data: graph, Form: form}, nil
}

// mapFiles 并发地对每个文件调用 MapFiles，等待全部调用结束后返回按分段名查找结果的函数。
// 未配置 MapFiles 时直接查找 *formdata.File。
func (u *Unpacker) mapFiles(ctx context.Context, form *formdata.Form) (func(name string) (any, bool), error) {
	if u.opts.MapFiles == nil || len(form.Files) == 0 {
		return func(name string) (any, bool) {
			file, ok := form.Files[name]
			return file, ok
		}, nil
	}

	start := time.Now()
	defer func() {
		metrics.MapFilesDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once     sync.Once
		firstErr error
	)
	mapped := xsync.NewMapOf[string, any]()
	futures := make([]*conc.Future[any], 0, len(form.Files))
	for name, file := range form.Files {
		name, file := name, file
		futures = append(futures, u.pool.Submit(func() (any, error) {
			val, err := u.opts.MapFiles(ctx, file)
			if err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
				return nil, err
			}
			mapped.Store(name, val)
			return val, nil
		}))
	}

	if err := conc.AwaitAll(futures...); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		return nil, merr.MarkErrMapping(firstErr)
	}
	return mapped.Load, nil
}

func (u *Unpacker) discard(logger *log.MLogger, form *formdata.Form) {
	if err := form.RemoveAll(); err != nil {
		logger.RatedWarn(1, "failed to remove staged files", zap.Error(err))
	}
}

// logger 优先使用请求上下文中的 Logger，以保留 traceID 与按请求调整的级别。
func (u *Unpacker) logger(ctx context.Context) *log.MLogger {
	if l, ok := log.FromContext(ctx); ok {
		return l.WithComponent("formpack")
	}
	if u.opts.Logger != nil {
		return u.Logger()
	}
	return log.With(log.FieldComponent("formpack"))
}

// Unpack 使用一次性的 Unpacker 解码 r。
func Unpack(ctx context.Context, r *http.Request, opts ...Option) (*Result, error) {
	u, err := NewUnpacker(opts...)
	if err != nil {
		return nil, err
	}
	defer u.Close()
	return u.Unpack(ctx, r)
}
