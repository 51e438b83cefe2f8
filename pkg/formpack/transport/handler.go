package transport

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/formpack-go/internal/compressor"
	"github.com/lk2023060901/formpack-go/internal/json"
	"github.com/lk2023060901/formpack-go/pkg/formpack"
	"github.com/lk2023060901/formpack-go/pkg/log"
	"github.com/lk2023060901/formpack-go/pkg/metrics"
	"github.com/lk2023060901/formpack-go/pkg/util/logutil"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

// HandlerFunc 处理一次解码结果，返回值会以 JSON 写回响应体。
// 返回之后 Result 中暂存的文件会被删除，需要保留的文件应在此期间转移。
type HandlerFunc func(ctx context.Context, res *formpack.Result) (any, error)

type handlerOptions struct {
	unpacker    *formpack.Unpacker
	unpackOpts  []formpack.Option
	allowPlain  bool
	maxBodySize int64
}

// HandlerOption 为 Handler 的可选配置项。
type HandlerOption func(*handlerOptions)

// WithUnpacker 使用已有的 Unpacker，此时 WithUnpackOptions 不生效。
func WithUnpacker(u *formpack.Unpacker) HandlerOption {
	return func(o *handlerOptions) {
		o.unpacker = u
	}
}

func WithUnpackOptions(opts ...formpack.Option) HandlerOption {
	return func(o *handlerOptions) {
		o.unpackOpts = append(o.unpackOpts, opts...)
	}
}

// WithAllowPlainForm 控制是否把没有 JSON 字段的普通表单交给 HandlerFunc，默认允许。
func WithAllowPlainForm(allow bool) HandlerOption {
	return func(o *handlerOptions) {
		o.allowPlain = allow
	}
}

// WithMaxBodySize 限制压缩前的请求体大小，<= 0 表示不限制。
func WithMaxBodySize(n int64) HandlerOption {
	return func(o *handlerOptions) {
		o.maxBodySize = n
	}
}

// Handler 是接收 formpack 请求的 http.Handler。
type Handler struct {
	fn       HandlerFunc
	opts     handlerOptions
	unpacker *formpack.Unpacker
	owned    bool
	http     http.Handler
}

// NewHandler 创建 Handler，Unpacker 配置非法时返回错误。
func NewHandler(fn HandlerFunc, opts ...HandlerOption) (*Handler, error) {
	if fn == nil {
		return nil, merr.WrapErrParameterInvalidMsg("handler func is nil")
	}
	o := handlerOptions{allowPlain: true}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Handler{fn: fn, opts: o, unpacker: o.unpacker}
	if h.unpacker == nil {
		u, err := formpack.NewUnpacker(o.unpackOpts...)
		if err != nil {
			return nil, err
		}
		h.unpacker = u
		h.owned = true
	}
	h.http = logutil.TraceLoggerMiddleware(http.HandlerFunc(h.serve))
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.http.ServeHTTP(w, r)
}

// Close 释放 Handler 自行创建的 Unpacker。
func (h *Handler) Close() {
	if h.owned {
		h.unpacker.Close()
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.Header().Set("Allow", "POST, PUT")
		writeError(w, logger, http.StatusMethodNotAllowed, merr.WrapErrParameterInvalidMsg("method %s not allowed", r.Method))
		return
	}

	c, err := compressor.ByEncoding(r.Header.Get("Content-Encoding"))
	if err != nil {
		writeError(w, logger, http.StatusUnsupportedMediaType, err)
		return
	}
	raw := &limitedBody{Reader: r.Body}
	if h.opts.maxBodySize > 0 {
		raw.Reader = http.MaxBytesReader(w, r.Body, h.opts.maxBodySize)
	}
	body, err := c.NewReader(raw)
	if err != nil {
		writeError(w, logger, http.StatusBadRequest, merr.WrapErrTransportParse(err, "invalid "+c.Encoding()+" body"))
		return
	}
	defer body.Close()

	res, err := h.unpacker.UnpackReader(ctx, body, r.Header.Get("Content-Type"))
	if err != nil {
		status := statusFor(err)
		if raw.tooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, logger, status, err)
		return
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.RatedWarn(1, "failed to cleanup staged files", zap.Error(err))
		}
	}()

	if res.IsPlainForm() && !h.opts.allowPlain {
		writeError(w, logger, http.StatusBadRequest,
			merr.WrapErrTransportParse(nil, "json field "+h.unpacker.Options().Protocol.JSONField+" is required"))
		return
	}

	out, err := h.fn(ctx, res)
	if err != nil {
		writeError(w, logger, statusFor(err), err)
		return
	}
	writeJSON(w, logger, http.StatusOK, out)
}

// statusFor 把解码错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, merr.ErrSizeLimit):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, merr.ErrTransportParse), errors.Is(err, merr.ErrJSONParse),
		errors.Is(err, merr.ErrParameterInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// limitedBody 记录请求体是否因超过 MaxBodySize 而被截断。
type limitedBody struct {
	io.Reader
	tooLarge bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.Reader.Read(p)
	var maxBytes *http.MaxBytesError
	if err != nil && errors.As(err, &maxBytes) {
		b.tooLarge = true
	}
	return n, err
}

type errorResponse struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, logger *log.MLogger, status int, err error) {
	if status >= http.StatusInternalServerError {
		logger.Error("formpack request failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Warn("formpack request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, logger, status, errorResponse{Code: merr.Code(err), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, logger *log.MLogger, status int, v any) {
	metrics.HTTPRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", zap.Error(err))
	}
}
