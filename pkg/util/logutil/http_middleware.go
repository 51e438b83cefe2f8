package logutil

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lk2023060901/formpack-go/pkg/log"
)

const (
	logLevelHeaderLegacy        = "Log_Level"
	logLevelHeader              = "Log-Level"
	clientRequestIDHeaderLegacy = "Client_Request_Id"
	clientRequestIDHeader       = "X-Client-Request-Id"
	clientRequestMsecHeader     = "X-Client-Request-Msec"
	traceparentHeader           = "Traceparent"
)

// TraceLoggerMiddleware 在每个 HTTP 请求的上下文中注入带 Trace 信息的 Logger，
// 并在请求结束时输出一条访问日志。
func TraceLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := withLevelAndTrace(r.Context(), r.Header)
		ctx = log.WithFields(ctx,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		log.Ctx(ctx).Info("http request done",
			zap.Int("status", rec.status),
			zap.Int64("bytes", rec.written),
			zap.Duration("cost", time.Since(start)),
		)
	})
}

func withLevelAndTrace(ctx context.Context, header http.Header) context.Context {
	newctx := ctx
	var traceID trace.TraceID

	// 请求方可以通过请求头指定本次请求的日志级别。
	if levels := GetHeader(header, logLevelHeader, logLevelHeaderLegacy); len(levels) >= 1 {
		level := zapcore.DebugLevel
		if err := level.UnmarshalText([]byte(levels[0])); err == nil && level <= zapcore.ErrorLevel {
			newctx = log.WithLevel(newctx, level)
		}
	}

	if sc, ok := parseTraceparent(header.Get(traceparentHeader)); ok {
		newctx = trace.ContextWithRemoteSpanContext(newctx, sc)
		traceID = sc.TraceID()
	}

	if requestID := GetHeader(header, clientRequestIDHeader, clientRequestIDHeaderLegacy); len(requestID) >= 1 && !traceID.IsValid() {
		var err error
		// client request id 是合法 TraceID 时直接作为 TraceID 使用。
		traceID, err = trace.TraceIDFromHex(requestID[0])
		if err != nil {
			newctx = log.WithFields(newctx, zap.String("clientRequestID", requestID[0]))
		}
	}

	if requestUnixmsec, ok := GetClientReqUnixmsec(header); ok {
		newctx = log.WithFields(newctx, zap.Int64("clientRequestUnixmsec", requestUnixmsec))
	}

	if !traceID.IsValid() {
		traceID = trace.SpanContextFromContext(newctx).TraceID()
	}
	if traceID.IsValid() {
		newctx = log.WithTraceID(newctx, traceID.String())
	}
	return newctx
}

// parseTraceparent 解析 W3C traceparent 头：version-traceid-spanid-flags。
func parseTraceparent(v string) (trace.SpanContext, bool) {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) != 4 || parts[0] != "00" {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(parts[2])
	if err != nil {
		return trace.SpanContext{}, false
	}
	var flags trace.TraceFlags
	if parts[3] == "01" {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return sc, sc.IsValid()
}

func GetClientReqUnixmsec(header http.Header) (int64, bool) {
	v := header.Get(clientRequestMsecHeader)
	if v == "" {
		return -1, false
	}
	requestUnixmsec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1, false
	}
	return requestUnixmsec, true
}

func GetHeader(header http.Header, keys ...string) []string {
	var result []string
	for _, key := range keys {
		if values := header.Values(key); len(values) > 0 {
			result = append(result, values...)
		}
	}
	return result
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}
