package logutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"

	"github.com/lk2023060901/formpack-go/pkg/log"
)

func TestTraceLoggerMiddleware(t *testing.T) {
	var (
		gotTraceID trace.TraceID
		gotLogger  *log.MLogger
	)
	h := TraceLoggerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = trace.SpanContextFromContext(r.Context()).TraceID()
		gotLogger = log.Ctx(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	req.Header.Set("Traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set(logLevelHeader, "warn")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", gotTraceID.String())
	assert.NotNil(t, gotLogger)
}

func TestParseTraceparent(t *testing.T) {
	_, ok := parseTraceparent("garbage")
	assert.False(t, ok)
	_, ok = parseTraceparent("00-00000000000000000000000000000000-00f067aa0ba902b7-01")
	assert.False(t, ok)
	sc, ok := parseTraceparent("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-00")
	assert.True(t, ok)
	assert.False(t, sc.IsSampled())
}

func TestClientRequestHeaders(t *testing.T) {
	h := http.Header{}
	h.Set(clientRequestMsecHeader, "1700000000000")
	v, ok := GetClientReqUnixmsec(h)
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000000), v)

	h.Set(clientRequestMsecHeader, "nope")
	_, ok = GetClientReqUnixmsec(h)
	assert.False(t, ok)

	h.Set(clientRequestIDHeader, "abc")
	assert.Equal(t, []string{"abc"}, GetHeader(h, clientRequestIDHeader, clientRequestIDHeaderLegacy))
}
