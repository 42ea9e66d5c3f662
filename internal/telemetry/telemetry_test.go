package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordedRequest(t *testing.T, status int, userID string) ([]sdktrace.ReadOnlySpan, *httptest.ResponseRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prevProvider := otel.GetTracerProvider()
	prevTracer := Tracer
	otel.SetTracerProvider(tp)
	Tracer = tp.Tracer("test")
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		Tracer = prevTracer
	})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TracingMiddleware())
	r.POST("/v1/usage/check", func(c *gin.Context) { c.Status(status) })

	req := httptest.NewRequest(http.MethodPost, "/v1/usage/check", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return recorder.Ended(), w
}

func spanAttribute(spans []sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, span := range spans {
		for _, attr := range span.Attributes() {
			if attr.Key == key {
				return attr.Value, true
			}
		}
	}
	return attribute.Value{}, false
}

func TestTracingMiddlewareMarksChallengedRequests(t *testing.T) {
	spans, w := recordedRequest(t, http.StatusPaymentRequired, "user-1")

	require.Len(t, spans, 1)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	challenged, ok := spanAttribute(spans, "payment.challenged")
	require.True(t, ok)
	assert.True(t, challenged.AsBool())

	user, ok := spanAttribute(spans, "enduser.id")
	require.True(t, ok)
	assert.Equal(t, "user-1", user.AsString())
}

func TestTracingMiddlewareLeavesAllowedRequestsUnmarked(t *testing.T) {
	spans, _ := recordedRequest(t, http.StatusOK, "")

	require.Len(t, spans, 1)

	challenged, ok := spanAttribute(spans, "payment.challenged")
	require.True(t, ok)
	assert.False(t, challenged.AsBool())

	_, ok = spanAttribute(spans, "enduser.id")
	assert.False(t, ok, "anonymous requests carry no user attribute")
}