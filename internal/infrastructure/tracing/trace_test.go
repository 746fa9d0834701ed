package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStartSpanPropagatesTrace(t *testing.T) {
	tracer := New("test", zap.NewNop(), 0)
	defer tracer.Close()

	parent, ctx := tracer.StartSpan(context.Background(), "parent")
	child, childCtx := tracer.StartSpan(ctx, "child")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, GetSpanID(childCtx))
	assert.Equal(t, parent.TraceID, GetTraceID(childCtx))
}

func TestSlowAndFailedSpansAreLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tracer := New("test", zap.New(core), 10*time.Millisecond)

	slow, _ := tracer.StartSpan(context.Background(), "ls")
	slow.StartTime = time.Now().Add(-time.Second)
	tracer.End(slow, nil)

	failed, _ := tracer.StartSpan(context.Background(), "b64read")
	tracer.End(failed, errors.New("No such file"))

	tracer.Close()

	require.Equal(t, 1, logs.FilterMessage("slow span").Len())
	require.Equal(t, 1, logs.FilterMessage("span failed").Len())
}

func TestHTTPMiddlewareSetsHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := New("test", zap.NewNop(), 0)
	defer tracer.Close()

	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/health", func(c *gin.Context) {
		assert.Equal(t, TraceID("req_upstream"), GetTraceID(c.Request.Context()))
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(TraceHeader, "req_upstream")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req_upstream", w.Header().Get(TraceHeader))
	assert.NotEmpty(t, w.Header().Get(SpanHeader))
}

func TestEndAfterClose(t *testing.T) {
	tracer := New("test", zap.NewNop(), 0)
	span, _ := tracer.StartSpan(context.Background(), "hijacked")
	tracer.Close()

	assert.NotPanics(t, func() { tracer.End(span, nil) })
	assert.NotPanics(t, tracer.Close)
}

func TestSubmitRacesClose(t *testing.T) {
	tracer := New("test", zap.NewNop(), 0)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				span, _ := tracer.StartSpan(context.Background(), "op")
				tracer.End(span, nil)
			}
		}()
	}
	tracer.Close()
	wg.Wait()
}
