package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route templates keep label cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures a command round trip
type Timer struct {
	start   time.Time
	metrics *Metrics
	verb    string
}

// NewTimer starts timing a command
func NewTimer(metrics *Metrics, verb string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		verb:    verb,
	}
}

// Stop records the elapsed time under status and returns it
func (t *Timer) Stop(status string) time.Duration {
	elapsed := time.Since(t.start)
	t.metrics.RecordCommand(t.verb, status, elapsed)
	return elapsed
}
