package http

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/podfs/internal/domain/registry"
	"github.com/GriffinCanCode/podfs/internal/domain/transfer"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/podfs/internal/terminal"
)

// breakerReporter is implemented by cluster clients guarded by a breaker.
type breakerReporter interface {
	BreakerState() resilience.State
}

// Snapshot is the daemon state served by /status.
type Snapshot struct {
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Channels  []registry.Info        `json:"channels"`
	Transfers []transfer.Info        `json:"transfers"`
	Shells    []terminal.SessionInfo `json:"shells"`
	Cluster   map[string]interface{} `json:"cluster"`
	Runtime   map[string]interface{} `json:"runtime"`
}

// Status reports a snapshot of every component
func (h *Handlers) Status(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	cluster := map[string]interface{}{
		"api":       h.pods != nil,
		"namespace": h.namespace,
		"tools":     h.tools,
	}
	if br, ok := h.pods.(breakerReporter); ok {
		cluster["breaker"] = br.BreakerState().String()
	}

	c.JSON(http.StatusOK, Snapshot{
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Channels:  h.channels.List(),
		Transfers: h.transfers.List(),
		Shells:    h.shells.List(),
		Cluster:   cluster,
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"heap_bytes": mem.HeapAlloc,
		},
	})
}
