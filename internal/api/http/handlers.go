package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/domain/podfs"
	"github.com/GriffinCanCode/podfs/internal/domain/registry"
	"github.com/GriffinCanCode/podfs/internal/domain/transfer"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/logging"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/podfs/internal/terminal"
)

// Deps are the components the handlers serve. Pods may be nil when no API
// server is reachable; pod routes then answer 501.
type Deps struct {
	FS        *podfs.FS
	Channels  *registry.Manager
	Transfers *transfer.Manager
	Shells    *terminal.Manager
	Pods      cluster.PodAPI
	Tools     cluster.Tools
	// Namespace resolves bare pod names in request bodies.
	Namespace string
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	fs        *podfs.FS
	channels  *registry.Manager
	transfers *transfer.Manager
	shells    *terminal.Manager
	pods      cluster.PodAPI
	tools     cluster.Tools
	namespace string
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	started   time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) *Handlers {
	namespace := deps.Namespace
	if namespace == "" {
		namespace = cluster.FallbackNamespace
	}
	return &Handlers{
		fs:        deps.FS,
		channels:  deps.Channels,
		transfers: deps.Transfers,
		shells:    deps.Shells,
		pods:      deps.Pods,
		tools:     deps.Tools,
		namespace: namespace,
		metrics:   deps.Metrics,
		logger:    logging.OrNop(deps.Logger).Named("http"),
		started:   time.Now(),
	}
}

// Register mounts every REST route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/status", h.Status)

	r.GET("/pods/:ns", h.ListPods)
	r.DELETE("/pods/:ns/:pod", h.DeletePod)

	r.GET("/fs/:ns/:pod/*path", h.GetPath)
	r.PUT("/fs/:ns/:pod/*path", h.WriteFile)
	r.DELETE("/fs/:ns/:pod/*path", h.DeletePath)
	r.POST("/fs/:ns/:pod/*path", h.PostPath)
	r.POST("/fs-ops/rename", h.Rename)
	r.POST("/fs-ops/copy", h.Copy)

	r.GET("/channels", h.ListChannels)
	r.DELETE("/channels", h.DisposeChannels)

	r.POST("/transfers", h.StartTransfer)
	r.GET("/transfers", h.ListTransfers)
	r.GET("/transfers/:id", h.GetTransfer)
	r.DELETE("/transfers/:id", h.CancelTransfer)
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "podfs",
		"version": "0.1.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"channels":  h.channels.Len(),
		"transfers": len(h.transfers.List()),
		"shells":    len(h.shells.List()),
		"cluster":   gin.H{"api": h.pods != nil, "tools": h.tools},
	})
}

// ListChannels reports every cached channel
func (h *Handlers) ListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": h.channels.List()})
}

// DisposeChannels closes every cached channel
func (h *Handlers) DisposeChannels(c *gin.Context) {
	n := h.channels.Len()
	if err := h.channels.DisposeAll(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "disposed": n})
}
