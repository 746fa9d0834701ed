package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/domain/podfs"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/logging"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// ListPods lists the pods of a namespace
func (h *Handlers) ListPods(c *gin.Context) {
	if h.pods == nil {
		h.fail(c, fmt.Errorf("pod listing: %w", podfs.ErrNotImplemented))
		return
	}
	pods, err := h.pods.ListPods(c.Request.Context(), c.Param("ns"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"namespace": c.Param("ns"), "pods": pods})
}

// DeletePod deletes a pod and drops its cached channel
func (h *Handlers) DeletePod(c *gin.Context) {
	if h.pods == nil {
		h.fail(c, fmt.Errorf("pod deletion: %w", podfs.ErrNotImplemented))
		return
	}
	target := types.RemoteTarget{Namespace: c.Param("ns"), Pod: c.Param("pod")}
	if err := target.Validate(); err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.pods.DeletePod(ctx, target); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.channels.Dispose(ctx, target); err != nil {
		h.logger.Debug("no channel to dispose", logging.Target(target), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "target": target})
}
