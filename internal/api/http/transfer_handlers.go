package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/podfs/internal/domain/transfer"
	"github.com/GriffinCanCode/podfs/internal/shared/id"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// TransferRequest is the body of POST /transfers. Target is
// "pod", "namespace/pod" or "namespace/pod:container".
type TransferRequest struct {
	Target      string `json:"target" binding:"required"`
	Path        string `json:"path" binding:"required"`
	Destination string `json:"destination"`
	Compression string `json:"compression"`
}

// StartTransfer starts a download
func (h *Handlers) StartTransfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	target, err := types.ParseTarget(req.Target, h.namespace)
	if err != nil {
		h.fail(c, err)
		return
	}
	compression, err := transfer.ParseCompression(req.Compression)
	if err != nil {
		h.fail(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}

	// The session outlives this request.
	ctx := context.WithoutCancel(c.Request.Context())
	s, err := h.transfers.Download(ctx, transfer.Request{
		Target:      target,
		Path:        req.Path,
		Destination: req.Destination,
		Compression: compression,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.Info())
}

// ListTransfers lists every known transfer
func (h *Handlers) ListTransfers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"transfers": h.transfers.List()})
}

// GetTransfer reports one transfer
func (h *Handlers) GetTransfer(c *gin.Context) {
	s, err := h.transfers.Get(id.TransferID(c.Param("id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Info())
}

// CancelTransfer cancels a running transfer
func (h *Handlers) CancelTransfer(c *gin.Context) {
	transferID := id.TransferID(c.Param("id"))
	if err := h.transfers.Cancel(transferID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": transferID})
}
