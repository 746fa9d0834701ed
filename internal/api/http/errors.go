package http

import (
	"context"
	"errors"
	"io/fs"
	"net/http"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/channel"
	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/domain/podfs"
	"github.com/GriffinCanCode/podfs/internal/domain/transfer"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/podfs/internal/protocol"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
	"github.com/GriffinCanCode/podfs/internal/terminal"
)

// ErrBadRequest marks malformed request input.
var ErrBadRequest = errors.New("bad request")

// StatusFor maps a domain error onto an HTTP status code.
func StatusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, cluster.ErrNotFound),
		errors.Is(err, transfer.ErrNotFound),
		errors.Is(err, terminal.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, fs.ErrExist):
		return http.StatusConflict
	case errors.Is(err, fs.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, terminal.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, podfs.ErrNotImplemented),
		errors.Is(err, podfs.ErrCrossTarget),
		errors.Is(err, terminal.ErrResizeUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, podfs.ErrInvalidURI),
		errors.Is(err, types.ErrInvalidTarget),
		errors.Is(err, transfer.ErrNoDestination),
		errors.Is(err, doublestar.ErrBadPattern):
		return http.StatusBadRequest
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	var apiErr *cluster.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		return apiErr.Status
	}
	var remote *protocol.RemoteError
	switch {
	case errors.As(err, &remote),
		errors.As(err, &apiErr),
		errors.Is(err, cluster.ErrStartFailed),
		errors.Is(err, channel.ErrClosed),
		errors.Is(err, channel.ErrTransportReset),
		errors.Is(err, channel.ErrReconnectExhausted),
		errors.Is(err, channel.ErrAbandoned):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}
