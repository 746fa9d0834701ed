package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/podfs/internal/domain/podfs"
	"github.com/GriffinCanCode/podfs/internal/protocol"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// maxWriteBytes bounds an uploaded file; content travels base64 in one line.
const maxWriteBytes = 32 << 20

// EntryView is one directory entry as the API reports it.
type EntryView struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Type int    `json:"type"`
}

// MoveRequest is the body of rename and copy.
type MoveRequest struct {
	From      string `json:"from" binding:"required"`
	To        string `json:"to" binding:"required"`
	Overwrite bool   `json:"overwrite"`
}

// pathURI builds the URI addressed by /fs/:ns/:pod/*path.
func pathURI(c *gin.Context) (podfs.URI, error) {
	target, err := types.ParseTarget(c.Param("ns")+"/"+c.Param("pod"), "")
	if err != nil {
		return podfs.URI{}, err
	}
	return podfs.NewURI(target, c.Param("path")), nil
}

// queryFlag reads a boolean query parameter; a bare "?name" counts as true.
func queryFlag(c *gin.Context, name string) bool {
	v, ok := c.GetQuery(name)
	if !ok {
		return false
	}
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func entryViews(files []protocol.Entry) []EntryView {
	views := make([]EntryView, 0, len(files))
	for _, e := range files {
		views = append(views, EntryView{Name: e.Name, Kind: e.Kind.String(), Type: int(e.Kind)})
	}
	return views
}

// GetPath serves op=stat (default), op=list and op=read
func (h *Handlers) GetPath(c *gin.Context) {
	uri, err := pathURI(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()

	switch op := c.DefaultQuery("op", "stat"); op {
	case "stat":
		st, err := h.fs.Stat(ctx, uri)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"uri":  uri.String(),
			"kind": st.Type.String(),
			"stat": st,
		})

	case "list":
		var files []protocol.Entry
		if match := c.Query("match"); match != "" {
			files, err = h.fs.Glob(ctx, uri, match)
		} else {
			files, err = h.fs.List(ctx, uri)
		}
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"uri":     uri.String(),
			"entries": entryViews(files),
		})

	case "read":
		data, err := h.fs.Read(ctx, uri)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Data(http.StatusOK, mimetype.Detect(data).String(), data)

	default:
		h.fail(c, fmt.Errorf("%w: unknown op %q", ErrBadRequest, op))
	}
}

// WriteFile replaces a file with the request body. Without create or
// overwrite flags the file is created or replaced unconditionally.
func (h *Handlers) WriteFile(c *gin.Context) {
	uri, err := pathURI(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWriteBytes))
	if err != nil {
		h.fail(c, err)
		return
	}

	opts := podfs.WriteOptions{Create: queryFlag(c, "create"), Overwrite: queryFlag(c, "overwrite")}
	_, hasCreate := c.GetQuery("create")
	_, hasOverwrite := c.GetQuery("overwrite")
	if !hasCreate && !hasOverwrite {
		opts = podfs.WriteOptions{Create: true, Overwrite: true}
	}

	if err := h.fs.Write(c.Request.Context(), uri, data, opts); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "uri": uri.String(), "size": len(data)})
}

// DeletePath removes a file or directory
func (h *Handlers) DeletePath(c *gin.Context) {
	uri, err := pathURI(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.fs.Delete(c.Request.Context(), uri, queryFlag(c, "recursive")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "uri": uri.String()})
}

// PostPath serves op=mkdir and op=refresh
func (h *Handlers) PostPath(c *gin.Context) {
	uri, err := pathURI(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	switch op := c.Query("op"); op {
	case "mkdir":
		if err := h.fs.CreateDirectory(c.Request.Context(), uri); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "uri": uri.String()})
	case "refresh":
		h.fs.Refresh(uri)
		c.JSON(http.StatusOK, gin.H{"success": true, "uri": uri.String()})
	default:
		h.fail(c, fmt.Errorf("%w: unknown op %q", ErrBadRequest, op))
	}
}

// Rename moves a path within one container
func (h *Handlers) Rename(c *gin.Context) {
	h.move(c, h.fs.Rename)
}

// Copy copies a path within one container
func (h *Handlers) Copy(c *gin.Context) {
	h.move(c, h.fs.Copy)
}

func (h *Handlers) move(c *gin.Context, op func(ctx context.Context, from, to podfs.URI, overwrite bool) error) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	from, err := podfs.ParseURI(req.From)
	if err != nil {
		h.fail(c, err)
		return
	}
	to, err := podfs.ParseURI(req.To)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := op(c.Request.Context(), from, to, req.Overwrite); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "from": from.String(), "to": to.String()})
}
