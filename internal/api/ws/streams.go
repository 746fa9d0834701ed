package ws

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/domain/stream"
	"github.com/GriffinCanCode/podfs/internal/shared/id"
)

// Logs streams the rendered container log of :ns/:pod.
// Query: container, tail, timestamps, previous.
func (h *Handler) Logs(c *gin.Context) {
	target, err := h.target(c)
	if err != nil {
		h.reject(c, err)
		return
	}
	s, err := h.follower.FollowLog(c.Request.Context(), target, cluster.LogOptions{
		Container:  target.Container,
		TailLines:  queryInt(c, "tail", h.opts.TailLines),
		Timestamps: c.Query("timestamps") == "true",
		Previous:   c.Query("previous") == "true",
	})
	if err != nil {
		h.reject(c, err)
		return
	}
	h.serveStream(c, s)
}

// Events streams the rendered event table of :ns/:pod.
func (h *Handler) Events(c *gin.Context) {
	target, err := h.target(c)
	if err != nil {
		h.reject(c, err)
		return
	}
	s, err := h.follower.FollowEvents(c.Request.Context(), target)
	if err != nil {
		h.reject(c, err)
		return
	}
	h.serveStream(c, s)
}

// serveStream forwards frames until the stream ends or the client leaves;
// either way the stream is torn down.
func (h *Handler) serveStream(c *gin.Context, s *stream.Stream) {
	defer s.Close()

	conn, err := h.upgrade(c)
	if err != nil {
		return
	}
	defer conn.close()

	gone := conn.readLoop(h.logger, nil)
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	if err := conn.send(ServerMessage{Type: "open", ID: string(s.ID)}); err != nil {
		return
	}
	for {
		select {
		case f, ok := <-s.Frames():
			if !ok {
				msg := ServerMessage{Type: "end", ID: string(s.ID)}
				if err := s.Err(); err != nil {
					msg.Error = err.Error()
				}
				_ = conn.send(msg)
				return
			}
			if err := conn.send(ServerMessage{Type: "frame", Seq: f.Seq, Text: f.Text, Final: f.Final}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.ping(); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// Transfer streams the progress of one transfer. A {"type":"cancel"}
// message cancels it. Progress samples are latest-value, so concurrent
// watchers of one transfer split the samples between them.
func (h *Handler) Transfer(c *gin.Context) {
	s, err := h.transfers.Get(id.TransferID(c.Param("id")))
	if err != nil {
		h.reject(c, err)
		return
	}
	conn, err := h.upgrade(c)
	if err != nil {
		return
	}
	defer conn.close()

	gone := conn.readLoop(h.logger, func(msg ClientMessage) {
		if msg.Type == "cancel" {
			_ = h.transfers.Cancel(s.ID)
		}
	})
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	snapshot := s.Snapshot()
	if err := conn.send(ServerMessage{Type: "progress", ID: string(s.ID), Progress: &snapshot}); err != nil {
		return
	}
	progress := s.Progress()
	for {
		select {
		case p, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			if err := conn.send(ServerMessage{Type: "progress", ID: string(s.ID), Progress: &p}); err != nil {
				return
			}
		case <-s.Done():
			res := s.Result()
			msg := ServerMessage{Type: "result", ID: string(s.ID), Outcome: res.Outcome.String(), Landed: res.Landed}
			if res.Err != nil {
				msg.Error = res.Err.Error()
			}
			_ = conn.send(msg)
			return
		case <-ping.C:
			if err := conn.ping(); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
