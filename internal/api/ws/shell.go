package ws

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/shared/id"
	"github.com/GriffinCanCode/podfs/internal/terminal"
)

// Shell runs an interactive shell in :ns/:pod for the life of the
// connection. Query: container, cols, rows, command (repeatable).
//
// Client messages: input{data}, resize{cols,rows}, render, ping.
// Server messages: open{id}, output{data base64}, screen{text}, exit{error}.
func (h *Handler) Shell(c *gin.Context) {
	target, err := h.target(c)
	if err != nil {
		h.reject(c, err)
		return
	}
	req := terminal.CreateRequest{
		Command: c.QueryArray("command"),
		Cols:    uint16(queryInt(c, "cols", 0)),
		Rows:    uint16(queryInt(c, "rows", 0)),
	}
	info, err := h.shells.Create(c.Request.Context(), target, req)
	if err != nil {
		h.reject(c, err)
		return
	}
	shellID := info.ID
	defer func() {
		if err := h.shells.Kill(shellID); err != nil {
			h.logger.Debug("shell already gone", zap.String("id", string(shellID)), zap.Error(err))
		}
	}()
	session, err := h.shells.Lookup(shellID)
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
		if err := h.shellInput(conn, shellID, msg); err != nil {
			_ = conn.send(ServerMessage{Type: "error", Error: err.Error()})
		}
	})
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	if err := conn.send(ServerMessage{Type: "open", ID: string(shellID)}); err != nil {
		return
	}
	for {
		select {
		case <-session.Updates():
			if err := h.flushOutput(conn, shellID); err != nil {
				return
			}
		case <-session.Done():
			_ = h.flushOutput(conn, shellID)
			msg := ServerMessage{Type: "exit", ID: string(shellID)}
			if err := session.Err(); err != nil {
				msg.Error = err.Error()
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

func (h *Handler) shellInput(conn *conn, shellID id.ShellID, msg ClientMessage) error {
	switch msg.Type {
	case "input":
		return h.shells.Write(shellID, []byte(msg.Data))
	case "resize":
		return h.shells.Resize(shellID, msg.Cols, msg.Rows)
	case "render":
		screen, err := h.shells.Render(shellID)
		if err != nil {
			return err
		}
		return conn.send(ServerMessage{Type: "screen", ID: string(shellID), Text: screen})
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// flushOutput sends whatever raw output is buffered. Output is base64 since
// a read may split a multi-byte character.
func (h *Handler) flushOutput(conn *conn, shellID id.ShellID) error {
	data, err := h.shells.Read(shellID)
	if err != nil || len(data) == 0 {
		return nil
	}
	return conn.send(ServerMessage{
		Type: "output",
		ID:   string(shellID),
		Data: base64.StdEncoding.EncodeToString(data),
	})
}
