package ws

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	httpapi "github.com/GriffinCanCode/podfs/internal/api/http"
	"github.com/GriffinCanCode/podfs/internal/domain/stream"
	"github.com/GriffinCanCode/podfs/internal/domain/transfer"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/logging"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
	"github.com/GriffinCanCode/podfs/internal/terminal"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	maxMessage   = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the daemon listens on loopback
	},
}

// ServerMessage is every message the daemon sends.
type ServerMessage struct {
	Type     string             `json:"type"`
	ID       string             `json:"id,omitempty"`
	Seq      uint64             `json:"seq,omitempty"`
	Text     string             `json:"text,omitempty"`
	Data     string             `json:"data,omitempty"`
	Final    bool               `json:"final,omitempty"`
	Progress *transfer.Progress `json:"progress,omitempty"`
	Outcome  string             `json:"outcome,omitempty"`
	Landed   int64              `json:"landed,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// ClientMessage is every message a client may send.
type ClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// Options configures a Handler.
type Options struct {
	// TailLines is the default log backlog when the client gives none.
	TailLines int64
	// Namespace resolves routes whose namespace is "-".
	Namespace string
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// Handler serves the streaming endpoints.
type Handler struct {
	follower  *stream.Follower
	transfers *transfer.Manager
	shells    *terminal.Manager
	opts      Options
	metrics   *monitoring.Metrics
	logger    *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(follower *stream.Follower, transfers *transfer.Manager, shells *terminal.Manager, opts Options) *Handler {
	return &Handler{
		follower:  follower,
		transfers: transfers,
		shells:    shells,
		opts:      opts,
		metrics:   opts.Metrics,
		logger:    logging.OrNop(opts.Logger).Named("ws"),
	}
}

// Register mounts the streaming routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/ws/logs/:ns/:pod", h.Logs)
	r.GET("/ws/events/:ns/:pod", h.Events)
	r.GET("/ws/transfers/:id", h.Transfer)
	r.GET("/ws/shell/:ns/:pod", h.Shell)
}

// target reads :ns and :pod, with an optional ?container.
func (h *Handler) target(c *gin.Context) (types.RemoteTarget, error) {
	ns := c.Param("ns")
	if ns == "-" {
		ns = h.opts.Namespace
	}
	t := types.RemoteTarget{Namespace: ns, Pod: c.Param("pod"), Container: c.Query("container")}
	if pod, container, ok := strings.Cut(t.Pod, ":"); ok {
		t.Pod, t.Container = pod, container
	}
	return t, t.Validate()
}

// reject answers a request that failed before the upgrade.
func (h *Handler) reject(c *gin.Context, err error) {
	c.JSON(httpapi.StatusFor(err), gin.H{"success": false, "error": err.Error()})
}

// conn serializes writes to one WebSocket.
type conn struct {
	ws      *websocket.Conn
	metrics *monitoring.Metrics
	mu      sync.Mutex
}

func (h *Handler) upgrade(c *gin.Context) (*conn, error) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return nil, err
	}
	ws.SetReadLimit(maxMessage)
	h.metrics.AddWSConnections(1)
	return &conn{ws: ws, metrics: h.metrics}, nil
}

func (c *conn) send(msg ServerMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.metrics.RecordWSMessage("out", msg.Type)
	return nil
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// close sends a normal closure and releases the connection.
func (c *conn) close() {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.mu.Unlock()
	_ = c.ws.Close()
	c.metrics.AddWSConnections(-1)
}

// readLoop decodes client messages into fn until the peer goes away. The
// returned channel is closed when reading stops.
func (c *conn) readLoop(logger *zap.Logger, fn func(ClientMessage)) <-chan struct{} {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
					!errors.Is(err, net.ErrClosed) {
					logger.Debug("websocket read ended", zap.Error(err))
				}
				return
			}
			var msg ClientMessage
			if err := sonic.Unmarshal(data, &msg); err != nil {
				_ = c.send(ServerMessage{Type: "error", Error: "malformed message"})
				continue
			}
			c.metrics.RecordWSMessage("in", msg.Type)
			if msg.Type == "ping" {
				_ = c.send(ServerMessage{Type: "pong"})
				continue
			}
			if fn != nil {
				fn(msg)
			}
		}
	}()
	return gone
}

func queryInt(c *gin.Context, name string, def int64) int64 {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
