package cluster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// Stream multiplexing subprotocols of the exec subresource, newest first.
const (
	ProtocolV5 = "v5.channel.k8s.io"
	ProtocolV4 = "v4.channel.k8s.io"
)

// Channel numbers prefixed to every binary frame.
const (
	streamStdin  byte = 0
	streamStdout byte = 1
	streamStderr byte = 2
	streamStatus byte = 3
	streamResize byte = 4
	streamClose  byte = 255
)

// WebSocketExecutor runs processes through the API server's exec
// subresource, without a local kubectl.
type WebSocketExecutor struct {
	// BaseURL is the API server or kubectl proxy address (http or https).
	BaseURL string
	Token   string
	Dialer  *websocket.Dialer
	Logger  *zap.Logger
}

var _ Executor = (*WebSocketExecutor)(nil)

// NewWebSocketExecutor creates an executor dialing baseURL.
func NewWebSocketExecutor(baseURL, token string, logger *zap.Logger) *WebSocketExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketExecutor{
		BaseURL: baseURL,
		Token:   token,
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
			Subprotocols:     []string{ProtocolV5, ProtocolV4},
		},
		Logger: logger.Named("ws-exec"),
	}
}

// Exec dials the exec endpoint for target and returns the multiplexed process.
func (e *WebSocketExecutor) Exec(ctx context.Context, target types.RemoteTarget, req ExecRequest) (Process, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrStartFailed)
	}
	endpoint, err := e.URL(target, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	header := http.Header{}
	if e.Token != "" {
		header.Set("Authorization", "Bearer "+e.Token)
	}
	conn, resp, err := e.Dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			return nil, fmt.Errorf("%w: %s: %w", ErrStartFailed, target, apiError(resp.StatusCode, body))
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrStartFailed, target, err)
	}
	e.Logger.Debug("exec stream opened",
		zap.String("target", target.String()),
		zap.String("protocol", conn.Subprotocol()),
		zap.Bool("tty", req.TTY))

	p := newWSProcess(conn, req.TTY)
	if req.TTY {
		if err := p.Resize(orDefault(req.Cols, 80), orDefault(req.Rows, 24)); err != nil {
			_ = p.Kill()
			return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
		}
	}
	return p, nil
}

// URL builds the exec endpoint for target.
func (e *WebSocketExecutor) URL(target types.RemoteTarget, req ExecRequest) (string, error) {
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") +
		fmt.Sprintf("/api/v1/namespaces/%s/pods/%s/exec", url.PathEscape(target.Namespace), url.PathEscape(target.Pod))

	q := url.Values{}
	for _, arg := range req.Command {
		q.Add("command", arg)
	}
	if target.Container != "" {
		q.Set("container", target.Container)
	}
	q.Set("stdin", strconv.FormatBool(req.Stdin || req.TTY))
	q.Set("stdout", "true")
	q.Set("stderr", strconv.FormatBool(!req.TTY))
	q.Set("tty", strconv.FormatBool(req.TTY))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// wsProcess demultiplexes one exec connection into standard streams.
type wsProcess struct {
	conn    *websocket.Conn
	tty     bool
	stdin   *wsStdin
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	writeMu sync.Mutex

	once    sync.Once
	done    chan struct{}
	exitErr error
}

func newWSProcess(conn *websocket.Conn, tty bool) *wsProcess {
	p := &wsProcess{conn: conn, tty: tty, done: make(chan struct{})}
	p.stdin = &wsStdin{p: p}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	go p.readLoop()
	return p
}

func (p *wsProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *wsProcess) Stdout() io.Reader     { return p.stdoutR }

// Stderr is nil for TTY sessions, whose output is merged into stdout.
func (p *wsProcess) Stderr() io.Reader {
	if p.tty {
		return nil
	}
	return p.stderrR
}

func (p *wsProcess) Wait() error {
	<-p.done
	return p.exitErr
}

func (p *wsProcess) Kill() error {
	p.finish(&ExitError{Code: 137, Message: "killed"})
	return p.conn.Close()
}

// Resize sends a terminal size frame.
func (p *wsProcess) Resize(cols, rows uint16) error {
	size, err := sonic.Marshal(struct {
		Width  uint16 `json:"Width"`
		Height uint16 `json:"Height"`
	}{cols, rows})
	if err != nil {
		return err
	}
	return p.send(streamResize, size)
}

func (p *wsProcess) send(stream byte, data []byte) error {
	frame := make([]byte, 1+len(data))
	frame[0] = stream
	copy(frame[1:], data)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}
	return p.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (p *wsProcess) readLoop() {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				p.finish(nil)
			} else {
				p.finish(fmt.Errorf("exec stream closed: %w", err))
			}
			_ = p.conn.Close()
			return
		}
		if len(data) == 0 {
			continue
		}
		payload := data[1:]
		switch data[0] {
		case streamStdout:
			_, _ = p.stdoutW.Write(payload)
		case streamStderr:
			if p.tty {
				_, _ = p.stdoutW.Write(payload)
			} else {
				_, _ = p.stderrW.Write(payload)
			}
		case streamStatus:
			p.finish(exitStatus(payload))
			_ = p.conn.Close()
			return
		}
	}
}

// finish records the outcome once and ends the output streams.
func (p *wsProcess) finish(err error) {
	p.once.Do(func() {
		p.exitErr = err
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		close(p.done)
	})
}

// wsStdin frames writes onto the stdin channel.
type wsStdin struct {
	p      *wsProcess
	closed sync.Once
}

func (w *wsStdin) Write(b []byte) (int, error) {
	if err := w.p.send(streamStdin, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close half-closes stdin. Only v5 can signal it; older servers keep stdin
// open until the connection ends.
func (w *wsStdin) Close() error {
	var err error
	w.closed.Do(func() {
		if w.p.conn.Subprotocol() == ProtocolV5 {
			err = w.p.send(streamClose, []byte{streamStdin})
		}
	})
	return err
}

// execStatus is the metav1.Status sent on the status channel.
type execStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
	Details struct {
		Causes []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"causes"`
	} `json:"details"`
}

func exitStatus(payload []byte) error {
	var st execStatus
	if err := sonic.Unmarshal(payload, &st); err != nil {
		return fmt.Errorf("malformed exec status: %w", err)
	}
	if st.Status == "Success" {
		return nil
	}
	exit := &ExitError{Code: 1, Message: st.Message}
	for _, cause := range st.Details.Causes {
		if cause.Reason == "ExitCode" {
			if code, err := strconv.Atoi(cause.Message); err == nil {
				exit.Code = code
			}
		}
	}
	if st.Reason != "NonZeroExitCode" && exit.Message == "" {
		exit.Message = st.Reason
	}
	return exit
}
