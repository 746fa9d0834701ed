package cluster

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// fakeExec imitates the exec subresource: stdin is echoed to stdout, each
// chunk is also reported on stderr, and closing stdin ends the process with
// exit code 3.
type fakeExec struct {
	t        *testing.T
	protocol string

	mu      sync.Mutex
	query   map[string][]string
	path    string
	resizes []string
}

func (f *fakeExec) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.path = r.URL.Path
	f.query = r.URL.Query()
	f.mu.Unlock()

	upgrader := websocket.Upgrader{Subprotocols: []string{f.protocol}}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		switch data[0] {
		case streamStdin:
			_ = conn.WriteMessage(websocket.BinaryMessage, append([]byte{streamStdout}, data[1:]...))
			_ = conn.WriteMessage(websocket.BinaryMessage, append([]byte{streamStderr}, "got "+string(data[1:])...))
		case streamResize:
			f.mu.Lock()
			f.resizes = append(f.resizes, string(data[1:]))
			f.mu.Unlock()
		case streamClose:
			status := `{"status":"Failure","reason":"NonZeroExitCode","message":"command terminated with non-zero exit code",` +
				`"details":{"causes":[{"reason":"ExitCode","message":"3"}]}}`
			_ = conn.WriteMessage(websocket.BinaryMessage, append([]byte{streamStatus}, status...))
			return
		}
	}
}

func newFakeExec(t *testing.T, protocol string) (*fakeExec, *WebSocketExecutor) {
	fake := &fakeExec{t: t, protocol: protocol}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, NewWebSocketExecutor(srv.URL, "secret", zaptest.NewLogger(t))
}

func readN(t *testing.T, r io.Reader, n int) string {
	t.Helper()
	buf := make([]byte, n)
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(r, buf)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out reading stream")
	}
	return string(buf)
}

func TestWebSocketExecRoundTrip(t *testing.T) {
	fake, exec := newFakeExec(t, ProtocolV5)

	proc, err := exec.Exec(context.Background(), web1, ExecRequest{Command: []string{"sh", "-c", "cat"}, Stdin: true})
	require.NoError(t, err)

	_, err = proc.Stdin().Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", readN(t, proc.Stdout(), 5))
	require.NotNil(t, proc.Stderr())
	assert.Equal(t, "got hello", readN(t, proc.Stderr(), 9))

	require.NoError(t, proc.Stdin().Close())
	err = proc.Wait()
	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 3, exit.Code)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "/api/v1/namespaces/default/pods/web-1/exec", fake.path)
	assert.Equal(t, []string{"sh", "-c", "cat"}, fake.query["command"])
	assert.Equal(t, []string{"app"}, fake.query["container"])
	assert.Equal(t, []string{"true"}, fake.query["stdin"])
	assert.Equal(t, []string{"true"}, fake.query["stderr"])
	assert.Equal(t, []string{"false"}, fake.query["tty"])
}

func TestWebSocketExecTTY(t *testing.T) {
	fake, exec := newFakeExec(t, ProtocolV5)

	proc, err := exec.Exec(context.Background(), web1, ExecRequest{Command: []string{"bash"}, TTY: true, Cols: 100, Rows: 30})
	require.NoError(t, err)
	defer proc.Kill()

	assert.Nil(t, proc.Stderr(), "tty output is merged")
	resizer, ok := proc.(Resizer)
	require.True(t, ok)
	require.NoError(t, resizer.Resize(120, 40))

	_, err = proc.Stdin().Write([]byte("ls"))
	require.NoError(t, err)
	// stdout then the stderr echo, both on the merged stream
	assert.Equal(t, "lsgot ls", readN(t, proc.Stdout(), 8))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{`{"Width":100,"Height":30}`, `{"Width":120,"Height":40}`}, fake.resizes)
	assert.Equal(t, []string{"false"}, fake.query["stderr"])
	assert.Equal(t, []string{"true"}, fake.query["tty"])
}

func TestWebSocketExecKill(t *testing.T) {
	_, exec := newFakeExec(t, ProtocolV4)

	proc, err := exec.Exec(context.Background(), web1, ExecRequest{Command: []string{"sleep", "100"}})
	require.NoError(t, err)

	// v4 cannot half-close stdin
	require.NoError(t, proc.Stdin().Close())
	require.NoError(t, proc.Kill())

	var exit *ExitError
	require.ErrorAs(t, proc.Wait(), &exit)
	assert.Equal(t, 137, exit.Code)

	_, err = proc.Stdin().Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestWebSocketExecRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"reason":"Forbidden","message":"pods \"web-1\" is forbidden"}`)
	}))
	defer srv.Close()

	exec := NewWebSocketExecutor(srv.URL, "", zaptest.NewLogger(t))
	_, err := exec.Exec(context.Background(), web1, ExecRequest{Command: []string{"true"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStartFailed)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	_, err = exec.Exec(context.Background(), web1, ExecRequest{})
	assert.ErrorIs(t, err, ErrStartFailed)
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		target  types.RemoteTarget
		want    string
		wantErr bool
	}{
		{
			name:   "proxy",
			base:   "http://127.0.0.1:8001",
			target: types.RemoteTarget{Namespace: "ns", Pod: "p"},
			want:   "ws://127.0.0.1:8001/api/v1/namespaces/ns/pods/p/exec?",
		},
		{
			name:   "tls with prefix",
			base:   "https://cluster.example/k8s/",
			target: types.RemoteTarget{Namespace: "ns", Pod: "p", Container: "c"},
			want:   "wss://cluster.example/k8s/api/v1/namespaces/ns/pods/p/exec?",
		},
		{
			name:    "bad scheme",
			base:    "ftp://host",
			target:  types.RemoteTarget{Namespace: "ns", Pod: "p"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &WebSocketExecutor{BaseURL: tt.base}
			got, err := exec.URL(tt.target, ExecRequest{Command: []string{"ls", "-la"}})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(got, tt.want), got)
			assert.Contains(t, got, "command=ls&command=-la")
		})
	}
}

func TestExitStatus(t *testing.T) {
	assert.NoError(t, exitStatus([]byte(`{"status":"Success"}`)))

	err := exitStatus([]byte(`{"status":"Failure","reason":"InternalError","message":""}`))
	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.Code)
	assert.Equal(t, "InternalError", exit.Message)

	assert.Error(t, exitStatus([]byte("{")))
}
