package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

var (
	// ErrStartFailed is returned when a remote process could not be spawned.
	ErrStartFailed = errors.New("remote process failed to start")
	// ErrNotFound is returned for pods the cluster does not know.
	ErrNotFound = errors.New("not found")
)

// ExecRequest describes a remote process to spawn in a target container.
type ExecRequest struct {
	Command []string
	Stdin   bool
	TTY     bool
	Cols    uint16
	Rows    uint16
}

// Process is a running remote process with its standard streams.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits. A non-zero exit is an *ExitError.
	Wait() error
	// Kill terminates the process and its transport.
	Kill() error
}

// Resizer is implemented by TTY processes.
type Resizer interface {
	Resize(cols, rows uint16) error
}

// Executor spawns remote processes.
type Executor interface {
	Exec(ctx context.Context, target types.RemoteTarget, req ExecRequest) (Process, error)
}

// LogOptions selects which log lines to follow.
type LogOptions struct {
	Container  string
	TailLines  int64
	Timestamps bool
	Previous   bool
	Follow     bool
}

// StreamSource opens long-lived one-way streams. Closing the returned reader
// cancels the underlying call.
type StreamSource interface {
	Logs(ctx context.Context, target types.RemoteTarget, opts LogOptions) (io.ReadCloser, error)
	Events(ctx context.Context, target types.RemoteTarget) (io.ReadCloser, error)
}

// Pod is the summary of a pod the daemon and CLI list.
type Pod struct {
	Namespace  string    `json:"namespace"`
	Name       string    `json:"name"`
	Phase      string    `json:"phase"`
	Node       string    `json:"node,omitempty"`
	Containers []string  `json:"containers"`
	Created    time.Time `json:"created"`
}

// PodAPI queries and mutates pods.
type PodAPI interface {
	ListPods(ctx context.Context, namespace string) ([]Pod, error)
	GetPod(ctx context.Context, target types.RemoteTarget) (*Pod, error)
	DeletePod(ctx context.Context, target types.RemoteTarget) error
}

// ExitError reports a remote process that ended unsuccessfully.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote process exited with code %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("remote process exited with code %d", e.Code)
}
