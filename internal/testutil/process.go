package testutil

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/podfs/internal/cluster"
)

// PipeProcess is an in-memory cluster.Process. The local side uses Stdin,
// Stdout and Stderr; the fake remote side uses the Remote* accessors.
type PipeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	once    sync.Once
	done    chan struct{}
	exitErr error
	killed  atomic.Bool
}

// NewPipeProcess creates a process with connected in-memory streams.
func NewPipeProcess() *PipeProcess {
	p := &PipeProcess{done: make(chan struct{})}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *PipeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *PipeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *PipeProcess) Stderr() io.Reader     { return p.stderrR }

// RemoteStdin is what the remote side reads.
func (p *PipeProcess) RemoteStdin() io.Reader { return p.stdinR }

// RemoteStdout is where the remote side writes results.
func (p *PipeProcess) RemoteStdout() io.Writer { return p.stdoutW }

// RemoteStderr is where the remote side writes diagnostics.
func (p *PipeProcess) RemoteStderr() io.Writer { return p.stderrW }

// Exit ends the process: output streams reach EOF and Wait returns err.
func (p *PipeProcess) Exit(err error) {
	p.once.Do(func() {
		p.exitErr = err
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		_ = p.stdinR.CloseWithError(io.ErrClosedPipe)
		close(p.done)
	})
}

// Wait blocks until Exit or Kill.
func (p *PipeProcess) Wait() error {
	<-p.done
	return p.exitErr
}

// Kill terminates the process as a dropped transport would.
func (p *PipeProcess) Kill() error {
	p.killed.Store(true)
	p.Exit(&cluster.ExitError{Code: 137, Message: "killed"})
	return nil
}

// Killed reports whether Kill was called.
func (p *PipeProcess) Killed() bool {
	return p.killed.Load()
}

// Done is closed once the process has ended.
func (p *PipeProcess) Done() <-chan struct{} {
	return p.done
}
