package cluster

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// commandProcess adapts a local *exec.Cmd to Process. TTY commands run on a
// pseudo-terminal, whose single stream carries both input and output.
type commandProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
	tty    *os.File

	waitOnce sync.Once
	waitErr  error
}

// StartCommand starts name with args on the local host. The process is not
// bound to a context; Kill ends it.
func StartCommand(name string, args []string, req ExecRequest) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = os.Environ()

	if req.TTY {
		cmd.Env = append(cmd.Env, "TERM=xterm-256color")
		size := &pty.Winsize{Cols: orDefault(req.Cols, 80), Rows: orDefault(req.Rows, 24)}
		tty, err := pty.StartWithSize(cmd, size)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrStartFailed, name, err)
		}
		return &commandProcess{cmd: cmd, stdin: tty, stdout: tty, tty: tty}, nil
	}

	p := &commandProcess{cmd: cmd}
	var err error
	if req.Stdin {
		if p.stdin, err = cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
		}
	} else {
		p.stdin = nopWriteCloser{}
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	if p.stderr, err = cmd.StderrPipe(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStartFailed, name, err)
	}
	return p, nil
}

func (p *commandProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *commandProcess) Stdout() io.Reader     { return p.stdout }
func (p *commandProcess) Stderr() io.Reader     { return p.stderr }

// Wait reaps the process once; later calls return the same result.
func (p *commandProcess) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		if p.tty != nil {
			_ = p.tty.Close()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = &ExitError{Code: exitErr.ExitCode(), Message: exitErr.Error()}
		}
		p.waitErr = err
	})
	return p.waitErr
}

func (p *commandProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Resize changes the pseudo-terminal size.
func (p *commandProcess) Resize(cols, rows uint16) error {
	if p.tty == nil {
		return errors.New("process has no terminal")
	}
	return pty.Setsize(p.tty, &pty.Winsize{Cols: cols, Rows: rows})
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(b []byte) (int, error) { return 0, io.ErrClosedPipe }
func (nopWriteCloser) Close() error                { return nil }

func orDefault(v, def uint16) uint16 {
	if v == 0 {
		return def
	}
	return v
}
