package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/logging"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/podfs/internal/shared/id"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

var (
	ErrSessionNotFound   = errors.New("shell session not found")
	ErrSessionClosed     = errors.New("shell session is closed")
	ErrResizeUnsupported = errors.New("shell transport cannot resize")
)

// ShellOptions configures a Manager.
type ShellOptions struct {
	// Command is the default shell argv.
	Command    []string
	Cols       uint16
	Rows       uint16
	Scrollback int
	// BufferSize bounds the raw output kept between reads.
	BufferSize int

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// DefaultShellOptions returns the stock shell settings.
func DefaultShellOptions() ShellOptions {
	return ShellOptions{
		Command:    []string{"/bin/sh", "-c", "command -v bash >/dev/null && exec bash -il || exec sh -i"},
		Cols:       80,
		Rows:       24,
		Scrollback: 1000,
		BufferSize: 1024 * 1024,
	}
}

// CreateRequest describes a new shell. Zero fields take the manager defaults.
type CreateRequest struct {
	Command []string `json:"command,omitempty"`
	Cols    uint16   `json:"cols,omitempty"`
	Rows    uint16   `json:"rows,omitempty"`
}

// SessionInfo is the public representation of a shell session.
type SessionInfo struct {
	ID        id.ShellID         `json:"id"`
	Target    types.RemoteTarget `json:"target"`
	Command   []string           `json:"command"`
	Cols      uint16             `json:"cols"`
	Rows      uint16             `json:"rows"`
	StartedAt time.Time          `json:"started_at"`
	Active    bool               `json:"active"`
	ExitError string             `json:"exit_error,omitempty"`
}

// Session is one interactive shell.
type Session struct {
	id        id.ShellID
	target    types.RemoteTarget
	command   []string
	startedAt time.Time

	proc   cluster.Process
	stdin  io.WriteCloser
	output *Buffer
	screen *Screen

	// updates carries at most one pending "output arrived" signal.
	updates chan struct{}
	done    chan struct{}

	mu      sync.RWMutex
	cols    uint16
	rows    uint16
	closed  bool
	exitErr error
}

// Updates signals whenever new output has been buffered.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// Done is closed once the shell process has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the process exit error after Done.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitErr
}

func (s *Session) info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := SessionInfo{
		ID:        s.id,
		Target:    s.target,
		Command:   s.command,
		Cols:      s.cols,
		Rows:      s.rows,
		StartedAt: s.startedAt,
		Active:    !s.closed,
	}
	if s.exitErr != nil {
		info.ExitError = s.exitErr.Error()
	}
	return info
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Manager manages interactive shell sessions inside containers.
type Manager struct {
	exec     cluster.Executor
	opts     ShellOptions
	sessions sync.Map // id.ShellID -> *Session
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewManager creates a shell manager spawning TTY processes through exec.
func NewManager(exec cluster.Executor, opts ShellOptions) *Manager {
	defaults := DefaultShellOptions()
	if len(opts.Command) == 0 {
		opts.Command = defaults.Command
	}
	if opts.Cols == 0 {
		opts.Cols = defaults.Cols
	}
	if opts.Rows == 0 {
		opts.Rows = defaults.Rows
	}
	if opts.Scrollback <= 0 {
		opts.Scrollback = defaults.Scrollback
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	return &Manager{
		exec:    exec,
		opts:    opts,
		logger:  logging.OrNop(opts.Logger).Named("shell"),
		metrics: opts.Metrics,
	}
}

// Create starts a shell in target.
func (m *Manager) Create(ctx context.Context, target types.RemoteTarget, req CreateRequest) (*SessionInfo, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	command := req.Command
	if len(command) == 0 {
		command = m.opts.Command
	}
	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = m.opts.Cols
	}
	if rows == 0 {
		rows = m.opts.Rows
	}

	proc, err := m.exec.Exec(ctx, target, cluster.ExecRequest{
		Command: command,
		Stdin:   true,
		TTY:     true,
		Cols:    cols,
		Rows:    rows,
	})
	if err != nil {
		return nil, fmt.Errorf("start shell in %s: %w", target, err)
	}

	s := &Session{
		id:        id.NewShellID(),
		target:    target,
		command:   command,
		startedAt: time.Now(),
		proc:      proc,
		stdin:     proc.Stdin(),
		output:    NewBuffer(m.opts.BufferSize),
		screen:    NewScreen(int(cols), int(rows), m.opts.Scrollback),
		updates:   make(chan struct{}, 1),
		done:      make(chan struct{}),
		cols:      cols,
		rows:      rows,
	}
	m.sessions.Store(s.id, s)
	m.metrics.AddStreams("shell", 1)
	m.logger.Info("shell started", zap.String("id", string(s.id)), logging.Target(target), zap.Strings("command", command))

	var readers sync.WaitGroup
	for _, r := range []io.Reader{proc.Stdout(), proc.Stderr()} {
		if r == nil {
			continue
		}
		readers.Add(1)
		go func() {
			defer readers.Done()
			m.readOutput(s, r)
		}()
	}
	go m.monitorProcess(s, &readers)

	info := s.info()
	return &info, nil
}

// readOutput copies process output into the session buffer and screen.
func (m *Manager) readOutput(s *Session, r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.output.Write(buf[:n])
			s.screen.Feed(buf[:n])
			s.notify()
		}
		if err != nil {
			return
		}
	}
}

// monitorProcess waits for the shell to exit and marks the session closed.
func (m *Manager) monitorProcess(s *Session, readers *sync.WaitGroup) {
	err := s.proc.Wait()
	readers.Wait()

	s.mu.Lock()
	wasClosed := s.closed
	s.closed = true
	s.exitErr = err
	s.mu.Unlock()

	if !wasClosed {
		m.metrics.AddStreams("shell", -1)
	}
	m.logger.Info("shell exited", zap.String("id", string(s.id)), logging.Target(s.target), zap.Error(err))
	close(s.done)
	s.notify()
}

// Lookup returns the live session for streaming consumers.
func (m *Manager) Lookup(sessionID id.ShellID) (*Session, error) {
	value, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return value.(*Session), nil
}

// Write sends input to a session.
func (m *Manager) Write(sessionID id.ShellID, input []byte) error {
	s, err := m.Lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}

	_, err = s.stdin.Write(input)
	return err
}

// Read drains the raw output buffered since the previous Read.
func (m *Manager) Read(sessionID id.ShellID) ([]byte, error) {
	s, err := m.Lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.output.ReadAll(), nil
}

// Render returns the interpreted screen of a session.
func (m *Manager) Render(sessionID id.ShellID) (string, error) {
	s, err := m.Lookup(sessionID)
	if err != nil {
		return "", err
	}
	return s.screen.Render(), nil
}

// Resize changes terminal dimensions.
func (m *Manager) Resize(sessionID id.ShellID, cols, rows uint16) error {
	s, err := m.Lookup(sessionID)
	if err != nil {
		return err
	}
	if cols == 0 || rows == 0 {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}
	resizer, ok := s.proc.(cluster.Resizer)
	if !ok {
		return ErrResizeUnsupported
	}
	if err := resizer.Resize(cols, rows); err != nil {
		return err
	}
	s.cols, s.rows = cols, rows
	s.screen.Resize(int(cols), int(rows))
	return nil
}

// Kill terminates a session and forgets it.
func (m *Manager) Kill(sessionID id.ShellID) error {
	s, err := m.Lookup(sessionID)
	if err != nil {
		return err
	}
	m.sessions.Delete(sessionID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	m.metrics.AddStreams("shell", -1)
	_ = s.stdin.Close()
	return s.proc.Kill()
}

// KillAll terminates every session.
func (m *Manager) KillAll() {
	m.sessions.Range(func(key, _ any) bool {
		_ = m.Kill(key.(id.ShellID))
		return true
	})
}

// List returns all sessions, oldest first.
func (m *Manager) List() []SessionInfo {
	var sessions []SessionInfo
	m.sessions.Range(func(_, value any) bool {
		sessions = append(sessions, value.(*Session).info())
		return true
	})
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// Get retrieves session info.
func (m *Manager) Get(sessionID id.ShellID) (*SessionInfo, error) {
	s, err := m.Lookup(sessionID)
	if err != nil {
		return nil, err
	}
	info := s.info()
	return &info, nil
}
