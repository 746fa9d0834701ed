package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/logging"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/podfs/internal/shared/id"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

var (
	// ErrNoDestination is returned when neither the request nor the
	// configuration names a download directory.
	ErrNoDestination = errors.New("no download destination configured")
	// ErrNotFound is returned for unknown transfer IDs.
	ErrNotFound = errors.New("transfer not found")
)

// Options configures a Manager.
type Options struct {
	// Destination is the default download directory.
	Destination    string
	SampleInterval time.Duration
	// Window is the number of samples averaged for the rate.
	Window      int
	Compression Compression
	// MeasureTimeout bounds the remote size probe.
	MeasureTimeout time.Duration

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// DefaultOptions returns the stock sampling settings.
func DefaultOptions() Options {
	return Options{
		SampleInterval: 250 * time.Millisecond,
		Window:         8,
		Compression:    Gzip,
		MeasureTimeout: 10 * time.Second,
	}
}

// Request describes one download.
type Request struct {
	Target types.RemoteTarget `json:"target"`
	Path   string             `json:"path"`
	// Destination overrides the configured download directory.
	Destination string      `json:"destination,omitempty"`
	Compression Compression `json:"compression,omitempty"`
}

// Manager starts downloads and keeps their sessions by ID.
type Manager struct {
	exec     cluster.Executor
	opts     Options
	sessions sync.Map // id.TransferID -> *Session
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewManager creates a manager spawning archive processes through exec.
func NewManager(exec cluster.Executor, opts Options) *Manager {
	defaults := DefaultOptions()
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = defaults.SampleInterval
	}
	if opts.Window <= 0 {
		opts.Window = defaults.Window
	}
	if opts.Compression == "" {
		opts.Compression = defaults.Compression
	}
	if opts.MeasureTimeout <= 0 {
		opts.MeasureTimeout = defaults.MeasureTimeout
	}
	return &Manager{
		exec:    exec,
		opts:    opts,
		logger:  logging.OrNop(opts.Logger).Named("transfer"),
		metrics: opts.Metrics,
	}
}

// Download starts copying req.Path from the target into the destination.
// The returned session runs until the archive ends or Cancel is called.
func (m *Manager) Download(ctx context.Context, req Request) (*Session, error) {
	dest := req.Destination
	if dest == "" {
		dest = m.opts.Destination
	}
	if dest == "" {
		return nil, ErrNoDestination
	}
	if err := req.Target.Validate(); err != nil {
		return nil, err
	}
	compression := req.Compression
	if compression == "" {
		compression = m.opts.Compression
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	measureCtx, cancel := context.WithTimeout(ctx, m.opts.MeasureTimeout)
	total := measureTotal(measureCtx, m.exec, req.Target, req.Path)
	cancel()

	proc, err := m.exec.Exec(ctx, req.Target, cluster.ExecRequest{Command: ArchiveCommand(req.Path, compression)})
	if err != nil {
		m.logger.Error("archive process failed to start", logging.Target(req.Target), zap.String("path", req.Path), zap.Error(err))
		return nil, fmt.Errorf("download %s from %s: %w", req.Path, req.Target, err)
	}

	s := newSession(req.Target, req.Path, dest, proc, total)
	m.sessions.Store(s.ID, s)
	m.metrics.TransferStarted()
	m.logger.Info("download started",
		zap.String("id", string(s.ID)),
		logging.Target(req.Target),
		zap.String("path", req.Path),
		zap.String("destination", dest),
		zap.Int64("total", total),
	)

	go m.run(s, compression, total)
	return s, nil
}

func (m *Manager) run(s *Session, compression Compression, total int64) {
	ctx, stopSampling := context.WithCancel(context.Background())
	// Only what lands under the archived entry counts as progress.
	measured := filepath.Join(s.Destination, path.Base(path.Clean("/"+s.Source)))
	if path.Clean("/"+s.Source) == "/" {
		measured = s.Destination
	}

	var sampler sync.WaitGroup
	sampler.Add(1)
	go func() {
		defer sampler.Done()
		m.sample(ctx, s, measured, total)
	}()

	var stderr tailBuffer
	var drained sync.WaitGroup
	if r := s.proc.Stderr(); r != nil {
		drained.Add(1)
		go func() {
			defer drained.Done()
			_, _ = io.Copy(&stderr, r)
		}()
	}

	err := Extract(s.proc.Stdout(), s.Destination, compression)
	if err != nil {
		// Unblock the remote side so Wait returns.
		_ = s.proc.Kill()
	}
	drained.Wait()
	if waitErr := s.proc.Wait(); err == nil && waitErr != nil {
		err = waitErr
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			err = fmt.Errorf("%w: %s", waitErr, msg)
		}
	}

	stopSampling()
	sampler.Wait()

	landed, _ := landedBytes(context.Background(), measured)
	res := s.finish(landed, err)
	m.metrics.AddTransferBytes(landed)
	m.metrics.TransferFinished(res.Outcome.String())

	fields := []zap.Field{
		zap.String("id", string(s.ID)),
		zap.String("outcome", res.Outcome.String()),
		zap.Int64("landed", landed),
		zap.Duration("duration", time.Since(s.Started)),
	}
	if res.Err != nil {
		m.logger.Warn("download ended", append(fields, zap.Error(res.Err))...)
	} else {
		m.logger.Info("download ended", fields...)
	}
}

func (m *Manager) sample(ctx context.Context, s *Session, root string, total int64) {
	ticker := time.NewTicker(m.opts.SampleInterval)
	defer ticker.Stop()
	meter := NewMeter(m.opts.Window, s.Started)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			landed, err := landedBytes(ctx, root)
			if err != nil && ctx.Err() != nil {
				return
			}
			rate := meter.Observe(landed, now)
			s.publish(Progress{
				Landed:  landed,
				Total:   total,
				Rate:    rate,
				ETA:     ETA(landed, total, rate),
				Elapsed: now.Sub(s.Started),
			})
		}
	}
}

// Get returns the session with the given ID.
func (m *Manager) Get(transferID id.TransferID) (*Session, error) {
	v, ok := m.sessions.Load(transferID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, transferID)
	}
	return v.(*Session), nil
}

// Cancel cancels the session with the given ID.
func (m *Manager) Cancel(transferID id.TransferID) error {
	s, err := m.Get(transferID)
	if err != nil {
		return err
	}
	if s.Cancel() {
		m.logger.Info("download cancelled", zap.String("id", string(transferID)))
	}
	return nil
}

// List returns every known session, newest first.
func (m *Manager) List() []Info {
	var infos []Info
	m.sessions.Range(func(_, v any) bool {
		infos = append(infos, v.(*Session).Info())
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Started.After(infos[j].Started) })
	return infos
}

// Forget drops finished sessions and returns how many were removed.
func (m *Manager) Forget() int {
	n := 0
	m.sessions.Range(func(key, v any) bool {
		select {
		case <-v.(*Session).Done():
			m.sessions.Delete(key)
			n++
		default:
		}
		return true
	})
	return n
}

// CancelAll cancels every running session.
func (m *Manager) CancelAll() {
	m.sessions.Range(func(_, v any) bool {
		v.(*Session).Cancel()
		return true
	})
}

// landedBytes sums regular file sizes under root.
func landedBytes(ctx context.Context, root string) (int64, error) {
	if _, err := os.Lstat(root); err != nil {
		return 0, nil
	}
	var total atomic.Int64
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total.Add(info.Size())
		}
		return nil
	})
	return total.Load(), err
}

// tailBuffer keeps the last few KiB written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

const tailSize = 4096

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > tailSize {
		t.buf = t.buf[len(t.buf)-tailSize:]
	}
	return len(p), nil
}

func (t *tailBuffer) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf...)
}
