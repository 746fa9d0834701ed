package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/logging"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/podfs/internal/shared/id"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
	"github.com/GriffinCanCode/podfs/internal/terminal"
)

// Kind distinguishes log streams from event streams.
type Kind string

const (
	KindLogs   Kind = "logs"
	KindEvents Kind = "events"
)

// Options configures a Follower.
type Options struct {
	// MinInterval is the shortest gap between two frames.
	MinInterval time.Duration
	// Emulate interprets log output with a terminal emulator; otherwise
	// control sequences are stripped.
	Emulate    bool
	Cols       int
	Rows       int
	Scrollback int

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// DefaultOptions returns the stock stream settings.
func DefaultOptions() Options {
	return Options{
		MinInterval: 100 * time.Millisecond,
		Emulate:     true,
		Cols:        200,
		Rows:        50,
		Scrollback:  5000,
	}
}

// Frame is one rendered snapshot of a stream.
type Frame struct {
	Seq   uint64 `json:"seq"`
	Text  string `json:"text"`
	Final bool   `json:"final,omitempty"`
}

// Stream is one followed log or event feed.
type Stream struct {
	ID     id.StreamID
	Kind   Kind
	Target types.RemoteTarget

	sink     terminal.Emulator
	body     io.ReadCloser
	cancel   context.CancelFunc
	throttle *Throttle
	frames   chan Frame
	done     chan struct{}
	metrics  *monitoring.Metrics

	mu        sync.Mutex
	seq       uint64
	finished  bool
	closed    bool
	err       error
	closeOnce sync.Once
}

// Frames delivers the newest rendered text. Intermediate frames are replaced
// rather than queued when the consumer lags; the channel closes after the
// final frame.
func (s *Stream) Frames() <-chan Frame { return s.frames }

// Done is closed once the stream has ended.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Render returns the current text without waiting for a frame.
func (s *Stream) Render() string { return s.sink.Render() }

// Err reports why the stream ended. A stream closed by its consumer or
// ended by the cluster reports nil.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the consumer and cancels the underlying call, then waits
// for the reader to stop.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		_ = s.body.Close()
	})
	<-s.done
}

func (s *Stream) emit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.seq++
	s.send(Frame{Seq: s.seq, Text: s.sink.Render()})
}

// send replaces any undelivered frame with f. Callers hold s.mu.
func (s *Stream) send(f Frame) {
	select {
	case <-s.frames:
	default:
	}
	s.frames <- f
	s.metrics.RecordStreamEmit(string(s.Kind))
}

func (s *Stream) finish(err error) {
	s.throttle.Flush()
	s.throttle.Stop()

	s.mu.Lock()
	if s.closed || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		err = nil
	}
	s.err = err
	s.seq++
	s.send(Frame{Seq: s.seq, Text: s.sink.Render(), Final: true})
	s.finished = true
	close(s.frames)
	s.mu.Unlock()

	close(s.done)
}

// Follower opens log and event streams against a cluster.
type Follower struct {
	source  cluster.StreamSource
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewFollower creates a follower reading from source.
func NewFollower(source cluster.StreamSource, opts Options) *Follower {
	defaults := DefaultOptions()
	if opts.MinInterval <= 0 {
		opts.MinInterval = defaults.MinInterval
	}
	if opts.Cols <= 0 {
		opts.Cols = defaults.Cols
	}
	if opts.Rows <= 0 {
		opts.Rows = defaults.Rows
	}
	if opts.Scrollback <= 0 {
		opts.Scrollback = defaults.Scrollback
	}
	return &Follower{
		source:  source,
		opts:    opts,
		logger:  logging.OrNop(opts.Logger).Named("stream"),
		metrics: opts.Metrics,
	}
}

// FollowLog streams container logs of target.
func (f *Follower) FollowLog(ctx context.Context, target types.RemoteTarget, opts cluster.LogOptions) (*Stream, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if opts.Container == "" {
		opts.Container = target.Container
	}
	opts.Follow = true

	var sink terminal.Emulator
	if f.opts.Emulate {
		sink = terminal.NewScreen(f.opts.Cols, f.opts.Rows, f.opts.Scrollback)
	} else {
		sink = newPlainText(f.opts.Scrollback)
	}
	return f.follow(ctx, KindLogs, target, sink, func(ctx context.Context) (io.ReadCloser, error) {
		return f.source.Logs(ctx, target, opts)
	})
}

// FollowEvents streams the events involving target's pod.
func (f *Follower) FollowEvents(ctx context.Context, target types.RemoteTarget) (*Stream, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return f.follow(ctx, KindEvents, target, newEventTable(f.opts.Scrollback), func(ctx context.Context) (io.ReadCloser, error) {
		return f.source.Events(ctx, target)
	})
}

func (f *Follower) follow(ctx context.Context, kind Kind, target types.RemoteTarget, sink terminal.Emulator, open func(context.Context) (io.ReadCloser, error)) (*Stream, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	body, err := open(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("follow %s of %s: %w", kind, target, err)
	}

	s := &Stream{
		ID:      id.NewStreamID(),
		Kind:    kind,
		Target:  target,
		sink:    sink,
		body:    body,
		cancel:  cancel,
		frames:  make(chan Frame, 1),
		done:    make(chan struct{}),
		metrics: f.metrics,
	}
	s.throttle = NewThrottle(f.opts.MinInterval, s.emit)

	f.metrics.AddStreams(string(kind), 1)
	f.logger.Info("stream opened", zap.String("id", string(s.ID)), zap.String("kind", string(kind)), logging.Target(target))
	go f.pump(s)
	return s, nil
}

func (f *Follower) pump(s *Stream) {
	buf := make([]byte, 32*1024)
	var err error
	for {
		var n int
		n, err = s.body.Read(buf)
		if n > 0 {
			s.sink.Feed(buf[:n])
			s.throttle.Trigger()
		}
		if err != nil {
			break
		}
	}
	s.cancel()
	_ = s.body.Close()
	s.finish(err)

	f.metrics.AddStreams(string(s.Kind), -1)
	fields := []zap.Field{zap.String("id", string(s.ID)), zap.String("kind", string(s.Kind)), logging.Target(s.Target)}
	if e := s.Err(); e != nil {
		f.logger.Warn("stream failed", append(fields, zap.Error(e))...)
		return
	}
	f.logger.Info("stream closed", fields...)
}
