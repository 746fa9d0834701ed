package channel

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/logging"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/podfs/internal/protocol"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// Runner sends commands and waits for their results.
type Runner interface {
	Run(ctx context.Context, cmd protocol.Command) (*protocol.Result, error)
}

// Channel multiplexes concurrent commands to one remote target over a single
// interpreter process, matching results to callers by ticket. When the
// transport drops it reopens in place, keeping its identity and pending table.
type Channel struct {
	target  types.RemoteTarget
	exec    cluster.Executor
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics

	nextTicket atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]*call

	// writeMu serializes request lines and orders registration before write.
	writeMu sync.Mutex

	stateMu    sync.Mutex
	state      State
	conn       *transport
	ready      chan struct{}
	generation uint64

	life       context.Context
	cancelLife context.CancelFunc
	closeOnce  sync.Once
	closing    chan struct{}
	supervised chan struct{}
}

// transport is one generation of the underlying process. Its reader
// goroutine is the only listener for its output.
type transport struct {
	proc  cluster.Process
	stdin io.WriteCloser
	gen   uint64
	done  chan struct{}
	err   error
}

// New creates a channel bound to target. It does nothing until Open.
func New(target types.RemoteTarget, exec cluster.Executor, opts Options) *Channel {
	defaults := DefaultOptions()
	if opts.Interpreter == "" {
		opts.Interpreter = defaults.Interpreter
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff = defaults.Backoff
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = defaults.CloseGrace
	}

	life, cancel := context.WithCancel(context.Background())
	return &Channel{
		target:     target,
		exec:       exec,
		opts:       opts,
		logger:     logging.OrNop(opts.Logger).With(logging.Target(target)),
		metrics:    opts.Metrics,
		pending:    make(map[uint64]*call),
		ready:      make(chan struct{}),
		life:       life,
		cancelLife: cancel,
		closing:    make(chan struct{}),
		supervised: make(chan struct{}),
	}
}

// Target returns the remote target the channel is bound to.
func (c *Channel) Target() types.RemoteTarget {
	return c.target
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Generation counts transports opened so far; it grows by one per reconnect.
func (c *Channel) Generation() uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.generation
}

// Open spawns the remote interpreter and returns once its transport is
// established. A channel can be opened once.
func (c *Channel) Open(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state != StateIdle {
		c.stateMu.Unlock()
		return ErrAlreadyOpen
	}
	c.stateMu.Unlock()
	c.setState(StateConnecting)

	tr, err := c.dial(ctx)
	if err != nil {
		c.stateMu.Lock()
		from := c.state
		if from != StateClosed {
			c.state = StateFailed
		}
		c.stateMu.Unlock()
		if from != StateClosed {
			c.notifyState(from, StateFailed)
		}
		c.cancelLife()
		close(c.supervised)
		return fmt.Errorf("open channel to %s: %w", c.target, err)
	}

	if !c.install(tr) {
		_ = tr.proc.Kill()
		close(c.supervised)
		return ErrClosed
	}
	c.metrics.AddChannels(1)
	c.logger.Info("channel opened", zap.Uint64("generation", tr.gen))

	go c.supervise(tr)
	return nil
}

// Run sends cmd with a fresh ticket and waits for its result. A result with
// status "E" returns a *protocol.RemoteError carrying the remote message.
// Cancelling ctx abandons the call and removes its pending entry.
func (c *Channel) Run(ctx context.Context, cmd protocol.Command) (*protocol.Result, error) {
	verb := cmd.Verb()
	ticket := c.nextTicket.Add(1)
	line, err := protocol.Encode(ticket, cmd)
	if err != nil {
		return nil, err
	}

	pc := &call{verb: verb, started: time.Now(), done: make(chan outcome, 1)}
	if err := c.send(ctx, ticket, line, pc); err != nil {
		c.metrics.RecordCommand(string(verb), "transport_error", time.Since(pc.started))
		return nil, err
	}

	select {
	case out := <-pc.done:
		elapsed := time.Since(pc.started)
		if out.err != nil {
			c.metrics.RecordCommand(string(verb), "transport_error", elapsed)
			return nil, out.err
		}
		c.logger.Debug("command round trip",
			zap.String("verb", string(verb)),
			zap.Uint64("ticket", ticket),
			zap.Duration("duration", elapsed),
		)
		if err := out.res.Err(); err != nil {
			c.metrics.RecordCommand(string(verb), "remote_error", elapsed)
			return out.res, err
		}
		c.metrics.RecordCommand(string(verb), "ok", elapsed)
		return out.res, nil

	case <-ctx.Done():
		if c.take(ticket) == nil {
			// The result won the race; it is already buffered.
			out := <-pc.done
			if out.err == nil {
				if err := out.res.Err(); err != nil {
					return out.res, err
				}
				return out.res, nil
			}
		}
		c.metrics.RecordCommand(string(verb), "cancelled", time.Since(pc.started))
		return nil, ctx.Err()
	}
}

// Ping asks the interpreter to identify itself.
func (c *Channel) Ping(ctx context.Context) (protocol.Probe, error) {
	return Call[protocol.Probe](ctx, c, protocol.Test{})
}

// send registers pc and writes line to the live transport as one step,
// waiting for a reconnect to finish if the transport is down.
func (c *Channel) send(ctx context.Context, ticket uint64, line []byte, pc *call) error {
	for {
		tr, err := c.awaitTransport(ctx)
		if err != nil {
			return err
		}

		c.writeMu.Lock()
		if tr != c.current() {
			c.writeMu.Unlock()
			continue
		}
		c.register(ticket, pc)
		_, err = tr.stdin.Write(line)
		if err != nil {
			c.take(ticket)
		}
		c.writeMu.Unlock()

		if err == nil {
			return nil
		}
		// The line never reached the remote side, so it is safe to resend
		// on the next transport. Killing wakes a reader still blocked on
		// the dead one.
		c.logger.Debug("write failed, waiting for transport",
			zap.String("verb", string(pc.verb)),
			zap.Uint64("generation", tr.gen),
			zap.Error(err),
		)
		c.detach(tr)
		_ = tr.proc.Kill()
	}
}

// awaitTransport returns the live transport, blocking while reconnecting.
func (c *Channel) awaitTransport(ctx context.Context) (*transport, error) {
	for {
		c.stateMu.Lock()
		state, tr, ready := c.state, c.conn, c.ready
		c.stateMu.Unlock()

		switch state {
		case StateIdle:
			return nil, fmt.Errorf("channel to %s not opened", c.target)
		case StateClosed:
			return nil, ErrClosed
		case StateFailed:
			return nil, ErrReconnectExhausted
		}
		if tr != nil {
			return tr, nil
		}

		select {
		case <-ready:
		case <-c.closing:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Channel) current() *transport {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.conn
}

// dial spawns a new interpreter process and starts its reader.
func (c *Channel) dial(ctx context.Context) (*transport, error) {
	proc, err := c.exec.Exec(ctx, c.target, cluster.ExecRequest{
		Command: protocol.Argv(c.opts.Interpreter),
		Stdin:   true,
	})
	if err != nil {
		return nil, err
	}

	c.stateMu.Lock()
	c.generation++
	gen := c.generation
	c.stateMu.Unlock()

	tr := &transport{
		proc:  proc,
		stdin: proc.Stdin(),
		gen:   gen,
		done:  make(chan struct{}),
	}
	go c.readLoop(tr)
	if stderr := proc.Stderr(); stderr != nil {
		go c.logStderr(stderr, gen)
	}
	return tr, nil
}

// install makes tr the live transport and wakes blocked senders. It
// refuses once the channel is closed.
func (c *Channel) install(tr *transport) bool {
	c.stateMu.Lock()
	if c.state == StateClosed {
		c.stateMu.Unlock()
		return false
	}
	from := c.state
	c.conn = tr
	c.state = StateConnected
	close(c.ready)
	c.stateMu.Unlock()
	c.notifyState(from, StateConnected)
	return true
}

// detach removes tr as the live transport so new sends wait for the next one.
func (c *Channel) detach(tr *transport) {
	c.stateMu.Lock()
	if c.conn != tr || c.state == StateClosed {
		c.stateMu.Unlock()
		return
	}
	from := c.state
	c.conn = nil
	c.ready = make(chan struct{})
	c.state = StateReconnecting
	c.stateMu.Unlock()
	c.notifyState(from, StateReconnecting)
}

func (c *Channel) readLoop(tr *transport) {
	defer close(tr.done)

	r := bufio.NewReaderSize(tr.proc.Stdout(), 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			c.dispatch(line)
		}
		if err != nil {
			tr.err = err
			return
		}
	}
}

// dispatch delivers one result line to its pending call.
func (c *Channel) dispatch(line []byte) {
	res, err := protocol.ParseResult(line)
	switch {
	case errors.Is(err, protocol.ErrMissingTicket):
		c.anomaly(Anomaly{Kind: AnomalyMissingTicket, Line: line, Err: res.Err()})
	case err != nil:
		c.anomaly(Anomaly{Kind: AnomalyMalformed, Line: line, Err: err})
	default:
		pc := c.take(res.TicketID())
		if pc == nil {
			c.anomaly(Anomaly{Kind: AnomalyUnmatched, Ticket: res.TicketID(), Line: line})
			return
		}
		pc.done <- outcome{res: res}
	}
}

func (c *Channel) anomaly(a Anomaly) {
	a.Target = c.target
	c.metrics.RecordAnomaly(string(a.Kind))

	fields := []zap.Field{zap.String("kind", string(a.Kind)), zap.ByteString("line", truncate(a.Line, 256))}
	if a.Ticket != 0 {
		fields = append(fields, zap.Uint64("ticket", a.Ticket))
	}
	if a.Err != nil {
		fields = append(fields, zap.Error(a.Err))
	}
	c.logger.Warn("protocol anomaly", fields...)

	if c.opts.OnAnomaly != nil {
		c.opts.OnAnomaly(a)
	}
}

func (c *Channel) logStderr(r io.Reader, gen uint64) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.logger.Warn("interpreter stderr", zap.Uint64("generation", gen), zap.String("line", scanner.Text()))
	}
}

// supervise watches the live transport and reopens it whenever it drops.
// It is the only goroutine that replaces transports, so each generation's
// reader has exited before the next one starts.
func (c *Channel) supervise(tr *transport) {
	defer close(c.supervised)

	for {
		select {
		case <-tr.done:
		case <-c.closing:
			return
		}
		if c.isClosing() {
			return
		}

		c.detach(tr)
		_ = tr.proc.Kill()
		_ = tr.proc.Wait()
		c.logger.Info("transport dropped, reconnecting",
			zap.Uint64("generation", tr.gen),
			zap.NamedError("cause", tr.err),
			zap.Int("pending", c.Pending()),
		)
		if c.opts.FailPendingOnReset {
			if n := c.failAll(ErrTransportReset); n > 0 {
				c.logger.Info("failed pending calls after reset", zap.Int("count", n))
			}
		}

		next, err := c.reconnect()
		if err != nil {
			if c.isClosing() {
				return
			}
			c.setState(StateFailed)
			n := c.failAll(ErrReconnectExhausted)
			c.metrics.AddChannels(-1)
			c.logger.Error("giving up on channel", zap.Error(err), zap.Int("failed_calls", n))
			return
		}
		tr = next
	}
}

// reconnect retries dial under the backoff policy until it succeeds, the
// policy is exhausted, or the channel closes.
func (c *Channel) reconnect() (*transport, error) {
	for attempt := 1; ; attempt++ {
		if c.opts.Backoff.Exhausted(attempt) {
			c.metrics.RecordReconnect("exhausted")
			return nil, ErrReconnectExhausted
		}
		if err := c.opts.Backoff.Wait(c.life, attempt); err != nil {
			return nil, ErrClosed
		}

		tr, err := c.dial(c.life)
		if err != nil {
			c.metrics.RecordReconnect("failed")
			c.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		if !c.install(tr) {
			_ = tr.proc.Kill()
			return nil, ErrClosed
		}
		c.metrics.RecordReconnect("ok")
		c.logger.Info("reconnected", zap.Int("attempt", attempt), zap.Uint64("generation", tr.gen))
		return tr, nil
	}
}

// Close ends the write side, waits up to the grace period for in-flight
// results to drain, then terminates the transport. Calls still pending
// afterwards fail with ErrClosed.
func (c *Channel) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.stateMu.Lock()
		from := c.state
		tr := c.conn
		c.state = StateClosed
		c.stateMu.Unlock()
		close(c.closing)
		c.notifyState(from, StateClosed)

		if tr != nil {
			err = c.drain(ctx, tr)
			<-tr.done
		}
		c.cancelLife()
		if from != StateIdle {
			<-c.supervised
		}

		if n := c.failAll(ErrClosed); n > 0 {
			c.logger.Warn("closed with pending calls", zap.Int("count", n))
		}
		if from == StateConnected || from == StateReconnecting {
			c.metrics.AddChannels(-1)
		}
		c.logger.Info("channel closed")
	})
	return err
}

func (c *Channel) drain(ctx context.Context, tr *transport) error {
	c.writeMu.Lock()
	closeErr := tr.stdin.Close()
	c.writeMu.Unlock()

	grace := time.NewTimer(c.opts.CloseGrace)
	defer grace.Stop()

	select {
	case <-tr.done:
	case <-grace.C:
	case <-ctx.Done():
	}
	if err := tr.proc.Kill(); err != nil && closeErr == nil {
		closeErr = err
	}
	_ = tr.proc.Wait()
	return closeErr
}

func (c *Channel) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Channel) setState(to State) {
	c.stateMu.Lock()
	from := c.state
	c.state = to
	c.stateMu.Unlock()
	c.notifyState(from, to)
}

func (c *Channel) notifyState(from, to State) {
	if from == to || c.opts.OnStateChange == nil {
		return
	}
	c.opts.OnStateChange(c.target, from, to)
}

// Call runs cmd on r and decodes the reply variant R.
func Call[R protocol.Reply](ctx context.Context, r Runner, cmd protocol.Command) (R, error) {
	var zero R
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return zero, err
	}
	return protocol.As[R](cmd.Verb(), res)
}

func truncate(b []byte, n int) []byte {
	b = bytes.TrimSpace(b)
	if len(b) <= n {
		return b
	}
	return b[:n]
}
