package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/shared/id"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// Outcome is how a transfer ended.
type Outcome int

const (
	Running Outcome = iota
	Finished
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// MarshalText renders the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Progress is one sample of a running transfer.
type Progress struct {
	Landed  int64         `json:"landed"`
	Total   int64         `json:"total"`
	Rate    float64       `json:"rate"`
	ETA     time.Duration `json:"eta"`
	Elapsed time.Duration `json:"elapsed"`
}

// Percent returns completion in [0,100], or -1 without a known total.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	pct := float64(p.Landed) / float64(p.Total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Result is the final report of a transfer.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Landed  int64   `json:"landed"`
	Err     error   `json:"-"`
}

// Info is a snapshot of a session for listings.
type Info struct {
	ID          id.TransferID      `json:"id"`
	Target      types.RemoteTarget `json:"target"`
	Source      string             `json:"source"`
	Destination string             `json:"destination"`
	Started     time.Time          `json:"started"`
	Outcome     Outcome            `json:"outcome"`
	Progress    Progress           `json:"progress"`
	Error       string             `json:"error,omitempty"`
}

// Session is one in-flight download.
type Session struct {
	ID          id.TransferID
	Target      types.RemoteTarget
	Source      string
	Destination string
	Started     time.Time

	proc     cluster.Process
	progress chan Progress
	done     chan struct{}

	mu        sync.Mutex
	last      Progress
	result    Result
	cancelled bool
	finished  bool
}

func newSession(target types.RemoteTarget, src, dest string, proc cluster.Process, total int64) *Session {
	return &Session{
		ID:          id.NewTransferID(),
		Target:      target,
		Source:      src,
		Destination: dest,
		Started:     time.Now(),
		proc:        proc,
		progress:    make(chan Progress, 1),
		done:        make(chan struct{}),
		last:        Progress{Total: total, ETA: -1},
	}
}

// Progress delivers samples, always the newest one a slow reader has not
// seen yet. It is closed when the transfer ends.
func (s *Session) Progress() <-chan Progress {
	return s.progress
}

// Done is closed once the outcome is known.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the transfer ends or ctx is done.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the outcome; it is Running until Done is closed.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Snapshot returns the latest sample.
func (s *Session) Snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Cancel terminates the archive process. It reports false if the transfer
// had already ended.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.finished || s.cancelled {
		s.mu.Unlock()
		return false
	}
	s.cancelled = true
	s.mu.Unlock()

	_ = s.proc.Kill()
	return true
}

// Info returns a snapshot for listings.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:          s.ID,
		Target:      s.Target,
		Source:      s.Source,
		Destination: s.Destination,
		Started:     s.Started,
		Outcome:     s.result.Outcome,
		Progress:    s.last,
	}
	if s.result.Err != nil {
		info.Error = s.result.Err.Error()
	}
	return info
}

// publish replaces any unread sample with p.
func (s *Session) publish(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.last = p
	select {
	case <-s.progress:
	default:
	}
	s.progress <- p
}

// finish records the outcome once. Cancellation requested before finish
// wins over whatever the stream reported.
func (s *Session) finish(landed int64, err error) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return s.result
	}
	s.finished = true

	res := Result{Outcome: Finished, Landed: landed}
	switch {
	case s.cancelled:
		res.Outcome = Cancelled
	case err != nil:
		res.Outcome = Failed
		res.Err = err
	}
	s.result = res
	s.last.Landed = landed
	s.last.Elapsed = time.Since(s.Started)
	close(s.progress)
	close(s.done)
	return res
}
