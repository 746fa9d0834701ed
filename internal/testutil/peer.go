package testutil

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/protocol"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// request is the interpreter's view of one inbound line.
type request struct {
	Cmd       string  `json:"cmd"`
	Ticket    *uint64 `json:"ticket"`
	P         string  `json:"p"`
	Contents  string  `json:"contents"`
	Recursive bool    `json:"recursive"`
	Src       string  `json:"src"`
	Dst       string  `json:"dst"`
}

// Peer is an in-memory bootstrap interpreter. It implements cluster.Executor:
// every Exec starts a new session over in-memory pipes, all sessions sharing
// one MemFS. Requests are served concurrently, so results may come back in
// any order.
type Peer struct {
	fs *MemFS

	mu        sync.Mutex
	sessions  []*session
	targets   []types.RemoteTarget
	failExecs int
	jitter    time.Duration
	held      map[protocol.Verb]bool
	requests  map[protocol.Verb]int
	tickets   []uint64
}

type session struct {
	peer    *Peer
	proc    *PipeProcess
	writeMu sync.Mutex
}

// NewPeer creates a peer with an empty filesystem.
func NewPeer() *Peer {
	return &Peer{
		fs:       NewMemFS(),
		held:     make(map[protocol.Verb]bool),
		requests: make(map[protocol.Verb]int),
	}
}

// Exec starts a new interpreter session.
func (p *Peer) Exec(ctx context.Context, target types.RemoteTarget, req cluster.ExecRequest) (cluster.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.targets = append(p.targets, target)
	if p.failExecs > 0 {
		p.failExecs--
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: injected failure", cluster.ErrStartFailed)
	}
	s := &session{peer: p, proc: NewPipeProcess()}
	p.sessions = append(p.sessions, s)
	p.mu.Unlock()

	go s.serve()
	return s.proc, nil
}

// FS returns the shared filesystem.
func (p *Peer) FS() *MemFS {
	return p.fs
}

// FailNextExecs makes the next n Exec calls fail.
func (p *Peer) FailNextExecs(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failExecs = n
}

// SetJitter delays each result by a random duration up to d.
func (p *Peer) SetJitter(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jitter = d
}

// Hold makes the peer swallow requests for verb without answering.
func (p *Peer) Hold(verb protocol.Verb) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held[verb] = true
}

// Release undoes Hold for requests received from now on.
func (p *Peer) Release(verb protocol.Verb) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.held, verb)
}

// Drop kills the newest session, as a lost connection would.
func (p *Peer) Drop() {
	if s := p.current(); s != nil {
		_ = s.proc.Kill()
	}
}

// Inject writes a raw line to the newest session's output.
func (p *Peer) Inject(line string) error {
	s := p.current()
	if s == nil {
		return fmt.Errorf("no session")
	}
	return s.write([]byte(line + "\n"))
}

// Execs returns how many sessions were requested, including failed ones.
func (p *Peer) Execs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.targets)
}

// Sessions returns how many sessions were started.
func (p *Peer) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Targets returns the targets of every Exec call.
func (p *Peer) Targets() []types.RemoteTarget {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.RemoteTarget(nil), p.targets...)
}

// Requests returns how many requests for verb were received.
func (p *Peer) Requests(verb protocol.Verb) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[verb]
}

// Tickets returns every ticket received, in arrival order.
func (p *Peer) Tickets() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.tickets...)
}

// Process returns the newest session's process.
func (p *Peer) Process() *PipeProcess {
	if s := p.current(); s != nil {
		return s.proc
	}
	return nil
}

func (p *Peer) current() *session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

func (s *session) serve() {
	var wg sync.WaitGroup
	r := bufio.NewReader(s.proc.RemoteStdin())
	for {
		line, err := r.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			wg.Add(1)
			go func(line []byte) {
				defer wg.Done()
				s.handle(line)
			}(line)
		}
		if err != nil {
			break
		}
	}
	wg.Wait()
	s.proc.Exit(nil)
}

func (s *session) handle(line []byte) {
	var req request
	if err := sonic.Unmarshal(line, &req); err != nil {
		s.reply(nil, map[string]any{"result": "E", "msg": "bad request: " + err.Error()})
		return
	}

	p := s.peer
	verb := protocol.Verb(req.Cmd)
	p.mu.Lock()
	p.requests[verb]++
	if req.Ticket != nil {
		p.tickets = append(p.tickets, *req.Ticket)
	}
	held := p.held[verb]
	jitter := p.jitter
	p.mu.Unlock()

	if held {
		return
	}
	if jitter > 0 {
		time.Sleep(rand.N(jitter))
	}

	out, ferr := p.fs.apply(&req)
	if ferr != nil {
		out = map[string]any{"result": "E", "msg": ferr.msg}
		if ferr.code != "" {
			out["code"] = ferr.code
		}
	} else {
		out["result"] = "OK"
	}
	s.reply(req.Ticket, out)
}

func (s *session) reply(ticket *uint64, out map[string]any) {
	out["ticket"] = ticket
	b, err := sonic.Marshal(out)
	if err != nil {
		return
	}
	_ = s.write(append(b, '\n'))
}

func (s *session) write(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.proc.RemoteStdout().Write(b)
	return err
}
