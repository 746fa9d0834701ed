package stream

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/x/ansi"

	"github.com/GriffinCanCode/podfs/internal/terminal"
)

// lineLog keeps the last max complete lines plus the unterminated tail.
type lineLog struct {
	max   int
	lines []string
	tail  []byte
}

// push splits p into lines, passing each complete one through fn. fn returns
// false to skip a line.
func (l *lineLog) push(p []byte, fn func(line []byte) (string, bool)) {
	l.tail = append(l.tail, p...)
	for {
		i := bytes.IndexByte(l.tail, '\n')
		if i < 0 {
			return
		}
		if s, ok := fn(l.tail[:i]); ok {
			l.add(s)
		}
		l.tail = l.tail[i+1:]
	}
}

func (l *lineLog) add(s string) {
	l.lines = append(l.lines, s)
	if extra := len(l.lines) - l.max; l.max > 0 && extra > 0 {
		l.lines = append(l.lines[:0], l.lines[extra:]...)
	}
}

// plainText renders log output with control sequences stripped rather than
// interpreted.
type plainText struct {
	mu sync.Mutex
	lineLog
}

var _ terminal.Emulator = (*plainText)(nil)

func newPlainText(scrollback int) *plainText {
	return &plainText{lineLog: lineLog{max: scrollback}}
}

func (p *plainText) Feed(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.push(b, func(line []byte) (string, bool) {
		return strip(line), true
	})
}

func (p *plainText) Render() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := strings.Join(p.lines, "\n")
	if len(p.tail) > 0 {
		if out != "" {
			out += "\n"
		}
		out += strip(p.tail)
	}
	return out
}

func strip(line []byte) string {
	return strings.TrimRight(ansi.Strip(string(line)), "\r")
}

// watchEvent is one frame of a Kubernetes event watch.
type watchEvent struct {
	Type   string `json:"type"`
	Object event  `json:"object"`
}

type event struct {
	Type           string    `json:"type"`
	Reason         string    `json:"reason"`
	Message        string    `json:"message"`
	Count          int       `json:"count"`
	InvolvedObject objectRef `json:"involvedObject"`
}

type objectRef struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// eventTable renders a watch stream as one line per event:
// TYPE REASON OBJECT MESSAGE.
type eventTable struct {
	mu sync.Mutex
	lineLog
	skipped int
}

var _ terminal.Emulator = (*eventTable)(nil)

func newEventTable(scrollback int) *eventTable {
	return &eventTable{lineLog: lineLog{max: scrollback}}
}

func (e *eventTable) Feed(b []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.push(b, func(line []byte) (string, bool) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			return "", false
		}
		var ev watchEvent
		if err := sonic.Unmarshal(line, &ev); err != nil || ev.Type == "ERROR" {
			e.skipped++
			return "", false
		}
		return formatEvent(ev), true
	})
}

func (e *eventTable) Render() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.lines, "\n")
}

// Skipped returns how many undecodable or error frames were dropped.
func (e *eventTable) Skipped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.skipped
}

func formatEvent(ev watchEvent) string {
	obj := ev.Object
	ref := strings.ToLower(obj.InvolvedObject.Kind) + "/" + obj.InvolvedObject.Name
	msg := strings.TrimSpace(obj.Message)
	if obj.Count > 1 {
		msg = fmt.Sprintf("%s (x%d)", msg, obj.Count)
	}
	if ev.Type == "DELETED" {
		msg += " [deleted]"
	}
	return strings.Join([]string{orDash(obj.Type), orDash(obj.Reason), ref, msg}, " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
