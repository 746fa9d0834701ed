package terminal

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

// Emulator turns a raw output stream into renderable text.
type Emulator interface {
	Feed(p []byte)
	Render() string
}

const tabWidth = 8

// maxPending bounds an unterminated escape sequence held across Feed calls.
const maxPending = 4096

// cell is one screen column. A wide grapheme occupies its own cell plus a
// trailing placeholder with width 0.
type cell struct {
	content string
	width   int
}

var blank = cell{content: " ", width: 1}

func (c cell) placeholder() bool { return c.width == 0 }

// Screen is a fixed-size terminal grid with scrollback.
type Screen struct {
	mu sync.Mutex

	cols, rows int
	scrollback int
	grid       [][]cell
	history    []string

	x, y        int
	// top and bottom bound the scroll region, inclusive.
	top, bottom int
	savedX      int
	savedY      int
	wrapPending bool
	parser      *ansi.Parser
	pending     []byte
}

var _ Emulator = (*Screen)(nil)

// NewScreen creates a cols x rows screen keeping at most scrollback lines
// that scrolled off the top.
func NewScreen(cols, rows, scrollback int) *Screen {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	if scrollback < 0 {
		scrollback = 0
	}
	s := &Screen{
		cols:       cols,
		rows:       rows,
		scrollback: scrollback,
		bottom:     rows - 1,
		parser:     ansi.NewParser(),
	}
	s.grid = make([][]cell, rows)
	for i := range s.grid {
		s.grid[i] = blankLine(cols)
	}
	return s
}

// Size returns the screen dimensions.
func (s *Screen) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Cursor returns the zero-based cursor column and row.
func (s *Screen) Cursor() (x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.x, s.y
}

// Write feeds p and never fails, so a Screen can sit behind io.Copy.
func (s *Screen) Write(p []byte) (int, error) {
	s.Feed(p)
	return len(p), nil
}

// Feed interprets p. An escape sequence or UTF-8 rune cut off at the end of
// p is held until the next call completes it. A sequence still open at a
// line feed or beyond maxPending bytes is abandoned and its bytes are shown
// as text.
func (s *Screen) Feed(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := p
	if len(s.pending) > 0 {
		b = append(s.pending, p...)
		s.pending = nil
	}

	var state byte
	for len(b) > 0 {
		seq, width, n, newState := ansi.DecodeSequence(b, state, s.parser)
		if newState != ansi.NormalState {
			if len(b) <= maxPending && bytes.IndexByte(b, '\n') < 0 {
				s.pending = append([]byte(nil), b...)
				return
			}
			// drop the introducer, print the rest
			b = b[1:]
			continue
		}
		if b[0] >= 0xC0 && !utf8.FullRune(b) {
			s.pending = append([]byte(nil), b...)
			return
		}
		if n <= 0 {
			// invalid byte
			b = b[1:]
			continue
		}
		s.handle(seq, width)
		b = b[n:]
	}
}

// Render returns scrollback and screen as text, with trailing blanks and
// trailing empty lines trimmed.
func (s *Screen) Render() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]string, 0, len(s.history)+s.rows)
	lines = append(lines, s.history...)
	for _, row := range s.grid {
		lines = append(lines, renderLine(row))
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// Resize changes the grid size, keeping the cursor row visible.
func (s *Screen) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.top, s.bottom = 0, s.rows-1
	if shift := s.y - (rows - 1); shift > 0 {
		s.scrollUp(shift)
		s.y -= shift
	}
	grid := make([][]cell, rows)
	for i := range grid {
		grid[i] = blankLine(cols)
		if i < len(s.grid) {
			copy(grid[i], s.grid[i])
			s.tidy(grid[i])
		}
	}
	s.grid = grid
	s.cols, s.rows = cols, rows
	s.bottom = rows - 1
	s.x = min(s.x, cols-1)
	s.y = min(s.y, rows-1)
	s.savedX = min(s.savedX, cols-1)
	s.savedY = min(s.savedY, rows-1)
	s.wrapPending = false
}

// Reset clears the screen, scrollback and cursor state.
func (s *Screen) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Screen) reset() {
	for i := range s.grid {
		s.grid[i] = blankLine(s.cols)
	}
	s.history = nil
	s.x, s.y = 0, 0
	s.top, s.bottom = 0, s.rows-1
	s.savedX, s.savedY = 0, 0
	s.wrapPending = false
}

func (s *Screen) handle(seq []byte, width int) {
	switch {
	case width > 0:
		s.print(string(seq), width)
	case ansi.HasCsiPrefix(seq):
		s.csi()
	case ansi.HasOscPrefix(seq), ansi.HasDcsPrefix(seq), ansi.HasApcPrefix(seq),
		ansi.HasSosPrefix(seq), ansi.HasPmPrefix(seq):
		// consumed
	case ansi.HasEscPrefix(seq):
		s.esc()
	case len(seq) == 1:
		s.control(seq[0])
	default:
		s.combine(string(seq))
	}
}

func (s *Screen) control(c byte) {
	switch c {
	case ansi.LF, ansi.VT, ansi.FF:
		s.index()
		s.x = 0
	case ansi.CR:
		s.x = 0
	case ansi.BS:
		if s.x > 0 {
			s.x--
		}
	case ansi.HT:
		s.x = min((s.x/tabWidth+1)*tabWidth, s.cols-1)
	default:
		return
	}
	s.wrapPending = false
}

func (s *Screen) esc() {
	cmd := ansi.Cmd(s.parser.Command())
	if cmd.Intermediate() != 0 {
		// charset designation and friends
		return
	}
	switch cmd.Final() {
	case '7':
		s.savedX, s.savedY = s.x, s.y
	case '8':
		s.x, s.y = s.savedX, s.savedY
	case 'D':
		s.index()
	case 'E':
		s.index()
		s.x = 0
	case 'M':
		s.reverseIndex()
	case 'c':
		s.reset()
	default:
		return
	}
	s.wrapPending = false
}

func (s *Screen) csi() {
	cmd := ansi.Cmd(s.parser.Command())
	if cmd.Prefix() != 0 || cmd.Intermediate() != 0 {
		// private modes, DECSCUSR and the like
		return
	}
	n := s.count()
	switch cmd.Final() {
	case 'A':
		s.y = max(s.y-n, 0)
	case 'B', 'e':
		s.y = min(s.y+n, s.rows-1)
	case 'C', 'a':
		s.x = min(s.x+n, s.cols-1)
	case 'D':
		s.x = max(s.x-n, 0)
	case 'E':
		s.y = min(s.y+n, s.rows-1)
		s.x = 0
	case 'F':
		s.y = max(s.y-n, 0)
		s.x = 0
	case 'G', '`':
		s.x = clamp(n-1, 0, s.cols-1)
	case 'd':
		s.y = clamp(n-1, 0, s.rows-1)
	case 'H', 'f':
		row, _ := s.parser.Param(0, 1)
		col, _ := s.parser.Param(1, 1)
		s.y = clamp(max(row, 1)-1, 0, s.rows-1)
		s.x = clamp(max(col, 1)-1, 0, s.cols-1)
	case 'J':
		s.eraseDisplay(s.mode())
	case 'K':
		s.eraseLine(s.mode())
	case 'X':
		s.fill(s.y, s.x, min(s.x+n, s.cols))
	case '@':
		s.insertCells(n)
	case 'P':
		s.deleteCells(n)
	case 'L':
		s.insertLines(n)
	case 'M':
		s.deleteLines(n)
	case 'S':
		s.scrollUp(n)
	case 'T':
		s.scrollDown(n)
	case 'r':
		s.setRegion()
	case 's':
		s.savedX, s.savedY = s.x, s.y
	case 'u':
		s.x, s.y = s.savedX, s.savedY
	default:
		// SGR and everything else only affect attributes
		return
	}
	s.wrapPending = false
}

// setRegion applies DECSTBM. Regions shorter than two lines are ignored.
func (s *Screen) setRegion() {
	top, _ := s.parser.Param(0, 1)
	bottom, _ := s.parser.Param(1, s.rows)
	top = clamp(max(top, 1)-1, 0, s.rows-1)
	bottom = clamp(max(bottom, 1)-1, 0, s.rows-1)
	if top >= bottom {
		return
	}
	s.top, s.bottom = top, bottom
	s.x, s.y = 0, 0
}

// count is the first parameter as a repeat count: missing or zero means one.
func (s *Screen) count() int {
	n, _ := s.parser.Param(0, 1)
	return max(n, 1)
}

func (s *Screen) mode() int {
	n, _ := s.parser.Param(0, 0)
	return n
}

func (s *Screen) print(content string, width int) {
	if s.wrapPending {
		s.x = 0
		s.index()
		s.wrapPending = false
	}
	if width > s.cols {
		width = s.cols
	}
	if s.x+width > s.cols {
		s.x = 0
		s.index()
	}
	s.put(s.y, s.x, cell{content: content, width: width})
	for i := 1; i < width; i++ {
		s.put(s.y, s.x+i, cell{})
	}
	s.x += width
	if s.x >= s.cols {
		s.x = s.cols - 1
		s.wrapPending = true
	}
}

// combine attaches a zero-width grapheme to the cell before the cursor.
func (s *Screen) combine(content string) {
	x := s.x - 1
	if s.wrapPending {
		x = s.x
	}
	row := s.grid[s.y]
	for x > 0 && row[x].placeholder() {
		x--
	}
	if x >= 0 {
		row[x].content += content
	}
}

// put writes c at (y, x), clearing the halves of any wide cell it splits.
func (s *Screen) put(y, x int, c cell) {
	row := s.grid[y]
	old := row[x]
	if old.placeholder() && x > 0 && !c.placeholder() {
		for i := x - 1; i >= 0; i-- {
			wide := row[i].width > 1
			row[i] = blank
			if wide {
				break
			}
		}
	}
	if old.width > 1 {
		for i := x + 1; i < len(row) && row[i].placeholder(); i++ {
			row[i] = blank
		}
	}
	row[x] = c
}

func (s *Screen) index() {
	switch {
	case s.y == s.bottom:
		s.scrollUp(1)
	case s.y < s.rows-1:
		s.y++
	}
}

func (s *Screen) reverseIndex() {
	switch {
	case s.y == s.top:
		s.scrollDown(1)
	case s.y > 0:
		s.y--
	}
}

// scrollUp moves the scroll region up n lines. Lines leaving the top of
// the screen go to the scrollback.
func (s *Screen) scrollUp(n int) {
	s.shiftUp(s.top, n, s.top == 0)
}

// scrollDown moves the scroll region down n lines.
func (s *Screen) scrollDown(n int) {
	s.shiftDown(s.top, n)
}

// shiftUp moves rows from..bottom up n lines, blanking the bottom.
func (s *Screen) shiftUp(from, n int, keep bool) {
	n = min(n, s.bottom-from+1)
	if keep {
		for i := from; i < from+n; i++ {
			s.remember(renderLine(s.grid[i]))
		}
	}
	copy(s.grid[from:s.bottom+1], s.grid[from+n:s.bottom+1])
	for i := s.bottom - n + 1; i <= s.bottom; i++ {
		s.grid[i] = blankLine(s.cols)
	}
}

// shiftDown moves rows from..bottom down n lines, blanking from.
func (s *Screen) shiftDown(from, n int) {
	n = min(n, s.bottom-from+1)
	copy(s.grid[from+n:s.bottom+1], s.grid[from:s.bottom+1-n])
	for i := from; i < from+n; i++ {
		s.grid[i] = blankLine(s.cols)
	}
}

func (s *Screen) remember(line string) {
	if s.scrollback == 0 {
		return
	}
	s.history = append(s.history, line)
	if extra := len(s.history) - s.scrollback; extra > 0 {
		s.history = append(s.history[:0], s.history[extra:]...)
	}
}

func (s *Screen) eraseDisplay(mode int) {
	switch mode {
	case 0:
		s.fill(s.y, s.x, s.cols)
		for y := s.y + 1; y < s.rows; y++ {
			s.grid[y] = blankLine(s.cols)
		}
	case 1:
		for y := 0; y < s.y; y++ {
			s.grid[y] = blankLine(s.cols)
		}
		s.fill(s.y, 0, s.x+1)
	case 2, 3:
		for y := range s.grid {
			s.grid[y] = blankLine(s.cols)
		}
		if mode == 3 {
			s.history = nil
		}
	}
}

func (s *Screen) eraseLine(mode int) {
	switch mode {
	case 0:
		s.fill(s.y, s.x, s.cols)
	case 1:
		s.fill(s.y, 0, s.x+1)
	case 2:
		s.grid[s.y] = blankLine(s.cols)
	}
}

// fill blanks columns [from, to) of row y.
func (s *Screen) fill(y, from, to int) {
	for x := from; x < to && x < s.cols; x++ {
		s.put(y, x, blank)
	}
}

func (s *Screen) insertCells(n int) {
	row := s.grid[s.y]
	n = min(n, s.cols-s.x)
	copy(row[s.x+n:], row[s.x:s.cols-n])
	for i := s.x; i < s.x+n; i++ {
		row[i] = blank
	}
	s.tidy(row)
}

func (s *Screen) deleteCells(n int) {
	row := s.grid[s.y]
	n = min(n, s.cols-s.x)
	copy(row[s.x:], row[s.x+n:])
	for i := s.cols - n; i < s.cols; i++ {
		row[i] = blank
	}
	s.tidy(row)
}

// tidy blanks wide cells whose halves were separated by a shift.
func (s *Screen) tidy(row []cell) {
	for i := range row {
		switch {
		case row[i].placeholder() && (i == 0 || (row[i-1].width < 2 && !row[i-1].placeholder())):
			row[i] = blank
		case row[i].width > 1 && (i+1 >= len(row) || !row[i+1].placeholder()):
			row[i] = blank
		}
	}
}

func (s *Screen) insertLines(n int) {
	if s.y < s.top || s.y > s.bottom {
		return
	}
	s.shiftDown(s.y, n)
	s.x = 0
}

func (s *Screen) deleteLines(n int) {
	if s.y < s.top || s.y > s.bottom {
		return
	}
	s.shiftUp(s.y, n, false)
	s.x = 0
}

func blankLine(cols int) []cell {
	line := make([]cell, cols)
	for i := range line {
		line[i] = blank
	}
	return line
}

func renderLine(row []cell) string {
	var sb strings.Builder
	for _, c := range row {
		if c.placeholder() {
			continue
		}
		sb.WriteString(c.content)
	}
	return strings.TrimRight(sb.String(), " ")
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
