package testutil

import (
	"encoding/base64"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/podfs/internal/protocol"
)

// MemFS is the in-memory filesystem behind a Peer. It outlives sessions, the
// way a container's filesystem outlives the interpreter process.
type MemFS struct {
	mu    sync.Mutex
	nodes map[string]*memNode
}

type memNode struct {
	dir   bool
	data  []byte
	ctime time.Time
	mtime time.Time
}

type fsError struct {
	msg  string
	code string
}

func errnof(code, format string, args ...any) *fsError {
	return &fsError{msg: fmt.Sprintf(format, args...), code: code}
}

func notFound(p string) *fsError {
	return errnof("ENOENT", "[Errno 2] No such file or directory: '%s'", p)
}

// NewMemFS creates a filesystem containing only "/".
func NewMemFS() *MemFS {
	now := time.Now()
	return &MemFS{nodes: map[string]*memNode{"/": {dir: true, ctime: now, mtime: now}}}
}

// MkdirAll creates a directory and its parents.
func (m *MemFS) MkdirAll(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(clean(p))
}

// WriteFile stores data at p, creating parent directories.
func (m *MemFS) WriteFile(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	m.mkdirAll(path.Dir(p))
	now := time.Now()
	m.nodes[p] = &memNode{data: append([]byte(nil), data...), ctime: now, mtime: now}
}

// ReadFile returns the contents at p.
func (m *MemFS) ReadFile(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[clean(p)]
	if !ok || n.dir {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Exists reports whether p exists.
func (m *MemFS) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nodes[clean(p)]
	return ok
}

func (m *MemFS) mkdirAll(p string) {
	for _, dir := range ancestors(p) {
		if _, ok := m.nodes[dir]; !ok {
			now := time.Now()
			m.nodes[dir] = &memNode{dir: true, ctime: now, mtime: now}
		}
	}
}

func (m *MemFS) children(p string) []string {
	var names []string
	for key := range m.nodes {
		if key != "/" && path.Dir(key) == p {
			names = append(names, path.Base(key))
		}
	}
	sort.Strings(names)
	return names
}

func (m *MemFS) listing(p string) []map[string]any {
	files := []map[string]any{}
	for _, name := range m.children(p) {
		files = append(files, map[string]any{"n": name, "k": kindOf(m.nodes[path.Join(p, name)])})
	}
	return files
}

func (m *MemFS) subtree(p string) []string {
	var keys []string
	for key := range m.nodes {
		if key == p || strings.HasPrefix(key, strings.TrimSuffix(p, "/")+"/") {
			keys = append(keys, key)
		}
	}
	return keys
}

// apply executes one request against the filesystem.
func (m *MemFS) apply(req *request) (map[string]any, *fsError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := clean(req.P)
	switch protocol.Verb(req.Cmd) {
	case protocol.VerbTest:
		return map[string]any{"version": 1, "platform": "memfs", "cwd": "/"}, nil

	case protocol.VerbList:
		n, ok := m.nodes[p]
		if !ok {
			return nil, notFound(p)
		}
		if !n.dir {
			return nil, errnof("ENOTDIR", "[Errno 20] Not a directory: '%s'", p)
		}
		return map[string]any{"files": m.listing(p)}, nil

	case protocol.VerbMStat:
		n, ok := m.nodes[p]
		if !ok {
			return nil, notFound(p)
		}
		out := map[string]any{
			"type":        kindOf(n),
			"size":        len(n.data),
			"ctime":       n.ctime.UnixMilli(),
			"mtime":       n.mtime.UnixMilli(),
			"prefetch_ls": nil,
		}
		if n.dir {
			out["size"] = 4096
			out["prefetch_ls"] = m.listing(p)
		}
		return out, nil

	case protocol.VerbRead:
		n, ok := m.nodes[p]
		if !ok {
			return nil, notFound(p)
		}
		if n.dir {
			return nil, errnof("EISDIR", "[Errno 21] Is a directory: '%s'", p)
		}
		return map[string]any{"b64": base64.StdEncoding.EncodeToString(n.data)}, nil

	case protocol.VerbWrite:
		parent, ok := m.nodes[path.Dir(p)]
		if !ok || !parent.dir {
			return nil, notFound(p)
		}
		if n, ok := m.nodes[p]; ok && n.dir {
			return nil, errnof("EISDIR", "[Errno 21] Is a directory: '%s'", p)
		}
		data, err := base64.StdEncoding.DecodeString(req.Contents)
		if err != nil {
			return nil, errnof("", "Incorrect padding")
		}
		now := time.Now()
		ctime := now
		if n, ok := m.nodes[p]; ok {
			ctime = n.ctime
		}
		m.nodes[p] = &memNode{data: data, ctime: ctime, mtime: now}
		return map[string]any{}, nil

	case protocol.VerbMakeDirs:
		if n, ok := m.nodes[p]; ok && !n.dir {
			return nil, errnof("EEXIST", "[Errno 17] File exists: '%s'", p)
		}
		m.mkdirAll(p)
		return map[string]any{}, nil

	case protocol.VerbRemove:
		n, ok := m.nodes[p]
		if !ok {
			return nil, notFound(p)
		}
		if n.dir && len(m.children(p)) > 0 && !req.Recursive {
			return nil, errnof("ENOTEMPTY", "[Errno 39] Directory not empty: '%s'", p)
		}
		for _, key := range m.subtree(p) {
			delete(m.nodes, key)
		}
		return map[string]any{}, nil

	case protocol.VerbMove, protocol.VerbCopy:
		src, dst := clean(req.Src), clean(req.Dst)
		if _, ok := m.nodes[src]; !ok {
			return nil, notFound(src)
		}
		if parent, ok := m.nodes[path.Dir(dst)]; !ok || !parent.dir {
			return nil, notFound(dst)
		}
		moved := make(map[string]*memNode)
		for _, key := range m.subtree(src) {
			n := *m.nodes[key]
			n.data = append([]byte(nil), n.data...)
			moved[dst+strings.TrimPrefix(key, src)] = &n
			if req.Cmd == string(protocol.VerbMove) {
				delete(m.nodes, key)
			}
		}
		for key, n := range moved {
			m.nodes[key] = n
		}
		return map[string]any{}, nil
	}

	return nil, errnof("", "unknown command '%s'", req.Cmd)
}

func kindOf(n *memNode) protocol.FileType {
	if n.dir {
		return protocol.TypeDirectory
	}
	return protocol.TypeFile
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

func ancestors(p string) []string {
	p = clean(p)
	if p == "/" {
		return []string{"/"}
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	out := []string{"/"}
	for i := range parts {
		out = append(out, "/"+strings.Join(parts[:i+1], "/"))
	}
	return out
}
