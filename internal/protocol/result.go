package protocol

import (
	"encoding/base64"
	"fmt"
	"io/fs"

	"github.com/bytedance/sonic"
)

// Status is the result field of a reply line.
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "E"
)

// Result is the envelope every reply line shares. The verb-specific fields
// stay in the raw line until DecodeReply picks the variant.
type Result struct {
	Status Status  `json:"result"`
	Ticket *uint64 `json:"ticket"`
	Msg    string  `json:"msg,omitempty"`
	Code   string  `json:"code,omitempty"`

	raw []byte
}

// TicketID returns the ticket, or zero if the line carried none.
func (r *Result) TicketID() uint64 {
	if r.Ticket == nil {
		return 0
	}
	return *r.Ticket
}

// Raw returns the line the result was parsed from.
func (r *Result) Raw() []byte {
	return r.raw
}

// Err returns the remote error carried by an "E" result, or nil.
func (r *Result) Err() error {
	if r.Status != StatusError {
		return nil
	}
	return &RemoteError{Msg: r.Msg, Code: r.Code}
}

// Decode unmarshals the full line into v.
func (r *Result) Decode(v any) error {
	return sonic.Unmarshal(r.raw, v)
}

// RemoteError is a failure reported by the interpreter. Msg is the remote
// message verbatim; Code is the errno name when the failure was an OS error.
type RemoteError struct {
	Msg  string
	Code string
}

func (e *RemoteError) Error() string {
	if e.Msg == "" {
		return "remote error"
	}
	return e.Msg
}

// Is maps errno names onto the io/fs sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case fs.ErrNotExist:
		return e.Code == "ENOENT"
	case fs.ErrExist:
		return e.Code == "EEXIST" || e.Code == "ENOTEMPTY"
	case fs.ErrPermission:
		return e.Code == "EACCES" || e.Code == "EPERM"
	}
	return false
}

// FileType classifies an entry using the editor's bit values. Symlink
// combines with File or Directory for links that resolve.
type FileType int

const (
	TypeUnknown   FileType = 0
	TypeFile      FileType = 1
	TypeDirectory FileType = 2
	TypeSymlink   FileType = 64
)

func (t FileType) IsDir() bool     { return t&TypeDirectory != 0 }
func (t FileType) IsFile() bool    { return t&TypeFile != 0 }
func (t FileType) IsSymlink() bool { return t&TypeSymlink != 0 }

func (t FileType) String() string {
	var s string
	switch {
	case t.IsDir():
		s = "dir"
	case t.IsFile():
		s = "file"
	default:
		s = "unknown"
	}
	if t.IsSymlink() {
		s = "link:" + s
	}
	return s
}

// Entry is one directory entry.
type Entry struct {
	Name string   `json:"n"`
	Kind FileType `json:"k"`
}

// Reply is the decoded, verb-specific body of a successful result.
type Reply interface {
	reply()
}

// Ack acknowledges a verb with no payload.
type Ack struct{}

// Probe identifies the interpreter.
type Probe struct {
	Version  int    `json:"version"`
	Platform string `json:"platform"`
	Cwd      string `json:"cwd"`
}

// Listing carries directory entries.
type Listing struct {
	Files []Entry `json:"files"`
}

// Stat carries file metadata; times are milliseconds since the epoch.
// Prefetch is non-nil only for directories whose listing came inline.
type Stat struct {
	Type     FileType `json:"type"`
	Size     int64    `json:"size"`
	Ctime    int64    `json:"ctime"`
	Mtime    int64    `json:"mtime"`
	Prefetch *[]Entry `json:"prefetch_ls"`
}

// Content carries base64 file data.
type Content struct {
	B64 string `json:"b64"`
}

// Bytes decodes the payload.
func (c Content) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.B64)
}

func (Ack) reply()     {}
func (Probe) reply()   {}
func (Listing) reply() {}
func (Stat) reply()    {}
func (Content) reply() {}

// DecodeReply selects the reply variant for verb and decodes res into it.
// An "E" result returns its *RemoteError.
func DecodeReply(verb Verb, res *Result) (Reply, error) {
	if err := res.Err(); err != nil {
		return nil, err
	}

	var (
		reply Reply
		err   error
	)
	switch verb {
	case VerbTest:
		var p Probe
		err = res.Decode(&p)
		reply = p
	case VerbList:
		var l Listing
		err = res.Decode(&l)
		reply = l
	case VerbMStat:
		var s Stat
		err = res.Decode(&s)
		reply = s
	case VerbRead:
		var c Content
		err = res.Decode(&c)
		reply = c
	case VerbWrite, VerbMakeDirs, VerbRemove, VerbMove, VerbCopy:
		reply = Ack{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s reply: %v", ErrMalformed, verb, err)
	}
	return reply, nil
}

// As decodes res as the reply variant R.
func As[R Reply](verb Verb, res *Result) (R, error) {
	var zero R
	reply, err := DecodeReply(verb, res)
	if err != nil {
		return zero, err
	}
	r, ok := reply.(R)
	if !ok {
		return zero, fmt.Errorf("%w: %s reply is %T, not %T", ErrMalformed, verb, reply, zero)
	}
	return r, nil
}
