package podfs

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// Scheme is the URI scheme of pod paths.
const Scheme = "podfs"

// ErrInvalidURI is returned for URIs that do not name a pod path.
var ErrInvalidURI = errors.New("invalid podfs uri")

// URI addresses a path inside a remote container.
type URI struct {
	Target types.RemoteTarget
	Path   string
}

// NewURI builds a URI with a cleaned absolute path.
func NewURI(target types.RemoteTarget, p string) URI {
	return URI{Target: target, Path: cleanPath(p)}
}

// ParseURI parses podfs://namespace/pod[:container]/path.
func ParseURI(s string) (URI, error) {
	u, err := url.Parse(s)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme != Scheme {
		return URI{}, fmt.Errorf("%w: scheme %q", ErrInvalidURI, u.Scheme)
	}
	// Paths carry '?' and '#' escaped; a query or fragment means an
	// unescaped path was cut short.
	if u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return URI{}, fmt.Errorf("%w: unescaped '?' or '#' in %q", ErrInvalidURI, s)
	}

	// The pod segment is the first path element: /pod[:container]/rest
	rest := strings.TrimPrefix(u.Path, "/")
	podSeg, p, _ := strings.Cut(rest, "/")
	target, err := types.ParseTarget(u.Host+"/"+podSeg, "")
	if err != nil {
		return URI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	return NewURI(target, "/"+p), nil
}

// MustParseURI is ParseURI for literals known to be valid.
func MustParseURI(s string) URI {
	u, err := ParseURI(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String formats u with the path percent-escaped.
func (u URI) String() string {
	t := u.Target
	pod := t.Pod
	if t.Container != "" {
		pod += ":" + t.Container
	}
	return (&url.URL{Scheme: Scheme, Host: t.Namespace, Path: "/" + pod + u.Path}).String()
}

// Parent returns the URI of the containing directory.
func (u URI) Parent() URI {
	return URI{Target: u.Target, Path: path.Dir(u.Path)}
}

// Join returns the URI of name inside u.
func (u URI) Join(name string) URI {
	return NewURI(u.Target, path.Join(u.Path, name))
}

// Base returns the last path element.
func (u URI) Base() string {
	return path.Base(u.Path)
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}
