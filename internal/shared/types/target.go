package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTarget is returned when a target string cannot be parsed.
var ErrInvalidTarget = errors.New("invalid remote target")

// RemoteTarget identifies one addressable container: a pod in a namespace,
// optionally narrowed to a named container.
type RemoteTarget struct {
	Namespace string `json:"namespace"`
	Pod       string `json:"pod"`
	Container string `json:"container,omitempty"`
}

// String returns the canonical key "namespace/pod" or "namespace/pod:container".
func (t RemoteTarget) String() string {
	if t.Container == "" {
		return t.Namespace + "/" + t.Pod
	}
	return t.Namespace + "/" + t.Pod + ":" + t.Container
}

// Validate reports whether the target names a pod.
func (t RemoteTarget) Validate() error {
	if t.Pod == "" {
		return fmt.Errorf("%w: empty pod name", ErrInvalidTarget)
	}
	if t.Namespace == "" {
		return fmt.Errorf("%w: empty namespace", ErrInvalidTarget)
	}
	if strings.ContainsAny(t.Pod, "/:") || strings.ContainsAny(t.Namespace, "/:") {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, t.String())
	}
	return nil
}

// SameContainer reports whether both targets address the same container.
func (t RemoteTarget) SameContainer(other RemoteTarget) bool {
	return t == other
}

// ParseTarget parses "pod", "namespace/pod" or "namespace/pod:container".
// A bare pod name resolves into defaultNamespace.
func ParseTarget(s, defaultNamespace string) (RemoteTarget, error) {
	var t RemoteTarget
	rest := s
	if ns, pod, ok := strings.Cut(s, "/"); ok {
		t.Namespace = ns
		rest = pod
	} else {
		t.Namespace = defaultNamespace
	}
	if pod, container, ok := strings.Cut(rest, ":"); ok {
		t.Pod = pod
		t.Container = container
	} else {
		t.Pod = rest
	}
	if err := t.Validate(); err != nil {
		return RemoteTarget{}, err
	}
	return t, nil
}
