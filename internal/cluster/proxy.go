package cluster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrProxyExited is returned when kubectl proxy ends before announcing its
// address.
var ErrProxyExited = errors.New("kubectl proxy exited before serving")

const serveBanner = "Starting to serve on "

// Proxy is a running `kubectl proxy` bound to an ephemeral local port.
type Proxy struct {
	// URL is the proxy's HTTP base address.
	URL string

	proc   Process
	logger *zap.Logger
	once   sync.Once
}

// ProxyArgs builds the kubectl proxy argv.
func ProxyArgs(kubeconfig, kubeContext string) []string {
	var args []string
	if kubeconfig != "" {
		args = append(args, "--kubeconfig", kubeconfig)
	}
	if kubeContext != "" {
		args = append(args, "--context", kubeContext)
	}
	return append(args, "proxy", "-p", "0", "--keepalive", "3600s", "--disable-filter=true")
}

// StartProxy launches kubectl proxy and waits until it reports the bound
// address. Stderr lines starting with "W" are kubectl warnings and only
// logged at debug; anything else is relayed as a warning.
func StartProxy(ctx context.Context, kubectl, kubeconfig, kubeContext string, logger *zap.Logger) (*Proxy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("proxy")

	proc, err := StartCommand(kubectl, ProxyArgs(kubeconfig, kubeContext), ExecRequest{})
	if err != nil {
		return nil, err
	}
	p := &Proxy{proc: proc, logger: logger}
	go p.relayStderr(proc.Stderr())

	addr := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(proc.Stdout())
		announced := false
		for scanner.Scan() {
			line := scanner.Text()
			if !announced {
				if a, ok := ParseServeLine(line); ok {
					announced = true
					addr <- a
					continue
				}
			}
			logger.Debug("proxy output", zap.String("line", line))
		}
		close(addr)
	}()

	select {
	case a, ok := <-addr:
		if !ok {
			waitErr := proc.Wait()
			return nil, fmt.Errorf("%w: %v", ErrProxyExited, waitErr)
		}
		p.URL = "http://" + a
		logger.Info("kubectl proxy serving", zap.String("url", p.URL))
		return p, nil
	case <-ctx.Done():
		_ = proc.Kill()
		_ = proc.Wait()
		return nil, ctx.Err()
	}
}

// ParseServeLine extracts host:port from kubectl proxy's banner.
func ParseServeLine(line string) (string, bool) {
	i := strings.Index(line, serveBanner)
	if i < 0 {
		return "", false
	}
	addr := strings.TrimSpace(line[i+len(serveBanner):])
	if addr == "" || !strings.Contains(addr, ":") {
		return "", false
	}
	return addr, true
}

func (p *Proxy) relayStderr(r io.Reader) {
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "W") {
			p.logger.Debug("proxy warning", zap.String("line", line))
			continue
		}
		p.logger.Warn("kubectl proxy reported an error; restarting the daemon may help", zap.String("line", line))
	}
}

// Wait blocks until the proxy process exits.
func (p *Proxy) Wait() error {
	return p.proc.Wait()
}

// Close stops the proxy.
func (p *Proxy) Close() error {
	var err error
	p.once.Do(func() {
		err = p.proc.Kill()
		_ = p.proc.Wait()
	})
	return err
}
