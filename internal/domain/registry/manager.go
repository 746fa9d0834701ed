package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/podfs/internal/channel"
	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/logging"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// Info is a snapshot of one cached channel.
type Info struct {
	Target     types.RemoteTarget `json:"target"`
	State      string             `json:"state"`
	Generation uint64             `json:"generation"`
	Pending    int                `json:"pending"`
}

// Manager holds the channel cache
type Manager struct {
	channels sync.Map // target key -> *channel.Channel
	size     atomic.Int64
	opening  singleflight.Group

	exec   cluster.Executor
	opts   channel.Options
	logger *zap.Logger
}

// NewManager creates a registry whose channels spawn through exec.
func NewManager(exec cluster.Executor, opts channel.Options) *Manager {
	return &Manager{
		exec:   exec,
		opts:   opts,
		logger: logging.OrNop(opts.Logger).Named("registry"),
	}
}

// Get returns the open channel for target, opening it on first use. The
// open is shared by concurrent callers and is not abandoned when one of
// them gives up; a failed open is not cached.
func (m *Manager) Get(ctx context.Context, target types.RemoteTarget) (*channel.Channel, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	key := target.String()
	if ch, ok := m.cached(key); ok {
		return ch, nil
	}

	result := m.opening.DoChan(key, func() (any, error) {
		if ch, ok := m.cached(key); ok {
			return ch, nil
		}
		return m.open(context.WithoutCancel(ctx), target)
	})

	select {
	case r := <-result:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*channel.Channel), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) cached(key string) (*channel.Channel, bool) {
	v, ok := m.channels.Load(key)
	if !ok {
		return nil, false
	}
	ch := v.(*channel.Channel)
	if ch.State() != channel.StateFailed {
		return ch, true
	}
	// A channel that exhausted its reconnects is replaced on next use.
	if m.channels.CompareAndDelete(key, ch) {
		m.size.Add(-1)
		m.logger.Info("replacing failed channel", logging.Target(ch.Target()))
		go func() { _ = ch.Close(context.Background()) }()
	}
	return nil, false
}

func (m *Manager) open(ctx context.Context, target types.RemoteTarget) (*channel.Channel, error) {
	start := time.Now()
	ch := channel.New(target, m.exec, m.opts)
	if err := ch.Open(ctx); err != nil {
		_ = ch.Close(ctx)
		m.logger.Warn("open failed", logging.Target(target), zap.Error(err))
		return nil, err
	}

	m.channels.Store(target.String(), ch)
	m.size.Add(1)
	m.logger.Info("channel cached",
		logging.Target(target),
		zap.Duration("duration", time.Since(start)),
		zap.Int64("cached", m.size.Load()),
	)
	return ch, nil
}

// Dispose closes and forgets the channel for target. It is a no-op for
// targets without a cached channel.
func (m *Manager) Dispose(ctx context.Context, target types.RemoteTarget) error {
	v, ok := m.channels.LoadAndDelete(target.String())
	if !ok {
		return nil
	}
	m.size.Add(-1)
	if err := v.(*channel.Channel).Close(ctx); err != nil {
		return fmt.Errorf("dispose %s: %w", target, err)
	}
	return nil
}

// DisposeAll closes every cached channel concurrently.
func (m *Manager) DisposeAll(ctx context.Context) error {
	var g errgroup.Group
	m.channels.Range(func(key, v any) bool {
		if !m.channels.CompareAndDelete(key, v) {
			return true
		}
		m.size.Add(-1)
		ch := v.(*channel.Channel)
		g.Go(func() error {
			if err := ch.Close(ctx); err != nil {
				return fmt.Errorf("dispose %s: %w", ch.Target(), err)
			}
			return nil
		})
		return true
	})
	err := g.Wait()
	m.logger.Info("disposed all channels", zap.Error(err))
	return err
}

// Reap fails pending calls older than maxAge on every cached channel.
func (m *Manager) Reap(maxAge time.Duration) int {
	total := 0
	m.channels.Range(func(_, v any) bool {
		total += v.(*channel.Channel).Reap(maxAge)
		return true
	})
	if total > 0 {
		m.logger.Warn("reaped abandoned calls", zap.Int("count", total), zap.Duration("max_age", maxAge))
	}
	return total
}

// List returns a snapshot of every cached channel, ordered by target.
func (m *Manager) List() []Info {
	var infos []Info
	m.channels.Range(func(_, v any) bool {
		ch := v.(*channel.Channel)
		infos = append(infos, Info{
			Target:     ch.Target(),
			State:      ch.State().String(),
			Generation: ch.Generation(),
			Pending:    ch.Pending(),
		})
		return true
	})
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Target.String() < infos[j].Target.String()
	})
	return infos
}

// Len returns the number of cached channels.
func (m *Manager) Len() int {
	return int(m.size.Load())
}
