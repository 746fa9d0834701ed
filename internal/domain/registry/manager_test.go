package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/podfs/internal/channel"
	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
	"github.com/GriffinCanCode/podfs/internal/testutil"
)

func newManager(t *testing.T, exec cluster.Executor) *Manager {
	opts := channel.DefaultOptions()
	opts.Backoff = resilience.Fixed(time.Millisecond, 0)
	opts.CloseGrace = 100 * time.Millisecond
	opts.Logger = zaptest.NewLogger(t)
	m := NewManager(exec, opts)
	t.Cleanup(func() { _ = m.DisposeAll(context.Background()) })
	return m
}

func TestGetSharesSingleOpen(t *testing.T) {
	peer := testutil.NewPeer()
	m := newManager(t, peer)
	target := types.RemoteTarget{Namespace: "default", Pod: "worker-7"}

	const callers = 20
	var wg sync.WaitGroup
	got := make([]*channel.Channel, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, err := m.Get(context.Background(), target)
			assert.NoError(t, err)
			got[i] = ch
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, peer.Execs())
	assert.Equal(t, 1, m.Len())
	for _, ch := range got {
		assert.Same(t, got[0], ch)
	}
}

func TestGetSeparatesTargets(t *testing.T) {
	peer := testutil.NewPeer()
	m := newManager(t, peer)

	a, err := m.Get(context.Background(), types.RemoteTarget{Namespace: "default", Pod: "web"})
	require.NoError(t, err)
	b, err := m.Get(context.Background(), types.RemoteTarget{Namespace: "default", Pod: "web", Container: "sidecar"})
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "default/web", infos[0].Target.String())
	assert.Equal(t, "default/web:sidecar", infos[1].Target.String())
	assert.Equal(t, "connected", infos[0].State)
	assert.Equal(t, uint64(1), infos[0].Generation)
}

func TestFailedOpenNotCached(t *testing.T) {
	peer := testutil.NewPeer()
	peer.FailNextExecs(1)
	m := newManager(t, peer)
	target := types.RemoteTarget{Namespace: "default", Pod: "worker-7"}

	_, err := m.Get(context.Background(), target)
	require.ErrorIs(t, err, cluster.ErrStartFailed)
	assert.Equal(t, 0, m.Len())

	ch, err := m.Get(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, channel.StateConnected, ch.State())
	assert.Equal(t, 1, m.Len())
}

func TestGetRejectsInvalidTarget(t *testing.T) {
	m := newManager(t, testutil.NewPeer())
	_, err := m.Get(context.Background(), types.RemoteTarget{Namespace: "default"})
	assert.ErrorIs(t, err, types.ErrInvalidTarget)
}

func TestDispose(t *testing.T) {
	peer := testutil.NewPeer()
	m := newManager(t, peer)
	target := types.RemoteTarget{Namespace: "default", Pod: "worker-7"}

	first, err := m.Get(context.Background(), target)
	require.NoError(t, err)
	require.NoError(t, m.Dispose(context.Background(), target))
	assert.Equal(t, channel.StateClosed, first.State())
	assert.Equal(t, 0, m.Len())
	assert.NoError(t, m.Dispose(context.Background(), target))

	second, err := m.Get(context.Background(), target)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, peer.Execs())
}

func TestDisposeAll(t *testing.T) {
	m := newManager(t, testutil.NewPeer())
	var chans []*channel.Channel
	for _, pod := range []string{"a", "b", "c"} {
		ch, err := m.Get(context.Background(), types.RemoteTarget{Namespace: "ns", Pod: pod})
		require.NoError(t, err)
		chans = append(chans, ch)
	}

	require.NoError(t, m.DisposeAll(context.Background()))
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.List())
	for _, ch := range chans {
		assert.Equal(t, channel.StateClosed, ch.State())
	}
}

func TestFailedChannelReplaced(t *testing.T) {
	peer := testutil.NewPeer()
	opts := channel.DefaultOptions()
	opts.Backoff = resilience.Fixed(time.Millisecond, 1)
	opts.CloseGrace = 100 * time.Millisecond
	m := NewManager(peer, opts)
	defer m.DisposeAll(context.Background())
	target := types.RemoteTarget{Namespace: "default", Pod: "worker-7"}

	first, err := m.Get(context.Background(), target)
	require.NoError(t, err)

	peer.FailNextExecs(5)
	peer.Drop()
	require.Eventually(t, func() bool { return first.State() == channel.StateFailed }, time.Second, 5*time.Millisecond)

	peer.FailNextExecs(0)
	second, err := m.Get(context.Background(), target)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, m.Len())
}

func TestReapAcrossChannels(t *testing.T) {
	m := newManager(t, testutil.NewPeer())
	_, err := m.Get(context.Background(), types.RemoteTarget{Namespace: "ns", Pod: "a"})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Reap(time.Minute))
}
