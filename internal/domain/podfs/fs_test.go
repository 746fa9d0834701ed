package podfs

import (
	"context"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/podfs/internal/channel"
	"github.com/GriffinCanCode/podfs/internal/domain/registry"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/podfs/internal/protocol"
	"github.com/GriffinCanCode/podfs/internal/testutil"
)

type fixture struct {
	peer *testutil.Peer
	fs   *FS
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	peer := testutil.NewPeer()
	peer.FS().WriteFile("/data/report.csv", []byte("a,b\n1,2\n"))
	peer.FS().WriteFile("/data/notes.txt", []byte("hello"))
	peer.FS().MkdirAll("/data/archive")

	chOpts := channel.DefaultOptions()
	chOpts.Backoff = resilience.Fixed(time.Millisecond, 0)
	chOpts.CloseGrace = 100 * time.Millisecond
	reg := registry.NewManager(peer, chOpts)
	t.Cleanup(func() { _ = reg.DisposeAll(context.Background()) })

	opts := DefaultOptions()
	opts.Logger = zaptest.NewLogger(t)
	opts.Metrics = monitoring.NewMetrics()
	if mutate != nil {
		mutate(&opts)
	}
	return &fixture{peer: peer, fs: New(reg, opts)}
}

var dataDir = MustParseURI("podfs://default/worker-7/data")

func TestStatPrefetchServesNextList(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st, err := f.fs.Stat(ctx, dataDir)
	require.NoError(t, err)
	assert.True(t, st.IsDir())

	files, err := f.fs.List(ctx, dataDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"archive", "notes.txt", "report.csv"}, names(files))
	assert.Equal(t, 0, f.peer.Requests(protocol.VerbList), "prefetched listing used")

	_, err = f.fs.List(ctx, dataDir)
	require.NoError(t, err)
	assert.Equal(t, 1, f.peer.Requests(protocol.VerbList), "prefetch consumed once")
}

func TestStatPrefetchExpires(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ListingTTL = 20 * time.Millisecond })
	ctx := context.Background()

	_, err := f.fs.Stat(ctx, dataDir)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.fs.Cache().Len() == 0 }, time.Second, 5*time.Millisecond)

	_, err = f.fs.List(ctx, dataDir)
	require.NoError(t, err)
	assert.Equal(t, 1, f.peer.Requests(protocol.VerbList))
}

func TestStatPrefetchKeyedByURI(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.fs.Stat(ctx, dataDir)
	require.NoError(t, err)
	_, err = f.fs.List(ctx, dataDir.Join("archive"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.peer.Requests(protocol.VerbList))
	assert.Equal(t, 1, f.fs.Cache().Len())
}

func TestStatFile(t *testing.T) {
	f := newFixture(t, nil)
	st, err := f.fs.Stat(context.Background(), dataDir.Join("notes.txt"))
	require.NoError(t, err)
	assert.False(t, st.IsDir())
	assert.Equal(t, int64(5), st.Size)
	assert.False(t, st.Modified.IsZero())
	assert.Equal(t, 0, f.fs.Cache().Len())
}

func TestStatMissing(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.fs.Stat(context.Background(), dataDir.Join("nope"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
	var remote *protocol.RemoteError
	assert.ErrorAs(t, err, &remote)
}

func TestReadWrite(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	target := MustParseURI("podfs://default/worker-7/data/out.bin")
	payload := []byte{0, 1, 2, 0xff, '\n'}

	require.NoError(t, f.fs.Write(ctx, target, payload, WriteOptions{Create: true, Overwrite: true}))
	got, err := f.fs.Read(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, 0, f.peer.Requests(protocol.VerbMStat), "no pre-flight when create and overwrite")
}

func TestWriteOptions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	existing := dataDir.Join("notes.txt")
	missing := dataDir.Join("new.txt")

	err := f.fs.Write(ctx, existing, []byte("x"), WriteOptions{Create: true})
	assert.ErrorIs(t, err, fs.ErrExist)

	err = f.fs.Write(ctx, missing, []byte("x"), WriteOptions{Overwrite: true})
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, 0, f.peer.Requests(protocol.VerbWrite))

	require.NoError(t, f.fs.Write(ctx, missing, []byte("x"), WriteOptions{Create: true}))
	require.NoError(t, f.fs.Write(ctx, existing, []byte("y"), WriteOptions{Overwrite: true}))

	data, ok := f.peer.FS().ReadFile("/data/notes.txt")
	require.True(t, ok)
	assert.Equal(t, "y", string(data))
}

func TestMutationInvalidatesParentListing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.fs.Stat(ctx, dataDir)
	require.NoError(t, err)
	require.NoError(t, f.fs.Write(ctx, dataDir.Join("fresh.txt"), []byte("1"), WriteOptions{Create: true, Overwrite: true}))

	files, err := f.fs.List(ctx, dataDir)
	require.NoError(t, err)
	assert.Contains(t, names(files), "fresh.txt")
	assert.Equal(t, 1, f.peer.Requests(protocol.VerbList))
}

func TestDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.peer.FS().WriteFile("/data/archive/old.log", []byte("x"))

	err := f.fs.Delete(ctx, dataDir.Join("archive"), false)
	assert.ErrorIs(t, err, fs.ErrExist)

	require.NoError(t, f.fs.Delete(ctx, dataDir.Join("archive"), true))
	assert.False(t, f.peer.FS().Exists("/data/archive/old.log"))
}

func TestRenameAndCopy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.fs.Copy(ctx, dataDir.Join("notes.txt"), dataDir.Join("copy.txt"), false))
	require.NoError(t, f.fs.Rename(ctx, dataDir.Join("report.csv"), dataDir.Join("archive/report.csv"), false))

	assert.True(t, f.peer.FS().Exists("/data/copy.txt"))
	assert.True(t, f.peer.FS().Exists("/data/notes.txt"))
	assert.False(t, f.peer.FS().Exists("/data/report.csv"))
	assert.True(t, f.peer.FS().Exists("/data/archive/report.csv"))

	err := f.fs.Rename(ctx, dataDir.Join("notes.txt"), dataDir.Join("copy.txt"), false)
	assert.ErrorIs(t, err, fs.ErrExist)
	require.NoError(t, f.fs.Rename(ctx, dataDir.Join("notes.txt"), dataDir.Join("copy.txt"), true))
}

func TestCrossTargetRejectedLocally(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	other := MustParseURI("podfs://default/worker-8/data/notes.txt")

	err := f.fs.Rename(ctx, dataDir.Join("notes.txt"), other, true)
	assert.ErrorIs(t, err, ErrCrossTarget)
	err = f.fs.Copy(ctx, dataDir.Join("notes.txt"), MustParseURI("podfs://default/worker-7:sidecar/x"), true)
	assert.ErrorIs(t, err, ErrCrossTarget)
	assert.Equal(t, 0, f.peer.Execs(), "no channel opened")
}

func TestReadOnly(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ReadOnly = true })
	ctx := context.Background()

	assert.ErrorIs(t, f.fs.Write(ctx, dataDir.Join("x"), nil, WriteOptions{Create: true, Overwrite: true}), ErrNotImplemented)
	assert.ErrorIs(t, f.fs.Delete(ctx, dataDir, true), ErrNotImplemented)
	assert.ErrorIs(t, f.fs.CreateDirectory(ctx, dataDir.Join("x")), ErrNotImplemented)
	assert.ErrorIs(t, f.fs.Rename(ctx, dataDir.Join("a"), dataDir.Join("b"), true), ErrNotImplemented)
	assert.Equal(t, 0, f.peer.Execs())

	_, err := f.fs.Read(ctx, dataDir.Join("notes.txt"))
	assert.NoError(t, err)
}

func TestCreateDirectory(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.fs.CreateDirectory(context.Background(), dataDir.Join("a/b/c")))
	assert.True(t, f.peer.FS().Exists("/data/a/b/c"))
}

func TestGlob(t *testing.T) {
	f := newFixture(t, nil)
	files, err := f.fs.Glob(context.Background(), dataDir, "*.{csv,txt}")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt", "report.csv"}, names(files))

	_, err = f.fs.Glob(context.Background(), dataDir, "[")
	assert.Error(t, err)
}

func TestOpTimeout(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.OpTimeout = 30 * time.Millisecond })
	f.peer.Hold(protocol.VerbRead)

	_, err := f.fs.Read(context.Background(), dataDir.Join("notes.txt"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.fs.Subscribe()

	f.fs.Refresh(dataDir)
	require.NoError(t, f.fs.CreateDirectory(context.Background(), dataDir.Join("new")))

	ev := <-sub.C
	assert.Equal(t, Changed, ev.Type)
	assert.Equal(t, dataDir, ev.URI)
	ev = <-sub.C
	assert.Equal(t, Created, ev.Type)
	assert.Equal(t, "/data/new", ev.URI.Path)

	sub.Close()
	sub.Close()
	_, open := <-sub.C
	assert.False(t, open)
}

func names(files []protocol.Entry) []string {
	out := make([]string, len(files))
	for i, e := range files {
		out[i] = e.Name
	}
	return out
}
