package transfer

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
	"github.com/GriffinCanCode/podfs/internal/testutil"
)

var worker7 = types.RemoteTarget{Namespace: "default", Pod: "worker-7"}

func testOptions(t *testing.T, dest string) Options {
	opts := DefaultOptions()
	opts.Destination = dest
	opts.SampleInterval = 10 * time.Millisecond
	opts.Logger = zaptest.NewLogger(t)
	return opts
}

func isCommand(name string) any {
	return mock.MatchedBy(func(req cluster.ExecRequest) bool {
		return len(req.Command) > 0 && req.Command[0] == name
	})
}

// sizeProcess answers a size probe with size bytes.
func sizeProcess(size string) func(context.Context, types.RemoteTarget, cluster.ExecRequest) cluster.Process {
	return func(context.Context, types.RemoteTarget, cluster.ExecRequest) cluster.Process {
		p := testutil.NewPipeProcess()
		go func() {
			_, _ = p.RemoteStdout().Write([]byte("b " + size + "\t/src\n"))
			p.Exit(nil)
		}()
		return p
	}
}

func TestDownloadWithLocalTar(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not installed")
	}
	for _, c := range []Compression{Gzip, None} {
		t.Run(string(c), func(t *testing.T) {
			src := filepath.Join(t.TempDir(), "project")
			require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("alpha"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.bin"), bytes.Repeat([]byte{7}, 64*1024), 0o644))
			dest := t.TempDir()

			local := &testutil.LocalExecutor{}
			m := NewManager(local, testOptions(t, dest))
			s, err := m.Download(context.Background(), Request{Target: worker7, Path: src, Compression: c})
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			res, err := s.Wait(ctx)
			require.NoError(t, err)
			require.NoError(t, res.Err)
			assert.Equal(t, Finished, res.Outcome)
			assert.Equal(t, int64(5+64*1024), res.Landed)

			got, err := os.ReadFile(filepath.Join(dest, "project", "a.txt"))
			require.NoError(t, err)
			assert.Equal(t, "alpha", string(got))

			_, open := <-s.Progress()
			for open {
				_, open = <-s.Progress()
			}
			assert.False(t, s.Cancel(), "cannot cancel a finished transfer")
			assert.Equal(t, Finished, s.Result().Outcome)

			cmds := local.Commands()
			require.Len(t, cmds, 2)
			assert.Equal(t, SizeCommand(src), cmds[0])
			assert.Equal(t, "tar", cmds[1][0])
		})
	}
}

func TestDownloadRequiresDestination(t *testing.T) {
	executor := new(testutil.MockExecutor)
	m := NewManager(executor, testOptions(t, ""))

	_, err := m.Download(context.Background(), Request{Target: worker7, Path: "/data"})
	assert.ErrorIs(t, err, ErrNoDestination)
	executor.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestDownloadStartFailure(t *testing.T) {
	executor := new(testutil.MockExecutor)
	executor.On("Exec", mock.Anything, worker7, isCommand("sh")).Return(nil, cluster.ErrStartFailed)
	executor.On("Exec", mock.Anything, worker7, isCommand("tar")).Return(nil, cluster.ErrStartFailed)
	m := NewManager(executor, testOptions(t, t.TempDir()))

	_, err := m.Download(context.Background(), Request{Target: worker7, Path: "/data"})
	assert.ErrorIs(t, err, cluster.ErrStartFailed)
	assert.Empty(t, m.List())
}

func TestCancelReportsCancelledOnce(t *testing.T) {
	tarProc := testutil.NewPipeProcess()
	executor := new(testutil.MockExecutor)
	executor.On("Exec", mock.Anything, worker7, isCommand("sh")).Return(sizeProcess("1048576"), nil)
	executor.On("Exec", mock.Anything, worker7, isCommand("tar")).Return(tarProc, nil)

	dest := t.TempDir()
	m := NewManager(executor, testOptions(t, dest))
	s, err := m.Download(context.Background(), Request{Target: worker7, Path: "/data"})
	require.NoError(t, err)

	// Stream part of a large file and stall.
	go func() {
		gz := gzip.NewWriter(tarProc.RemoteStdout())
		tw := tar.NewWriter(gz)
		_ = tw.WriteHeader(&tar.Header{Name: "data/big.bin", Mode: 0o644, Size: 1 << 20, Typeflag: tar.TypeReg})
		_, _ = tw.Write(bytes.Repeat([]byte{1}, 128*1024))
		_ = gz.Flush()
	}()

	var sample Progress
	select {
	case sample = <-s.Progress():
	case <-time.After(2 * time.Second):
		t.Fatal("no progress sample")
	}
	assert.Equal(t, int64(1024*1024), sample.Total)

	require.NoError(t, m.Cancel(s.ID))
	res, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Cancelled, res.Outcome)
	assert.True(t, tarProc.Killed())

	assert.False(t, s.Cancel())
	time.Sleep(50 * time.Millisecond)
	for range s.Progress() {
	}
	assert.Equal(t, Cancelled, s.Result().Outcome)
	assert.Equal(t, Cancelled, m.List()[0].Outcome)
}

func TestMidTransferFailure(t *testing.T) {
	tarProc := testutil.NewPipeProcess()
	executor := new(testutil.MockExecutor)
	executor.On("Exec", mock.Anything, worker7, isCommand("sh")).Return(nil, cluster.ErrStartFailed)
	executor.On("Exec", mock.Anything, worker7, isCommand("tar")).Return(tarProc, nil)

	dest := t.TempDir()
	m := NewManager(executor, testOptions(t, dest))
	s, err := m.Download(context.Background(), Request{Target: worker7, Path: "/data", Compression: None})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), s.Snapshot().Total)

	go func() {
		tw := tar.NewWriter(tarProc.RemoteStdout())
		_ = tw.WriteHeader(&tar.Header{Name: "data/small.txt", Mode: 0o644, Size: 5, Typeflag: tar.TypeReg})
		_, _ = tw.Write([]byte("hello"))
		_ = tw.Flush()
		_ = tw.WriteHeader(&tar.Header{Name: "data/cut.bin", Mode: 0o644, Size: 4096, Typeflag: tar.TypeReg})
		_, _ = tw.Write([]byte("partial"))
		_, _ = tarProc.RemoteStderr().Write([]byte("tar: connection lost\n"))
		tarProc.Exit(&cluster.ExitError{Code: 2})
	}()

	res, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Failed, res.Outcome)
	assert.Error(t, res.Err)
	assert.GreaterOrEqual(t, res.Landed, int64(5))
}

func TestManagerLookup(t *testing.T) {
	m := NewManager(new(testutil.MockExecutor), testOptions(t, t.TempDir()))
	_, err := m.Get("xfer_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Cancel("xfer_missing"), ErrNotFound)
	assert.Equal(t, 0, m.Forget())
}

func TestMeasureTotalDrainsStderrFirst(t *testing.T) {
	proc := testutil.NewPipeProcess()
	executor := new(testutil.MockExecutor)
	executor.On("Exec", mock.Anything, worker7, isCommand("sh")).Return(proc, nil)

	// Both streams share one unbuffered transport, stderr first.
	go func() {
		_, _ = proc.RemoteStderr().Write([]byte("du: cannot read directory '/data/private': Permission denied\n"))
		_, _ = proc.RemoteStdout().Write([]byte("b 2097152\t/data\n"))
		proc.Exit(nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Equal(t, int64(2097152), measureTotal(ctx, executor, worker7, "/data"))
	assert.NoError(t, ctx.Err())
}

func TestParseSize(t *testing.T) {
	assert.Equal(t, int64(70000), parseSize("b 70000\t/src"))
	assert.Equal(t, int64(2048), parseSize("k 2\t/src"))
	assert.Equal(t, int64(-1), parseSize("k "))
	assert.Equal(t, int64(-1), parseSize("x 12\t/src"))
	assert.Equal(t, int64(-1), parseSize(""))
}

func TestExtractRefusesEscapes(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil.txt", Mode: 0o644, Size: 1, Typeflag: tar.TypeReg}))
	_, _ = tw.Write([]byte("x"))
	require.NoError(t, tw.Close())

	root := t.TempDir()
	err := Extract(&buf, root, None)
	assert.ErrorIs(t, err, ErrUnsafePath)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(root), "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractSkipsEscapingSymlinks(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "d/", Mode: 0o755, Typeflag: tar.TypeDir}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "d/passwd", Linkname: "/etc/passwd", Typeflag: tar.TypeSymlink}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "d/up", Linkname: "../../x", Typeflag: tar.TypeSymlink}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "d/ok", Linkname: "sibling", Typeflag: tar.TypeSymlink}))
	require.NoError(t, tw.Close())

	root := t.TempDir()
	require.NoError(t, Extract(&buf, root, None))
	_, err := os.Lstat(filepath.Join(root, "d", "passwd"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Lstat(filepath.Join(root, "d", "up"))
	assert.True(t, os.IsNotExist(err))
	link, err := os.Readlink(filepath.Join(root, "d", "ok"))
	require.NoError(t, err)
	assert.Equal(t, "sibling", link)
}

func TestExtractSymlinkChains(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "l1", Linkname: ".", Typeflag: tar.TypeSymlink}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "l1/l2", Linkname: "..", Typeflag: tar.TypeSymlink}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "l3", Linkname: "l1/..", Typeflag: tar.TypeSymlink}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "l1/l2/evil.txt", Mode: 0o644, Size: 1, Typeflag: tar.TypeReg}))
	_, _ = tw.Write([]byte("x"))
	require.NoError(t, tw.Close())

	base := t.TempDir()
	root := filepath.Join(base, "dest")
	require.NoError(t, Extract(&buf, root, None))

	_, err := os.Stat(filepath.Join(base, "evil.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Lstat(filepath.Join(root, "l2"))
	assert.NoError(t, err, "the entry lands inside the destination")
	_, err = os.Lstat(filepath.Join(root, "l3"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractRefusesWritesThroughLinks(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "out/evil.txt", Mode: 0o644, Size: 1, Typeflag: tar.TypeReg}))
	_, _ = tw.Write([]byte("x"))
	require.NoError(t, tw.Close())

	base := t.TempDir()
	root := filepath.Join(base, "dest")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.Symlink(base, filepath.Join(root, "out")))

	err := Extract(&buf, root, None)
	assert.ErrorIs(t, err, ErrUnsafePath)
	_, statErr := os.Stat(filepath.Join(base, "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractZstd(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "x/y.txt", Mode: 0o600, Size: 3, Typeflag: tar.TypeReg}))
	_, _ = tw.Write([]byte("zst"))
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())

	root := t.TempDir()
	require.NoError(t, Extract(&buf, root, Zstd))
	got, err := os.ReadFile(filepath.Join(root, "x", "y.txt"))
	require.NoError(t, err)
	assert.Equal(t, "zst", string(got))
}

func TestArchiveCommand(t *testing.T) {
	assert.Equal(t, []string{"tar", "czf", "-", "-C", "/var", "log"}, ArchiveCommand("/var/log/", Gzip))
	assert.Equal(t, []string{"tar", "--zstd", "-cf", "-", "-C", "/var", "log"}, ArchiveCommand("/var/log", Zstd))
	assert.Equal(t, []string{"tar", "cf", "-", "-C", "/", "etc"}, ArchiveCommand("etc", None))
	assert.Equal(t, []string{"tar", "czf", "-", "-C", "/", "."}, ArchiveCommand("/", Gzip))
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, Gzip, c)
	c, err = ParseCompression("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, Zstd, c)
	_, err = ParseCompression("brotli")
	assert.Error(t, err)
}

func TestMeter(t *testing.T) {
	start := time.Unix(0, 0)
	m := NewMeter(2, start)
	assert.Equal(t, 0.0, m.Rate())

	assert.InDelta(t, 1000, m.Observe(1000, start.Add(time.Second)), 0.001)
	assert.InDelta(t, 2000, m.Observe(4000, start.Add(2*time.Second)), 0.001)
	// The first interval falls out of the window.
	assert.InDelta(t, 3000, m.Observe(7000, start.Add(3*time.Second)), 0.001)
}

func TestETA(t *testing.T) {
	assert.Equal(t, 2*time.Second, ETA(1000, 3000, 1000))
	assert.Equal(t, time.Duration(-1), ETA(1000, -1, 1000))
	assert.Equal(t, time.Duration(-1), ETA(1000, 3000, 0))
	assert.Equal(t, time.Duration(0), ETA(5000, 3000, 1000))
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 50.0, Progress{Landed: 5, Total: 10}.Percent())
	assert.Equal(t, -1.0, Progress{Landed: 5, Total: -1}.Percent())
	assert.Equal(t, 100.0, Progress{Landed: 15, Total: 10}.Percent())
}
