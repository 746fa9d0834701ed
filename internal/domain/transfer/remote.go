package transfer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// Compression selects how the archive stream is compressed in flight.
type Compression string

const (
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
	None Compression = "none"
)

// ParseCompression validates a configured compression name.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(s)); c {
	case Gzip, Zstd, None:
		return c, nil
	case "":
		return Gzip, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

// ArchiveCommand builds the remote tar invocation for src.
func ArchiveCommand(src string, c Compression) []string {
	src = path.Clean("/" + src)
	dir, base := path.Dir(src), path.Base(src)
	if src == "/" {
		dir, base = "/", "."
	}
	switch c {
	case Zstd:
		return []string{"tar", "--zstd", "-cf", "-", "-C", dir, base}
	case None:
		return []string{"tar", "cf", "-", "-C", dir, base}
	default:
		return []string{"tar", "czf", "-", "-C", dir, base}
	}
}

// sizeScript prints the apparent size of $1 in bytes as "b N", falling
// back to "k N" kibibytes of disk usage where du has no -b (busybox).
const sizeScript = `s=$(du -sb -- "$1" 2>/dev/null)
if [ -n "$s" ]; then echo "b $s"; else echo "k $(du -sk -- "$1" 2>/dev/null)"; fi`

// SizeCommand builds the remote size probe for src.
func SizeCommand(src string) []string {
	return []string{"sh", "-c", sizeScript, "du", src}
}

// parseSize reads one line of SizeCommand output.
func parseSize(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return -1
	}
	n, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return -1
	}
	switch fields[0] {
	case "b":
		return n
	case "k":
		return n * 1024
	}
	return -1
}

// measureTotal asks the remote side for the size of src. It returns -1 when
// the size cannot be determined. Block counts from the kibibyte fallback
// make the total approximate.
func measureTotal(ctx context.Context, exec cluster.Executor, target types.RemoteTarget, src string) int64 {
	proc, err := exec.Exec(ctx, target, cluster.ExecRequest{Command: SizeCommand(src)})
	if err != nil {
		return -1
	}
	stop := context.AfterFunc(ctx, func() { _ = proc.Kill() })
	defer stop()

	// Transports demultiplex both streams from one reader, so stderr is
	// drained alongside stdout.
	var drained sync.WaitGroup
	if stderr := proc.Stderr(); stderr != nil {
		drained.Add(1)
		go func() {
			defer drained.Done()
			_, _ = io.Copy(io.Discard, stderr)
		}()
	}

	total := int64(-1)
	scanner := bufio.NewScanner(proc.Stdout())
	if scanner.Scan() {
		total = parseSize(scanner.Text())
	}
	_, _ = io.Copy(io.Discard, proc.Stdout())
	drained.Wait()
	if err := proc.Wait(); err != nil {
		return -1
	}
	return total
}
