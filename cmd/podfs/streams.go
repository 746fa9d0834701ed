package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/podfs/internal/app"
	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/domain/stream"
	"github.com/GriffinCanCode/podfs/internal/domain/transfer"
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func getCommand() *Command {
	var dest, compression string
	return &Command{
		Name:    "get",
		Summary: "Download a remote file or directory tree",
		Usage:   "[--dest DIR] [--compression gzip|zstd|none] <target> <path>",
		NArgs:   [2]int{1, 2},
		Flags: func(fs *pflag.FlagSet) {
			fs.StringVarP(&dest, "dest", "d", ".", "local destination directory")
			fs.StringVar(&compression, "compression", "", "archive compression (default from config)")
		},
		Run: func(ctx context.Context, e *env, args []string) error {
			uri, _, err := pathArgs(e, args)
			if err != nil {
				return err
			}
			var c transfer.Compression
			if compression != "" {
				if c, err = transfer.ParseCompression(compression); err != nil {
					return err
				}
			}
			s, err := e.app.Transfers.Download(context.WithoutCancel(ctx), transfer.Request{
				Target:      uri.Target,
				Path:        uri.Path,
				Destination: dest,
				Compression: c,
			})
			if err != nil {
				return err
			}
			return watchTransfer(ctx, e, s)
		},
	}
}

// watchTransfer reports progress until the session ends. Cancelling ctx
// cancels the download.
func watchTransfer(ctx context.Context, e *env, s *transfer.Session) error {
	progress := s.Progress()
	for {
		select {
		case p, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			reportProgress(e, p)
		case <-ctx.Done():
			s.Cancel()
			<-s.Done()
			return transferResult(e, s)
		case <-s.Done():
			return transferResult(e, s)
		}
	}
}

func transferResult(e *env, s *transfer.Session) error {
	res := s.Result()
	if e.tty {
		fmt.Fprint(e.stderr, "\r\033[K")
	}
	switch res.Outcome {
	case transfer.Finished:
		fmt.Fprintf(e.stderr, "downloaded %s to %s\n", humanize.IBytes(uint64(res.Landed)), s.Destination)
		return nil
	case transfer.Cancelled:
		return fmt.Errorf("download cancelled after %s", humanize.IBytes(uint64(res.Landed)))
	default:
		return fmt.Errorf("download failed: %w", res.Err)
	}
}

func reportProgress(e *env, p transfer.Progress) {
	line := humanize.IBytes(uint64(p.Landed))
	if pct := p.Percent(); pct >= 0 {
		line = fmt.Sprintf("%s / %s (%.0f%%)", line, humanize.IBytes(uint64(p.Total)), pct)
	}
	if p.Rate > 0 {
		line += fmt.Sprintf(" at %s/s", humanize.IBytes(uint64(p.Rate)))
	}
	if p.ETA > 0 {
		line += fmt.Sprintf(", %s left", p.ETA.Round(time.Second))
	}
	if e.tty {
		fmt.Fprintf(e.stderr, "\r\033[K%s", line)
		return
	}
	fmt.Fprintln(e.stderr, line)
}

// followCommand builds logs and events.
func followCommand(name, summary string) *Command {
	var (
		tail       int64
		timestamps bool
		previous   bool
	)
	return &Command{
		Name:    name,
		Summary: summary,
		Usage:   "[flags] <target>",
		NArgs:   [2]int{1, 1},
		Flags: func(fs *pflag.FlagSet) {
			if name != "logs" {
				return
			}
			fs.Int64Var(&tail, "tail", -1, "lines of backlog; negative uses the configured default")
			fs.BoolVar(&timestamps, "timestamps", false, "prefix lines with timestamps")
			fs.BoolVarP(&previous, "previous", "p", false, "log of the previous container instance")
		},
		Run: func(ctx context.Context, e *env, args []string) error {
			if e.app.Follower == nil {
				return app.ErrNoClusterAPI
			}
			target, err := e.app.Target(args[0])
			if err != nil {
				return err
			}
			var s *stream.Stream
			if name == "logs" {
				opts := cluster.LogOptions{
					Container:  target.Container,
					TailLines:  e.tailLines,
					Timestamps: timestamps,
					Previous:   previous,
				}
				if tail >= 0 {
					opts.TailLines = tail
				}
				s, err = e.app.Follower.FollowLog(ctx, target, opts)
			} else {
				s, err = e.app.Follower.FollowEvents(ctx, target)
			}
			if err != nil {
				return err
			}
			defer s.Close()
			return printFrames(ctx, e.stdout, s)
		},
	}
}

// printFrames writes each completed line of the rendered stream once.
func printFrames(ctx context.Context, w io.Writer, s *stream.Stream) error {
	var lt lineTracker
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-s.Frames():
			if !ok {
				return s.Err()
			}
			for _, line := range lt.next(f) {
				fmt.Fprintln(w, line)
			}
		}
	}
}

// lineTracker turns whole-buffer renders into newly completed lines. The
// last line of a non-final frame may still change and is held back. Once
// the scrollback is full the buffer shifts, so the position is recovered by
// locating the last line printed.
type lineTracker struct {
	printed int
	last    string
}

func (lt *lineTracker) next(f stream.Frame) []string {
	var lines []string
	if f.Text != "" {
		lines = strings.Split(f.Text, "\n")
	}
	complete := len(lines)
	if !f.Final && complete > 0 {
		complete--
	}

	from := 0
	switch {
	case lt.printed == 0:
	case lt.printed <= complete && lines[lt.printed-1] == lt.last:
		from = lt.printed
	default:
		for i := complete - 1; i >= 0; i-- {
			if lines[i] == lt.last {
				from = i + 1
				break
			}
		}
	}
	if from >= complete {
		if complete > 0 {
			lt.printed = complete
		}
		return nil
	}
	lt.printed = complete
	lt.last = lines[complete-1]
	return lines[from:complete]
}

func podsCommand() *Command {
	var asJSON bool
	return &Command{
		Name:    "pods",
		Summary: "List the pods of a namespace",
		Usage:   "[namespace]",
		NArgs:   [2]int{0, 1},
		Flags: func(fs *pflag.FlagSet) {
			fs.BoolVar(&asJSON, "json", false, "print JSON")
		},
		Run: func(ctx context.Context, e *env, args []string) error {
			api := e.app.PodAPI()
			if api == nil {
				return app.ErrNoClusterAPI
			}
			namespace := e.app.Namespace
			if len(args) > 0 {
				namespace = args[0]
			}
			pods, err := api.ListPods(ctx, namespace)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(e.stdout, pods)
			}
			tw := tabwriter.NewWriter(e.stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPHASE\tCONTAINERS\tNODE\tAGE")
			for _, p := range pods {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					p.Name, p.Phase, strings.Join(p.Containers, ","), p.Node, age(p.Created))
			}
			return tw.Flush()
		},
	}
}

func age(created time.Time) string {
	if created.IsZero() {
		return "-"
	}
	return humanize.RelTime(created, time.Now(), "", "")
}
