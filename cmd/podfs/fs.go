package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/podfs/internal/domain/podfs"
	"github.com/GriffinCanCode/podfs/internal/protocol"
)

var commands = []*Command{
	lsCommand(),
	statCommand(),
	catCommand(),
	putCommand(),
	rmCommand(),
	moveCommand("mv", "Rename a path within one container", func(e *env) moveFunc { return e.app.FS.Rename }),
	moveCommand("cp", "Copy a path within one container", func(e *env) moveFunc { return e.app.FS.Copy }),
	mkdirCommand(),
	getCommand(),
	followCommand("logs", "Follow a container log"),
	followCommand("events", "Follow the events of a pod"),
	podsCommand(),
}

// uriArg resolves a target argument and a remote path. A podfs:// URI in
// the target position carries its own path.
func uriArg(e *env, target, path string) (podfs.URI, error) {
	if strings.HasPrefix(target, podfs.Scheme+"://") {
		return podfs.ParseURI(target)
	}
	t, err := e.app.Target(target)
	if err != nil {
		return podfs.URI{}, err
	}
	return podfs.NewURI(t, path), nil
}

// pathArgs splits "<target> <path>" or "<uri>" into a URI and the rest.
func pathArgs(e *env, args []string) (podfs.URI, []string, error) {
	if strings.HasPrefix(args[0], podfs.Scheme+"://") {
		uri, err := podfs.ParseURI(args[0])
		return uri, args[1:], err
	}
	if len(args) < 2 {
		return podfs.URI{}, nil, fmt.Errorf("missing remote path after %q", args[0])
	}
	uri, err := uriArg(e, args[0], args[1])
	return uri, args[2:], err
}

func lsCommand() *Command {
	var (
		long   bool
		match  string
		asJSON bool
	)
	return &Command{
		Name:    "ls",
		Summary: "List a remote directory",
		Usage:   "[-l] [--match GLOB] <target> <path>",
		NArgs:   [2]int{1, 2},
		Flags: func(fs *pflag.FlagSet) {
			fs.BoolVarP(&long, "long", "l", false, "show entry kinds")
			fs.StringVar(&match, "match", "", "only names matching this glob")
			fs.BoolVar(&asJSON, "json", false, "print JSON")
		},
		Run: func(ctx context.Context, e *env, args []string) error {
			uri, _, err := pathArgs(e, args)
			if err != nil {
				return err
			}
			var files []protocol.Entry
			if match != "" {
				files, err = e.app.FS.Glob(ctx, uri, match)
			} else {
				files, err = e.app.FS.List(ctx, uri)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(e.stdout, files)
			}
			if !long {
				for _, f := range files {
					fmt.Fprintln(e.stdout, f.Name)
				}
				return nil
			}
			tw := tabwriter.NewWriter(e.stdout, 0, 0, 2, ' ', 0)
			for _, f := range files {
				fmt.Fprintf(tw, "%s\t%s\n", f.Kind, f.Name)
			}
			return tw.Flush()
		},
	}
}

func statCommand() *Command {
	var asJSON bool
	return &Command{
		Name:    "stat",
		Summary: "Show metadata of a remote path",
		Usage:   "<target> <path>",
		NArgs:   [2]int{1, 2},
		Flags: func(fs *pflag.FlagSet) {
			fs.BoolVar(&asJSON, "json", false, "print JSON")
		},
		Run: func(ctx context.Context, e *env, args []string) error {
			uri, _, err := pathArgs(e, args)
			if err != nil {
				return err
			}
			st, err := e.app.FS.Stat(ctx, uri)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(e.stdout, st)
			}
			tw := tabwriter.NewWriter(e.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "uri:\t%s\n", uri)
			fmt.Fprintf(tw, "type:\t%s\n", st.Type)
			fmt.Fprintf(tw, "size:\t%s (%d bytes)\n", humanize.IBytes(uint64(st.Size)), st.Size)
			fmt.Fprintf(tw, "modified:\t%s\n", st.Modified.Format(time.RFC3339))
			fmt.Fprintf(tw, "created:\t%s\n", st.Created.Format(time.RFC3339))
			return tw.Flush()
		},
	}
}

func catCommand() *Command {
	return &Command{
		Name:    "cat",
		Summary: "Print a remote file",
		Usage:   "<target> <path>",
		NArgs:   [2]int{1, 2},
		Run: func(ctx context.Context, e *env, args []string) error {
			uri, _, err := pathArgs(e, args)
			if err != nil {
				return err
			}
			data, err := e.app.FS.Read(ctx, uri)
			if err != nil {
				return err
			}
			_, err = e.stdout.Write(data)
			return err
		},
	}
}

func putCommand() *Command {
	var noClobber, mustExist bool
	return &Command{
		Name:    "put",
		Summary: "Write a local file, or stdin, to a remote path",
		Usage:   "[--no-clobber | --existing] <target> <path> [local-file|-]",
		NArgs:   [2]int{1, 3},
		Flags: func(fs *pflag.FlagSet) {
			fs.BoolVar(&noClobber, "no-clobber", false, "fail if the remote file exists")
			fs.BoolVar(&mustExist, "existing", false, "fail if the remote file does not exist")
		},
		Run: func(ctx context.Context, e *env, args []string) error {
			if noClobber && mustExist {
				return fmt.Errorf("--no-clobber and --existing are exclusive")
			}
			uri, rest, err := pathArgs(e, args)
			if err != nil {
				return err
			}
			src := e.stdin
			if len(rest) > 0 && rest[0] != "-" {
				f, err := os.Open(rest[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			data, err := io.ReadAll(src)
			if err != nil {
				return err
			}
			opts := podfs.WriteOptions{Create: !mustExist, Overwrite: !noClobber}
			if err := e.app.FS.Write(ctx, uri, data, opts); err != nil {
				return err
			}
			fmt.Fprintf(e.stderr, "wrote %s to %s\n", humanize.IBytes(uint64(len(data))), uri)
			return nil
		},
	}
}

func rmCommand() *Command {
	var recursive bool
	return &Command{
		Name:    "rm",
		Summary: "Delete a remote path",
		Usage:   "[-r] <target> <path>",
		NArgs:   [2]int{1, 2},
		Flags: func(fs *pflag.FlagSet) {
			fs.BoolVarP(&recursive, "recursive", "r", false, "delete directories and their contents")
		},
		Run: func(ctx context.Context, e *env, args []string) error {
			uri, _, err := pathArgs(e, args)
			if err != nil {
				return err
			}
			return e.app.FS.Delete(ctx, uri, recursive)
		},
	}
}

type moveFunc func(ctx context.Context, from, to podfs.URI, overwrite bool) error

// moveCommand builds mv and cp. Both paths live in the same container:
// "<target> <from> <to>", or two podfs:// URIs.
func moveCommand(name, summary string, op func(*env) moveFunc) *Command {
	var force bool
	return &Command{
		Name:    name,
		Summary: summary,
		Usage:   "[-f] <target> <from> <to>",
		NArgs:   [2]int{2, 3},
		Flags: func(fs *pflag.FlagSet) {
			fs.BoolVarP(&force, "force", "f", false, "replace an existing destination")
		},
		Run: func(ctx context.Context, e *env, args []string) error {
			var from, to podfs.URI
			var err error
			if len(args) == 2 {
				if from, err = podfs.ParseURI(args[0]); err != nil {
					return err
				}
				if to, err = podfs.ParseURI(args[1]); err != nil {
					return err
				}
			} else {
				if from, err = uriArg(e, args[0], args[1]); err != nil {
					return err
				}
				to = podfs.NewURI(from.Target, args[2])
			}
			return op(e)(ctx, from, to, force)
		},
	}
}

func mkdirCommand() *Command {
	return &Command{
		Name:    "mkdir",
		Summary: "Create a remote directory and its parents",
		Usage:   "<target> <path>",
		NArgs:   [2]int{1, 2},
		Run: func(ctx context.Context, e *env, args []string) error {
			uri, _, err := pathArgs(e, args)
			if err != nil {
				return err
			}
			return e.app.FS.CreateDirectory(ctx, uri)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
