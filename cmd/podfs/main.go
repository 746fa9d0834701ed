package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/podfs/internal/app"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/config"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/logging"
)

// Command is one podfs subcommand.
type Command struct {
	Name    string
	Summary string
	// Usage is the argument synopsis after the command name.
	Usage string
	// Flags registers the command's flags on fs.
	Flags func(fs *pflag.FlagSet)
	Run   func(ctx context.Context, e *env, args []string) error
	// NArgs is the number of positional arguments accepted, as [min, max];
	// max < 0 means unbounded.
	NArgs [2]int
}

// env is what a running command sees.
type env struct {
	app    *app.App
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	// tty reports whether stderr is a terminal, for in-place progress.
	tty bool
	// tailLines is the default log backlog.
	tailLines int64
}

// newApp builds the component graph; replaced in tests.
var newApp = func(ctx context.Context, cfg *config.Config) (*app.App, error) {
	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, app.Options{Logger: logger.Logger})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "podfs: %v\n", err)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// The CLI is quiet unless asked.
	cfg.Logging.Level = "warn"

	global := pflag.NewFlagSet("podfs", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(io.Discard)
	cfg.BindClusterFlags(global)
	if err := global.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, global)
			return nil
		}
		return fmt.Errorf("%w\n\nRun 'podfs --help' for usage", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		printHelp(stderr, global)
		return errUsage
	}
	cmd := lookup(rest[0])
	if cmd == nil {
		return fmt.Errorf("unknown command %q\n\nRun 'podfs --help' for usage", rest[0])
	}

	fs := pflag.NewFlagSet("podfs "+cmd.Name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if cmd.Flags != nil {
		cmd.Flags(fs)
	}
	if err := fs.Parse(rest[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printCommandHelp(stderr, cmd, fs)
			return nil
		}
		return fmt.Errorf("%s: %w", cmd.Name, err)
	}
	positional := fs.Args()
	if n := len(positional); n < cmd.NArgs[0] || (cmd.NArgs[1] >= 0 && n > cmd.NArgs[1]) {
		printCommandHelp(stderr, cmd, fs)
		return errUsage
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close(context.WithoutCancel(ctx))
	}()

	return cmd.Run(ctx, &env{
		app:       a,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		tty:       isTerminal(stderr),
		tailLines: cfg.Stream.TailLines,
	}, positional)
}

func lookup(name string) *Command {
	for _, c := range commands {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func printHelp(w io.Writer, global *pflag.FlagSet) {
	fmt.Fprintf(w, "podfs operates on files, logs and events of containers in a cluster.\n\n")
	fmt.Fprintf(w, "Usage:\n  podfs [global flags] <command> [flags] [args]\n\n")
	fmt.Fprintf(w, "Targets are pod, namespace/pod or namespace/pod:container.\n\nCommands:\n")
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.Name, c.Summary)
	}
	_ = tw.Flush()

	var flags strings.Builder
	global.SetOutput(&flags)
	global.PrintDefaults()
	global.SetOutput(io.Discard)
	fmt.Fprintf(w, "\nGlobal flags:\n%s", flags.String())
}

func printCommandHelp(w io.Writer, c *Command, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "%s\n\nUsage:\n  podfs %s %s\n", c.Summary, c.Name, c.Usage)
	var flags strings.Builder
	fs.SetOutput(&flags)
	fs.PrintDefaults()
	fs.SetOutput(io.Discard)
	if flags.Len() > 0 {
		fmt.Fprintf(w, "\nFlags:\n%s", flags.String())
	}
}
