package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/channel"
	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/domain/podfs"
	"github.com/GriffinCanCode/podfs/internal/domain/registry"
	"github.com/GriffinCanCode/podfs/internal/domain/stream"
	"github.com/GriffinCanCode/podfs/internal/domain/transfer"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/config"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/logging"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
	"github.com/GriffinCanCode/podfs/internal/terminal"
)

// ErrNoClusterAPI is returned for features that need the cluster API when
// no proxy could be reached.
var ErrNoClusterAPI = errors.New("cluster API unavailable")

// Options carries the cross-cutting collaborators. All fields may be nil.
type Options struct {
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	Tracer  *tracing.Tracer
	// Executor replaces the configured exec transport.
	Executor cluster.Executor
}

// App is the assembled component graph.
type App struct {
	Exec      cluster.Executor
	Channels  *registry.Manager
	FS        *podfs.FS
	Transfers *transfer.Manager
	Shells    *terminal.Manager
	// Pods and Follower are nil when no cluster API is reachable.
	Pods     *cluster.Client
	Follower *stream.Follower
	Tools    cluster.Tools
	// Namespace resolves bare pod names.
	Namespace string

	proxy  *cluster.Proxy
	logger *zap.Logger
}

// New builds an App from cfg. ctx bounds the startup probes and the
// launch of a kubectl proxy.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := logging.OrNop(opts.Logger)
	a := &App{logger: logger.Named("app")}

	var err error
	a.Tools, err = cluster.DetectTools(ctx, cfg.Cluster.Kubectl, logger.Named("cluster"))
	if err != nil {
		a.logger.Warn("cluster tooling incomplete", zap.Error(err))
	}

	kubeconfig := cluster.KubeconfigPath(cfg.Cluster.Kubeconfig)
	a.Namespace = cfg.Cluster.Namespace
	if a.Namespace == "" {
		a.Namespace = cluster.DefaultNamespace(kubeconfig, cfg.Cluster.Context, logger.Named("cluster"))
	}

	// The API client and the WebSocket executor both go through a kubectl
	// proxy, which handles authentication.
	proxyURL := cfg.Cluster.ProxyURL
	if proxyURL == "" && a.Tools.Kubectl {
		a.proxy, err = cluster.StartProxy(ctx, cfg.Cluster.Kubectl, kubeconfig, cfg.Cluster.Context, logger.Named("proxy"))
		if err != nil {
			a.logger.Warn("kubectl proxy unavailable; pod listing, logs and events are disabled", zap.Error(err))
		} else {
			proxyURL = a.proxy.URL
		}
	}
	if proxyURL != "" {
		clientOpts := cluster.DefaultClientOptions(proxyURL)
		clientOpts.Logger = logger.Named("api")
		a.Pods = cluster.NewClient(clientOpts)
		a.Follower = stream.NewFollower(a.Pods, stream.Options{
			MinInterval: cfg.Stream.MinInterval,
			Emulate:     cfg.Stream.Emulate,
			Cols:        cfg.Stream.Cols,
			Rows:        cfg.Stream.Rows,
			Scrollback:  cfg.Stream.Scrollback,
			Logger:      logger,
			Metrics:     opts.Metrics,
		})
	}

	switch {
	case opts.Executor != nil:
		a.Exec = opts.Executor
	case cfg.Cluster.ExecMode == "websocket":
		if proxyURL == "" {
			a.closeProxy()
			return nil, fmt.Errorf("websocket exec mode: %w", ErrNoClusterAPI)
		}
		a.Exec = cluster.NewWebSocketExecutor(proxyURL, "", logger.Named("exec"))
	default:
		a.Exec = cluster.NewKubectlExecutor(cfg.Cluster.Kubectl, cfg.Cluster.Kubeconfig, cfg.Cluster.Context, logger.Named("exec"))
	}

	a.Channels = registry.NewManager(a.Exec, ChannelOptions(cfg.Channel, logger, opts.Metrics))

	a.FS = podfs.New(a.Channels, podfs.Options{
		ListingTTL: cfg.FS.ListingTTL,
		OpTimeout:  cfg.FS.OpTimeout,
		ReadOnly:   cfg.FS.ReadOnly,
		Logger:     logger,
		Metrics:    opts.Metrics,
		Tracer:     opts.Tracer,
	})

	compression, err := transfer.ParseCompression(cfg.Transfer.Compression)
	if err != nil {
		a.closeProxy()
		return nil, err
	}
	transferOpts := transfer.DefaultOptions()
	transferOpts.Destination = cfg.Transfer.Destination
	transferOpts.SampleInterval = cfg.Transfer.SampleInterval
	transferOpts.Window = cfg.Transfer.Window
	transferOpts.Compression = compression
	transferOpts.Logger = logger
	transferOpts.Metrics = opts.Metrics
	a.Transfers = transfer.NewManager(a.Exec, transferOpts)

	shellOpts := terminal.DefaultShellOptions()
	shellOpts.Scrollback = cfg.Stream.Scrollback
	shellOpts.Logger = logger
	shellOpts.Metrics = opts.Metrics
	a.Shells = terminal.NewManager(a.Exec, shellOpts)

	return a, nil
}

// ChannelOptions translates the channel config section.
func ChannelOptions(cfg config.ChannelConfig, logger *zap.Logger, metrics *monitoring.Metrics) channel.Options {
	logger = logging.OrNop(logger)
	opts := channel.DefaultOptions()
	if cfg.Interpreter != "" {
		opts.Interpreter = cfg.Interpreter
	}
	if cfg.ReconnectDelay > 0 {
		if cfg.ReconnectMaxDelay > cfg.ReconnectDelay {
			opts.Backoff = resilience.Exponential(cfg.ReconnectDelay, cfg.ReconnectMaxDelay, cfg.ReconnectAttempts)
		} else {
			opts.Backoff = resilience.Fixed(cfg.ReconnectDelay, cfg.ReconnectAttempts)
		}
	}
	if cfg.CloseGrace > 0 {
		opts.CloseGrace = cfg.CloseGrace
	}
	opts.FailPendingOnReset = cfg.FailPendingOnReset

	states := logger.Named("channel")
	opts.OnStateChange = func(target types.RemoteTarget, from, to channel.State) {
		states.Info("channel state changed",
			logging.Target(target),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	opts.Logger = logger
	opts.Metrics = metrics
	return opts
}

// Proxy returns the kubectl proxy the App started, if any.
func (a *App) Proxy() *cluster.Proxy {
	return a.proxy
}

// PodAPI returns the pod client as an interface, nil when there is none.
func (a *App) PodAPI() cluster.PodAPI {
	if a.Pods == nil {
		return nil
	}
	return a.Pods
}

// Target parses s against the App's default namespace.
func (a *App) Target(s string) (types.RemoteTarget, error) {
	return types.ParseTarget(s, a.Namespace)
}

// Close stops transfers and shells, disposes every channel and stops the
// proxy.
func (a *App) Close(ctx context.Context) error {
	a.Transfers.CancelAll()
	a.Shells.KillAll()
	err := a.Channels.DisposeAll(ctx)
	a.closeProxy()
	return err
}

func (a *App) closeProxy() {
	if a.proxy == nil {
		return
	}
	if err := a.proxy.Close(); err != nil {
		a.logger.Debug("kubectl proxy exited", zap.Error(err))
	}
}
