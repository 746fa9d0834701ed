package config

import (
	"github.com/spf13/pflag"
)

// BindClusterFlags registers the flags shared by every binary. Each flag
// defaults to the value already loaded, so flags override file and
// environment.
func (c *Config) BindClusterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Cluster.ExecMode, "exec-mode", c.Cluster.ExecMode, `exec transport: "kubectl" or "websocket"`)
	fs.StringVar(&c.Cluster.Kubectl, "kubectl", c.Cluster.Kubectl, "kubectl binary")
	fs.StringVar(&c.Cluster.Kubeconfig, "kubeconfig", c.Cluster.Kubeconfig, "kubeconfig file")
	fs.StringVar(&c.Cluster.Context, "context", c.Cluster.Context, "kubeconfig context")
	fs.StringVarP(&c.Cluster.Namespace, "namespace", "n", c.Cluster.Namespace, "namespace for bare pod names")
	fs.StringVar(&c.Cluster.ProxyURL, "proxy-url", c.Cluster.ProxyURL, "running kubectl proxy; empty starts one")
	fs.StringVar(&c.Channel.Interpreter, "interpreter", c.Channel.Interpreter, "remote interpreter for the command channel")
	fs.StringVar(&c.Logging.Level, "log-level", c.Logging.Level, "debug, info, warn or error")
	fs.BoolVar(&c.Logging.Development, "dev", c.Logging.Development, "development logging")
}

// BindServerFlags registers the daemon-only flags.
func (c *Config) BindServerFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Server.Host, "host", c.Server.Host, "listen host")
	fs.StringVar(&c.Server.Port, "port", c.Server.Port, "listen port")
	fs.BoolVar(&c.FS.ReadOnly, "read-only", c.FS.ReadOnly, "reject every mutating filesystem operation")
	fs.StringVar(&c.Transfer.Destination, "download-dir", c.Transfer.Destination, "default download directory")
	fs.BoolVar(&c.RateLimit.Enabled, "rate-limit", c.RateLimit.Enabled, "per-client rate limiting")
}
