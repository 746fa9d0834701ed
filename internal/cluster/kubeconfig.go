package cluster

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// FallbackNamespace is used when the kubeconfig names none.
const FallbackNamespace = "default"

type kubeconfig struct {
	CurrentContext string `yaml:"current-context"`
	Contexts       []struct {
		Name    string `yaml:"name"`
		Context struct {
			Namespace string `yaml:"namespace"`
		} `yaml:"context"`
	} `yaml:"contexts"`
}

// KubeconfigPath resolves the kubeconfig in use: path if set, then the
// first entry of $KUBECONFIG, then ~/.kube/config.
func KubeconfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("KUBECONFIG"); env != "" {
		for _, p := range filepath.SplitList(env) {
			if p != "" {
				return p
			}
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kube", "config")
}

// DefaultNamespace returns the namespace of the kubeconfig's current
// context (or of contextName when set), falling back to "default" with a
// warning.
func DefaultNamespace(path, contextName string, logger *zap.Logger) string {
	if logger == nil {
		logger = zap.NewNop()
	}
	path = KubeconfigPath(path)
	warn := func(reason string) string {
		logger.Warn("kubeconfig current-context not found, using `default` namespace",
			zap.String("kubeconfig", path), zap.String("reason", reason))
		return FallbackNamespace
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return warn(err.Error())
	}
	var cfg kubeconfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return warn(err.Error())
	}
	if contextName == "" {
		contextName = cfg.CurrentContext
	}
	for _, c := range cfg.Contexts {
		if c.Name == contextName {
			if c.Context.Namespace == "" {
				return warn("context has no namespace")
			}
			return c.Context.Namespace
		}
	}
	return warn("no such context")
}
