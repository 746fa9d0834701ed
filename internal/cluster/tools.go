package cluster

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// InstallLink documents how to install kubectl and its convert plugin.
const InstallLink = "https://kubernetes.io/docs/tasks/tools/"

// ErrToolMissing is returned when a required command is not installed.
var ErrToolMissing = errors.New("required tool not found")

// Tools reports which cluster tools are usable.
type Tools struct {
	Kubectl        bool `json:"kubectl"`
	KubectlConvert bool `json:"kubectl_convert"`
}

// DetectTools checks that kubectl and the kubectl convert plugin run. Each
// missing tool is logged with the install link; the returned error names
// the first one missing.
func DetectTools(ctx context.Context, kubectl string, logger *zap.Logger) (Tools, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	checks := []struct {
		name string
		args []string
		ok   *bool
	}{
		{"kubectl", []string{"version", "--client"}, nil},
		{"kubectl-convert", []string{"convert", "--help"}, nil},
	}
	var tools Tools
	checks[0].ok = &tools.Kubectl
	checks[1].ok = &tools.KubectlConvert

	var first error
	for _, c := range checks {
		if err := exec.CommandContext(ctx, kubectl, c.args...).Run(); err != nil {
			logger.Error(c.name+" not found; install kubectl and the kubectl convert plugin",
				zap.String("instructions", InstallLink), zap.Error(err))
			if first == nil {
				first = fmt.Errorf("%w: %s", ErrToolMissing, c.name)
			}
			continue
		}
		*c.ok = true
		logger.Debug("found " + c.name)
	}
	return tools, first
}
