package cluster

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/infrastructure/logging"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// KubectlExecutor spawns remote processes through `kubectl exec`.
type KubectlExecutor struct {
	Binary     string
	Kubeconfig string
	Context    string
	Logger     *zap.Logger
}

// NewKubectlExecutor creates an executor using the given kubectl binary.
func NewKubectlExecutor(binary, kubeconfig, kubeContext string, logger *zap.Logger) *KubectlExecutor {
	if binary == "" {
		binary = "kubectl"
	}
	return &KubectlExecutor{
		Binary:     binary,
		Kubeconfig: kubeconfig,
		Context:    kubeContext,
		Logger:     logging.OrNop(logger),
	}
}

// Exec runs req.Command inside target.
func (k *KubectlExecutor) Exec(ctx context.Context, target types.RemoteTarget, req ExecRequest) (Process, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrStartFailed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := k.Args(target, req)
	logging.OrNop(k.Logger).Debug("kubectl exec",
		logging.Target(target),
		zap.Bool("tty", req.TTY),
		zap.String("program", req.Command[0]),
	)
	return StartCommand(k.Binary, args, req)
}

// Args builds the kubectl argument list for req.
func (k *KubectlExecutor) Args(target types.RemoteTarget, req ExecRequest) []string {
	args := k.global()
	args = append(args, "exec")
	if req.Stdin || req.TTY {
		args = append(args, "-i")
	}
	if req.TTY {
		args = append(args, "-t")
	}
	args = append(args, "-n", target.Namespace, target.Pod)
	if target.Container != "" {
		args = append(args, "-c", target.Container)
	}
	args = append(args, "--")
	return append(args, req.Command...)
}

func (k *KubectlExecutor) global() []string {
	var args []string
	if k.Kubeconfig != "" {
		args = append(args, "--kubeconfig", k.Kubeconfig)
	}
	if k.Context != "" {
		args = append(args, "--context", k.Context)
	}
	return args
}
