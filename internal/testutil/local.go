package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// LocalExecutor runs every command on the local host, ignoring the target.
type LocalExecutor struct {
	mu       sync.Mutex
	commands [][]string
}

// Exec starts req.Command locally.
func (l *LocalExecutor) Exec(ctx context.Context, target types.RemoteTarget, req cluster.ExecRequest) (cluster.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("%w: empty command", cluster.ErrStartFailed)
	}
	l.mu.Lock()
	l.commands = append(l.commands, append([]string(nil), req.Command...))
	l.mu.Unlock()
	return cluster.StartCommand(req.Command[0], req.Command[1:], req)
}

// Commands returns every command started so far.
func (l *LocalExecutor) Commands() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.commands...)
}
