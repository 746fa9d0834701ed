package testutil

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/podfs/internal/cluster"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

// MockExecutor is a mock implementation of cluster.Executor.
type MockExecutor struct {
	mock.Mock
}

// Exec mocks the Exec method.
func (m *MockExecutor) Exec(ctx context.Context, target types.RemoteTarget, req cluster.ExecRequest) (cluster.Process, error) {
	args := m.Called(ctx, target, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	if fn, ok := args.Get(0).(func(context.Context, types.RemoteTarget, cluster.ExecRequest) cluster.Process); ok {
		return fn(ctx, target, req), args.Error(1)
	}
	return args.Get(0).(cluster.Process), args.Error(1)
}

// MockStreamSource is a mock implementation of cluster.StreamSource.
type MockStreamSource struct {
	mock.Mock
}

// Logs mocks the Logs method.
func (m *MockStreamSource) Logs(ctx context.Context, target types.RemoteTarget, opts cluster.LogOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, target, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// Events mocks the Events method.
func (m *MockStreamSource) Events(ctx context.Context, target types.RemoteTarget) (io.ReadCloser, error) {
	args := m.Called(ctx, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// MockPodAPI is a mock implementation of cluster.PodAPI.
type MockPodAPI struct {
	mock.Mock
}

// ListPods mocks the ListPods method.
func (m *MockPodAPI) ListPods(ctx context.Context, namespace string) ([]cluster.Pod, error) {
	args := m.Called(ctx, namespace)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cluster.Pod), args.Error(1)
}

// GetPod mocks the GetPod method.
func (m *MockPodAPI) GetPod(ctx context.Context, target types.RemoteTarget) (*cluster.Pod, error) {
	args := m.Called(ctx, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cluster.Pod), args.Error(1)
}

// DeletePod mocks the DeletePod method.
func (m *MockPodAPI) DeletePod(ctx context.Context, target types.RemoteTarget) error {
	args := m.Called(ctx, target)
	return args.Error(0)
}

// NewMockExecutor creates a mock executor whose Exec starts a fresh
// PipeProcess by default.
func NewMockExecutor(t *testing.T) *MockExecutor {
	t.Helper()
	m := new(MockExecutor)

	m.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(func(context.Context, types.RemoteTarget, cluster.ExecRequest) cluster.Process {
			return NewPipeProcess()
		}, nil).
		Maybe()

	return m
}
