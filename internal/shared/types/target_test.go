package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    RemoteTarget
		wantErr bool
	}{
		{"bare pod", "worker-7", RemoteTarget{Namespace: "default", Pod: "worker-7"}, false},
		{"namespaced", "jobs/worker-7", RemoteTarget{Namespace: "jobs", Pod: "worker-7"}, false},
		{"container", "jobs/worker-7:sidecar", RemoteTarget{Namespace: "jobs", Pod: "worker-7", Container: "sidecar"}, false},
		{"empty", "", RemoteTarget{}, true},
		{"empty namespace", "/worker-7", RemoteTarget{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.input, "default")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemoteTargetString(t *testing.T) {
	assert.Equal(t, "default/worker-7", RemoteTarget{Namespace: "default", Pod: "worker-7"}.String())
	assert.Equal(t, "default/worker-7:app", RemoteTarget{Namespace: "default", Pod: "worker-7", Container: "app"}.String())
}
