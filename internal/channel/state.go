package channel

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/podfs/internal/protocol"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

var (
	ErrClosed             = errors.New("channel closed")
	ErrAlreadyOpen        = errors.New("channel already opened")
	ErrTransportReset     = errors.New("transport reset before result arrived")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrAbandoned          = errors.New("pending call reaped")
)

// State is the lifecycle state of a channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AnomalyKind classifies inbound lines that could not be delivered.
type AnomalyKind string

const (
	AnomalyMalformed     AnomalyKind = "malformed"
	AnomalyMissingTicket AnomalyKind = "missing_ticket"
	AnomalyUnmatched     AnomalyKind = "unmatched"
)

// Anomaly describes one undeliverable inbound line. Anomalies are reported
// and dropped; they never fail the channel.
type Anomaly struct {
	Target types.RemoteTarget
	Kind   AnomalyKind
	Ticket uint64
	Line   []byte
	Err    error
}

// Options configures a channel.
type Options struct {
	// Interpreter runs the bootstrap script on the remote side.
	Interpreter string
	// Backoff paces reconnect attempts after a transport drop.
	Backoff resilience.Backoff
	// CloseGrace bounds how long Close waits for in-flight results.
	CloseGrace time.Duration
	// FailPendingOnReset fails every pending call with ErrTransportReset when
	// the transport drops, instead of leaving them to the caller's context.
	FailPendingOnReset bool

	OnAnomaly     func(Anomaly)
	OnStateChange func(target types.RemoteTarget, from, to State)

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// DefaultOptions returns the reconnect and shutdown timings used when none
// are configured.
func DefaultOptions() Options {
	return Options{
		Interpreter: protocol.DefaultInterpreter,
		Backoff:     resilience.Fixed(500*time.Millisecond, 0),
		CloseGrace:  2 * time.Second,
	}
}
