// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for humans
//
// Components take a *zap.Logger named after themselves (channel, podfs,
// transfer, stream, shell) and attach the remote target as a field, so a
// single container's traffic can be followed across subsystems.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	chLog := logger.Component("channel").With(logging.Target(target))
//	chLog.Info("reconnected", zap.Int("attempt", 2))
package logging
