// Package transfer downloads remote directories and files over a dedicated
// archive process, separate from the command channel.
//
// The remote side runs tar streaming to stdout; the local side extracts
// into the destination as bytes arrive. Progress is measured out of band by
// summing what has landed under the destination at a fixed interval, so it
// is independent of the compressed stream.
//
// Components:
//   - Manager: starts downloads and tracks sessions by ID
//   - Session: one transfer with progress, cancellation and a final outcome
//   - Meter: sliding-window throughput and remaining time
package transfer
