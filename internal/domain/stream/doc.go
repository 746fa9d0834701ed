// Package stream follows container logs and pod events as throttled render
// streams.
//
// A Stream reads one long-lived call from the cluster, feeds the bytes into a
// sink (a terminal emulator, a control-stripping line buffer, or an event
// table) and publishes the rendered text as Frames. Redraws are coalesced by
// a Throttle so a chatty container produces at most one frame per interval;
// the latest text is always delivered and no bytes are dropped. Closing the
// Stream cancels the underlying call.
package stream
