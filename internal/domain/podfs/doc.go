// Package podfs maps filesystem operations onto channel commands.
//
// Paths are addressed by URI, podfs://<namespace>/<pod>[:container]/<path>.
// Every operation resolves the channel for the URI's target through the
// registry and issues one command (two when a pre-flight stat is needed to
// honour create/overwrite flags).
//
// A Stat of a directory returns its listing inline; the FS keeps that
// listing for a short TTL and hands it to the next List of the same URI
// without a round trip. The entry is consumed once or expires, whichever
// comes first.
package podfs
