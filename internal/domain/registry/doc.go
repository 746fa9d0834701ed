// Package registry caches one command channel per remote target.
//
// The first Get for a target opens a channel; concurrent first callers
// share that single open. Later callers get the cached channel, which
// reconnects in place when its transport drops. Channels leave the cache
// only through Dispose or DisposeAll, or when Get finds one that gave up
// reconnecting.
//
// Example Usage:
//
//	reg := registry.NewManager(executor, channel.DefaultOptions())
//	ch, err := reg.Get(ctx, target)
//	defer reg.DisposeAll(ctx)
package registry
