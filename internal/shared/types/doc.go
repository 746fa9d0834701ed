// Package types provides shared data structures for podfs.
//
// Core Types:
//   - RemoteTarget: a pod (and optional container) in a namespace, the unit
//     every channel, transfer and stream is bound to
//
// Example Usage:
//
//	target, err := types.ParseTarget("default/worker-7", "default")
//	if err != nil {
//	    return err
//	}
//	ch, err := registry.Get(ctx, target)
package types
