// Package app assembles the podfs components from configuration.
//
// An App owns everything needed to reach a cluster and operate on its
// containers: the exec transport, the channel registry, the filesystem
// adapter, transfers, log and event followers and interactive shells. The
// daemon serves an App over HTTP; the CLI drives one directly.
//
// Example Usage:
//
//	a, err := app.New(ctx, cfg, app.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer a.Close(context.Background())
//	entries, err := a.FS.List(ctx, uri)
package app
