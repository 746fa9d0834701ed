package podfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/podfs/internal/channel"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/logging"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/podfs/internal/protocol"
	"github.com/GriffinCanCode/podfs/internal/shared/types"
)

var (
	// ErrCrossTarget is returned for renames and copies between targets.
	ErrCrossTarget = errors.New("moving or copying across targets is not supported")
	// ErrNotImplemented is returned for mutations on a read-only FS.
	ErrNotImplemented = errors.New("operation not implemented")
)

// Channels resolves the channel for a target.
type Channels interface {
	Get(ctx context.Context, target types.RemoteTarget) (*channel.Channel, error)
}

// Options configures an FS.
type Options struct {
	// ListingTTL bounds how long a prefetched listing is kept.
	ListingTTL time.Duration
	// OpTimeout bounds each operation; zero leaves it to the caller.
	OpTimeout time.Duration
	// ReadOnly rejects every mutating operation with ErrNotImplemented.
	ReadOnly bool

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	Tracer  *tracing.Tracer
}

// DefaultOptions returns the stock TTL and timeout.
func DefaultOptions() Options {
	return Options{
		ListingTTL: 600 * time.Millisecond,
		OpTimeout:  30 * time.Second,
	}
}

// WriteOptions controls Write on existing and missing files.
type WriteOptions struct {
	Create    bool
	Overwrite bool
}

// FileStat describes one remote path.
type FileStat struct {
	Type     protocol.FileType `json:"type"`
	Size     int64             `json:"size"`
	Created  time.Time         `json:"ctime"`
	Modified time.Time         `json:"mtime"`
}

// IsDir reports whether the path is a directory.
func (s FileStat) IsDir() bool {
	return s.Type.IsDir()
}

// FS is a filesystem over remote containers.
type FS struct {
	channels Channels
	opts     Options
	cache    *ListingCache
	events   *hub
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
}

// New creates an FS resolving channels through channels.
func New(channels Channels, opts Options) *FS {
	return &FS{
		channels: channels,
		opts:     opts,
		cache:    NewListingCache(opts.ListingTTL),
		events:   newHub(),
		logger:   logging.OrNop(opts.Logger).Named("podfs"),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}
}

// Cache exposes the listing cache.
func (f *FS) Cache() *ListingCache {
	return f.cache
}

// Stat returns metadata for uri. For directories the remote side sends the
// listing along; it is cached for the next List of the same uri.
func (f *FS) Stat(ctx context.Context, uri URI) (FileStat, error) {
	var st protocol.Stat
	err := f.do(ctx, protocol.VerbMStat, uri, func(ctx context.Context, ch *channel.Channel) error {
		var err error
		st, err = channel.Call[protocol.Stat](ctx, ch, protocol.MStat{Path: uri.Path})
		return err
	})
	if err != nil {
		return FileStat{}, err
	}

	if st.Prefetch != nil {
		f.cache.Put(uri.String(), *st.Prefetch)
		f.metrics.RecordListingCache("store")
	}
	return FileStat{
		Type:     st.Type,
		Size:     st.Size,
		Created:  time.UnixMilli(st.Ctime),
		Modified: time.UnixMilli(st.Mtime),
	}, nil
}

// List returns the entries of directory uri.
func (f *FS) List(ctx context.Context, uri URI) ([]protocol.Entry, error) {
	if files, ok := f.cache.Take(uri.String()); ok {
		f.metrics.RecordListingCache("hit")
		f.logger.Debug("listing served from prefetch", zap.Stringer("uri", uri))
		return files, nil
	}
	f.metrics.RecordListingCache("miss")

	var listing protocol.Listing
	err := f.do(ctx, protocol.VerbList, uri, func(ctx context.Context, ch *channel.Channel) error {
		var err error
		listing, err = channel.Call[protocol.Listing](ctx, ch, protocol.List{Path: uri.Path})
		return err
	})
	if err != nil {
		return nil, err
	}
	return listing.Files, nil
}

// Glob lists uri and keeps the entries whose names match pattern.
func (f *FS) Glob(ctx context.Context, uri URI, pattern string) ([]protocol.Entry, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", doublestar.ErrBadPattern, pattern)
	}
	files, err := f.List(ctx, uri)
	if err != nil {
		return nil, err
	}

	matched := make([]protocol.Entry, 0, len(files))
	for _, e := range files {
		if ok, _ := doublestar.Match(pattern, e.Name); ok {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

// Read returns the contents of file uri.
func (f *FS) Read(ctx context.Context, uri URI) ([]byte, error) {
	var data []byte
	err := f.do(ctx, protocol.VerbRead, uri, func(ctx context.Context, ch *channel.Channel) error {
		content, err := channel.Call[protocol.Content](ctx, ch, protocol.Read{Path: uri.Path})
		if err != nil {
			return err
		}
		data, err = content.Bytes()
		return err
	})
	return data, err
}

// Write replaces the contents of file uri. Unless opts allow both creating
// and overwriting, a stat first checks whether the file exists.
func (f *FS) Write(ctx context.Context, uri URI, data []byte, opts WriteOptions) error {
	if err := f.writable(); err != nil {
		return err
	}

	kind := Changed
	if !opts.Create || !opts.Overwrite {
		exists, err := f.exists(ctx, uri)
		if err != nil {
			return err
		}
		switch {
		case exists && !opts.Overwrite:
			return &fs.PathError{Op: "write", Path: uri.String(), Err: fs.ErrExist}
		case !exists && !opts.Create:
			return &fs.PathError{Op: "write", Path: uri.String(), Err: fs.ErrNotExist}
		}
		if !exists {
			kind = Created
		}
	}

	err := f.do(ctx, protocol.VerbWrite, uri, func(ctx context.Context, ch *channel.Channel) error {
		_, err := ch.Run(ctx, protocol.NewWrite(uri.Path, data))
		return err
	})
	if err != nil {
		return err
	}

	f.cache.Invalidate(uri.Parent().String())
	f.publish(ChangeEvent{URI: uri, Type: kind})
	return nil
}

// Delete removes uri; directories with content need recursive.
func (f *FS) Delete(ctx context.Context, uri URI, recursive bool) error {
	if err := f.writable(); err != nil {
		return err
	}
	err := f.do(ctx, protocol.VerbRemove, uri, func(ctx context.Context, ch *channel.Channel) error {
		_, err := ch.Run(ctx, protocol.Remove{Path: uri.Path, Recursive: recursive})
		return err
	})
	if err != nil {
		return err
	}
	f.cache.Invalidate(uri.String())
	f.cache.Invalidate(uri.Parent().String())
	f.publish(ChangeEvent{URI: uri, Type: Deleted})
	return nil
}

// Rename moves from to to within one target.
func (f *FS) Rename(ctx context.Context, from, to URI, overwrite bool) error {
	err := f.transfer(ctx, protocol.VerbMove, from, to, overwrite, func(ctx context.Context, ch *channel.Channel) error {
		_, err := ch.Run(ctx, protocol.Move{Src: from.Path, Dst: to.Path})
		return err
	})
	if err != nil {
		return err
	}
	f.cache.Invalidate(from.String())
	f.cache.Invalidate(from.Parent().String())
	f.publish(ChangeEvent{URI: from, Type: Deleted}, ChangeEvent{URI: to, Type: Created})
	return nil
}

// Copy copies from to to within one target.
func (f *FS) Copy(ctx context.Context, from, to URI, overwrite bool) error {
	err := f.transfer(ctx, protocol.VerbCopy, from, to, overwrite, func(ctx context.Context, ch *channel.Channel) error {
		_, err := ch.Run(ctx, protocol.Copy{Src: from.Path, Dst: to.Path})
		return err
	})
	if err != nil {
		return err
	}
	f.publish(ChangeEvent{URI: to, Type: Created})
	return nil
}

// CreateDirectory creates uri and any missing parents.
func (f *FS) CreateDirectory(ctx context.Context, uri URI) error {
	if err := f.writable(); err != nil {
		return err
	}
	err := f.do(ctx, protocol.VerbMakeDirs, uri, func(ctx context.Context, ch *channel.Channel) error {
		_, err := ch.Run(ctx, protocol.MakeDirs{Path: uri.Path})
		return err
	})
	if err != nil {
		return err
	}
	f.cache.Invalidate(uri.Parent().String())
	f.publish(ChangeEvent{URI: uri, Type: Created})
	return nil
}

// Refresh tells subscribers that uri changed and drops its cached listing.
func (f *FS) Refresh(uri URI) {
	f.cache.Invalidate(uri.String())
	f.publish(ChangeEvent{URI: uri, Type: Changed})
}

// Subscribe returns a subscription to change events.
func (f *FS) Subscribe() *Subscription {
	return f.events.subscribe()
}

// transfer runs a two-path mutation after the local checks shared by
// rename and copy.
func (f *FS) transfer(ctx context.Context, verb protocol.Verb, from, to URI, overwrite bool, fn func(context.Context, *channel.Channel) error) error {
	if !from.Target.SameContainer(to.Target) {
		return fmt.Errorf("%s %s -> %s: %w", verb, from, to, ErrCrossTarget)
	}
	if err := f.writable(); err != nil {
		return err
	}
	if !overwrite {
		exists, err := f.exists(ctx, to)
		if err != nil {
			return err
		}
		if exists {
			return &fs.PathError{Op: string(verb), Path: to.String(), Err: fs.ErrExist}
		}
	}
	if err := f.do(ctx, verb, from, fn); err != nil {
		return err
	}
	f.cache.Invalidate(to.String())
	f.cache.Invalidate(to.Parent().String())
	return nil
}

func (f *FS) exists(ctx context.Context, uri URI) (bool, error) {
	_, err := f.Stat(ctx, uri)
	switch {
	case err == nil:
		// The probe's prefetch is not wanted.
		f.cache.Invalidate(uri.String())
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (f *FS) writable() error {
	if f.opts.ReadOnly {
		return ErrNotImplemented
	}
	return nil
}

// do resolves the channel for uri and runs fn under the op timeout and a span.
func (f *FS) do(ctx context.Context, verb protocol.Verb, uri URI, fn func(context.Context, *channel.Channel) error) error {
	if f.opts.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.OpTimeout)
		defer cancel()
	}

	span, ctx := f.tracer.StartSpan(ctx, "podfs."+string(verb))
	span.SetTag("target", uri.Target.String())
	span.SetTag("path", uri.Path)

	ch, err := f.channels.Get(ctx, uri.Target)
	if err == nil {
		err = fn(ctx, ch)
	}
	f.tracer.End(span, err)

	if err != nil {
		f.logger.Debug("operation failed",
			zap.String("verb", string(verb)),
			zap.Stringer("uri", uri),
			zap.Error(err),
		)
		return fmt.Errorf("%s %s: %w", verb, uri, err)
	}
	return nil
}

func (f *FS) publish(events ...ChangeEvent) {
	if dropped := f.events.publish(events...); dropped > 0 {
		f.logger.Warn("change events dropped", zap.Int("count", dropped))
	}
}
