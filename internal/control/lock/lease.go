package lock

import (
	"context"
	"sync"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
)

// Lease is a granted lock whose Release runs at most once, so callers can
// both defer it and release early on the happy path.
type Lease struct {
	c           *Coordinator
	mediaFileID int64
	kind        string

	once sync.Once
	err  error
}

// Acquire wraps TryAcquire. A busy key yields *artifact.BuildInProgressError.
func (c *Coordinator) Acquire(ctx context.Context, mediaFileID int64, kind string) (*Lease, error) {
	ok, err := c.TryAcquire(ctx, mediaFileID, kind)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &artifact.BuildInProgressError{LockKey: artifact.LockKey(mediaFileID, kind)}
	}
	return &Lease{c: c, mediaFileID: mediaFileID, kind: kind}, nil
}

// Key returns the lock key of the lease.
func (l *Lease) Key() string { return artifact.LockKey(l.mediaFileID, l.kind) }

// Register attaches the cancellation handle of the build running under l.
func (l *Lease) Register(cancel context.CancelFunc, done <-chan struct{}) {
	l.c.Register(l.mediaFileID, l.kind, cancel, done)
}

// SetWorkerPID records the external worker of the build.
func (l *Lease) SetWorkerPID(ctx context.Context, pid int) error {
	return l.c.SetWorkerPID(ctx, l.mediaFileID, l.kind, pid)
}

// Release drops the lock. Only the first call has an effect; later calls
// return the first call's error. Cancellation of ctx does not skip it.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.c.Release(context.WithoutCancel(ctx), l.mediaFileID, l.kind)
	})
	return l.err
}
