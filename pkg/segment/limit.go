package segment

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limit bounds the number of concurrent operations against a storage.
// Waiting for a slot honors ctx cancellation.
type Limit struct {
	inner Storage
	sem   *semaphore.Weighted
}

// NewLimit wraps inner so that at most n operations run at once. n <= 0
// means 1.
func NewLimit(inner Storage, n int) *Limit {
	return &Limit{inner: inner, sem: semaphore.NewWeighted(int64(max(n, 1)))}
}

func (l *Limit) Create(ctx context.Context, name string, data []byte) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	return l.inner.Create(ctx, name, data)
}

func (l *Limit) ReadRange(ctx context.Context, name string, offset, length int64) ([]byte, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	return l.inner.ReadRange(ctx, name, offset, length)
}

func (l *Limit) ReadAll(ctx context.Context, name string) ([]byte, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	return ReadAll(ctx, l.inner, name)
}

func (l *Limit) List(ctx context.Context) ([]Info, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	return List(ctx, l.inner)
}

var (
	_ Storage     = (*Limit)(nil)
	_ Lister      = (*Limit)(nil)
	_ WholeReader = (*Limit)(nil)
)
