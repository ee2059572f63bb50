// Package segment defines the storage contract for immutable segment blobs
// and its implementations.
//
// A segment is written exactly once with [Storage.Create] and afterwards only
// read by byte range. Implementations:
//   - [Dir]: one file per segment in a local directory
//   - [S3]: one object per segment in an S3 bucket
//   - [Memory]: in-process map, for tests and ephemeral logs
//
// Wrappers compose over any [Storage]:
//   - [Cache]: byte-bounded LRU of whole segments
//   - [Limit]: bound on concurrent in-flight operations
package segment

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a segment does not exist.
	ErrNotFound = errors.New("segment not found")

	// ErrExists is returned by Create when a segment with the name already
	// exists. The existing segment is left untouched.
	ErrExists = errors.New("segment already exists")

	// ErrShortRead is returned by ReadRange when the segment ends before
	// offset+length.
	ErrShortRead = errors.New("segment shorter than requested range")

	// ErrInvalidName is returned for names that cannot be stored safely.
	ErrInvalidName = errors.New("invalid segment name")
)

// Storage is a write-once blob store keyed by segment name.
//
// Create must not leave a readable partial segment on failure. A failed
// Create may leave nothing or an unreferenced artifact; callers retry with a
// fresh name.
//
// Implementations must be safe for concurrent use.
type Storage interface {
	// Create stores data under name. Fails with [ErrExists] if name is taken.
	Create(ctx context.Context, name string, data []byte) error

	// ReadRange returns exactly length bytes starting at offset.
	// Fails with [ErrNotFound] or [ErrShortRead].
	ReadRange(ctx context.Context, name string, offset, length int64) ([]byte, error)
}

// Info describes a stored segment.
type Info struct {
	Name string
	Size int64
}

// Lister is implemented by storages that can enumerate their segments.
type Lister interface {
	// List returns all stored segments sorted by name.
	List(ctx context.Context) ([]Info, error)
}

// WholeReader is implemented by storages that can return a full segment in
// one call.
type WholeReader interface {
	ReadAll(ctx context.Context, name string) ([]byte, error)
}

// List enumerates s if it implements [Lister], else returns
// [errors.ErrUnsupported].
func List(ctx context.Context, s Storage) ([]Info, error) {
	l, ok := s.(Lister)
	if !ok {
		return nil, fmt.Errorf("list %T: %w", s, errors.ErrUnsupported)
	}

	return l.List(ctx)
}

// ReadAll returns the full content of a segment. Storages without
// [WholeReader] are not supported.
func ReadAll(ctx context.Context, s Storage, name string) ([]byte, error) {
	w, ok := s.(WholeReader)
	if !ok {
		return nil, fmt.Errorf("read all %T: %w", s, errors.ErrUnsupported)
	}

	return w.ReadAll(ctx, name)
}

// ValidateName rejects names that are empty, contain path separators,
// traverse directories or start with a dot. Dot names are reserved for temp
// files.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidName, name)
	}

	return nil
}

func validateRange(name string, offset, length int64) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	if offset < 0 || length < 0 {
		return fmt.Errorf("read %s: negative range offset=%d length=%d", name, offset, length)
	}

	return nil
}

func shortRead(name string, offset, length, size int64) error {
	return fmt.Errorf("read %s@%d+%d: size %d: %w", name, offset, length, size, ErrShortRead)
}
