// Package fs provides the filesystem seam used by segment storage.
//
// The main types are:
//   - [FS]: interface for the filesystem operations segment storage needs
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using [os] package
//   - [Chaos]: testing implementation that injects random failures
//   - [AtomicWriter]: create-once file writes (temp file, fsync, link)
//   - [Locker]: flock-based ownership of a data directory
//
// Example usage:
//
//	fsys := fs.NewReal()
//	f, err := fsys.Open("segments/0192.seg")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	_, err = f.Seek(128, io.SeekStart)
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// This interface is satisfied by [os.File]. Implementations must behave like
// [os.File], including that [File.Fd] returns a descriptor usable with flock
// until the file is closed.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor. See [os.File.Fd].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error

	// Chmod changes the mode of the file. See [os.File.Chmod].
	Chmod(mode os.FileMode) error
}

// FS defines the filesystem operations used by segment storage and the data
// directory lock.
//
// All methods mirror their [os] package equivalents but can be intercepted
// for testing with fault injection. Paths use OS semantics.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadDir reads a directory and returns its entries sorted by name. See [os.ReadDir].
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// Rename moves a file, replacing any existing target. See [os.Rename].
	Rename(oldpath, newpath string) error

	// Link creates newpath as a hard link to oldpath. See [os.Link].
	// Fails with an error satisfying os.IsExist if newpath exists.
	Link(oldpath, newpath string) error
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
