package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ErrAtomicWriteDirSync indicates the parent directory could not be synced
// after the new file was published.
//
// When returned, the new file is in place but durability is not guaranteed.
var ErrAtomicWriteDirSync = errors.New("dir sync")

// AtomicWriter publishes files so readers never observe a partial write.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter that uses the given filesystem.
// Panics if fs is nil.
func NewAtomicWriter(fs FS) *AtomicWriter {
	if fs == nil {
		panic("fs is nil")
	}

	return &AtomicWriter{fs: fs}
}

// AtomicWriteOptions configures [AtomicWriter.Write].
type AtomicWriteOptions struct {
	// SyncDir controls whether the parent directory is synced after publish.
	SyncDir bool

	// NoReplace publishes with a hard link instead of a rename, so the write
	// fails (errors.Is(err, os.ErrExist)) when path already exists.
	NoReplace bool

	// Perm specifies the file permissions. Must be non-zero.
	Perm os.FileMode
}

// Write writes data from r to path atomically and durably.
//
// Data goes to a temp file in the same directory which is fsynced and then
// published at path (rename, or link when opts.NoReplace is set). On any
// failure the temp file is removed and nothing exists at path that did not
// exist before.
//
// If the directory sync step fails, the returned error satisfies
// errors.Is(err, ErrAtomicWriteDirSync).
func (w *AtomicWriter) Write(path string, reader io.Reader, opts AtomicWriteOptions) error {
	if reader == nil {
		panic("reader is nil")
	}

	if path == "" {
		return errors.New("path is empty")
	}

	if opts.Perm == 0 {
		return errors.New("opts.Perm must be non-zero")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == "." {
		return fmt.Errorf("path is invalid: %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	tmpFile, tmpPath, err := createTempFile(w.fs, dir, base, opts.Perm)
	if err != nil {
		return err
	}

	closed := false
	cleanup := func() error {
		var closeErr error
		if !closed {
			closeErr = closeTempFile(tmpPath, tmpFile)
			closed = true
		}

		return errors.Join(closeErr, removeTempFile(w.fs, tmpPath))
	}

	chmodErr := tmpFile.Chmod(opts.Perm)
	if chmodErr != nil {
		return errors.Join(fmt.Errorf("chmod temp file %q: %w", tmpPath, chmodErr), cleanup())
	}

	writeErr := writeAndSyncTempFile(tmpFile, tmpPath, reader)
	if writeErr != nil {
		return errors.Join(writeErr, cleanup())
	}

	// Close before publishing so a failing close cannot leave a published file
	// whose contents were never confirmed.
	closeErr := closeTempFile(tmpPath, tmpFile)
	closed = true

	if closeErr != nil {
		return errors.Join(closeErr, cleanup())
	}

	if opts.NoReplace {
		linkErr := w.fs.Link(tmpPath, path)
		if linkErr != nil {
			return errors.Join(fmt.Errorf("link: %w", linkErr), cleanup())
		}
	} else {
		renameErr := w.fs.Rename(tmpPath, path)
		if renameErr != nil {
			return errors.Join(fmt.Errorf("rename: %w", renameErr), cleanup())
		}
	}

	// The temp name is gone after a rename; after a link it is a second name
	// for the published inode. Failing to remove it is harmless for readers.
	_ = cleanup()

	if opts.SyncDir {
		return fsyncDir(w.fs, dir)
	}

	return nil
}

// DefaultOptions returns the options used for segment files.
func (*AtomicWriter) DefaultOptions() AtomicWriteOptions {
	return AtomicWriteOptions{
		SyncDir:   true,
		NoReplace: true,
		Perm:      0o644,
	}
}

func writeAndSyncTempFile(file File, path string, r io.Reader) error {
	_, copyErr := io.Copy(file, r)
	if copyErr != nil {
		return fmt.Errorf("write temp file %q: %w", path, copyErr)
	}

	err := file.Sync()
	if err != nil {
		return fmt.Errorf("sync temp file %q: %w", path, err)
	}

	return nil
}

const tempFileMaxAttempts = 10000

var tempFileCounter atomic.Uint64

// IsTempName reports whether name is a temp file created by [AtomicWriter].
func IsTempName(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

func createTempFile(fs FS, dir, base string, perm os.FileMode) (File, string, error) {
	for range tempFileMaxAttempts {
		seq := tempFileCounter.Add(1)
		path := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", base, seq))

		file, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return file, path, nil
		}

		if os.IsExist(err) {
			continue
		}

		return nil, "", fmt.Errorf("create temp file: %w", err)
	}

	return nil, "", fmt.Errorf("exhausted temp file attempts in %q", dir)
}

func fsyncDir(fs FS, dirPath string) error {
	dirFd, err := fs.Open(dirPath)
	if err != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("open dir %q: %w", dirPath, err))
	}

	syncErr := dirFd.Sync()
	closeErr := dirFd.Close()

	if syncErr != nil {
		syncErr = errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("%q: %w", dirPath, syncErr))
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("close dir %q: %w", dirPath, closeErr)
	}

	return errors.Join(syncErr, closeErr)
}

func closeTempFile(path string, file File) error {
	err := file.Close()
	if err == nil {
		return nil
	}

	return fmt.Errorf("close temp file %q: %w", path, err)
}

func removeTempFile(fs FS, path string) error {
	err := fs.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp file %q: %w", path, err)
	}

	return nil
}
