package fs

import (
	"errors"
	"io"
	iofs "io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection.
type ChaosConfig struct {
	// OpenFailRate controls how often FS.Open and FS.OpenFile fail.
	OpenFailRate float64

	// ReadFailRate controls how often File.Read fails with EIO and zero bytes.
	ReadFailRate float64

	// ShortReadRate controls how often File.Read returns fewer bytes than
	// asked with a nil error. Legal io.Reader behavior that callers must loop on.
	ShortReadRate float64

	// WriteFailRate controls how often File.Write fails with zero bytes.
	WriteFailRate float64

	// PartialWriteRate controls how often File.Write writes a prefix and then
	// fails.
	PartialWriteRate float64

	// SeekFailRate controls how often File.Seek fails.
	SeekFailRate float64

	// SyncFailRate controls how often File.Sync fails.
	SyncFailRate float64

	// LinkFailRate controls how often FS.Link and FS.Rename fail.
	LinkFailRate float64
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint32

const (
	// ChaosModeActive enables fault-rate injection. Default for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation directly to the underlying FS.
	ChaosModeNoOp
)

// chaosError marks an error as intentionally injected by [Chaos].
// It wraps the underlying error so errors.Is/As continue to work.
type chaosError struct {
	Err error
}

func (e *chaosError) Error() string {
	return "chaos: " + e.Err.Error()
}

func (e *chaosError) Unwrap() error {
	return e.Err
}

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
func IsChaosErr(err error) bool {
	var injected *chaosError

	return errors.As(err, &injected)
}

// Chaos wraps an [FS] and injects random failures for testing.
//
// Injected errors are [*iofs.PathError] (or [*os.LinkError] for Link and
// Rename) carrying a real [syscall.Errno], so helpers like [os.IsPermission]
// behave as with real failures. Chaos never injects ENOENT; any not-exist
// result comes from the wrapped FS.
type Chaos struct {
	fs     FS
	config ChaosConfig
	mode   atomic.Uint32

	rngMu sync.Mutex
	rng   *rand.Rand

	faults atomic.Int64
}

// NewChaos creates a [Chaos] filesystem wrapping the given [FS].
// The seed makes fault decisions reproducible. Panics if underlying is nil.
func NewChaos(underlying FS, seed int64, config ChaosConfig) *Chaos {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	return &Chaos{
		fs:     underlying,
		config: config,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
	}
}

// SetMode updates [Chaos] behavior. Safe to call concurrently with operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Faults returns the number of injected faults so far.
func (c *Chaos) Faults() int64 { return c.faults.Load() }

func (c *Chaos) should(rate float64) bool {
	if rate <= 0 || ChaosMode(c.mode.Load()) == ChaosModeNoOp {
		return false
	}

	c.rngMu.Lock()
	hit := c.rng.Float64() < rate
	c.rngMu.Unlock()

	if hit {
		c.faults.Add(1)
	}

	return hit
}

func (c *Chaos) intn(n int) int {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.IntN(n)
}

func (c *Chaos) pick(errnos ...syscall.Errno) syscall.Errno {
	return errnos[c.intn(len(errnos))]
}

func injectedPathError(op, path string, errno syscall.Errno) error {
	return &chaosError{Err: &iofs.PathError{Op: op, Path: path, Err: errno}}
}

// Open opens a file for reading with fault injection.
func (c *Chaos) Open(path string) (File, error) {
	if c.should(c.config.OpenFailRate) {
		return nil, injectedPathError("open", path, c.pick(syscall.EACCES, syscall.EIO, syscall.EMFILE))
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, path: path, chaos: c}, nil
}

// OpenFile opens a file with the given flags with fault injection.
func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.should(c.config.OpenFailRate) {
		errno := c.pick(syscall.EACCES, syscall.EIO, syscall.EMFILE)
		if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE) != 0 {
			errno = c.pick(syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EROFS)
		}

		return nil, injectedPathError("open", path, errno)
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, path: path, chaos: c}, nil
}

// ReadDir passes through to the wrapped FS.
func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	return c.fs.ReadDir(path)
}

// MkdirAll passes through to the wrapped FS.
func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	return c.fs.MkdirAll(path, perm)
}

// Stat passes through to the wrapped FS.
func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	return c.fs.Stat(path)
}

// Remove passes through to the wrapped FS.
func (c *Chaos) Remove(path string) error {
	return c.fs.Remove(path)
}

// Rename renames with fault injection.
func (c *Chaos) Rename(oldpath, newpath string) error {
	if c.should(c.config.LinkFailRate) {
		errno := c.pick(syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EROFS)

		return &chaosError{Err: &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: errno}}
	}

	return c.fs.Rename(oldpath, newpath)
}

// Link links with fault injection.
func (c *Chaos) Link(oldpath, newpath string) error {
	if c.should(c.config.LinkFailRate) {
		errno := c.pick(syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EROFS)

		return &chaosError{Err: &os.LinkError{Op: "link", Old: oldpath, New: newpath, Err: errno}}
	}

	return c.fs.Link(oldpath, newpath)
}

type chaosFile struct {
	File

	path  string
	chaos *Chaos
}

func (f *chaosFile) Read(p []byte) (int, error) {
	if f.chaos.should(f.chaos.config.ReadFailRate) {
		return 0, injectedPathError("read", f.path, syscall.EIO)
	}

	if len(p) > 1 && f.chaos.should(f.chaos.config.ShortReadRate) {
		p = p[:f.chaos.intn(len(p)-1)+1]
	}

	return f.File.Read(p)
}

func (f *chaosFile) Write(p []byte) (int, error) {
	if f.chaos.should(f.chaos.config.WriteFailRate) {
		return 0, injectedPathError("write", f.path, f.chaos.pick(syscall.EIO, syscall.ENOSPC, syscall.EDQUOT))
	}

	if len(p) > 1 && f.chaos.should(f.chaos.config.PartialWriteRate) {
		n, err := f.File.Write(p[:f.chaos.intn(len(p)-1)+1])
		if err != nil {
			return n, err
		}

		return n, &chaosError{Err: io.ErrShortWrite}
	}

	return f.File.Write(p)
}

func (f *chaosFile) Seek(offset int64, whence int) (int64, error) {
	if f.chaos.should(f.chaos.config.SeekFailRate) {
		return 0, injectedPathError("seek", f.path, syscall.EIO)
	}

	return f.File.Seek(offset, whence)
}

func (f *chaosFile) Sync() error {
	if f.chaos.should(f.chaos.config.SyncFailRate) {
		return injectedPathError("sync", f.path, f.chaos.pick(syscall.EIO, syscall.ENOSPC))
	}

	return f.File.Sync()
}

// Compile-time interface checks.
var (
	_ FS   = (*Chaos)(nil)
	_ File = (*chaosFile)(nil)
)
