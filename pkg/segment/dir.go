package segment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/calvinalkan/seglog/pkg/fs"
)

// Dir stores each segment as a file in a single directory.
//
// Create publishes through [fs.AtomicWriter] with NoReplace, so a segment is
// either fully present and fsynced or absent. Temp files left by a crash are
// dot-prefixed and ignored by [Dir.List].
type Dir struct {
	fs     fs.FS
	writer *fs.AtomicWriter
	path   string
}

// NewDir returns a Dir rooted at path, creating the directory if needed.
func NewDir(fsys fs.FS, path string) (*Dir, error) {
	if fsys == nil {
		return nil, errors.New("segment: fs is nil")
	}

	if path == "" {
		return nil, errors.New("segment: dir path is empty")
	}

	if err := fsys.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("segment: create dir: %w", err)
	}

	return &Dir{fs: fsys, writer: fs.NewAtomicWriter(fsys), path: path}, nil
}

// Path returns the directory holding the segments.
func (d *Dir) Path() string { return d.path }

// Create writes data as a new segment file.
func (d *Dir) Create(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	err := d.writer.Write(d.file(name), bytes.NewReader(data), d.writer.DefaultOptions())
	if err != nil {
		if errors.Is(err, os.ErrExist) && !errors.Is(err, fs.ErrAtomicWriteDirSync) {
			return fmt.Errorf("create %s: %w", name, ErrExists)
		}

		return fmt.Errorf("create %s: %w", name, err)
	}

	return nil
}

// ReadRange reads exactly length bytes at offset.
func (d *Dir) ReadRange(ctx context.Context, name string, offset, length int64) ([]byte, error) {
	if err := validateRange(name, offset, length); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := d.open(name)
	if err != nil {
		return nil, err
	}

	defer func() { _ = f.Close() }()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek %s@%d: %w", name, offset, err)
	}

	buf := make([]byte, length)

	n, err := io.ReadFull(f, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read %s@%d+%d: got %d bytes: %w", name, offset, length, n, ErrShortRead)
		}

		return nil, fmt.Errorf("read %s@%d+%d: %w", name, offset, length, err)
	}

	return buf, nil
}

// ReadAll returns the full segment content.
func (d *Dir) ReadAll(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := d.open(name)
	if err != nil {
		return nil, err
	}

	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	return data, nil
}

// List returns the segments in the directory, skipping temp files and
// subdirectories.
func (d *Dir) List(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := d.fs.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.path, err)
	}

	infos := make([]Info, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || fs.IsTempName(e.Name()) || strings.ContainsRune(e.Name(), filepath.Separator) {
			continue
		}

		fi, err := e.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}

		infos = append(infos, Info{Name: e.Name(), Size: fi.Size()})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos, nil
}

func (d *Dir) open(name string) (fs.File, error) {
	f, err := d.fs.Open(d.file(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", name, ErrNotFound)
		}

		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	return f, nil
}

func (d *Dir) file(name string) string {
	return filepath.Join(d.path, name)
}

var (
	_ Storage     = (*Dir)(nil)
	_ Lister      = (*Dir)(nil)
	_ WholeReader = (*Dir)(nil)
)
