package seglog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/calvinalkan/seglog/pkg/fs"
	"github.com/calvinalkan/seglog/pkg/segment"
)

// Data directory layout.
const (
	SegmentsDirName = "segments"
	MetaDirName     = ".seglog"
	LockFileName    = "lock"
	CatalogFileName = "index.sqlite"
)

// DefaultLockTimeout is how long [Open] waits for the data directory lock.
const DefaultLockTimeout = 5 * time.Second

// Config configures [Open].
type Config struct {
	// DataDir holds the lock, the catalog and (for local storage) the
	// segments. Required.
	DataDir string

	// Storage overrides the local segment directory, e.g. with [segment.S3].
	Storage segment.Storage

	// CacheBytes enables a whole-segment LRU of this size. 0 disables it.
	CacheBytes int64

	// MaxInflightIO bounds concurrent storage operations. 0 means unbounded.
	MaxInflightIO int

	// LockTimeout defaults to [DefaultLockTimeout]. Negative means do not
	// wait.
	LockTimeout time.Duration

	// ReadConcurrency is passed to every agent.
	ReadConcurrency int

	// NewSegmentName is passed to every agent.
	NewSegmentName func() string

	// FS defaults to the real filesystem.
	FS fs.FS

	Logger *slog.Logger

	// Registerer receives the log's metrics. Nil disables registration.
	Registerer prometheus.Registerer
}

// Log is an opened data directory: one shared index, one segment storage and
// any number of agents.
type Log struct {
	dataDir string
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	lock    *fs.Lock
	catalog *catalog
	base    segment.Storage
	storage segment.Storage
	index   *MetadataStore

	mu     sync.RWMutex
	closed bool
}

// Open locks the data directory, opens its catalog and rebuilds the index
// from it.
//
// Fails with [ErrLocked] when another process holds the directory and with
// [ErrCatalogCorrupt] when the journaled entries are not contiguous.
func Open(ctx context.Context, cfg Config) (*Log, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("open: data dir is empty")
	}

	fsys := cfg.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metaDir := filepath.Join(cfg.DataDir, MetaDirName)
	if err := fsys.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("open: create %s: %w", metaDir, err)
	}

	timeout := cfg.LockTimeout
	if timeout == 0 {
		timeout = DefaultLockTimeout
	}

	lock, err := fs.NewLocker(fsys).LockWithTimeout(filepath.Join(metaDir, LockFileName), max(timeout, 0))
	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return nil, fmt.Errorf("open %s: %w", cfg.DataDir, ErrLocked)
		}

		return nil, fmt.Errorf("open %s: lock: %w", cfg.DataDir, err)
	}

	l, err := open(ctx, cfg, fsys, logger, lock)
	if err != nil {
		return nil, errors.Join(err, lock.Close())
	}

	return l, nil
}

func open(ctx context.Context, cfg Config, fsys fs.FS, logger *slog.Logger, lock *fs.Lock) (*Log, error) {
	base := cfg.Storage
	if base == nil {
		dir, err := segment.NewDir(fsys, filepath.Join(cfg.DataDir, SegmentsDirName))
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}

		base = dir
	}

	storage := base
	if cfg.MaxInflightIO > 0 {
		storage = segment.NewLimit(storage, cfg.MaxInflightIO)
	}

	if cfg.CacheBytes > 0 {
		storage = segment.NewCache(storage, cfg.CacheBytes)
	}

	metrics, err := NewMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("open: metrics: %w", err)
	}

	cat, err := openCatalog(ctx, filepath.Join(cfg.DataDir, MetaDirName, CatalogFileName))
	if err != nil {
		return nil, fmt.Errorf("open: catalog: %w", err)
	}

	entries, err := cat.Entries(ctx)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open: %w", err), cat.Close())
	}

	index := NewMetadataStore(IndexOptions{Journal: cat, Logger: logger, Metrics: metrics})
	if err := index.Restore(entries); err != nil {
		return nil, errors.Join(fmt.Errorf("open: %w", err), cat.Close())
	}

	logger.Info("log opened",
		"data_dir", cfg.DataDir,
		"partitions", len(index.Partitions()),
		"batches", len(entries),
	)

	return &Log{
		dataDir: cfg.DataDir,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		lock:    lock,
		catalog: cat,
		base:    base,
		storage: storage,
		index:   index,
	}, nil
}

// DataDir returns the directory the log was opened on.
func (l *Log) DataDir() string { return l.dataDir }

// Index returns the shared offset index.
func (l *Log) Index() *MetadataStore { return l.index }

// Storage returns the segment storage including cache and I/O limit.
func (l *Log) Storage() segment.Storage { return l.storage }

// NewAgent returns an agent writing to this log under id.
func (l *Log) NewAgent(id string) (*Agent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrClosed
	}

	return NewAgent(AgentConfig{
		ID:    id,
		Index: l.index,
		Storage: &recordingStorage{
			Storage: l.storage,
			catalog: l.catalog,
			writer:  id,
			now:     time.Now,
		},
		NewSegmentName:  l.cfg.NewSegmentName,
		ReadConcurrency: l.cfg.ReadConcurrency,
		Logger:          l.logger,
		Metrics:         l.metrics,
	})
}

// Segments returns the catalogued segments.
func (l *Log) Segments(ctx context.Context) ([]SegmentRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrClosed
	}

	return l.catalog.Segments(ctx)
}

// Close releases the catalog and the directory lock. Agents of a closed log
// fail to flush. Idempotent.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true

	var catErr, lockErr error
	if err := l.catalog.Close(); err != nil {
		catErr = fmt.Errorf("close catalog: %w", err)
	}

	if err := l.lock.Close(); err != nil {
		lockErr = fmt.Errorf("release lock: %w", err)
	}

	l.logger.Info("log closed", "data_dir", l.dataDir)

	return errors.Join(catErr, lockErr)
}
