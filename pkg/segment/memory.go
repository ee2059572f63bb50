package segment

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory keeps segments in a map. Data passed to Create is copied.
type Memory struct {
	mu       sync.RWMutex
	segments map[string][]byte
}

// NewMemory returns an empty Memory storage.
func NewMemory() *Memory {
	return &Memory{segments: make(map[string][]byte)}
}

func (m *Memory) Create(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.segments[name]; ok {
		return fmt.Errorf("create %s: %w", name, ErrExists)
	}

	m.segments[name] = append([]byte(nil), data...)

	return nil
}

func (m *Memory) ReadRange(ctx context.Context, name string, offset, length int64) ([]byte, error) {
	if err := validateRange(name, offset, length); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.segments[name]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, ErrNotFound)
	}

	if offset+length > int64(len(data)) {
		return nil, shortRead(name, offset, length, int64(len(data)))
	}

	return append([]byte(nil), data[offset:offset+length]...), nil
}

func (m *Memory) ReadAll(ctx context.Context, name string) ([]byte, error) {
	info, err := m.stat(name)
	if err != nil {
		return nil, err
	}

	return m.ReadRange(ctx, name, 0, info.Size)
}

func (m *Memory) List(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	infos := make([]Info, 0, len(m.segments))

	for name, data := range m.segments {
		infos = append(infos, Info{Name: name, Size: int64(len(data))})
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos, nil
}

// Remove deletes a segment. Used by tests to simulate lost data.
func (m *Memory) Remove(name string) {
	m.mu.Lock()
	delete(m.segments, name)
	m.mu.Unlock()
}

func (m *Memory) stat(name string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.segments[name]
	if !ok {
		return Info{}, fmt.Errorf("open %s: %w", name, ErrNotFound)
	}

	return Info{Name: name, Size: int64(len(data))}, nil
}

var (
	_ Storage     = (*Memory)(nil)
	_ Lister      = (*Memory)(nil)
	_ WholeReader = (*Memory)(nil)
)
