package fs_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/calvinalkan/seglog/pkg/fs"
)

func Test_Locker_TryLock_Returns_ErrWouldBlock_When_Lock_Is_Held(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "lock")
	locker := fs.NewLocker(fs.NewReal())

	held, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	defer func() { _ = held.Close() }()

	_, err = locker.TryLock(path)
	if !errors.Is(err, fs.ErrWouldBlock) {
		t.Fatalf("err=%v, want ErrWouldBlock", err)
	}
}

func Test_Locker_LockWithTimeout_Succeeds_When_Holder_Releases(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lock")
	locker := fs.NewLocker(fs.NewReal())

	held, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)

		_ = held.Close()
	}()

	second, err := locker.LockWithTimeout(path, 5*time.Second)
	if err != nil {
		t.Fatalf("LockWithTimeout: %v", err)
	}

	if err := second.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func Test_Locker_LockWithTimeout_Returns_ErrWouldBlock_When_Timeout_Expires(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lock")
	locker := fs.NewLocker(fs.NewReal())

	held, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	defer func() { _ = held.Close() }()

	_, err = locker.LockWithTimeout(path, 30*time.Millisecond)
	if !errors.Is(err, fs.ErrWouldBlock) {
		t.Fatalf("err=%v, want ErrWouldBlock", err)
	}
}

func Test_Lock_Close_Is_Idempotent(t *testing.T) {
	t.Parallel()

	lock, err := fs.NewLocker(fs.NewReal()).TryLock(filepath.Join(t.TempDir(), "lock"))
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
