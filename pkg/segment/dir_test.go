package segment_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/seglog/pkg/fs"
	"github.com/calvinalkan/seglog/pkg/segment"
)

func Test_Dir_List_Skips_Temp_Files_When_Crash_Left_Them(t *testing.T) {
	t.Parallel()

	path := t.TempDir()
	d := mustDir(t, path)

	if err := d.Create(t.Context(), "a.seg", []byte("abc")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := os.WriteFile(filepath.Join(path, ".b.seg.tmp-9"), []byte("partial"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := os.Mkdir(filepath.Join(path, "sub"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	got, err := d.List(t.Context())
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if diff := cmp.Diff([]segment.Info{{Name: "a.seg", Size: 3}}, got); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}
}

func Test_Dir_Create_Leaves_No_Segment_When_Write_Fails(t *testing.T) {
	t.Parallel()

	path := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), 11, fs.ChaosConfig{WriteFailRate: 1})

	d, err := segment.NewDir(chaos, path)
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	err = d.Create(t.Context(), "a.seg", []byte("payload"))
	if !fs.IsChaosErr(err) {
		t.Fatalf("err=%v, want injected", err)
	}

	entries, _ := os.ReadDir(path)
	if len(entries) != 0 {
		t.Fatalf("entries=%d, want=0", len(entries))
	}

	chaos.SetMode(fs.ChaosModeNoOp)

	if err := d.Create(t.Context(), "a.seg", []byte("payload")); err != nil {
		t.Fatalf("retry Create: %v", err)
	}
}

func Test_Dir_ReadRange_Surfaces_Error_When_Seek_Fails(t *testing.T) {
	t.Parallel()

	path := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), 5, fs.ChaosConfig{SeekFailRate: 1})

	d, err := segment.NewDir(chaos, path)
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	if err := os.WriteFile(filepath.Join(path, "a.seg"), []byte("abc"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	_, err = d.ReadRange(t.Context(), "a.seg", 1, 1)
	if !fs.IsChaosErr(err) {
		t.Fatalf("err=%v, want injected", err)
	}
}

func Test_Dir_ReadAll_Returns_Whole_Segment(t *testing.T) {
	t.Parallel()

	d := mustDir(t, t.TempDir())

	if err := d.Create(t.Context(), "a.seg", []byte("whole")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := segment.ReadAll(t.Context(), d, "a.seg")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if string(got) != "whole" {
		t.Fatalf("got=%q, want=whole", got)
	}
}
