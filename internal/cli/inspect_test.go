package cli_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calvinalkan/seglog/internal/cli"
)

func Test_Partitions_Lists_Ranges_When_Data_Committed(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("produce", "orders", "1", "x")
	c.MustRun("produce", "orders", "0", "a", "bb")
	c.MustRun("produce", "orders", "0", "ccc")

	got := c.MustRun("partitions")
	want := "orders/0 offsets=[1, 3] batches=2 bytes=6\n" +
		"orders/1 offsets=[1, 1] batches=1 bytes=1"

	if got != want {
		t.Fatalf("partitions=\n%s\nwant=\n%s", got, want)
	}
}

func Test_Partitions_Prints_Nothing_When_Log_Empty(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	if got := c.MustRun("partitions"); got != "" {
		t.Fatalf("partitions=%q, want empty", got)
	}
}

func Test_Describe_Lists_Batches_When_Partition_Exists(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("produce", "--agent", "writer-a", "orders", "0", "a", "bb")
	c.MustRun("produce", "--agent", "writer-b", "orders", "0", "ccc")

	lines := strings.Split(c.MustRun("describe", "orders", "0"), "\n")
	if got, want := len(lines), 2; got != want {
		t.Fatalf("lines=%d, want=%d: %q", got, want, lines)
	}

	cli.AssertContains(t, lines[0], "offsets=[1, 2]")
	cli.AssertContains(t, lines[0], "file_offset=0 records=2 bytes=3 writer=writer-a")
	cli.AssertContains(t, lines[1], "offsets=[3, 3]")
	cli.AssertContains(t, lines[1], "records=1 bytes=3 writer=writer-b")
}

func Test_Describe_Fails_When_Partition_Unknown(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stderr := c.MustFail("describe", "orders", "9")
	cli.AssertContains(t, stderr, "unknown topic/partition")
}

func Test_Segments_Lists_Catalog_When_Flushed(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("produce", "--agent", "w1", "orders", "0", "abc")

	got := c.MustRun("segments")

	cli.AssertContains(t, got, ".seg size=3 xxhash=")
	cli.AssertContains(t, got, "writer=w1")
}

func Test_Verify_Succeeds_When_Segments_Intact(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("produce", "orders", "0", "a", "b")
	c.MustRun("produce", "orders", "1", "c")

	got := c.MustRun("verify")
	if want := "segments=2 entries=2 issues=0"; got != want {
		t.Fatalf("verify=%q, want=%q", got, want)
	}
}

func Test_Verify_Warns_When_Segment_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("produce", "orders", "0", "a", "b")

	for _, name := range c.SegmentFiles() {
		if err := os.Remove(filepath.Join(c.DataDir(), "segments", name)); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}

	stdout, stderr, exitCode := c.Run("verify")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	cli.AssertContains(t, stdout, "missing_segment")
	cli.AssertContains(t, stdout, "issues=")
	cli.AssertContains(t, stderr, "warning:")
	cli.AssertContains(t, stderr, "verify issue")
}
