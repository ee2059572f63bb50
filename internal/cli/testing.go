package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/calvinalkan/seglog/pkg/seglog"
)

// CLI runs seglog commands against a per-test working directory.
type CLI struct {
	t   *testing.T
	Dir string
	Env map[string]string
}

// NewCLI returns a CLI rooted at a fresh temp directory with an empty
// environment, so no global config leaks in.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	return &CLI{
		t:   t,
		Dir: t.TempDir(),
		Env: map[string]string{},
	}
}

// Run executes "seglog --cwd <Dir> args..." without stdin and returns
// stdout, stderr and the exit code.
func (r *CLI) Run(args ...string) (string, string, int) {
	return r.run(nil, args)
}

// RunWithInput is [CLI.Run] with stdin.
func (r *CLI) RunWithInput(stdin string, args ...string) (string, string, int) {
	return r.run(strings.NewReader(stdin), args)
}

func (r *CLI) run(stdin *strings.Reader, args []string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer

	full := append([]string{"seglog", "--cwd", r.Dir}, args...)

	var code int
	if stdin == nil {
		code = Run(nil, &outBuf, &errBuf, full, r.Env, nil)
	} else {
		code = Run(stdin, &outBuf, &errBuf, full, r.Env, nil)
	}

	return outBuf.String(), errBuf.String(), code
}

// MustRun fails the test unless the command exits 0. Returns trimmed stdout.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("seglog %v: exit=%d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail fails the test if the command exits 0 or writes to stdout.
// Returns trimmed stderr.
func (r *CLI) MustFail(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code == 0 {
		r.t.Fatalf("seglog %v: succeeded, want failure\nstdout: %s", args, stdout)
	}

	if stdout != "" {
		r.t.Fatalf("seglog %v: failed but wrote stdout: %s", args, stdout)
	}

	return strings.TrimSpace(stderr)
}

// DataDir returns the default data directory under Dir.
func (r *CLI) DataDir() string {
	return filepath.Join(r.Dir, ".seglog-data")
}

// SegmentFiles returns the sorted .seg file names in the default data
// directory.
func (r *CLI) SegmentFiles() []string {
	r.t.Helper()

	entries, err := os.ReadDir(filepath.Join(r.DataDir(), seglog.SegmentsDirName))
	if err != nil {
		r.t.Fatalf("read segments dir: %v", err)
	}

	var names []string

	for _, e := range entries {
		if strings.HasSuffix(e.Name(), seglog.SegmentExt) {
			names = append(names, e.Name())
		}
	}

	slices.Sort(names)

	return names
}

// WriteConfig writes content as the project config file.
func (r *CLI) WriteConfig(content string) {
	r.t.Helper()

	err := os.WriteFile(filepath.Join(r.Dir, ".seglog.json"), []byte(content), 0o600)
	if err != nil {
		r.t.Fatalf("write config: %v", err)
	}
}

// AssertContains fails the test if content doesn't contain substr.
func AssertContains(t *testing.T, content, substr string) {
	t.Helper()

	if !strings.Contains(content, substr) {
		t.Errorf("content should contain %q\ncontent:\n%s", substr, content)
	}
}

// AssertNotContains fails the test if content contains substr.
func AssertNotContains(t *testing.T, content, substr string) {
	t.Helper()

	if strings.Contains(content, substr) {
		t.Errorf("content should NOT contain %q\ncontent:\n%s", substr, content)
	}
}
