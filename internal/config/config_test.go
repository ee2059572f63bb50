package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/seglog/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func Test_Load_Returns_Defaults_When_No_Files_Exist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: map[string]string{}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got, want := cfg.DataDirAbs, filepath.Join(dir, ".seglog-data"); got != want {
		t.Fatalf("DataDirAbs=%q, want=%q", got, want)
	}

	if cfg.Storage != config.StorageDir || cfg.MaxInflightIO != 8 {
		t.Fatalf("cfg=%+v, want defaults", cfg)
	}

	if cfg.Sources != (config.Sources{}) {
		t.Fatalf("sources=%+v, want none", cfg.Sources)
	}
}

func Test_Load_Applies_Precedence_When_All_Layers_Are_Present(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := t.TempDir()

	writeFile(t, filepath.Join(xdg, "seglog", "config.json"), `{
		// global
		"data_dir": "global-data",
		"cache_bytes": 1024,
		"log_level": "info",
	}`)
	writeFile(t, filepath.Join(dir, ".seglog.json"), `{"data_dir": "project-data", "log_level": "debug"}`)

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: map[string]string{"XDG_CONFIG_HOME": xdg}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DataDir != "project-data" || cfg.CacheBytes != 1024 || cfg.LogLevel != "debug" {
		t.Fatalf("cfg=%+v", cfg)
	}

	want := config.Sources{
		Global:  filepath.Join(xdg, "seglog", "config.json"),
		Project: filepath.Join(dir, ".seglog.json"),
	}
	if diff := cmp.Diff(want, cfg.Sources); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}

	cfg, err = config.Load(config.LoadInput{
		WorkDirOverride: dir,
		DataDirOverride: "/abs/flag-data",
		Env:             map[string]string{"XDG_CONFIG_HOME": xdg},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DataDirAbs != "/abs/flag-data" {
		t.Fatalf("DataDirAbs=%q, want flag override", cfg.DataDirAbs)
	}
}

func Test_Load_Uses_Explicit_File_Instead_Of_Project_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".seglog.json"), `{"data_dir": "project"}`)
	writeFile(t, filepath.Join(dir, "alt.json"), `{"storage": "s3", "s3": {"bucket": "b", "region": "eu-west-1", "force_path_style": true}}`)

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir, ConfigPath: "alt.json"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := config.S3{Bucket: "b", Region: "eu-west-1", ForcePathStyle: true}
	if diff := cmp.Diff(want, cfg.S3); diff != "" {
		t.Fatalf("s3 mismatch (-want +got):\n%s", diff)
	}

	if cfg.DataDir != ".seglog-data" {
		t.Fatalf("DataDir=%q, want default (project file skipped)", cfg.DataDir)
	}
}

func Test_Load_Returns_Error_When_Config_Is_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"empty data dir", `{"data_dir": ""}`, config.ErrDataDirEmpty},
		{"unknown storage", `{"storage": "tape"}`, config.ErrStorageUnknown},
		{"s3 without bucket", `{"storage": "s3", "s3": {"region": "x"}}`, config.ErrS3Incomplete},
		{"negative cache", `{"cache_bytes": -1}`, config.ErrNegativeLimit},
		{"bad level", `{"log_level": "loud"}`, config.ErrLogLevel},
		{"unknown field", `{"dat_dir": "x"}`, config.ErrConfigInvalid},
		{"broken jsonc", `{"data_dir": `, config.ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, ".seglog.json"), tt.content)

			_, err := config.Load(config.LoadInput{WorkDirOverride: dir})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v, want %v", err, tt.want)
			}
		})
	}
}

func Test_Load_Returns_ErrConfigFileNotFound_When_Explicit_File_Is_Missing(t *testing.T) {
	t.Parallel()

	_, err := config.Load(config.LoadInput{WorkDirOverride: t.TempDir(), ConfigPath: "nope.json"})
	if !errors.Is(err, config.ErrConfigFileNotFound) {
		t.Fatalf("err=%v, want ErrConfigFileNotFound", err)
	}
}

func Test_Write_Produces_File_That_Parses_Back(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".seglog.json")

	if err := config.Write(path, config.Default()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	got, err := config.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v\n%s", err, data)
	}

	if diff := cmp.Diff(config.Default(), got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}
