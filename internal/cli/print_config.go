package cli

import (
	"context"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/seglog/internal/config"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Args:  noArgs,
		Exec: func(_ context.Context, io *IO, _ []string) error {
			execPrintConfig(io, a.cfg)

			return nil
		},
	}
}

func execPrintConfig(io *IO, cfg config.Config) {
	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("data_dir=" + cfg.DataDirAbs)
	io.Println("storage=" + cfg.Storage)

	if cfg.Storage == config.StorageS3 {
		io.Println("s3.bucket=" + cfg.S3.Bucket)

		if cfg.S3.Region != "" {
			io.Println("s3.region=" + cfg.S3.Region)
		}

		if cfg.S3.Endpoint != "" {
			io.Println("s3.endpoint=" + cfg.S3.Endpoint)
		}

		if cfg.S3.Prefix != "" {
			io.Println("s3.prefix=" + cfg.S3.Prefix)
		}
	}

	io.Println("cache_bytes=" + strconv.FormatInt(cfg.CacheBytes, 10))
	io.Println("max_inflight_io=" + strconv.Itoa(cfg.MaxInflightIO))
	io.Println("log_level=" + cfg.LogLevel)

	if cfg.MetricsAddr != "" {
		io.Println("metrics_addr=" + cfg.MetricsAddr)
	}

	io.Println("")
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("(defaults only)")

		return
	}

	if cfg.Sources.Global != "" {
		io.Println("global_config=" + cfg.Sources.Global)
	}

	if cfg.Sources.Project != "" {
		io.Println("project_config=" + cfg.Sources.Project)
	}
}
