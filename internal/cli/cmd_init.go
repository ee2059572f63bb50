package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/seglog/internal/config"
)

var errConfigExists = errors.New("config file already exists")

// InitCmd returns the init command.
func InitCmd(a *app) *Command {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)
	force := flags.Bool("force", false, "Overwrite an existing config file")

	return &Command{
		Flags: flags,
		Usage: "init [--force]",
		Short: "Write a default " + config.FileName,
		Long: "Write " + config.FileName + " in the working directory with the default settings.\n" +
			"The data_dir from --data-dir is kept when given.",
		Args: noArgs,
		Exec: func(_ context.Context, io *IO, _ []string) error {
			path := filepath.Join(a.cfg.EffectiveCwd, config.FileName)

			if !*force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%w: %s (use --force)", errConfigExists, path)
				}
			}

			cfg := config.Default()
			cfg.DataDir = a.cfg.DataDir

			if err := config.Write(path, cfg); err != nil {
				return err
			}

			io.Println("wrote", path)

			return nil
		},
	}
}
