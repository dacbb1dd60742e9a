package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tejashwikalptaru/encore/internal/app"
	"github.com/tejashwikalptaru/encore/internal/config"
)

type playFlags struct {
	config   string
	playlist string
	library  string
	addr     string
	noMPRIS  bool
}

func newPlayCommand(fs afero.Fs) *cobra.Command {
	var flags playFlags

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Start the player and serve its remotes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadPlayConfig(cmd, fs, flags)
			if err != nil {
				return err
			}

			application, err := app.NewApplication(cfg, app.Options{Fs: fs})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runErr := application.Run(ctx)
			if errors.Is(runErr, context.Canceled) {
				runErr = nil
			}
			return errors.Join(runErr, application.Shutdown())
		},
	}

	cmd.Flags().StringVarP(&flags.config, "config", "c", "", "Config file (default: "+config.FileName+" in the working or config directory)")
	cmd.Flags().StringVarP(&flags.playlist, "playlist", "p", "", "JSON file of track records to play")
	cmd.Flags().StringVarP(&flags.library, "library", "l", "", "Folder of audio files to play")
	cmd.Flags().StringVar(&flags.addr, "addr", "", "Listen address of the HTTP API")
	cmd.Flags().BoolVar(&flags.noMPRIS, "no-mpris", false, "Do not register on the session bus")
	cmd.MarkFlagsMutuallyExclusive("playlist", "library")

	return cmd
}

// loadPlayConfig resolves the configuration and applies the flags that were set.
func loadPlayConfig(cmd *cobra.Command, fs afero.Fs, flags playFlags) (*config.Config, error) {
	cfg, err := config.Load(fs, config.Options{File: flags.config})
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("playlist") {
		cfg.Library.Playlist = flags.playlist
		cfg.Library.Dir = ""
	}
	if changed("library") {
		cfg.Library.Dir = flags.library
		cfg.Library.Playlist = ""
	}
	if changed("addr") {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Addr = flags.addr
	}
	if flags.noMPRIS {
		cfg.MPRIS.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
