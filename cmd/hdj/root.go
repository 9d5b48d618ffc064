package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satindergrewal/hdj/internal/config"
	"github.com/satindergrewal/hdj/internal/logger"
)

// flags overrides config values that were set on the command line.
type flags struct {
	envFile   string
	crossfade time.Duration
	port      int
	loop      bool
	noSpeaker bool
	logLevel  string
	logFile   string
	debug     bool
}

func newRootCmd(f *flags) *cobra.Command {
	root := &cobra.Command{
		Use:   "hdj [dir]",
		Short: "hdj plays a music folder as a continuous mix, crossfading between tracks.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd, f, args)
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.envFile, "env-file", "", "load variables from this .env file (default ./.env)")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&f.logFile, "log-file", "", "also write logs to this rotated file")
	pf.BoolVar(&f.debug, "debug", false, "panic on internal contract violations")

	play := &cobra.Command{
		Use:   "play [dir]",
		Short: "Play every track in dir, ordered by tempo and key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd, f, args)
		},
	}
	for _, c := range []*cobra.Command{root, play} {
		c.Flags().DurationVar(&f.crossfade, "crossfade", 0, "crossfade length (e.g. 15s)")
		c.Flags().IntVar(&f.port, "port", 0, "HTTP port for status, trigger and streams")
		c.Flags().BoolVar(&f.loop, "loop", false, "start over when the queue runs out")
		c.Flags().BoolVar(&f.noSpeaker, "no-speaker", false, "do not play through the local sound card")
	}

	scan := &cobra.Command{
		Use:   "scan [dir]",
		Short: "Print the play order without playing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, f, args)
		},
	}

	root.AddCommand(play, scan)
	return root
}

// load resolves the configuration: env and .env first, then flags.
func (f *flags) load(cmd *cobra.Command, args []string) (config.Config, error) {
	var envFiles []string
	if f.envFile != "" {
		envFiles = append(envFiles, f.envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return config.Config{}, err
	}

	if len(args) > 0 {
		cfg.MusicDir = args[0]
	}
	changed := cmd.Flags().Changed
	if changed("crossfade") {
		cfg.CrossfadeDuration = f.crossfade
	}
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("loop") {
		cfg.Loop = f.loop
	}
	if changed("no-speaker") {
		cfg.Speaker = !f.noSpeaker
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if changed("debug") {
		cfg.Debug = f.debug
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
		Development: cfg.Debug,
	})
}
