package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/hdj/internal/library"
)

func runScan(cmd *cobra.Command, f *flags, args []string) error {
	cfg, err := f.load(cmd, args)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	analyzer, err := buildAnalyzer(cfg)
	if err != nil {
		return err
	}
	queue, err := library.Load(cmd.Context(), cfg.MusicDir, analyzer, cfg.AnalyzeWorkers, log)
	if err != nil {
		return fmt.Errorf("load library %s: %w", cfg.MusicDir, err)
	}
	return printQueue(cmd.OutOrStdout(), queue)
}

func printQueue(w io.Writer, q library.Queue) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tBPM\tKEY\tTRACK")
	for i, t := range q.Tracks() {
		bpm, key := t.BPM().String(), t.Key().String()
		if bpm == "" {
			bpm = "-"
		}
		if key == "" {
			key = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, bpm, key, t.Name())
	}
	return tw.Flush()
}
