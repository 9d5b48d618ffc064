package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/hdj/internal/track"
)

// Extensions lists the file types the scanner picks up.
var Extensions = []string{".mp3", ".wav", ".flac", ".ogg", ".m4a", ".opus", ".aac"}

// Scan lists the audio files directly inside dir, sorted by file name.
func Scan(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !isAudio(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

func isAudio(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, x := range Extensions {
		if ext == x {
			return true
		}
	}
	return false
}

// Analyze runs a over every path with at most workers concurrent calls and
// returns metadata in the same order as paths.
func Analyze(ctx context.Context, paths []string, a Analyzer, workers int, log *zap.Logger) ([]track.Metadata, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}

	out := make([]track.Metadata, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			bpm, key := a.Analyze(ctx, p)
			m, err := track.New(p).WithAnalysis(bpm, key)
			if err != nil {
				return err
			}
			out[i] = m
			log.Info("track loaded",
				zap.String("track", m.Name()),
				zap.String("bpm", bpm.String()),
				zap.String("key", key.String()),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Load scans dir, analyzes every file and builds the queue.
func Load(ctx context.Context, dir string, a Analyzer, workers int, log *zap.Logger) (Queue, error) {
	paths, err := Scan(dir)
	if err != nil {
		return Queue{}, err
	}
	tracks, err := Analyze(ctx, paths, a, workers, log)
	if err != nil {
		return Queue{}, err
	}
	return Build(tracks)
}
