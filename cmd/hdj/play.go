package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/hdj/internal/audio"
	"github.com/satindergrewal/hdj/internal/config"
	"github.com/satindergrewal/hdj/internal/crossfade"
	"github.com/satindergrewal/hdj/internal/library"
	"github.com/satindergrewal/hdj/internal/server"
	"github.com/satindergrewal/hdj/internal/stream"
	"github.com/satindergrewal/hdj/internal/transition"
)

func runPlay(cmd *cobra.Command, f *flags, args []string) error {
	cfg, err := f.load(cmd, args)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("hdj starting up",
		zap.String("dir", cfg.MusicDir),
		zap.Duration("crossfade", cfg.CrossfadeDuration),
		zap.Bool("loop", cfg.Loop),
	)

	analyzer, err := buildAnalyzer(cfg)
	if err != nil {
		return err
	}
	queue, err := library.Load(ctx, cfg.MusicDir, analyzer, cfg.AnalyzeWorkers, log)
	if err != nil {
		return fmt.Errorf("load library %s: %w", cfg.MusicDir, err)
	}
	log.Info("library loaded", zap.Int("tracks", queue.Len()))

	prefetcher := audio.NewPrefetcher(audio.NewDecoder(cfg.FFmpegPath))
	defer prefetcher.Close()

	bus := audio.NewBus(audio.FrameSamples)
	engine := crossfade.New(
		audio.NewChannel(audio.ChannelA, prefetcher, bus),
		audio.NewChannel(audio.ChannelB, prefetcher, bus),
		log,
	)
	engine.SetTargetVolume(audio.ChannelA, cfg.VolumeA)
	engine.SetTargetVolume(audio.ChannelB, cfg.VolumeB)

	// Broadcaster: fan-out PCM frames to all outputs
	frames := stream.NewBroadcaster[[]int16](stream.DefaultBuffer)
	deck := &liveDeck{}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	srv := server.New(gctx, deck, server.Options{
		Frames: frames,
		Stream: stream.NewHTTPHandler(frames, cfg.FFmpegPath, log),
		WebRTC: stream.NewWebRTCHandler(frames, log),
		Log:    log,
	})
	router := srv.Router(
		middleware.RequestID,
		middleware.RealIP,
		server.RequestLogger(log.Named("http")),
		middleware.Recoverer,
	)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("http listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = httpServer.Shutdown(shutdownCtx)
		return nil
	})
	g.Go(func() error {
		srv.RunTelemetry(gctx, server.TelemetryInterval)
		return nil
	})
	if cfg.Speaker {
		g.Go(func() error {
			// headless machines still serve the network streams
			if err := stream.NewSpeaker(frames, log).Run(gctx); err != nil {
				log.Warn("speaker unavailable", zap.Error(err))
			}
			return nil
		})
	}
	go readKeys(gctx, os.Stdin, deck, cancel, log)

	g.Go(func() error {
		defer cancel()
		return playLoop(gctx, deck, engine, queue, prefetcher, bus, frames, cfg, log)
	})

	err = g.Wait()
	log.Info("hdj stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func buildAnalyzer(cfg config.Config) (library.Analyzer, error) {
	var chain library.Chain
	if cfg.OverridesFile != "" {
		overrides, err := library.LoadOverrides(cfg.OverridesFile)
		if err != nil {
			return nil, err
		}
		chain = append(chain, overrides)
	}
	return append(chain, library.TagAnalyzer{}), nil
}

// playLoop plays the queue once, or over and over with cfg.Loop. Each pass
// gets a fresh controller over the same engine.
func playLoop(
	ctx context.Context,
	deck *liveDeck,
	engine *crossfade.Engine,
	queue library.Queue,
	prefetcher *audio.Prefetcher,
	bus *audio.Bus,
	frames *stream.Broadcaster[[]int16],
	cfg config.Config,
	log *zap.Logger,
) error {
	for pass := 1; ; pass++ {
		ctrl := transition.New(engine, queue, transition.Options{
			Crossfade: cfg.CrossfadeDuration,
			Prefetch:  prefetcher,
			Log:       log,
		})
		deck.Store(ctrl)

		if err := startFirst(ctx, ctrl, queue.Len()); err != nil {
			return err
		}

		player := transition.NewPlayer(ctrl, bus, log)
		errCh := make(chan error, 1)
		go func() { errCh <- player.Run(ctx) }()
		frames.Run(ctx, player.Frames())
		if err := <-errCh; err != nil {
			return err
		}

		if !cfg.Loop {
			return nil
		}
		log.Info("queue finished, starting over", zap.Int("pass", pass+1))
	}
}

// startFirst skips over leading tracks that fail to load.
func startFirst(ctx context.Context, ctrl *transition.Controller, tracks int) error {
	var errs []error
	for range tracks {
		err := ctrl.LoadFirst(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("no playable track: %w", errors.Join(errs...))
}

// readKeys turns stdin lines into deck commands: Enter, space or n triggers
// the next track, c cancels a pending trigger and q quits.
func readKeys(ctx context.Context, r io.Reader, deck server.Deck, quit func(), log *zap.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "", "n", "next":
			deck.Trigger()
			log.Info("manual transition requested")
		case "c", "cancel":
			if deck.CancelTrigger() {
				log.Info("manual transition cancelled")
			}
		case "q", "quit":
			quit()
			return
		}
	}
}

// liveDeck points the HTTP server at the controller of the current pass.
type liveDeck struct {
	atomic.Pointer[transition.Controller]
}

func (d *liveDeck) Snapshot() transition.Snapshot {
	if c := d.Load(); c != nil {
		return c.Snapshot()
	}
	return transition.Snapshot{}
}

func (d *liveDeck) UpNext() []string {
	if c := d.Load(); c != nil {
		return c.UpNext()
	}
	return nil
}

func (d *liveDeck) Trigger() {
	if c := d.Load(); c != nil {
		c.Trigger()
	}
}

func (d *liveDeck) CancelTrigger() bool {
	if c := d.Load(); c != nil {
		return c.CancelTrigger()
	}
	return false
}

func (d *liveDeck) Pending() bool {
	if c := d.Load(); c != nil {
		return c.Pending()
	}
	return false
}
