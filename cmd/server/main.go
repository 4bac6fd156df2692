// Keepsake server - recognizes visitors, records their conversations, and
// writes short memory summaries to each visitor's profile.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hearthside/keepsake/internal/audio"
	"github.com/hearthside/keepsake/internal/config"
	"github.com/hearthside/keepsake/internal/memstore"
	"github.com/hearthside/keepsake/internal/pipeline"
	"github.com/hearthside/keepsake/internal/server"
	"github.com/hearthside/keepsake/internal/session"
	"github.com/hearthside/keepsake/internal/summarize"
	"github.com/hearthside/keepsake/internal/transcribe"
	"github.com/hearthside/keepsake/internal/vision"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()

	store, err := memstore.Open(filepath.Join(cfg.DataDir, "memories.json"))
	if err != nil {
		slog.Error("failed to open memory store", "error", err)
		os.Exit(1)
	}

	// Converter capability is probed once; the flag is immutable afterwards.
	caps := audio.Probe(cfg.FFmpegPath)
	norm := audio.NewNormalizer(caps, cfg.SampleRate, cfg.ConvertTimeout)

	stt := transcribe.New(transcribe.Config{
		BaseURL: cfg.STTBaseURL,
		APIKey:  cfg.STTAPIKey,
		Model:   cfg.STTModel,
		Timeout: cfg.STTTimeout,
	})

	sum := summarize.New(summarize.Config{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Models:  cfg.LLMModels,
		Timeout: cfg.LLMTimeout,
	})
	if cfg.LLMAPIKey == "" {
		slog.Warn("no LLM API key configured, summaries use fallback extraction only")
	}

	pipe := pipeline.New(norm, stt, sum, store)

	registry := session.NewRegistry(session.Config{
		IdleTimeout:        cfg.SessionIdleTimeout,
		MaxDuration:        cfg.SessionMaxDuration,
		HousekeepInterval:  cfg.HousekeepInterval,
		MaxConcurrentFinal: int64(cfg.MaxConcurrentFinals),
	}, pipe.Finalize)

	identifier := vision.NewHTTPIdentifier(cfg.IdentifyURL, cfg.IdentifyTimeout)
	watcher := vision.NewWatcher(identifier, registry, cfg.AutoSessions, cfg.AbsentFrames)

	srv := server.New(registry, store, watcher, pipe.Events(), cfg.EndWaitTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go registry.Run(ctx)

	if cfg.KioskCapture {
		go runKioskCapture(ctx, cfg, registry)
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("keepsake server starting",
			"http", cfg.HTTPAddr,
			"converter", caps.Available,
			"auto_sessions", cfg.AutoSessions)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	// Let in-flight finalizations land so no recorded visit is lost.
	registry.Stop()
	slog.Info("shutdown complete")
}

// runKioskCapture feeds the device microphone into the configured subject's
// session. Used on standalone kiosks where no browser streams audio.
func runKioskCapture(ctx context.Context, cfg *config.Config, registry *session.Registry) {
	if cfg.KioskSubjectID == "" {
		slog.Error("kiosk capture enabled but KIOSK_SUBJECT_ID is empty")
		return
	}

	capturer, err := audio.NewCapturer(cfg.SampleRate, 2*time.Second)
	if err != nil {
		slog.Error("kiosk capture unavailable", "error", err)
		return
	}
	defer capturer.Stop()

	if err := capturer.Start(ctx); err != nil {
		slog.Error("kiosk capture start failed", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-capturer.Output():
			key, err := registry.Start([]string{cfg.KioskSubjectID})
			if err != nil {
				slog.Debug("kiosk session start skipped", "error", err)
				continue
			}
			if err := registry.AddChunk(key, chunk.WAV, nil); err != nil {
				slog.Debug("kiosk chunk dropped", "error", err)
			}
		}
	}
}
