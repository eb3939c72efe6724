package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raghavperera/Agnello-mod/internal/audio"
	"github.com/raghavperera/Agnello-mod/internal/capture"
	"github.com/raghavperera/Agnello-mod/internal/config"
	"github.com/raghavperera/Agnello-mod/internal/discord"
	"github.com/raghavperera/Agnello-mod/internal/enforce"
	"github.com/raghavperera/Agnello-mod/internal/httpapi"
	"github.com/raghavperera/Agnello-mod/internal/observability"
	"github.com/raghavperera/Agnello-mod/internal/opsfeed"
	"github.com/raghavperera/Agnello-mod/internal/pipeline"
	"github.com/raghavperera/Agnello-mod/internal/session"
	"github.com/raghavperera/Agnello-mod/internal/transcribe"
	"github.com/raghavperera/Agnello-mod/internal/wordlist"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}

	words, err := wordlist.New(cfg.BannedWords)
	if err != nil {
		return err
	}
	logger.Info("word list loaded", "terms", words.Len())

	transcriber, err := transcribe.NewWhisperCLI(transcribe.Config{
		Path:      cfg.WhisperCLI,
		ModelPath: cfg.WhisperModelPath,
		Language:  cfg.WhisperLanguage,
		Threads:   cfg.WhisperThreads,
		Timeout:   cfg.TranscribeTimeout,
	})
	if err != nil {
		return err
	}

	registry, err := session.NewRegistry(cfg.TmpDir, cfg.SessionMaxLifetime, logger)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace, prometheus.DefaultRegisterer)
	feed := opsfeed.New()
	normalizer := audio.NewFFmpeg(cfg.FFmpegPath, cfg.NormalizeTimeout)

	bot, err := discord.NewBot(cfg.DiscordToken, logger)
	if err != nil {
		return err
	}
	if err := bot.Open(); err != nil {
		return err
	}
	defer bot.Close()

	engine := enforce.New(bot.Directory(), cfg.MutedRoleID, cfg.RestrictionDuration, logger, metrics, feed)
	defer engine.Close()

	pipe := pipeline.New(registry, capture.New(cfg.SilenceThreshold), normalizer, transcriber, words, engine, metrics, feed, logger)

	vc, err := bot.JoinVoice(cfg.GuildID, cfg.VoiceChannelID)
	if err != nil {
		return err
	}
	logger.Info("listening in voice channel", "guild", cfg.GuildID, "channel", cfg.VoiceChannelID)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartJanitor(runCtx, 30*time.Second)

	receiver := discord.NewReceiver(vc, pipe, bot.SelfID(), bot.SelfDeafened, cfg.SilenceThreshold, logger)
	go receiver.Run(runCtx)

	api := httpapi.New(registry, feed)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		runErr = fmt.Errorf("ops server: %w", err)
	}

	runCancel()
	pipe.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
	return runErr
}
