package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"

	"autoclipper/internal/checkpoint"
	dbpkg "autoclipper/internal/db"
	"autoclipper/internal/handlers"
	"autoclipper/internal/hub"
	"autoclipper/internal/jobs"
	"autoclipper/internal/logx"
	"autoclipper/internal/maintenance"
	"autoclipper/internal/paths"
	"autoclipper/internal/pipeline"
	"autoclipper/internal/provider"
	"autoclipper/internal/queue"
	"autoclipper/internal/secrets"
	"autoclipper/internal/settings"
	"autoclipper/internal/transcribe"
)

func main() {
	rt, err := paths.Ensure()
	if err != nil {
		log.Fatal().Err(err).Msg("resolve runtime paths")
	}

	logFile, err := os.OpenFile(rt.LogFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatal().Err(err).Str("path", rt.LogFilePath).Msg("open log file")
	}
	defer logFile.Close()
	sink := io.MultiWriter(os.Stdout, logFile)
	log.Logger = zerolog.New(logx.NewRedactor(sink)).With().Timestamp().Logger()

	db, err := dbpkg.Open(rt.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	if err := dbpkg.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate db")
	}

	ctx := context.Background()
	store := settings.New(db, rt.ConfigPath)
	keys, err := secrets.Load(ctx, rt.SecretsDir, store)
	if err != nil {
		log.Fatal().Err(err).Msg("load secrets")
	}
	secretSvc := secrets.NewService(db, keys)
	if err := secretSvc.VerifyAll(ctx); err != nil {
		log.Fatal().Err(err).Msg("verify stored secrets")
	}

	llm, err := provider.Build(ctx, store, secretSvc)
	if err != nil {
		log.Warn().Err(err).Msg("LLM provider unavailable; hooks and metadata fall back to defaults")
		llm = nil
	} else if !llm.HealthCheck(ctx) {
		log.Warn().Msg("LLM provider failed health check; hooks and metadata fall back to defaults")
	}

	ckpt := checkpoint.NewStore(rt.DownloadsDir)
	progressHub := hub.New()
	maxConcurrent := store.GetInt(ctx, "MAX_CONCURRENT_JOBS", 1)
	q := queue.NewManager(maxConcurrent)

	whisperModel, _ := store.Get(ctx, "WHISPER_MODEL")
	preset, _ := store.Get(ctx, "FFMPEG_PRESET")
	pipe := pipeline.New(pipeline.Config{
		Store:         db,
		DownloadsRoot: rt.DownloadsDir,
		ClipsDir:      rt.ClipsDir,
		Transcriber:   transcribe.NewWhisperCLI("", filepath.Join(rt.ModelsDir, "ggml-"+whisperModel+".bin")),
		Provider:      llm,
		FFmpegPreset:  preset,
	})
	controller := jobs.NewController(db, ckpt, q, progressHub, pipe, rt.ClipsDir)

	q.SetProcessor(controller.Process)
	q.Start(ctx)
	defer q.Stop()

	if _, err := controller.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("recover resumable jobs")
	}

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.Every(1).Hour().Do(func() {
		maintenance.SweepTempDirs(rt.DownloadsDir, rt.ClipsDir)
		maintenance.NewYtDlpUpdater().CheckYtDlp(context.Background())
	})
	scheduler.StartAsync()
	defer scheduler.Stop()

	router := handlers.New(&handlers.Server{
		DB:       db,
		Queue:    q,
		Ckpt:     ckpt,
		Hub:      progressHub,
		Settings: store,
		Keys:     keys,
		Secrets:  secretSvc,
		ClipsDir: rt.ClipsDir,
	})

	addr := os.Getenv("AUTOCLIPPER_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8000"
	}
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Info().Str("addr", addr).Int("max_concurrent", maxConcurrent).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("server stopped")
}
