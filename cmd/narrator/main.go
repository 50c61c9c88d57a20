package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"story-narrator/internal/config"
	"story-narrator/internal/logger"
	"story-narrator/internal/metrics"
	"story-narrator/internal/model"
	"story-narrator/internal/pipeline"
	"story-narrator/internal/repository"
	"story-narrator/internal/service"

	"go.uber.org/zap"
)

// Рассказчик: JSON из stdin, один JSON-объект в stdout, код выхода всегда 0.
func main() {
	run(os.Stdin, os.Stdout)
}

func run(stdin io.Reader, stdout io.Writer) {
	raw, readErr := io.ReadAll(stdin)

	// --- Configuration ---
	cfg, err := config.LoadConfig()
	if err != nil {
		emit(stdout, zap.NewNop(), model.ErrorResult(err))
		return
	}

	// --- Logger Setup ---
	log, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: cfg.LogOutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		log = zap.NewNop()
	}
	defer func() { _ = log.Sync() }()

	log.Info("Configuration loaded", zap.Any("config", cfg.Summary()))

	if readErr != nil {
		log.Error("Failed to read stdin", zap.Error(readErr))
		emit(stdout, log, model.ErrorResult(fmt.Errorf("%w: failed to read stdin: %v", model.ErrInvalidRequest, readErr)))
		return
	}

	// --- Dependency Injection ---
	ctx := context.Background()

	aiClient, err := service.NewAIClient(ctx, cfg, log.Named("AIClient"))
	if err != nil {
		log.Error("Failed to create AI client", zap.Error(err))
		emit(stdout, log, model.ErrorResult(err))
		return
	}

	synthesizer, err := service.NewSynthesizer(cfg, log.Named("Synthesizer"))
	if err != nil {
		log.Error("Failed to create synthesizer", zap.Error(err))
		emit(stdout, log, model.ErrorResult(err))
		return
	}

	audioRepo := repository.NewFileAudioRepository(cfg.AudioDir, cfg.AudioFileName, cfg.AudioPublicPath, log.Named("AudioRepo"))
	handler := pipeline.NewStoryHandler(cfg, aiClient, synthesizer, audioRepo, log.Named("StoryHandler"))

	result := handler.Run(ctx, raw)

	// Ошибка отправки метрик уже залогирована и на результат не влияет
	_ = metrics.NewPusher(cfg.PushGatewayURL, log).Push()

	emit(stdout, log, result)
}

func emit(w io.Writer, log *zap.Logger, result model.Result) {
	if err := pipeline.Emit(w, result); err != nil {
		log.Error("Failed to write result", zap.Error(err))
	}
}
