package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"story-narrator/internal/config"
	"story-narrator/internal/metrics"
	"story-narrator/internal/model"
	"story-narrator/internal/repository"
	"story-narrator/internal/schemas"
	"story-narrator/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultTitle    = "Generated Story"
	defaultLanguage = "en"
)

// StoryHandler выполняет один запуск рассказчика: генерация, сцены, озвучка, сохранение.
type StoryHandler struct {
	cfg         *config.Config
	aiClient    service.AIClient
	synthesizer service.Synthesizer
	audioRepo   repository.AudioRepository
	logger      *zap.Logger
}

// NewStoryHandler создает новый экземпляр обработчика.
func NewStoryHandler(
	cfg *config.Config,
	aiClient service.AIClient,
	synthesizer service.Synthesizer,
	audioRepo repository.AudioRepository,
	logger *zap.Logger,
) *StoryHandler {
	return &StoryHandler{
		cfg:         cfg,
		aiClient:    aiClient,
		synthesizer: synthesizer,
		audioRepo:   audioRepo,
		logger:      logger,
	}
}

// Run разбирает сырой stdin и выполняет запуск. Любая ошибка, включая панику, становится {"error"}.
func (h *StoryHandler) Run(ctx context.Context, raw []byte) (result model.Result) {
	startTime := time.Now()
	defer h.recoverInto(&result, startTime)

	req, err := model.ParseRequest(raw)
	if err != nil {
		h.logger.Error("Failed to parse input", zap.Int("input_bytes", len(raw)), zap.Error(err))
		metrics.IncrementRunFailed(metrics.ReasonInvalidInput, time.Since(startTime))
		return model.ErrorResult(err)
	}

	return h.Handle(ctx, req.PromptOr(h.cfg.DefaultPrompt))
}

// Handle выполняет конвейер для готового промпта. Первая ошибка прерывает запуск.
func (h *StoryHandler) Handle(ctx context.Context, prompt string) (result model.Result) {
	startTime := time.Now()
	defer h.recoverInto(&result, startTime)

	if prompt == "" {
		prompt = h.cfg.DefaultPrompt
	}

	log := h.logger.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("prompt_hash", uuid.NewSHA1(uuid.NameSpaceOID, []byte(prompt)).String()),
	)
	metrics.IncrementRunStarted()
	log.Info("Narrator run started", zap.Int("prompt_length", len(prompt)))

	fail := func(reason string, err error) model.Result {
		duration := time.Since(startTime)
		metrics.IncrementRunFailed(reason, duration)
		log.Error("Narrator run failed", zap.String("reason", reason), zap.Duration("duration", duration), zap.Error(err))
		return model.ErrorResult(err)
	}

	// 1. Генерация истории
	text, usage, err := h.aiClient.GenerateText(ctx, "", prompt)
	if err != nil {
		return fail(metrics.ReasonAIError, err)
	}
	story := strings.TrimSpace(text)
	if story == "" {
		return fail(metrics.ReasonAIError, fmt.Errorf("%w: empty story", service.ErrAIGenerationFailed))
	}
	log.Info("Story generated",
		zap.Int("story_length", len(story)),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Bool("tokens_estimated", usage.Estimated),
	)

	// 2. Сцены
	scenes := schemas.ParseScenes(story, h.cfg.MaxScenes)
	log.Debug("Story split into scenes", zap.Int("scenes", len(scenes)))

	// 3. Озвучка всей истории
	lang := h.cfg.TTSLanguage
	if lang == "" {
		lang = defaultLanguage
	}
	audio, err := h.synthesizer.Synthesize(ctx, story, lang)
	if err != nil {
		return fail(metrics.ReasonTTSError, err)
	}
	if len(audio) == 0 {
		return fail(metrics.ReasonTTSError, fmt.Errorf("%w: empty audio", service.ErrSpeechSynthesisFailed))
	}

	// 4. Сохранение
	publicPath, err := h.audioRepo.Save(ctx, audio)
	if err != nil {
		return fail(metrics.ReasonSaveError, err)
	}

	title := h.cfg.StoryTitle
	if title == "" {
		title = defaultTitle
	}

	duration := time.Since(startTime)
	metrics.IncrementRunSucceeded(len(scenes), duration)
	log.Info("Narrator run finished",
		zap.Int("scenes", len(scenes)),
		zap.Int("audio_bytes", len(audio)),
		zap.String("audio", publicPath),
		zap.Duration("duration", duration),
	)
	return model.SuccessResult(title, story, scenes, publicPath)
}

// recoverInto превращает панику в результат-ошибку.
func (h *StoryHandler) recoverInto(result *model.Result, startTime time.Time) {
	if r := recover(); r != nil {
		h.logger.Error("Recovered from panic in narrator run", zap.Any("panic", r))
		metrics.IncrementRunFailed(metrics.ReasonPanic, time.Since(startTime))
		*result = model.ErrorResult(fmt.Errorf("internal error: %v", r))
	}
}

// Emit пишет результат одной строкой JSON одним вызовом Write.
func Emit(w io.Writer, result model.Result) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(model.ErrorResult(fmt.Errorf("failed to encode result: %v", err)))
	}
	_, err := w.Write(buf.Bytes())
	return err
}
