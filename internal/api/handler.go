package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"story-narrator/internal/model"
	"story-narrator/internal/service"

	"github.com/allegro/bigcache/v3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const (
	healthStatus = "Server is running!"

	linkStoryTemplate  = "Write a cinematic 3-part sci-fi story inspired by the research paper at this link: %s. Focus on space biology, discovery, and emotional depth."
	themeStoryTemplate = "Write a 3-part cinematic sci-fi story about: %s. Include a clear structure (Part 1: Setup, Part 2: Conflict, Part 3: Resolution). Make it immersive and emotionally engaging."

	storyWriterSystemPrompt = "You are a creative science fiction writer who blends real NASA biology with imaginative storytelling."
	missingThemeOrLink      = "Missing 'theme' or 'link' in request body"
	emptyStory              = "No story generated."
	storyFailed             = "Story generation failed"

	// Картинка сцены рисуется на стороне клиента по этому адресу
	sceneImageURLTemplate = "https://image.pollinations.ai/prompt/%s?width=1024&height=768&model=flux"

	summarizerSystemPrompt = "You are a helpful scientific summarizer for space biology papers."
	titleSummaryTemplate   = "Summarize this space biology paper titled \"%s\". Paper link: %s"
	emptySummary           = "No summary generated."

	summaryCachePrefix = "summary_"

	// Формат Date.toISOString: миллисекунды и Z
	isoTimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// StoryRunner выполняет конвейер рассказчика для готового промпта.
type StoryRunner interface {
	Handle(ctx context.Context, prompt string) model.Result
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

type narrateRequest struct {
	Prompt string `json:"prompt"`
	Theme  string `json:"theme"`
	Link   string `json:"link"`
}

type generateStoryRequest struct {
	Theme string `json:"theme"`
	Link  string `json:"link"`
}

// illustratedScene - сцена ответа /api/generate-story.
type illustratedScene struct {
	Part     int    `json:"part"`
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
}

type generateStoryResponse struct {
	Title     string             `json:"title"`
	StoryText string             `json:"storyText"`
	Scenes    []illustratedScene `json:"scenes"`
}

type summarizeRequest struct {
	Text  string `json:"text"`
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Handler обслуживает HTTP-обертку над рассказчиком.
type Handler struct {
	runner   StoryRunner
	aiClient service.AIClient
	runPool  *ants.Pool
	cache    *bigcache.BigCache // nil - кэш сводок выключен
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler создает обработчик. Все запуски конвейера идут через runPool.
func NewHandler(
	runner StoryRunner,
	aiClient service.AIClient,
	runPool *ants.Pool,
	cache *bigcache.BigCache,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		runner:   runner,
		aiClient: aiClient,
		runPool:  runPool,
		cache:    cache,
		logger:   logger.Named("APIHandler"),
		now:      time.Now,
	}
}

// RegisterRoutes регистрирует маршруты /api. rateLimit (может быть nil) ставится
// перед обработчиками, которые ходят к провайдерам.
func (h *Handler) RegisterRoutes(router gin.IRouter, rateLimit gin.HandlerFunc) {
	limited := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		if rateLimit == nil {
			return []gin.HandlerFunc{handler}
		}
		return []gin.HandlerFunc{rateLimit, handler}
	}

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/health", h.health)
		apiGroup.HEAD("/health", h.health)
		apiGroup.POST("/generate-story", limited(h.generateStory)...)
		apiGroup.POST("/narrate", limited(h.narrate)...)
		apiGroup.POST("/summarize", limited(h.summarize)...)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    healthStatus,
		"timestamp": h.now().UTC().Format(isoTimestampLayout),
	})
}

// generateStory пишет иллюстрированную историю по theme или link. Аудио не создается.
func (h *Handler) generateStory(c *gin.Context) {
	var req generateStoryRequest
	if err := bindLenient(c, &req); err != nil {
		h.logger.Warn("Invalid generate-story body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Theme == "" && req.Link == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": missingThemeOrLink})
		return
	}

	prompt := fmt.Sprintf(themeStoryTemplate, req.Theme)
	if req.Link != "" {
		prompt = fmt.Sprintf(linkStoryTemplate, req.Link)
	}

	text, _, err := h.aiClient.GenerateText(c.Request.Context(), storyWriterSystemPrompt, prompt)
	if err != nil {
		h.logger.Error("Story generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": storyFailed, "details": err.Error()})
		return
	}

	storyText := strings.TrimSpace(text)
	if storyText == "" {
		storyText = emptyStory
	}
	title := req.Theme
	if title == "" {
		title = req.Link
	}
	c.JSON(http.StatusOK, generateStoryResponse{
		Title:     title,
		StoryText: storyText,
		Scenes:    illustrate(storyText, title),
	})
}

// illustrate режет историю по пустым строкам и дает каждой части адрес картинки.
func illustrate(storyText, title string) []illustratedScene {
	scenes := []illustratedScene{}
	for _, part := range paragraphBreak.Split(storyText, -1) {
		if part == "" {
			continue
		}
		n := len(scenes) + 1
		imagePrompt := fmt.Sprintf("scene %d %s: %s", n, title, part)
		scenes = append(scenes, illustratedScene{
			Part:     n,
			Text:     part,
			ImageURL: fmt.Sprintf(sceneImageURLTemplate, encodeURIComponent(imagePrompt)),
		})
	}
	return scenes
}

// encodeURIComponent экранирует все, кроме A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func encodeURIComponent(s string) string {
	return uriComponentFixups.Replace(url.QueryEscape(s))
}

var uriComponentFixups = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// narrate запускает полный конвейер рассказчика и отвечает его результатом.
func (h *Handler) narrate(c *gin.Context) {
	var req narrateRequest
	if err := bindLenient(c, &req); err != nil {
		h.logger.Warn("Invalid narrate body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.runStory(c.Request.Context(), resolveStoryPrompt(req))
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, ants.ErrPoolOverload) {
			h.logger.Warn("Story queue is full, rejecting request")
			err = errors.New("story generation queue is full, try again later")
		} else {
			h.logger.Warn("Story run was not completed", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if result.IsError() {
		c.JSON(http.StatusBadGateway, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// runStory ставит запуск в пул и ждет результат.
// Пул из одного воркера: все запуски пишут один и тот же аудиофайл.
// Клиент, отключившийся в очереди, до конвейера не доходит.
func (h *Handler) runStory(ctx context.Context, prompt string) (model.Result, error) {
	if err := ctx.Err(); err != nil {
		return model.Result{}, err
	}
	done := make(chan model.Result, 1)
	task := func() {
		if ctx.Err() != nil {
			return
		}
		done <- h.runner.Handle(ctx, prompt)
	}
	// Submit блокируется, пока очередь занята
	submitted := make(chan error, 1)
	go func() { submitted <- h.runPool.Submit(task) }()
	select {
	case err := <-submitted:
		if err != nil {
			return model.Result{}, err
		}
	case <-ctx.Done():
		return model.Result{}, ctx.Err()
	}

	select {
	case result := <-done:
		return result, nil
	case <-ctx.Done():
		return model.Result{}, ctx.Err()
	}
}

// resolveStoryPrompt: prompt, затем link, затем theme. Пустая строка означает промпт по умолчанию.
func resolveStoryPrompt(req narrateRequest) string {
	switch {
	case req.Prompt != "":
		return req.Prompt
	case strings.TrimSpace(req.Link) != "":
		return fmt.Sprintf(linkStoryTemplate, strings.TrimSpace(req.Link))
	case strings.TrimSpace(req.Theme) != "":
		return fmt.Sprintf(themeStoryTemplate, strings.TrimSpace(req.Theme))
	default:
		return ""
	}
}

func (h *Handler) summarize(c *gin.Context) {
	var req summarizeRequest
	if err := bindLenient(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Text == "" && req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No text provided"})
		return
	}

	prompt := req.Text
	if prompt == "" {
		prompt = fmt.Sprintf(titleSummaryTemplate, req.Title, req.Link)
	}

	cacheKey := summaryCachePrefix + uuid.NewSHA1(uuid.NameSpaceOID, []byte(prompt)).String()
	if h.cache != nil {
		if cached, err := h.cache.Get(cacheKey); err == nil {
			h.logger.Debug("Summary served from cache", zap.String("key", cacheKey))
			c.JSON(http.StatusOK, gin.H{"summary": string(cached)})
			return
		}
	}

	text, _, err := h.aiClient.GenerateText(c.Request.Context(), summarizerSystemPrompt, prompt)
	if err != nil {
		h.logger.Error("Summarization failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Summarization failed", "details": err.Error()})
		return
	}

	summary := strings.TrimSpace(text)
	if summary == "" {
		summary = emptySummary
	} else if h.cache != nil {
		if err := h.cache.Set(cacheKey, []byte(summary)); err != nil {
			h.logger.Warn("Failed to cache summary", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// bindLenient разбирает JSON-тело; пустое тело равно {}.
func bindLenient(c *gin.Context, dst any) error {
	raw, err := c.GetRawData()
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}
	return nil
}
