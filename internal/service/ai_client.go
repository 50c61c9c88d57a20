package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"story-narrator/internal/config"
	"story-narrator/internal/metrics"

	"github.com/ollama/ollama/api"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrAIGenerationFailed - ошибка при генерации текста AI
var ErrAIGenerationFailed = errors.New("ошибка генерации текста AI")

// UsageInfo содержит информацию об использовании токенов
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Estimated        bool // true, если провайдер не вернул usage и токены посчитаны локально
}

// AIClient интерфейс для взаимодействия с AI API
type AIClient interface {
	// GenerateText генерирует текст на основе системного промта и ввода пользователя.
	// Пустой systemPrompt не отправляется. Один запрос, без ретраев и стриминга.
	GenerateText(ctx context.Context, systemPrompt string, userInput string) (string, UsageInfo, error)
}

// withTimeout применяет таймаут, только если он задан. 0 - без ограничения.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// finishUsage дополняет usage оценкой tiktoken, если провайдер токены не вернул, и пишет метрики.
func finishUsage(model, systemPrompt, userInput, completion string, usage UsageInfo, log *zap.Logger) UsageInfo {
	if usage.TotalTokens <= 0 {
		usage = estimateUsage(model, systemPrompt, userInput, completion)
		log.Debug("Provider returned no usage, tokens estimated locally",
			zap.Int("prompt_tokens", usage.PromptTokens),
			zap.Int("completion_tokens", usage.CompletionTokens),
		)
	}
	metrics.RecordAITokens(model, usage.PromptTokens, usage.CompletionTokens, usage.Estimated)
	return usage
}

// --- OpenAI Client Implementation ---

// openAIClient реализует AIClient с использованием go-openai (OpenAI, OpenRouter и совместимые API)
type openAIClient struct {
	client  *openaigo.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func newOpenAIClient(cfg *config.Config, apiKey string, logger *zap.Logger) *openAIClient {
	openaiConfig := openaigo.DefaultConfig(apiKey)
	if cfg.AIBaseURL != "" {
		openaiConfig.BaseURL = cfg.AIBaseURL
	}
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.AITimeout}

	logger.Info("OpenAI client created",
		zap.String("base_url", openaiConfig.BaseURL),
		zap.String("model", cfg.AIModel),
		zap.Duration("timeout", cfg.AITimeout),
	)
	return &openAIClient{
		client:  openaigo.NewClientWithConfig(openaiConfig),
		model:   cfg.AIModel,
		timeout: cfg.AITimeout,
		logger:  logger.With(zap.String("ai_client", config.AIClientOpenAI)),
	}
}

// GenerateText генерирует текст на основе системного промта и ввода пользователя
func (c *openAIClient) GenerateText(ctx context.Context, systemPrompt string, userInput string) (string, UsageInfo, error) {
	var messages []openaigo.ChatCompletionMessage
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    openaigo.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openaigo.ChatCompletionMessage{
		Role:    openaigo.ChatMessageRoleUser,
		Content: userInput,
	})

	requestCtx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()
	c.logger.Debug("Sending request to AI",
		zap.String("model", c.model),
		zap.Int("system_prompt_bytes", len(systemPrompt)),
		zap.Int("user_input_bytes", len(userInput)),
	)

	resp, err := c.client.CreateChatCompletion(requestCtx, openaigo.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("AI API returned error", zap.Duration("duration", duration), zap.Error(err))
		metrics.RecordAIRequest(config.AIClientOpenAI, c.model, "error", duration)
		return "", UsageInfo{}, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		c.logger.Error("AI API returned empty response", zap.Duration("duration", duration))
		metrics.RecordAIRequest(config.AIClientOpenAI, c.model, "error_empty_response", duration)
		return "", UsageInfo{}, fmt.Errorf("%w: получен пустой ответ", ErrAIGenerationFailed)
	}

	metrics.RecordAIRequest(config.AIClientOpenAI, c.model, "success", duration)
	generatedText := resp.Choices[0].Message.Content
	c.logger.Info("AI response received",
		zap.Duration("duration", duration),
		zap.Int("response_length", len(generatedText)),
	)

	usage := finishUsage(c.model, systemPrompt, userInput, generatedText, UsageInfo{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, c.logger)
	return generatedText, usage, nil
}

// --- Ollama Client Implementation ---

const defaultOllamaBaseURL = "http://localhost:11434"

// ollamaClient реализует AIClient с использованием ollama/api
type ollamaClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// newOllamaClient создает новый клиент для взаимодействия с Ollama
func newOllamaClient(cfg *config.Config, logger *zap.Logger) (*ollamaClient, error) {
	// api.NewClient требует URL без суффикса /v1
	ollamaBaseURL := strings.TrimSuffix(cfg.AIBaseURL, "/v1")
	ollamaBaseURL = strings.TrimSuffix(ollamaBaseURL, "/")
	if ollamaBaseURL == "" {
		ollamaBaseURL = defaultOllamaBaseURL
	}

	parsedURL, err := url.Parse(ollamaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", ollamaBaseURL, err)
	}

	client := api.NewClient(parsedURL, &http.Client{Timeout: cfg.AITimeout})

	logger.Info("Ollama client created",
		zap.String("base_url", ollamaBaseURL),
		zap.String("model", cfg.AIModel),
		zap.Duration("timeout", cfg.AITimeout),
	)
	return &ollamaClient{
		client:  client,
		model:   cfg.AIModel,
		timeout: cfg.AITimeout,
		logger:  logger.With(zap.String("ai_client", config.AIClientOllama)),
	}, nil
}

// GenerateText генерирует текст с использованием Ollama
func (c *ollamaClient) GenerateText(ctx context.Context, systemPrompt string, userInput string) (string, UsageInfo, error) {
	var messages []api.Message
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, api.Message{Role: "user", Content: userInput})

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
	}

	requestCtx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()
	c.logger.Debug("Sending request to Ollama",
		zap.String("model", c.model),
		zap.Int("system_prompt_bytes", len(systemPrompt)),
		zap.Int("user_input_bytes", len(userInput)),
	)

	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r // без стрима приходит один полный ответ
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Error("Ollama request timed out", zap.Duration("timeout", c.timeout), zap.Duration("duration", duration), zap.Error(err))
		} else {
			c.logger.Error("Ollama API returned error", zap.Duration("duration", duration), zap.Error(err))
		}
		metrics.RecordAIRequest(config.AIClientOllama, c.model, "error", duration)
		return "", UsageInfo{}, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}

	if strings.TrimSpace(resp.Message.Content) == "" {
		c.logger.Error("Ollama API returned empty response", zap.Duration("duration", duration))
		metrics.RecordAIRequest(config.AIClientOllama, c.model, "error_empty_response", duration)
		return "", UsageInfo{}, fmt.Errorf("%w: получен пустой ответ", ErrAIGenerationFailed)
	}

	metrics.RecordAIRequest(config.AIClientOllama, c.model, "success", duration)
	generatedText := resp.Message.Content
	c.logger.Info("Ollama response received",
		zap.Duration("duration", duration),
		zap.Int("response_length", len(generatedText)),
	)

	usage := finishUsage(c.model, systemPrompt, userInput, generatedText, UsageInfo{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}, c.logger)
	return generatedText, usage, nil
}

// --- Factory Function ---

// NewAIClient создает клиент генерации в зависимости от AI_CLIENT_TYPE.
// Ключ берется из конфигурации и передается клиенту явно; пустой ключ не ошибка.
func NewAIClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (AIClient, error) {
	switch strings.ToLower(cfg.AIClientType) {
	case config.AIClientGemini, "":
		logger.Info("Using AI client implementation", zap.String("type", config.AIClientGemini))
		return newGeminiClient(ctx, cfg, cfg.GoogleAPIKey, logger)
	case config.AIClientOpenAI:
		logger.Info("Using AI client implementation", zap.String("type", config.AIClientOpenAI))
		return newOpenAIClient(cfg, cfg.GenerationAPIKey(), logger), nil
	case config.AIClientOllama:
		logger.Info("Using AI client implementation", zap.String("type", config.AIClientOllama))
		return newOllamaClient(cfg, logger)
	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: '%s'", cfg.AIClientType)
	}
}
