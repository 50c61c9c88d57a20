package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"story-narrator/internal/config"
	"story-narrator/internal/metrics"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	geminiAPIVersion     = "v1beta"
	geminiAPIKeyHeader   = "x-goog-api-key"
)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content      *geminiContent `json:"content"`
		FinishReason string         `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// geminiClient реализует AIClient через REST-метод generateContent Generative Language API.
type geminiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	logger     *zap.Logger
}

// newGeminiClient создает клиент Gemini. Без ключа запросы уходят без авторизации
// и отклоняются API, что превращается в обычную ошибку генерации.
func newGeminiClient(_ context.Context, cfg *config.Config, apiKey string, logger *zap.Logger) (*geminiClient, error) {
	if apiKey == "" {
		logger.Warn("GOOGLE_API_KEY is not set, requests will be sent without credentials")
	}
	baseURL := defaultGeminiBaseURL
	if cfg.AIBaseURL != "" {
		baseURL = cfg.AIBaseURL
	}

	logger.Info("Gemini client created",
		zap.String("model", cfg.AIModel),
		zap.String("base_url", baseURL),
		zap.Duration("timeout", cfg.AITimeout),
	)
	return &geminiClient{
		httpClient: &http.Client{},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      cfg.AIModel,
		timeout:    cfg.AITimeout,
		logger:     logger.With(zap.String("ai_client", config.AIClientGemini)),
	}, nil
}

// modelResource приводит имя модели к виду models/{model}.
func (c *geminiClient) modelResource() string {
	if strings.HasPrefix(c.model, "models/") {
		return c.model
	}
	return "models/" + c.model
}

func (c *geminiClient) endpoint() string {
	return c.baseURL + "/" + geminiAPIVersion + "/" + c.modelResource() + ":generateContent"
}

// GenerateText отправляет один запрос generateContent и склеивает текстовые части первого кандидата.
func (c *geminiClient) GenerateText(ctx context.Context, systemPrompt string, userInput string) (string, UsageInfo, error) {
	payload := geminiGenerateRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: userInput}}}},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", UsageInfo{}, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}

	requestCtx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()
	c.logger.Debug("Sending request to Gemini",
		zap.String("model", c.model),
		zap.Int("system_prompt_bytes", len(systemPrompt)),
		zap.Int("user_input_bytes", len(userInput)),
	)

	resp, err := c.do(requestCtx, body)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("Gemini API returned error", zap.Duration("duration", duration), zap.Error(err))
		metrics.RecordAIRequest(config.AIClientGemini, c.model, "error", duration)
		return "", UsageInfo{}, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}

	generatedText := candidateText(resp)
	if strings.TrimSpace(generatedText) == "" {
		reason := ""
		if resp.PromptFeedback != nil {
			reason = resp.PromptFeedback.BlockReason
		}
		c.logger.Error("Gemini API returned empty response",
			zap.Duration("duration", duration),
			zap.String("block_reason", reason),
		)
		metrics.RecordAIRequest(config.AIClientGemini, c.model, "error_empty_response", duration)
		if reason != "" {
			return "", UsageInfo{}, fmt.Errorf("%w: ответ заблокирован: %s", ErrAIGenerationFailed, reason)
		}
		return "", UsageInfo{}, fmt.Errorf("%w: получен пустой ответ", ErrAIGenerationFailed)
	}

	metrics.RecordAIRequest(config.AIClientGemini, c.model, "success", duration)
	c.logger.Info("Gemini response received",
		zap.Duration("duration", duration),
		zap.Int("response_length", len(generatedText)),
	)

	var usage UsageInfo
	if md := resp.UsageMetadata; md != nil {
		usage.PromptTokens = md.PromptTokenCount
		usage.CompletionTokens = md.CandidatesTokenCount
		usage.TotalTokens = md.TotalTokenCount
	}
	usage = finishUsage(c.model, systemPrompt, userInput, generatedText, usage, c.logger)
	return generatedText, usage, nil
}

// do выполняет POST и разбирает ответ. Ошибки API приходят как *googleapi.Error.
func (c *geminiClient) do(ctx context.Context, body []byte) (*geminiGenerateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(geminiAPIKeyHeader, c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := googleapi.CheckResponse(res); err != nil {
		var apiErr *googleapi.Error
		if !errors.As(err, &apiErr) {
			return nil, err
		}
		msg := apiErr.Message
		if msg == "" {
			msg = strings.TrimSpace(apiErr.Body)
		}
		return nil, fmt.Errorf("gemini API returned %d: %s", apiErr.Code, msg)
	}

	var out geminiGenerateResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ошибка разбора ответа Gemini: %w", err)
	}
	return &out, nil
}

// candidateText собирает текст первого кандидата.
func candidateText(resp *geminiGenerateResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}
