package config

import (
	"fmt"
	"strings"
	"time"

	"story-narrator/internal/utils"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Типы клиентов генерации текста.
const (
	AIClientGemini = "gemini"
	AIClientOpenAI = "openai"
	AIClientOllama = "ollama"
)

// Провайдеры синтеза речи.
const (
	TTSProviderGTTS   = "gtts"
	TTSProviderOpenAI = "openai"
)

// Config содержит конфигурацию рассказчика (CLI и HTTP-обертки).
type Config struct {
	AppEnv string `envconfig:"APP_ENV" default:"development"`

	// Логирование. По умолчанию пишем в stderr: stdout занят JSON-результатом.
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding   string `envconfig:"LOG_ENCODING" default:"json"`
	LogOutputPath string `envconfig:"LOG_OUTPUT_PATH" default:"stderr"`

	// Настройки генерации истории
	AIClientType string        `envconfig:"AI_CLIENT_TYPE" default:"gemini"`
	AIModel      string        `envconfig:"AI_MODEL" default:"gemini-1.5-pro"`
	AIBaseURL    string        `envconfig:"AI_BASE_URL"`
	AITimeout    time.Duration `envconfig:"AI_TIMEOUT" default:"0s"` // 0 - таймаут не задаем
	// Секреты. Не логируются.
	GoogleAPIKey     string `envconfig:"GOOGLE_API_KEY"`
	AIAPIKey         string `envconfig:"AI_API_KEY"`
	OpenRouterAPIKey string `envconfig:"OPENROUTER_API_KEY"`

	// Настройки синтеза речи
	TTSProvider string `envconfig:"TTS_PROVIDER" default:"gtts"`
	TTSLanguage string `envconfig:"TTS_LANGUAGE" default:"en"`
	TTSBaseURL  string `envconfig:"TTS_BASE_URL"`
	TTSModel    string `envconfig:"TTS_MODEL" default:"tts-1"`
	TTSVoice    string `envconfig:"TTS_VOICE" default:"alloy"`
	TTSSlow     bool   `envconfig:"TTS_SLOW" default:"false"`
	TTSAPIKey   string `envconfig:"TTS_API_KEY"` // только для openai, по умолчанию AI_API_KEY

	// Аудиофайл перезаписывается при каждом запуске
	AudioDir        string `envconfig:"AUDIO_DIR" default:"public/audio"`
	AudioFileName   string `envconfig:"AUDIO_FILE_NAME" default:"story.mp3"`
	AudioPublicPath string `envconfig:"AUDIO_PUBLIC_PATH" default:"/audio/story.mp3"`

	DefaultPrompt string `envconfig:"DEFAULT_PROMPT" default:"Write a short story about a discovery in space biology."`
	StoryTitle    string `envconfig:"STORY_TITLE" default:"Generated Story"`
	MaxScenes     int    `envconfig:"MAX_SCENES" default:"8"`

	// Метрики: CLI отправляет их в Pushgateway, если URL задан
	PushGatewayURL string `envconfig:"PUSHGATEWAY_URL"`

	// HTTP-обертка
	HTTPServerPort      string        `envconfig:"HTTP_SERVER_PORT" default:"5001"`
	CORSAllowedOrigins  string        `envconfig:"CORS_ALLOWED_ORIGINS"`
	GenerationQueueSize int           `envconfig:"GENERATION_QUEUE_SIZE" default:"4"`  // ожидающие запуски сверх выполняемого
	SummaryCacheTTL     time.Duration `envconfig:"SUMMARY_CACHE_TTL" default:"30m"`    // 0 - кэш выключен
	RateLimitPerMinute  int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"10"` // на IP, 0 - без ограничения
}

// LoadConfig загружает конфигурацию из .env (если есть) и переменных окружения.
// Наличие ключа API не проверяется: его отсутствие проявится ошибкой вызова генерации.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	if cfg.GoogleAPIKey == "" {
		// Docker secret как запасной источник, ошибка не фатальна
		if secret, err := utils.ReadSecret("google_api_key"); err == nil {
			cfg.GoogleAPIKey = secret
		}
	}

	cfg.AIClientType = strings.ToLower(strings.TrimSpace(cfg.AIClientType))
	cfg.TTSProvider = strings.ToLower(strings.TrimSpace(cfg.TTSProvider))

	return &cfg, nil
}

// GenerationAPIKey возвращает ключ для выбранного клиента генерации.
func (c *Config) GenerationAPIKey() string {
	switch c.AIClientType {
	case AIClientGemini:
		return c.GoogleAPIKey
	case AIClientOpenAI:
		if c.AIAPIKey != "" {
			return c.AIAPIKey
		}
		return c.OpenRouterAPIKey
	default:
		return c.AIAPIKey
	}
}

// SpeechAPIKey возвращает ключ для OpenAI TTS. gTTS ключ не нужен.
func (c *Config) SpeechAPIKey() string {
	if c.TTSAPIKey != "" {
		return c.TTSAPIKey
	}
	return c.AIAPIKey
}

// GetAllowedOrigins разбирает CORS_ALLOWED_ORIGINS (через запятую).
func (c *Config) GetAllowedOrigins() []string {
	if strings.TrimSpace(c.CORSAllowedOrigins) == "" {
		return nil
	}
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// Summary возвращает поля конфигурации для лога (без секретов).
func (c *Config) Summary() map[string]string {
	return map[string]string{
		"ai_client":    c.AIClientType,
		"ai_model":     c.AIModel,
		"ai_base_url":  c.AIBaseURL,
		"ai_timeout":   c.AITimeout.String(),
		"ai_api_key":   utils.MaskSecret(c.GenerationAPIKey()),
		"tts_provider": c.TTSProvider,
		"tts_language": c.TTSLanguage,
		"audio_dir":    c.AudioDir,
		"audio_public": c.AudioPublicPath,
		"pushgateway":  c.PushGatewayURL,
		"max_scenes":   fmt.Sprintf("%d", c.MaxScenes),
		"http_port":    c.HTTPServerPort,
		"app_env":      c.AppEnv,
	}
}
