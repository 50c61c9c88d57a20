package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"story-narrator/internal/config"

	"go.uber.org/zap"
)

// ErrSpeechSynthesisFailed - ошибка синтеза речи.
var ErrSpeechSynthesisFailed = errors.New("speech synthesis failed")

// Synthesizer превращает текст в mp3.
type Synthesizer interface {
	// Synthesize озвучивает text на языке lang и возвращает mp3 целиком.
	Synthesize(ctx context.Context, text string, lang string) ([]byte, error)
}

// NewSynthesizer создает синтезатор по TTS_PROVIDER.
func NewSynthesizer(cfg *config.Config, logger *zap.Logger) (Synthesizer, error) {
	switch strings.ToLower(cfg.TTSProvider) {
	case config.TTSProviderGTTS, "":
		logger.Info("Using speech synthesizer", zap.String("provider", config.TTSProviderGTTS))
		return newGTTSSynthesizer(cfg, logger), nil
	case config.TTSProviderOpenAI:
		logger.Info("Using speech synthesizer", zap.String("provider", config.TTSProviderOpenAI))
		return newOpenAISynthesizer(cfg, logger), nil
	default:
		return nil, fmt.Errorf("неизвестный провайдер синтеза речи: '%s'", cfg.TTSProvider)
	}
}
