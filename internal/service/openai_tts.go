package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"story-narrator/internal/config"
	"story-narrator/internal/metrics"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Лимит длины input у /audio/speech.
const openAISpeechMaxChars = 4096

// openAISynthesizer озвучивает текст через OpenAI speech API.
type openAISynthesizer struct {
	client *openaigo.Client
	model  string
	voice  string
	logger *zap.Logger
}

func newOpenAISynthesizer(cfg *config.Config, logger *zap.Logger) *openAISynthesizer {
	openaiConfig := openaigo.DefaultConfig(cfg.SpeechAPIKey())
	if cfg.TTSBaseURL != "" {
		openaiConfig.BaseURL = cfg.TTSBaseURL
	}
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.AITimeout}

	return &openAISynthesizer{
		client: openaigo.NewClientWithConfig(openaiConfig),
		model:  cfg.TTSModel,
		voice:  cfg.TTSVoice,
		logger: logger.With(zap.String("tts_provider", config.TTSProviderOpenAI)),
	}
}

// Synthesize озвучивает текст. Язык OpenAI определяет сам, lang только логируется.
func (s *openAISynthesizer) Synthesize(ctx context.Context, text string, lang string) ([]byte, error) {
	startTime := time.Now()
	audio, err := s.synthesize(ctx, text, lang)
	duration := time.Since(startTime)
	if err != nil {
		metrics.RecordSynthesis(config.TTSProviderOpenAI, "error", duration, 0)
		return nil, err
	}
	metrics.RecordSynthesis(config.TTSProviderOpenAI, "success", duration, len(audio))
	return audio, nil
}

func (s *openAISynthesizer) synthesize(ctx context.Context, text string, lang string) ([]byte, error) {
	chunks := splitText(text, openAISpeechMaxChars)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: No text to speak", ErrSpeechSynthesisFailed)
	}
	s.logger.Debug("Sending speech request",
		zap.String("model", s.model),
		zap.String("voice", s.voice),
		zap.String("lang", lang),
		zap.Int("chunks", len(chunks)),
	)

	var audio bytes.Buffer
	for i, chunk := range chunks {
		resp, err := s.client.CreateSpeech(ctx, openaigo.CreateSpeechRequest{
			Model:          openaigo.SpeechModel(s.model),
			Input:          chunk,
			Voice:          openaigo.SpeechVoice(s.voice),
			ResponseFormat: openaigo.SpeechResponseFormatMp3,
		})
		if err != nil {
			s.logger.Error("Speech API returned error", zap.Int("chunk", i), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrSpeechSynthesisFailed, err)
		}
		_, err = io.Copy(&audio, resp)
		resp.Close()
		if err != nil {
			s.logger.Error("Failed to read speech response", zap.Int("chunk", i), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrSpeechSynthesisFailed, err)
		}
	}

	if audio.Len() == 0 {
		s.logger.Error("Speech API returned empty audio")
		return nil, fmt.Errorf("%w: empty audio", ErrSpeechSynthesisFailed)
	}
	s.logger.Info("Speech synthesized", zap.Int("size_bytes", audio.Len()))
	return audio.Bytes(), nil
}
