package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"story-narrator/internal/config"
	"story-narrator/internal/metrics"

	"go.uber.org/zap"
)

const (
	defaultGTTSBaseURL = "https://translate.google.com"
	gttsBatchPath      = "/_/TranslateWebserverUi/data/batchexecute"
	gttsRPCID          = "jQ1olc"
	// Google Translate принимает не больше 100 символов за запрос
	gttsMaxChars  = 100
	gttsUserAgent = "Mozilla/5.0 (Windows NT 10.0; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/47.0.2526.106 Safari/537.36"
)

// Аудио в ответе batchexecute: jQ1olc","[\"<base64>\"]
var gttsAudioPattern = regexp.MustCompile(`jQ1olc","\[\\"(.*)\\"\]`)

// gttsSynthesizer озвучивает текст через речевой endpoint Google Translate, как gTTS.
type gttsSynthesizer struct {
	endpoint   string
	httpClient *http.Client
	slow       bool
	logger     *zap.Logger
}

func newGTTSSynthesizer(cfg *config.Config, logger *zap.Logger) *gttsSynthesizer {
	baseURL := strings.TrimSuffix(cfg.TTSBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGTTSBaseURL
	}
	return &gttsSynthesizer{
		endpoint:   baseURL + gttsBatchPath,
		httpClient: &http.Client{Timeout: cfg.AITimeout},
		slow:       cfg.TTSSlow,
		logger:     logger.With(zap.String("tts_provider", config.TTSProviderGTTS)),
	}
}

// Synthesize делит текст на куски по 100 символов, озвучивает их по порядку и склеивает mp3.
func (s *gttsSynthesizer) Synthesize(ctx context.Context, text string, lang string) ([]byte, error) {
	startTime := time.Now()
	audio, err := s.synthesize(ctx, text, lang)
	duration := time.Since(startTime)
	if err != nil {
		metrics.RecordSynthesis(config.TTSProviderGTTS, "error", duration, 0)
		return nil, err
	}
	metrics.RecordSynthesis(config.TTSProviderGTTS, "success", duration, len(audio))
	return audio, nil
}

func (s *gttsSynthesizer) synthesize(ctx context.Context, text string, lang string) ([]byte, error) {
	chunks := splitText(text, gttsMaxChars)
	if len(chunks) == 0 {
		s.logger.Error("Nothing to synthesize after tokenizing text", zap.Int("text_length", len(text)))
		return nil, fmt.Errorf("%w: No text to speak", ErrSpeechSynthesisFailed)
	}
	s.logger.Debug("Text tokenized for speech synthesis", zap.Int("chunks", len(chunks)), zap.String("lang", lang))

	var audio bytes.Buffer
	for i, chunk := range chunks {
		part, err := s.synthesizeChunk(ctx, chunk, lang)
		if err != nil {
			s.logger.Error("Speech synthesis request failed", zap.Int("chunk", i), zap.Error(err))
			return nil, fmt.Errorf("%w: chunk %d: %v", ErrSpeechSynthesisFailed, i, err)
		}
		audio.Write(part)
	}

	if audio.Len() == 0 {
		s.logger.Error("Speech synthesis returned empty audio")
		return nil, fmt.Errorf("%w: empty audio", ErrSpeechSynthesisFailed)
	}
	s.logger.Info("Speech synthesized", zap.Int("chunks", len(chunks)), zap.Int("size_bytes", audio.Len()))
	return audio.Bytes(), nil
}

// synthesizeChunk выполняет один вызов batchexecute.
func (s *gttsSynthesizer) synthesizeChunk(ctx context.Context, chunk string, lang string) ([]byte, error) {
	body, err := s.requestBody(chunk, lang)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")
	req.Header.Set("Referer", "http://translate.google.com/")
	req.Header.Set("User-Agent", gttsUserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	return decodeBatchAudio(respBody)
}

// requestBody собирает f.req: [[["jQ1olc","[text,lang,speed,\"null\"]",null,"generic"]]].
func (s *gttsSynthesizer) requestBody(chunk string, lang string) (string, error) {
	var speed any // null - обычная скорость
	if s.slow {
		speed = true
	}
	parameter, err := marshalCompact([]any{chunk, lang, speed, "null"})
	if err != nil {
		return "", fmt.Errorf("failed to marshal rpc parameter: %w", err)
	}
	rpc, err := marshalCompact([]any{[]any{[]any{gttsRPCID, parameter, nil, "generic"}}})
	if err != nil {
		return "", fmt.Errorf("failed to marshal rpc: %w", err)
	}
	return "f.req=" + url.QueryEscape(rpc) + "&", nil
}

// decodeBatchAudio ищет строки с jQ1olc и декодирует base64 аудио из каждой.
func decodeBatchAudio(body []byte) ([]byte, error) {
	var audio []byte
	for _, line := range bytes.Split(body, []byte("\n")) {
		if !bytes.Contains(line, []byte(gttsRPCID)) {
			continue
		}
		match := gttsAudioPattern.FindSubmatch(line)
		if match == nil {
			return nil, fmt.Errorf("no audio stream in response")
		}
		decoded, err := base64.StdEncoding.DecodeString(string(match[1]))
		if err != nil {
			return nil, fmt.Errorf("failed to decode audio: %w", err)
		}
		audio = append(audio, decoded...)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio stream in response")
	}
	return audio, nil
}

// marshalCompact кодирует JSON без экранирования HTML.
func marshalCompact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
