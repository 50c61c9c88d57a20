package metrics

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const (
	jobName = "story_narrator"
)

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_narrator_ai_requests_total",
			Help: "Total number of requests to the text generation API.",
		},
		[]string{"client", "model", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_narrator_ai_request_duration_seconds",
			Help:    "Histogram of text generation request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"client", "model"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_narrator_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.ExponentialBuckets(8, 2, 10), // 8 ... 4096
		},
		[]string{"model"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_narrator_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20), // 100, 200, ..., 2000
		},
		[]string{"model"},
	)
	aiTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_narrator_ai_tokens_used_total",
			Help: "Total number of tokens used for generation.",
		},
		[]string{"model", "source"}, // source: provider или estimate
	)

	ttsRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_narrator_tts_requests_total",
			Help: "Total number of speech synthesis requests.",
		},
		[]string{"provider", "status"},
	)
	ttsRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_narrator_tts_request_duration_seconds",
			Help:    "Histogram of speech synthesis durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	ttsAudioBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_narrator_tts_audio_bytes_total",
			Help: "Total number of audio bytes received from speech synthesis.",
		},
		[]string{"provider"},
	)

	runsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "story_narrator_runs_started_total",
			Help: "Total number of narrator pipeline runs.",
		},
	)
	runsSucceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "story_narrator_runs_succeeded_total",
			Help: "Total number of narrator runs that produced a story.",
		},
	)
	runsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_narrator_runs_failed_total",
			Help: "Total number of failed narrator runs, partitioned by failure reason.",
		},
		[]string{"reason"},
	)
	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "story_narrator_run_duration_seconds",
			Help:    "Histogram of full pipeline run durations.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s ... ~4m
		},
	)
	scenesProduced = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "story_narrator_scenes_per_story",
			Help:    "Histogram of scenes per generated story.",
			Buckets: prometheus.LinearBuckets(0, 1, 9), // 0 ... 8
		},
	)
)

// Причины неудачного запуска для runs_failed_total.
const (
	ReasonInvalidInput = "invalid_input"
	ReasonAIError      = "ai_error"
	ReasonTTSError     = "tts_error"
	ReasonSaveError    = "save_error"
	ReasonPanic        = "panic"
)

// RecordAIRequest учитывает один вызов генерации текста.
func RecordAIRequest(client, model, status string, duration time.Duration) {
	aiRequestsTotal.WithLabelValues(client, model, status).Inc()
	if status == "success" {
		aiRequestDuration.WithLabelValues(client, model).Observe(duration.Seconds())
	}
}

// RecordAITokens учитывает токены вызова. estimated=true, если провайдер их не вернул.
func RecordAITokens(model string, promptTokens, completionTokens int, estimated bool) {
	source := "provider"
	if estimated {
		source = "estimate"
	}
	aiPromptTokens.WithLabelValues(model).Observe(float64(promptTokens))
	aiCompletionTokens.WithLabelValues(model).Observe(float64(completionTokens))
	aiTokensUsed.WithLabelValues(model, source).Add(float64(promptTokens + completionTokens))
}

// RecordSynthesis учитывает один вызов синтеза речи.
func RecordSynthesis(provider, status string, duration time.Duration, audioBytes int) {
	ttsRequestsTotal.WithLabelValues(provider, status).Inc()
	if status == "success" {
		ttsRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
		ttsAudioBytes.WithLabelValues(provider).Add(float64(audioBytes))
	}
}

// IncrementRunStarted увеличивает счетчик запусков.
func IncrementRunStarted() {
	runsStarted.Inc()
}

// IncrementRunSucceeded фиксирует успешный запуск.
func IncrementRunSucceeded(scenes int, duration time.Duration) {
	runsSucceeded.Inc()
	scenesProduced.Observe(float64(scenes))
	runDuration.Observe(duration.Seconds())
}

// IncrementRunFailed фиксирует неудачный запуск с указанной причиной.
func IncrementRunFailed(reason string, duration time.Duration) {
	runsFailed.WithLabelValues(reason).Inc()
	runDuration.Observe(duration.Seconds())
}

// Pusher отправляет метрики CLI в Pushgateway. CLI живет секунды, pull-модель ему не подходит.
// Нулевой *Pusher безопасен: Push ничего не делает.
type Pusher struct {
	pusher *push.Pusher
	logger *zap.Logger
}

// NewPusher создает Pusher для pushgatewayURL. Пустой URL - метрики не отправляются, возвращается nil.
func NewPusher(pushgatewayURL string, logger *zap.Logger) *Pusher {
	if pushgatewayURL == "" {
		return nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
		logger.Warn("Could not get hostname for metrics grouping", zap.Error(err))
	}
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	logger.Debug("Initializing Pushgateway pusher",
		zap.String("job", jobName),
		zap.String("instance", instanceID),
		zap.String("url", pushgatewayURL),
	)

	return &Pusher{
		pusher: push.New(pushgatewayURL, jobName).
			Gatherer(prometheus.DefaultGatherer).
			Grouping("instance", instanceID),
		logger: logger,
	}
}

// Push отправляет текущие метрики. Ошибка только логируется: на результат запуска она не влияет.
func (p *Pusher) Push() error {
	if p == nil || p.pusher == nil {
		return nil
	}
	if err := p.pusher.Push(); err != nil {
		p.logger.Warn("Error pushing metrics to Pushgateway", zap.Error(err))
		return fmt.Errorf("push metrics: %w", err)
	}
	p.logger.Debug("Metrics pushed successfully")
	return nil
}
