package service

import (
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding используется для моделей, которых tiktoken не знает (Gemini, локальные модели).
const fallbackEncoding = "cl100k_base"

var errEncodingTimeout = errors.New("tiktoken encoding lookup timed out")

// encodingLookupTimeout ограничивает ожидание BPE-словаря: при первом обращении
// tiktoken скачивает его из сети.
var encodingLookupTimeout = 2 * time.Second

// loadEncoding подменяется в тестах.
var loadEncoding = func(model string) (*tiktoken.Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	return enc, err
}

type encodingLoad struct {
	done chan struct{}
	enc  *tiktoken.Tiktoken
	err  error
}

var (
	encodingMu    sync.Mutex
	encodingLoads = map[string]*encodingLoad{}
)

// encodingFor возвращает словарь модели, ожидая его не дольше encodingLookupTimeout.
// Загрузка одна на модель; неудачная загрузка забывается и повторится при следующем вызове.
func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	encodingMu.Lock()
	load, ok := encodingLoads[model]
	if !ok {
		load = &encodingLoad{done: make(chan struct{})}
		encodingLoads[model] = load
		loader := loadEncoding
		go func() {
			load.enc, load.err = loader(model)
			if load.err != nil {
				encodingMu.Lock()
				if encodingLoads[model] == load {
					delete(encodingLoads, model)
				}
				encodingMu.Unlock()
			}
			close(load.done)
		}()
	}
	encodingMu.Unlock()

	select {
	case <-load.done:
		return load.enc, load.err
	case <-time.After(encodingLookupTimeout):
		return nil, errEncodingTimeout
	}
}

// countTokens считает токены текста. Переменная, чтобы тесты не тянули BPE-словари из сети.
var countTokens = func(model, text string) int {
	enc, err := encodingFor(model)
	if err != nil {
		// словарь недоступен: грубая оценка ~4 символа на токен
		return roughTokenCount(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func roughTokenCount(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// estimateUsage оценивает usage, когда провайдер его не вернул.
func estimateUsage(model, systemPrompt, userInput, completion string) UsageInfo {
	prompt := countTokens(model, systemPrompt) + countTokens(model, userInput)
	completionTokens := countTokens(model, completion)
	return UsageInfo{
		PromptTokens:     prompt,
		CompletionTokens: completionTokens,
		TotalTokens:      prompt + completionTokens,
		Estimated:        true,
	}
}
