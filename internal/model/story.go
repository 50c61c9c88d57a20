package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidRequest - входной JSON не удалось разобрать.
var ErrInvalidRequest = errors.New("invalid request")

// Request - входной документ рассказчика, читается со stdin.
type Request struct {
	Prompt string `json:"prompt"`
}

// ParseRequest разбирает stdin. Пустой ввод (или только пробелы) считается объектом {}.
// null, массив, число или строка на верхнем уровне - ошибка.
// Ложное значение prompt (null, false, 0, "", [], {}) равно отсутствующему,
// любое другое значение не строкой - ошибка.
func ParseRequest(raw []byte) (Request, error) {
	var req Request

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return req, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if fields == nil {
		return req, fmt.Errorf("%w: expected a JSON object, got null", ErrInvalidRequest)
	}

	prompt, ok := fields["prompt"]
	if !ok || isFalsy(prompt) {
		return req, nil
	}
	if err := json.Unmarshal(prompt, &req.Prompt); err != nil {
		return req, fmt.Errorf("%w: prompt must be a string: %v", ErrInvalidRequest, err)
	}

	return req, nil
}

func isFalsy(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch v := v.(type) {
	case nil:
		return true
	case bool:
		return !v
	case float64:
		return v == 0
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

// PromptOr возвращает prompt или fallback, если prompt пуст.
// Пробельный prompt пустым не считается и уходит в модель как есть.
func (r Request) PromptOr(fallback string) string {
	if r.Prompt == "" {
		return fallback
	}
	return r.Prompt
}

// Scene - один абзац истории.
type Scene struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// StoryResult - успешный результат запуска.
type StoryResult struct {
	Title  string  `json:"title"`
	Story  string  `json:"story"`
	Scenes []Scene `json:"scenes"`
	Audio  string  `json:"audio"`
}

// Result - итог запуска: либо история, либо ошибка. Одновременно оба не бывают.
type Result struct {
	Success *StoryResult
	Error   string
}

// SuccessResult собирает успешный результат. scenes никогда не сериализуется как null.
func SuccessResult(title, story string, scenes []Scene, audio string) Result {
	if scenes == nil {
		scenes = []Scene{}
	}
	return Result{Success: &StoryResult{
		Title:  title,
		Story:  story,
		Scenes: scenes,
		Audio:  audio,
	}}
}

// ErrorResult превращает ошибку в результат {"error": ...}.
func ErrorResult(err error) Result {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Result{Error: msg}
}

// IsError сообщает, описывает ли результат ошибку.
func (r Result) IsError() bool {
	return r.Success == nil
}

// MarshalJSON выдает ровно одну из форм: {title, story, scenes, audio} или {error}.
// Текст истории не экранируется как HTML: <, > и & остаются как есть.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Success == nil {
		msg := r.Error
		if msg == "" {
			msg = "unknown error"
		}
		return marshalNoEscape(struct {
			Error string `json:"error"`
		}{Error: msg})
	}

	success := *r.Success
	if success.Scenes == nil {
		success.Scenes = []Scene{}
	}
	return marshalNoEscape(success)
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
