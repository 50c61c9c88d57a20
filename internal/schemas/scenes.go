package schemas

import (
	"fmt"
	"regexp"
	"strings"

	"story-narrator/internal/model"
)

// DefaultSceneLimit - сколько сцен попадает в результат, остальное отбрасывается.
const DefaultSceneLimit = 8

// Разделитель сцен: две и более подряд идущих новых строки.
var sceneSeparator = regexp.MustCompile(`\n{2,}`)

// ParseScenes делит текст истории на сцены по пустым строкам.
// Пустые абзацы пропускаются и номер не занимают. limit <= 0 означает DefaultSceneLimit.
func ParseScenes(story string, limit int) []model.Scene {
	if limit <= 0 {
		limit = DefaultSceneLimit
	}

	normalized := strings.ReplaceAll(story, "\r\n", "\n")
	scenes := make([]model.Scene, 0, limit)
	for _, part := range sceneSeparator.Split(normalized, -1) {
		text := strings.TrimSpace(part)
		if text == "" {
			continue
		}
		scenes = append(scenes, model.Scene{
			Title: fmt.Sprintf("Scene %d", len(scenes)+1),
			Text:  text,
		})
		if len(scenes) == limit {
			break
		}
	}
	return scenes
}
