package schemas

import (
	"fmt"
	"strings"
	"testing"

	"story-narrator/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenes_ThreeParagraphs(t *testing.T) {
	scenes := ParseScenes("A\n\nB\n\nC", 0)

	assert.Equal(t, []model.Scene{
		{Title: "Scene 1", Text: "A"},
		{Title: "Scene 2", Text: "B"},
		{Title: "Scene 3", Text: "C"},
	}, scenes)
}

func TestParseScenes_DropsBlankSegments(t *testing.T) {
	scenes := ParseScenes("A\n\n\n\nB", 0)

	require.Len(t, scenes, 2)
	assert.Equal(t, model.Scene{Title: "Scene 1", Text: "A"}, scenes[0])
	assert.Equal(t, model.Scene{Title: "Scene 2", Text: "B"}, scenes[1])
}

func TestParseScenes_WhitespaceOnlySegmentDoesNotConsumeNumber(t *testing.T) {
	scenes := ParseScenes("A\n\n   \n\nB", 0)

	require.Len(t, scenes, 2)
	assert.Equal(t, "Scene 2", scenes[1].Title)
	assert.Equal(t, "B", scenes[1].Text)
}

func TestParseScenes_CapsAtEight(t *testing.T) {
	parts := make([]string, 12)
	for i := range parts {
		parts[i] = fmt.Sprintf("P%d", i+1)
	}

	scenes := ParseScenes(strings.Join(parts, "\n\n"), 0)

	require.Len(t, scenes, 8)
	for i, s := range scenes {
		assert.Equal(t, fmt.Sprintf("Scene %d", i+1), s.Title)
		assert.Equal(t, fmt.Sprintf("P%d", i+1), s.Text)
	}
}

func TestParseScenes_SingleParagraph(t *testing.T) {
	scenes := ParseScenes("  Only line\nwith a soft break  ", 0)

	assert.Equal(t, []model.Scene{{Title: "Scene 1", Text: "Only line\nwith a soft break"}}, scenes)
}

func TestParseScenes_EmptyStory(t *testing.T) {
	scenes := ParseScenes("", 0)

	assert.NotNil(t, scenes)
	assert.Empty(t, scenes)
	assert.Empty(t, ParseScenes("\n\n\n", 0))
}

func TestParseScenes_CRLF(t *testing.T) {
	scenes := ParseScenes("A\r\n\r\nB", 0)

	assert.Equal(t, []model.Scene{{Title: "Scene 1", Text: "A"}, {Title: "Scene 2", Text: "B"}}, scenes)
}

func TestParseScenes_CustomLimit(t *testing.T) {
	scenes := ParseScenes("A\n\nB\n\nC", 2)

	require.Len(t, scenes, 2)
	assert.Equal(t, "B", scenes[1].Text)
}

func TestParseScenes_TrimsSegments(t *testing.T) {
	scenes := ParseScenes("  Part one.  \n\n\tPart two.\t", 0)

	assert.Equal(t, "Part one.", scenes[0].Text)
	assert.Equal(t, "Part two.", scenes[1].Text)
}
