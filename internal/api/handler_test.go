package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"story-narrator/internal/mocks"
	"story-narrator/internal/model"
	"story-narrator/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type HandlerSuite struct {
	suite.Suite
	runner  *mocks.MockStoryRunner
	ai      *mocks.MockAIClient
	pool    *ants.Pool
	handler *Handler
	router  *gin.Engine
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	s.runner = mocks.NewMockStoryRunner(s.T())
	s.ai = mocks.NewMockAIClient(s.T())

	pool, err := NewRunPool(2, zap.NewNop())
	s.Require().NoError(err)
	s.pool = pool

	cache, err := NewSummaryCache(context.Background(), time.Minute)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = cache.Close() })

	s.handler = NewHandler(s.runner, s.ai, s.pool, cache, zap.NewNop())
	s.handler.now = func() time.Time { return time.Date(2025, 10, 4, 12, 30, 0, 0, time.UTC) }

	s.router = gin.New()
	s.handler.RegisterRoutes(s.router, nil)
}

func (s *HandlerSuite) TearDownTest() {
	s.pool.Release()
}

func (s *HandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerSuite) decode(w *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (s *HandlerSuite) TestHealth() {
	w := s.do(http.MethodGet, "/api/health", "")

	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"status":"Server is running!","timestamp":"2025-10-04T12:30:00.000Z"}`, w.Body.String())

	head := s.do(http.MethodHead, "/api/health", "")
	s.Equal(http.StatusOK, head.Code)
}

func (s *HandlerSuite) TestGenerateStory_Theme() {
	story := "\n  Part 1: Spores woke.\n\nPart 2: The hull cracked.\n \n\nPart 3: Earth answered.  \n"
	s.ai.On("GenerateText", mock.Anything, storyWriterSystemPrompt, fmt.Sprintf(themeStoryTemplate, "bacteria on Mars")).
		Return(story, service.UsageInfo{}, nil).Once()

	w := s.do(http.MethodPost, "/api/generate-story", `{"theme":"bacteria on Mars"}`)

	s.Equal(http.StatusOK, w.Code)
	var got generateStoryResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
	s.Equal("bacteria on Mars", got.Title)
	s.Equal("Part 1: Spores woke.\n\nPart 2: The hull cracked.\n \n\nPart 3: Earth answered.", got.StoryText)
	s.Require().Len(got.Scenes, 3)
	s.Equal(illustratedScene{
		Part:     1,
		Text:     "Part 1: Spores woke.",
		ImageURL: "https://image.pollinations.ai/prompt/scene%201%20bacteria%20on%20Mars%3A%20Part%201%3A%20Spores%20woke.?width=1024&height=768&model=flux",
	}, got.Scenes[0])
	s.Equal(2, got.Scenes[1].Part)
	s.Equal("Part 3: Earth answered.", got.Scenes[2].Text)
	s.runner.AssertNotCalled(s.T(), "Handle", mock.Anything, mock.Anything)
}

func (s *HandlerSuite) TestGenerateStory_LinkWinsOverTheme() {
	link := "https://example.org/paper"
	s.ai.On("GenerateText", mock.Anything, storyWriterSystemPrompt, fmt.Sprintf(linkStoryTemplate, link)).
		Return("One.", service.UsageInfo{}, nil).Once()

	w := s.do(http.MethodPost, "/api/generate-story", `{"link":"https://example.org/paper","theme":"t"}`)

	s.Equal(http.StatusOK, w.Code)
	body := s.decode(w)
	s.Equal("t", body["title"])
	s.Len(body["scenes"], 1)
}

func (s *HandlerSuite) TestGenerateStory_TitleFallsBackToLink() {
	s.ai.On("GenerateText", mock.Anything, storyWriterSystemPrompt, mock.Anything).
		Return("   ", service.UsageInfo{}, nil).Once()

	w := s.do(http.MethodPost, "/api/generate-story", `{"link":"https://example.org/p"}`)

	s.Equal(http.StatusOK, w.Code)
	body := s.decode(w)
	s.Equal("https://example.org/p", body["title"])
	s.Equal(emptyStory, body["storyText"])
	s.Len(body["scenes"], 1)
}

func (s *HandlerSuite) TestGenerateStory_MissingThemeAndLink() {
	for _, body := range []string{"", `{}`, `{"prompt":"p"}`, `{"theme":"","link":""}`} {
		w := s.do(http.MethodPost, "/api/generate-story", body)

		s.Equal(http.StatusBadRequest, w.Code)
		s.JSONEq(`{"error":"Missing 'theme' or 'link' in request body"}`, w.Body.String())
	}
	s.ai.AssertNotCalled(s.T(), "GenerateText", mock.Anything, mock.Anything, mock.Anything)
}

func (s *HandlerSuite) TestGenerateStory_ProviderError() {
	s.ai.On("GenerateText", mock.Anything, storyWriterSystemPrompt, mock.Anything).
		Return("", service.UsageInfo{}, fmt.Errorf("%w: 401", service.ErrAIGenerationFailed)).Once()

	w := s.do(http.MethodPost, "/api/generate-story", `{"theme":"t"}`)

	s.Equal(http.StatusInternalServerError, w.Code)
	body := s.decode(w)
	s.Len(body, 2)
	s.Equal("Story generation failed", body["error"])
	s.Contains(body["details"], "401")
}

func (s *HandlerSuite) TestNarrate_Success() {
	result := model.SuccessResult("Generated Story", "A.\n\nB.", []model.Scene{
		{Title: "Scene 1", Text: "A."},
		{Title: "Scene 2", Text: "B."},
	}, "/audio/story.mp3")
	s.runner.On("Handle", mock.Anything, "A microbe on Titan").Return(result).Once()

	w := s.do(http.MethodPost, "/api/narrate", `{"prompt":"A microbe on Titan"}`)

	s.Equal(http.StatusOK, w.Code)
	body := s.decode(w)
	s.Len(body, 4)
	s.Equal("/audio/story.mp3", body["audio"])
	s.Len(body["scenes"], 2)
}

func (s *HandlerSuite) TestNarrate_PromptResolution() {
	cases := []struct {
		name   string
		body   string
		prompt string
	}{
		{"empty body", "", ""},
		{"empty object", `{}`, ""},
		{"prompt wins", `{"prompt":"p","link":"l","theme":"t"}`, "p"},
		{"link over theme", `{"link":"https://example.org/paper","theme":"t"}`,
			fmt.Sprintf(linkStoryTemplate, "https://example.org/paper")},
		{"theme", `{"theme":"bacteria on Mars"}`, fmt.Sprintf(themeStoryTemplate, "bacteria on Mars")},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.runner.On("Handle", mock.Anything, tc.prompt).
				Return(model.SuccessResult("Generated Story", "x", []model.Scene{}, "/audio/story.mp3")).Once()

			w := s.do(http.MethodPost, "/api/narrate", tc.body)
			s.Equal(http.StatusOK, w.Code, w.Body.String())
		})
	}
}

func (s *HandlerSuite) TestNarrate_PipelineError() {
	s.runner.On("Handle", mock.Anything, "p").Return(model.ErrorResult(errors.New("quota exceeded"))).Once()

	w := s.do(http.MethodPost, "/api/narrate", `{"prompt":"p"}`)

	s.Equal(http.StatusBadGateway, w.Code)
	s.JSONEq(`{"error":"quota exceeded"}`, w.Body.String())
}

func (s *HandlerSuite) TestNarrate_InvalidBody() {
	for _, body := range []string{`{"prompt":`, `{"prompt":7}`} {
		w := s.do(http.MethodPost, "/api/narrate", body)

		s.Equal(http.StatusBadRequest, w.Code)
		s.Contains(s.decode(w)["error"], "invalid request")
	}
	s.runner.AssertNotCalled(s.T(), "Handle", mock.Anything, mock.Anything)
}

func (s *HandlerSuite) TestNarrate_QueueFull() {
	pool, err := NewRunPool(0, zap.NewNop())
	s.Require().NoError(err)
	defer pool.Release()
	s.handler.runPool = pool

	started := make(chan struct{})
	release := make(chan struct{})
	s.runner.On("Handle", mock.Anything, "slow").Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(model.SuccessResult("Generated Story", "x", []model.Scene{}, "/audio/story.mp3")).Once()

	firstDone := make(chan int, 1)
	go func() {
		firstDone <- s.do(http.MethodPost, "/api/narrate", `{"prompt":"slow"}`).Code
	}()
	<-started

	w := s.do(http.MethodPost, "/api/narrate", `{"prompt":"second"}`)
	s.Equal(http.StatusServiceUnavailable, w.Code)
	s.Contains(s.decode(w)["error"], "queue is full")

	close(release)
	s.Equal(http.StatusOK, <-firstDone)
}

func (s *HandlerSuite) TestNarrate_CanceledBeforeQueue() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/narrate", strings.NewReader(`{"prompt":"gone"}`)).WithContext(ctx)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	s.Equal(http.StatusServiceUnavailable, w.Code)
	s.Contains(s.decode(w)["error"], "context canceled")
	s.runner.AssertNotCalled(s.T(), "Handle", mock.Anything, mock.Anything)
}

func (s *HandlerSuite) TestNarrate_DisconnectWhileQueued() {
	started := make(chan struct{})
	release := make(chan struct{})
	s.runner.On("Handle", mock.Anything, "slow").Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(model.SuccessResult("Generated Story", "x", []model.Scene{}, "/audio/story.mp3")).Once()

	firstDone := make(chan int, 1)
	go func() {
		firstDone <- s.do(http.MethodPost, "/api/narrate", `{"prompt":"slow"}`).Code
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	queuedDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/narrate", strings.NewReader(`{"prompt":"queued"}`)).WithContext(ctx)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		queuedDone <- w
	}()
	s.Eventually(func() bool { return s.pool.Waiting() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case w := <-queuedDone:
		s.Equal(http.StatusServiceUnavailable, w.Code)
	case <-time.After(time.Second):
		s.FailNow("queued request did not return after its client went away")
	}

	close(release)
	s.Equal(http.StatusOK, <-firstDone)

	// единственный воркер берет задачи по одной: эта выполнится после отмененной
	s.Eventually(func() bool { return s.pool.Waiting() == 0 }, time.Second, 5*time.Millisecond)
	drained := make(chan struct{})
	s.Require().NoError(s.pool.Submit(func() { close(drained) }))
	<-drained

	s.runner.AssertNotCalled(s.T(), "Handle", mock.Anything, "queued")
}

func (s *HandlerSuite) TestSummarize_Text() {
	s.ai.On("GenerateText", mock.Anything, summarizerSystemPrompt, "Long abstract").
		Return("  Short summary.\n", service.UsageInfo{}, nil).Once()

	w := s.do(http.MethodPost, "/api/summarize", `{"text":"Long abstract"}`)

	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"summary":"Short summary."}`, w.Body.String())
}

func (s *HandlerSuite) TestSummarize_TitleAndLink() {
	prompt := `Summarize this space biology paper titled "Plants in orbit". Paper link: https://example.org/p`
	s.ai.On("GenerateText", mock.Anything, summarizerSystemPrompt, prompt).
		Return("Summary.", service.UsageInfo{}, nil).Once()

	w := s.do(http.MethodPost, "/api/summarize", `{"title":"Plants in orbit","link":"https://example.org/p"}`)

	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlerSuite) TestSummarize_NoText() {
	w := s.do(http.MethodPost, "/api/summarize", `{"link":"https://example.org/p"}`)

	s.Equal(http.StatusBadRequest, w.Code)
	s.JSONEq(`{"error":"No text provided"}`, w.Body.String())
}

func (s *HandlerSuite) TestSummarize_ProviderError() {
	s.ai.On("GenerateText", mock.Anything, summarizerSystemPrompt, "t").
		Return("", service.UsageInfo{}, fmt.Errorf("%w: 429", service.ErrAIGenerationFailed)).Once()

	w := s.do(http.MethodPost, "/api/summarize", `{"text":"t"}`)

	s.Equal(http.StatusInternalServerError, w.Code)
	body := s.decode(w)
	s.Equal("Summarization failed", body["error"])
	s.Contains(body["details"], "429")
}

func (s *HandlerSuite) TestSummarize_EmptyResultNotCached() {
	s.ai.On("GenerateText", mock.Anything, summarizerSystemPrompt, "t").
		Return(" ", service.UsageInfo{}, nil).Twice()

	for i := 0; i < 2; i++ {
		w := s.do(http.MethodPost, "/api/summarize", `{"text":"t"}`)
		s.JSONEq(`{"summary":"No summary generated."}`, w.Body.String())
	}
}

func (s *HandlerSuite) TestSummarize_ServedFromCache() {
	s.ai.On("GenerateText", mock.Anything, summarizerSystemPrompt, "abstract").
		Return("Cached summary.", service.UsageInfo{}, nil).Once()

	first := s.do(http.MethodPost, "/api/summarize", `{"text":"abstract"}`)
	second := s.do(http.MethodPost, "/api/summarize", `{"text":"abstract"}`)

	s.Equal(http.StatusOK, second.Code)
	s.Equal(first.Body.String(), second.Body.String())
}

func TestSummarize_WithoutCache(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ai := mocks.NewMockAIClient(t)
	ai.On("GenerateText", mock.Anything, summarizerSystemPrompt, "t").
		Return("S.", service.UsageInfo{}, nil).Twice()

	cache, err := NewSummaryCache(context.Background(), 0)
	if err != nil || cache != nil {
		t.Fatalf("expected disabled cache, got %v, %v", cache, err)
	}

	router := gin.New()
	NewHandler(mocks.NewMockStoryRunner(t), ai, nil, nil, zap.NewNop()).RegisterRoutes(router, nil)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/summarize", strings.NewReader(`{"text":"t"}`)))
		if w.Code != http.StatusOK {
			t.Fatalf("unexpected status %d", w.Code)
		}
	}
}

func TestRateLimiter_RejectsAfterLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ai := mocks.NewMockAIClient(t)
	ai.On("GenerateText", mock.Anything, summarizerSystemPrompt, mock.Anything).
		Return("S.", service.UsageInfo{}, nil).Twice()

	router := gin.New()
	NewHandler(mocks.NewMockStoryRunner(t), ai, nil, nil, zap.NewNop()).
		RegisterRoutes(router, NewRateLimiter(2, zap.NewNop()))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		body := fmt.Sprintf(`{"text":"abstract %d"}`, i)
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/summarize", strings.NewReader(body)))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes %v", codes)
	}

	// health не ограничивается
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health limited: %d", w.Code)
	}
}

func TestNewRateLimiter_Disabled(t *testing.T) {
	if NewRateLimiter(0, zap.NewNop()) != nil {
		t.Fatal("expected nil limiter")
	}
}
