package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordAIRequest(t *testing.T) {
	before := testutil.ToFloat64(aiRequestsTotal.WithLabelValues("gemini", "test-model", "success"))
	beforeErr := testutil.ToFloat64(aiRequestsTotal.WithLabelValues("gemini", "test-model", "error"))

	RecordAIRequest("gemini", "test-model", "success", 150*time.Millisecond)
	RecordAIRequest("gemini", "test-model", "error", time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(aiRequestsTotal.WithLabelValues("gemini", "test-model", "success")))
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(aiRequestsTotal.WithLabelValues("gemini", "test-model", "error")))
}

func TestRecordAITokens(t *testing.T) {
	before := testutil.ToFloat64(aiTokensUsed.WithLabelValues("tok-model", "estimate"))

	RecordAITokens("tok-model", 10, 32, true)

	assert.Equal(t, before+42, testutil.ToFloat64(aiTokensUsed.WithLabelValues("tok-model", "estimate")))
}

func TestRecordSynthesis(t *testing.T) {
	beforeBytes := testutil.ToFloat64(ttsAudioBytes.WithLabelValues("gtts"))
	beforeErr := testutil.ToFloat64(ttsRequestsTotal.WithLabelValues("gtts", "error"))

	RecordSynthesis("gtts", "success", time.Second, 2048)
	RecordSynthesis("gtts", "error", time.Second, 0)

	assert.Equal(t, beforeBytes+2048, testutil.ToFloat64(ttsAudioBytes.WithLabelValues("gtts")))
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(ttsRequestsTotal.WithLabelValues("gtts", "error")))
}

func TestRunCounters(t *testing.T) {
	started := testutil.ToFloat64(runsStarted)
	succeeded := testutil.ToFloat64(runsSucceeded)
	failed := testutil.ToFloat64(runsFailed.WithLabelValues(ReasonAIError))

	IncrementRunStarted()
	IncrementRunSucceeded(3, time.Second)
	IncrementRunStarted()
	IncrementRunFailed(ReasonAIError, time.Second)

	assert.Equal(t, started+2, testutil.ToFloat64(runsStarted))
	assert.Equal(t, succeeded+1, testutil.ToFloat64(runsSucceeded))
	assert.Equal(t, failed+1, testutil.ToFloat64(runsFailed.WithLabelValues(ReasonAIError)))
}

func TestNewPusher_EmptyURL(t *testing.T) {
	p := NewPusher("", zap.NewNop())

	assert.Nil(t, p)
	assert.NoError(t, p.Push())
}

func TestPusher_Push(t *testing.T) {
	var calls atomic.Int32
	var gotPath string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	IncrementRunStarted()
	p := NewPusher(srv.URL, zap.NewNop())
	require.NotNil(t, p)

	require.NoError(t, p.Push())
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, strings.HasPrefix(gotPath, "/metrics/job/story_narrator/instance/"), gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPusher_PushError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPusher(srv.URL, zap.NewNop())

	assert.Error(t, p.Push())
}
