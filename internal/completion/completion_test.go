package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() Request {
	return Request{
		System:      "You are an expert Indian nutritionist and fitness consultant.",
		Prompt:      "Plan my meals",
		Temperature: 0.7,
		MaxTokens:   2000,
	}
}

/* =================================================================================
								OPENAI
=================================================================================*/

func TestOpenAICompleteSendsSystemAndUserMessage(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"model":"gpt-test","choices":[{"message":{"content":"Eat oats."}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-test"})
	res := c.Complete(context.Background(), testRequest())

	require.True(t, res.OK(), "unexpected failure: %v", res.Err())
	assert.Equal(t, "Eat oats.", res.Text)
	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, 0.7, got.Temperature)
	assert.Equal(t, 2000, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: testRequest().System}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "Plan my meals"}, got.Messages[1])
}

func TestOpenAIStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   Kind
	}{
		{http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided"}}`, KindAuthentication},
		{http.StatusForbidden, `{"error":{"message":"forbidden"}}`, KindAuthentication},
		{http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached"}}`, KindRateLimit},
		{http.StatusInternalServerError, `oops`, KindNetwork},
		{http.StatusServiceUnavailable, ``, KindNetwork},
		{http.StatusBadRequest, `{"error":{"message":"maximum context length exceeded"}}`, KindBackend},
		{http.StatusNotFound, `{"error":{"message":"model not found"}}`, KindBackend},
	}

	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			res := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}).Complete(context.Background(), testRequest())
			require.False(t, res.OK())
			assert.Equal(t, tc.kind, res.Failure.Kind)
			assert.Equal(t, tc.status, res.Failure.Status)
			assert.NotEmpty(t, res.Failure.UserMessage())
		})
	}
}

func TestOpenAIBackendDetailIsSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"maximum context length exceeded"}}`)
	}))
	defer srv.Close()

	res := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}).Complete(context.Background(), testRequest())
	require.False(t, res.OK())
	assert.Equal(t, "maximum context length exceeded", res.Failure.Detail)
	assert.Contains(t, res.Failure.UserMessage(), "maximum context length exceeded")
}

func TestOpenAIMissingKeyNeverCallsBackend(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	res := NewOpenAI(OpenAIConfig{BaseURL: srv.URL}).Complete(context.Background(), testRequest())
	require.False(t, res.OK())
	assert.Equal(t, KindAuthentication, res.Failure.Kind)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestOpenAIEmptyChoicesIsBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	res := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}).Complete(context.Background(), testRequest())
	require.False(t, res.OK())
	assert.Equal(t, KindBackend, res.Failure.Kind)
}

func TestOpenAITimeoutIsNetworkFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	res := c.Complete(context.Background(), testRequest())
	require.False(t, res.OK())
	assert.Equal(t, KindNetwork, res.Failure.Kind)
	assert.True(t, res.Failure.Retryable())
}

func TestOpenAIUnreachableIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: url}).Complete(context.Background(), testRequest())
	require.False(t, res.OK())
	assert.Equal(t, KindNetwork, res.Failure.Kind)
}

func TestOpenAIStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"model\":\"gpt-test\",\"choices\":[{\"delta\":{\"content\":\"Eat \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"oats.\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var deltas []string
	res := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}).Stream(context.Background(), testRequest(), func(d string) {
		deltas = append(deltas, d)
	})

	require.True(t, res.OK(), "unexpected failure: %v", res.Err())
	assert.Equal(t, "Eat oats.", res.Text)
	assert.Equal(t, "gpt-test", res.Model)
	assert.Equal(t, []string{"Eat ", "oats."}, deltas)
}

func TestOpenAIStreamWithoutDoneFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Eat\"}}]}\n\n")
	}))
	defer srv.Close()

	res := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}).Stream(context.Background(), testRequest(), nil)
	require.False(t, res.OK())
	assert.Equal(t, KindNetwork, res.Failure.Kind)
}

func TestOpenAIEmptyContentIsBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":""},"finish_reason":"length"}]}`)
	}))
	defer srv.Close()

	res := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}).Complete(context.Background(), testRequest())
	require.False(t, res.OK())
	assert.Equal(t, KindBackend, res.Failure.Kind)
	assert.Contains(t, res.Failure.Detail, "length")
}

func TestOpenAIStreamWithNoTextIsBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	res := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}).Stream(context.Background(), testRequest(), nil)
	require.False(t, res.OK())
	assert.Equal(t, KindBackend, res.Failure.Kind)
}

/* =================================================================================
								GEMINI
=================================================================================*/

func TestGeminiCompleteSendsSystemInstruction(t *testing.T) {
	var got GeminiPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"Eat "},{"text":"oats."}]}}]}`)
	}))
	defer srv.Close()

	c := NewGemini(GeminiConfig{APIKey: "g-key", BaseURL: srv.URL, Model: "gemini-test"})
	res := c.Complete(context.Background(), testRequest())

	require.True(t, res.OK(), "unexpected failure: %v", res.Err())
	assert.Equal(t, "Eat oats.", res.Text)
	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, testRequest().System, got.SystemInstruction.Parts[0].Text)
	require.Len(t, got.Contents, 1)
	assert.Equal(t, "Plan my meals", got.Contents[0].Parts[0].Text)
	assert.Equal(t, 0.7, got.GenerationConfig.Temperature)
	assert.Equal(t, 2000, got.GenerationConfig.MaxOutputTokens)
}

func TestGeminiInvalidKeyIsAuthentication(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`)
	}))
	defer srv.Close()

	res := NewGemini(GeminiConfig{APIKey: "bad", BaseURL: srv.URL}).Complete(context.Background(), testRequest())
	require.False(t, res.OK())
	assert.Equal(t, KindAuthentication, res.Failure.Kind)
}

func TestGeminiBlockedPromptIsBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer srv.Close()

	res := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL}).Complete(context.Background(), testRequest())
	require.False(t, res.OK())
	assert.Equal(t, KindBackend, res.Failure.Kind)
	assert.Equal(t, "SAFETY", res.Failure.Detail)
}

func TestGeminiRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer srv.Close()

	res := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL}).Complete(context.Background(), testRequest())
	require.False(t, res.OK())
	assert.Equal(t, KindRateLimit, res.Failure.Kind)
}

func TestGeminiStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Eat \"}]}}]}\r\n\r\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"oats.\"}]},\"finishReason\":\"STOP\"}]}\r\n\r\n")
	}))
	defer srv.Close()

	var deltas []string
	res := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL, Model: "gemini-test"}).
		Stream(context.Background(), testRequest(), func(d string) { deltas = append(deltas, d) })

	require.True(t, res.OK(), "unexpected failure: %v", res.Err())
	assert.Equal(t, "Eat oats.", res.Text)
	assert.Equal(t, []string{"Eat ", "oats."}, deltas)
}

func TestGeminiStreamWithoutFinishReasonFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Breakfast: oa\"}]}}]}\r\n\r\n")
	}))
	defer srv.Close()

	var deltas []string
	res := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL}).
		Stream(context.Background(), testRequest(), func(d string) { deltas = append(deltas, d) })

	require.False(t, res.OK())
	assert.Equal(t, KindNetwork, res.Failure.Kind)
	assert.Equal(t, []string{"Breakfast: oa"}, deltas)
}

func TestGeminiStreamWithNoTextIsBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[]},\"finishReason\":\"SAFETY\"}]}\r\n\r\n")
	}))
	defer srv.Close()

	res := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL}).Stream(context.Background(), testRequest(), nil)
	require.False(t, res.OK())
	assert.Equal(t, KindBackend, res.Failure.Kind)
	assert.Contains(t, res.Failure.Detail, "SAFETY")
}

/* =================================================================================
								OLLAMA
=================================================================================*/

func TestOllamaComplete(t *testing.T) {
	var got ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"model":"llama2","response":"Eat oats.","done":true}`)
	}))
	defer srv.Close()

	res := NewOllama(OllamaConfig{BaseURL: srv.URL}).Complete(context.Background(), testRequest())

	require.True(t, res.OK(), "unexpected failure: %v", res.Err())
	assert.Equal(t, "Eat oats.", res.Text)
	assert.Equal(t, "llama2", got.Model)
	assert.False(t, got.Stream)
	require.NotNil(t, got.Options)
	assert.Equal(t, 0.7, got.Options.Temperature)
	assert.Equal(t, 2000, got.Options.NumPredict)
}

func TestOllamaFailuresAreBackendUnavailable(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"model 'llama2' not found"}`)
		}))
		defer srv.Close()

		res := NewOllama(OllamaConfig{BaseURL: srv.URL}).Complete(context.Background(), testRequest())
		require.False(t, res.OK())
		assert.Equal(t, KindBackendUnavailable, res.Failure.Kind)
	})

	t.Run("not running", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		res := NewOllama(OllamaConfig{BaseURL: url}).Complete(context.Background(), testRequest())
		require.False(t, res.OK())
		assert.Equal(t, KindBackendUnavailable, res.Failure.Kind)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		res := NewOllama(OllamaConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}).Complete(context.Background(), testRequest())
		require.False(t, res.OK())
		assert.Equal(t, KindBackendUnavailable, res.Failure.Kind)
	})
}

func TestOllamaStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		fmt.Fprintln(w, `{"model":"llama2","response":"Eat ","done":false}`)
		fmt.Fprintln(w, `{"model":"llama2","response":"oats.","done":false}`)
		fmt.Fprint(w, `{"model":"llama2","response":"","done":true}`)
	}))
	defer srv.Close()

	var deltas []string
	res := NewOllama(OllamaConfig{BaseURL: srv.URL}).Stream(context.Background(), testRequest(), func(d string) {
		deltas = append(deltas, d)
	})

	require.True(t, res.OK(), "unexpected failure: %v", res.Err())
	assert.Equal(t, "Eat oats.", res.Text)
	assert.Equal(t, []string{"Eat ", "oats."}, deltas)
}

func TestOllamaStreamEndingEarlyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"Eat ","done":false}`)
	}))
	defer srv.Close()

	res := NewOllama(OllamaConfig{BaseURL: srv.URL}).Stream(context.Background(), testRequest(), nil)
	require.False(t, res.OK())
	assert.Equal(t, KindBackendUnavailable, res.Failure.Kind)
}

func TestOllamaEmptyResponseIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model":"llama2","response":"","done":true}`)
	}))
	defer srv.Close()

	res := NewOllama(OllamaConfig{BaseURL: srv.URL}).Complete(context.Background(), testRequest())
	require.False(t, res.OK())
	assert.Equal(t, KindBackendUnavailable, res.Failure.Kind)
}

/* =================================================================================
							RETRY & FACTORY
=================================================================================*/

func TestWithRetryZeroPolicyIsIdentity(t *testing.T) {
	c := Func(func(ctx context.Context, req Request) Result { return Result{Text: "x"} })
	wrapped := WithRetry(c, RetryPolicy{})
	_, isRetrying := wrapped.(*retrying)
	assert.False(t, isRetrying)
}

func TestWithRetryRetriesTransientFailures(t *testing.T) {
	var calls int
	c := Func(func(ctx context.Context, req Request) Result {
		calls++
		if calls < 3 {
			return Failed(NewFailure(KindRateLimit, "slow down", nil))
		}
		return Result{Text: "Eat oats."}
	})

	res := WithRetry(c, RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond}).Complete(context.Background(), testRequest())
	require.True(t, res.OK())
	assert.Equal(t, 3, calls)
}

func TestWithRetryDoesNotRetryPermanentFailures(t *testing.T) {
	for _, kind := range []Kind{KindBackend, KindAuthentication, KindBackendUnavailable} {
		var calls int
		c := Func(func(ctx context.Context, req Request) Result {
			calls++
			return Failed(NewFailure(kind, "no", nil))
		})

		res := WithRetry(c, RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond}).Complete(context.Background(), testRequest())
		require.False(t, res.OK())
		assert.Equal(t, 1, calls, kind.String())
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	var calls int
	c := Func(func(ctx context.Context, req Request) Result {
		calls++
		return Failed(NewFailure(KindNetwork, "down", nil))
	})

	res := WithRetry(c, RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond}).Complete(context.Background(), testRequest())
	require.False(t, res.OK())
	assert.Equal(t, KindNetwork, res.Failure.Kind)
	assert.Equal(t, 3, calls)
}

type flakyStreamer struct {
	calls    int
	failures int
}

func (f *flakyStreamer) Complete(ctx context.Context, req Request) Result {
	return Result{Text: "unused"}
}

func (f *flakyStreamer) Stream(ctx context.Context, req Request, onDelta func(string)) Result {
	f.calls++
	if f.calls <= f.failures {
		return Failed(NewFailure(KindNetwork, "reset", nil))
	}
	onDelta("Eat oats.")
	return Result{Text: "Eat oats."}
}

func TestWithRetryStreamRetriesBeforeFirstDelta(t *testing.T) {
	s := &flakyStreamer{failures: 1}
	wrapped := WithRetry(s, RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond}).(Streamer)

	var deltas []string
	res := wrapped.Stream(context.Background(), testRequest(), func(d string) { deltas = append(deltas, d) })

	require.True(t, res.OK(), "unexpected failure: %v", res.Err())
	assert.Equal(t, 2, s.calls)
	assert.Equal(t, []string{"Eat oats."}, deltas)
}

func TestWithRetryStopsWhenContextEnds(t *testing.T) {
	s := &flakyStreamer{failures: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := WithRetry(s, RetryPolicy{MaxRetries: 3, InitialBackoff: time.Hour}).(Streamer).Stream(ctx, testRequest(), nil)
	require.False(t, res.OK())
	assert.Equal(t, 1, s.calls)
}

func TestNew(t *testing.T) {
	for _, backend := range []string{BackendOllama, BackendOpenAI, BackendGemini} {
		c, err := New(Options{Backend: backend})
		require.NoError(t, err)
		_, streams := c.(Streamer)
		assert.True(t, streams, backend)
	}

	_, err := New(Options{Backend: "claude-on-a-toaster"})
	assert.Error(t, err)
}

/* =================================================================================
								FAILURE
=================================================================================*/

func TestFailureUnwrapAndMessages(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	f := NewFailure(KindNetwork, "request failed", cause)

	assert.ErrorIs(t, f, cause)
	assert.True(t, strings.HasPrefix(f.Error(), "network: request failed"))

	missing := &Failure{Kind: KindMissingSlot, Slot: "goals"}
	assert.Contains(t, missing.UserMessage(), `"goals"`)
	assert.False(t, missing.Retryable())

	text, err := KindRateLimit.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "rate_limit", string(text))
}
