package embedding

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/convostore/internal/resilience"
)

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		var req openAIEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)
		// Out of order on purpose.
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}],"model":"m"}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL + "/v1/", Dimension: 2})
	require.NoError(t, err)

	out, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, out)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, 2, e.Dimension())
}

func TestOpenAIEmbedder_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"x"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.True(t, statusErr.Retryable())

	_, err = NewOpenAIEmbedder(OpenAIConfig{})
	assert.Error(t, err, "api key is required")
}

type flakyEmbedder struct {
	calls    atomic.Int32
	failures int32
	err      error
}

func (f *flakyEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func (f *flakyEmbedder) Model() string  { return "flaky" }
func (f *flakyEmbedder) Dimension() int { return 1 }

func newTestRetrying(inner Embedder, cfg RetryConfig) (*Retrying, *[]time.Duration) {
	r := NewRetrying(inner, cfg)
	var delays []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return r, &delays
}

func TestRetrying_RetriesTransientFailures(t *testing.T) {
	inner := &flakyEmbedder{failures: 2, err: &StatusError{StatusCode: 503}}
	r, delays := newTestRetrying(inner, RetryConfig{})

	out, err := r.EmbedBatch(context.Background(), []string{"hi"})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, int32(3), inner.calls.Load())
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, *delays)
}

func TestRetrying_GivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyEmbedder{failures: 10, err: errors.New("connection reset")}
	r, _ := newTestRetrying(inner, RetryConfig{MaxAttempts: 3})

	_, err := r.EmbedBatch(context.Background(), []string{"hi"})
	require.Error(t, err)
	assert.Equal(t, int32(3), inner.calls.Load())
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRetrying_DoesNotRetryClientErrors(t *testing.T) {
	inner := &flakyEmbedder{failures: 10, err: &StatusError{StatusCode: 400}}
	r, delays := newTestRetrying(inner, RetryConfig{})

	_, err := r.EmbedBatch(context.Background(), []string{"hi"})
	require.Error(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Empty(t, *delays)
}

func TestRetrying_CircuitBreakerOpens(t *testing.T) {
	breaker := resilience.NewCircuitBreaker("embedding", resilience.CircuitBreakerConfig{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Hour,
		HalfOpenMaxRequests: 1,
	})
	inner := &flakyEmbedder{failures: 100, err: &StatusError{StatusCode: 500}}
	r, _ := newTestRetrying(inner, RetryConfig{MaxAttempts: 5, Breaker: breaker})

	_, err := r.EmbedBatch(context.Background(), []string{"hi"})
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, resilience.StateOpen, breaker.State())
}

type scriptedEmbedder struct {
	errs  []error
	calls int
}

func (s *scriptedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return nil, s.errs[s.calls-1]
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func (s *scriptedEmbedder) Model() string  { return "scripted" }
func (s *scriptedEmbedder) Dimension() int { return 1 }

func TestRetrying_ClientErrorWhileHalfOpenKeepsProbing(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	breaker := resilience.NewCircuitBreaker("embedding-half-open", resilience.CircuitBreakerConfig{
		FailureThreshold:    1,
		SuccessThreshold:    1,
		Timeout:             time.Second,
		HalfOpenMaxRequests: 1,
	})
	breaker.SetClock(func() time.Time { return now })
	inner := &scriptedEmbedder{errs: []error{&StatusError{StatusCode: 503}, &StatusError{StatusCode: 400}}}
	r, _ := newTestRetrying(inner, RetryConfig{MaxAttempts: 1, Breaker: breaker})
	ctx := context.Background()

	_, err := r.EmbedBatch(ctx, []string{"hi"})
	require.Error(t, err)
	require.Equal(t, resilience.StateOpen, breaker.State())

	now = now.Add(time.Second)
	_, err = r.EmbedBatch(ctx, []string{"hi"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 400, statusErr.StatusCode)
	assert.Equal(t, resilience.StateHalfOpen, breaker.State())

	out, err := r.EmbedBatch(ctx, []string{"hi"})
	require.NoError(t, err, "a rejected request must not pin the probe slot")
	assert.Len(t, out, 1)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, resilience.StateClosed, breaker.State())
}

func TestRetrying_CanceledCallReleasesProbe(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	breaker := resilience.NewCircuitBreaker("embedding-canceled", resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
	})
	breaker.SetClock(func() time.Time { return now })
	inner := &scriptedEmbedder{errs: []error{errors.New("connection reset"), context.Canceled}}
	r, _ := newTestRetrying(inner, RetryConfig{MaxAttempts: 1, Breaker: breaker})

	_, _ = r.EmbedBatch(context.Background(), []string{"hi"})
	now = now.Add(time.Second)
	_, err := r.EmbedBatch(context.Background(), []string{"hi"})
	require.ErrorIs(t, err, context.Canceled)

	_, err = r.EmbedBatch(context.Background(), []string{"hi"})
	require.NoError(t, err)
	assert.Equal(t, resilience.StateClosed, breaker.State())
}

func TestSimpleEmbedder(t *testing.T) {
	e := NewSimpleEmbedder(64)
	out, err := e.EmbedBatch(context.Background(), []string{
		"my favourite color is blue",
		"what is my favourite color",
		"the invoice was paid yesterday",
		"",
	})
	require.NoError(t, err)
	require.Len(t, out, 4)

	for _, v := range out {
		assert.Len(t, v, 64)
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	}
	assert.Greater(t, dot(out[0], out[1]), dot(out[2], out[1]))

	again, err := e.EmbedBatch(context.Background(), []string{"my favourite color is blue"})
	require.NoError(t, err)
	assert.Equal(t, out[0], again[0], "deterministic")
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
