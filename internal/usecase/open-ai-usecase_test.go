package usecase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iamvkosarev/replica-relay/config"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatRequest() openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:    DefaultUpstreamModel,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
	}
}

func TestOpenStreamPassesBodyThrough(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotReq  openai.ChatCompletionRequest
	)
	gateway := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotAuth = r.Header.Get("Authorization")
				_ = json.NewDecoder(r.Body).Decode(&gotReq)
				w.Header().Set("Content-Type", "text/event-stream")
				_, _ = io.WriteString(w, helloStream)
			},
		),
	)
	defer gateway.Close()

	gpt := NewOpenAIUsecase(config.Gateway{APIKey: "secret", BaseURL: gateway.URL + "/v1/"}, gateway.Client(), discardLogger())
	body, err := gpt.OpenStream(context.Background(), chatRequest())
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, helloStream, string(raw))
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.True(t, gotReq.Stream)
	assert.Equal(t, DefaultUpstreamModel, gotReq.Model)
}

func TestOpenStreamClassifiesFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    error
		message string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, ErrUpstreamRateLimited, "slow down"},
		{"payment required", http.StatusPaymentRequired, `{"error":{"message":"no credits"}}`, ErrUpstreamQuotaExhausted, "no credits"},
		{"server error", http.StatusInternalServerError, `boom`, ErrUpstreamFailure, "boom"},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"unknown model"}}`, ErrUpstreamFailure, "unknown model"},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				gateway := httptest.NewServer(
					http.HandlerFunc(
						func(w http.ResponseWriter, _ *http.Request) {
							w.WriteHeader(tt.status)
							_, _ = io.WriteString(w, tt.body)
						},
					),
				)
				defer gateway.Close()

				gpt := NewOpenAIUsecase(config.Gateway{APIKey: "secret", BaseURL: gateway.URL}, gateway.Client(), discardLogger())
				_, err := gpt.OpenStream(context.Background(), chatRequest())
				assert.ErrorIs(t, err, tt.want)

				var upstreamErr *UpstreamError
				require.ErrorAs(t, err, &upstreamErr)
				assert.Equal(t, tt.status, upstreamErr.StatusCode)
				assert.Equal(t, tt.message, upstreamErr.Message)
			},
		)
	}
}

func TestUpstreamErrorMatchesOneSentinel(t *testing.T) {
	quota := &UpstreamError{StatusCode: http.StatusPaymentRequired}
	assert.ErrorIs(t, quota, ErrUpstreamQuotaExhausted)
	assert.NotErrorIs(t, quota, ErrUpstreamRateLimited)
	assert.NotErrorIs(t, quota, ErrUpstreamFailure)
}

func TestOpenStreamWithoutKey(t *testing.T) {
	called := false
	gateway := httptest.NewServer(
		http.HandlerFunc(
			func(http.ResponseWriter, *http.Request) {
				called = true
			},
		),
	)
	defer gateway.Close()

	gpt := NewOpenAIUsecase(config.Gateway{BaseURL: gateway.URL}, gateway.Client(), discardLogger())
	_, err := gpt.OpenStream(context.Background(), chatRequest())
	assert.ErrorIs(t, err, ErrGatewayNotConfigured)
	assert.False(t, called)
}

func TestOpenStreamTimeoutDoesNotCutStream(t *testing.T) {
	gateway := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				w.WriteHeader(http.StatusOK)
				_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n")
				http.NewResponseController(w).Flush()
				time.Sleep(150 * time.Millisecond)
				_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\ndata: [DONE]\n")
			},
		),
	)
	defer gateway.Close()

	cfg := config.Gateway{APIKey: "secret", BaseURL: gateway.URL, Timeout: 50 * time.Millisecond}
	body, err := NewOpenAIUsecase(cfg, nil, discardLogger()).OpenStream(context.Background(), chatRequest())
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "data: [DONE]")
}

func TestOpenStreamTimeoutBoundsHeaders(t *testing.T) {
	release := make(chan struct{})
	gateway := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				<-release
			},
		),
	)
	defer gateway.Close()
	defer close(release)

	cfg := config.Gateway{APIKey: "secret", BaseURL: gateway.URL, Timeout: 50 * time.Millisecond}
	_, err := NewOpenAIUsecase(cfg, nil, discardLogger()).OpenStream(context.Background(), chatRequest())
	assert.Error(t, err)
}
