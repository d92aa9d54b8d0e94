package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/iamvkosarev/replica-relay/config"
	"github.com/sashabaranov/go-openai"
)

const maxErrorBodyBytes = 16 * 1024

var (
	ErrGatewayNotConfigured   = errors.New("gateway api key is not configured")
	ErrUpstreamRateLimited    = errors.New("upstream rate limit exceeded")
	ErrUpstreamQuotaExhausted = errors.New("upstream credits exhausted")
	ErrUpstreamFailure        = errors.New("upstream gateway error")
)

// UpstreamError is a non-2xx gateway answer. It matches one of
// ErrUpstreamRateLimited, ErrUpstreamQuotaExhausted or ErrUpstreamFailure.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream responded with status %d: %s", e.StatusCode, e.Message)
}

func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstreamRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUpstreamQuotaExhausted:
		return e.StatusCode == http.StatusPaymentRequired
	case ErrUpstreamFailure:
		return e.StatusCode != http.StatusTooManyRequests && e.StatusCode != http.StatusPaymentRequired
	}
	return false
}

type OpenAIUsecase struct {
	cfg        config.Gateway
	httpClient *http.Client
	logger     *slog.Logger
}

func NewOpenAIUsecase(cfg config.Gateway, httpClient *http.Client, logger *slog.Logger) *OpenAIUsecase {
	if httpClient == nil {
		httpClient = newGatewayHTTPClient(cfg.Timeout)
	}
	return &OpenAIUsecase{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
	}
}

// newGatewayHTTPClient bounds only the wait for response headers. A client
// timeout would also cut the body of a long stream after it was forwarded.
func newGatewayHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

// OpenStream posts a streaming chat completion and returns the live response
// body untouched. The caller owns the body.
func (gpt *OpenAIUsecase) OpenStream(ctx context.Context, req openai.ChatCompletionRequest) (io.ReadCloser, error) {
	if gpt.cfg.APIKey == "" {
		return nil, ErrGatewayNotConfigured
	}
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat completion request: %w", err)
	}
	url := strings.TrimRight(gpt.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+gpt.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := gpt.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call gateway: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}
	defer resp.Body.Close()

	upstreamErr := &UpstreamError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var errResp openai.ErrorResponse
	if jsonErr := json.Unmarshal(raw, &errResp); jsonErr == nil && errResp.Error != nil {
		upstreamErr.Message = errResp.Error.Message
	} else {
		upstreamErr.Message = strings.TrimSpace(string(raw))
	}
	gpt.logger.ErrorContext(
		ctx, "gateway error",
		slog.String("model", req.Model),
		slog.Int("status", resp.StatusCode),
		slog.String("body", upstreamErr.Message),
	)
	return nil, upstreamErr
}
