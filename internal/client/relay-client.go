package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/iamvkosarev/replica-relay/config"
	"github.com/iamvkosarev/replica-relay/internal/model"
)

const MessageStreamFailed = "Stream failed"

// RelayError is a relay answer that was not a stream. Message is the text
// from the JSON error body and is meant to be shown to the user.
type RelayError struct {
	StatusCode int
	Message    string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay responded with status %d: %s", e.StatusCode, e.Message)
}

type RelayClient struct {
	cfg        config.Client
	httpClient *http.Client
}

func NewRelayClient(cfg config.Client, httpClient *http.Client) *RelayClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &RelayClient{
		cfg:        cfg,
		httpClient: httpClient,
	}
}

// Stream posts one turn to the relay and returns the event stream body.
func (c *RelayClient) Stream(ctx context.Context, req model.RelayRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RelayURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.cfg.RelayAuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.RelayAuthToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call relay: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}
	defer resp.Body.Close()

	relayErr := &RelayError{StatusCode: resp.StatusCode, Message: MessageStreamFailed}
	var errBody struct {
		Error string `json:"error"`
	}
	if err = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&errBody); err == nil && errBody.Error != "" {
		relayErr.Message = errBody.Error
	}
	return nil, relayErr
}
