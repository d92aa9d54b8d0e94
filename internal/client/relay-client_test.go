package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iamvkosarev/replica-relay/config"
	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamReturnsBody(t *testing.T) {
	var (
		gotReq  model.RelayRequest
		gotAuth string
	)
	relay := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				_ = json.NewDecoder(r.Body).Decode(&gotReq)
				w.Header().Set("Content-Type", "text/event-stream")
				_, _ = io.WriteString(w, "data: [DONE]\n\n")
			},
		),
	)
	defer relay.Close()

	c := NewRelayClient(config.Client{RelayURL: relay.URL, RelayAuthToken: "anon"}, relay.Client())
	body, err := c.Stream(
		context.Background(), model.RelayRequest{
			PersonaID:    "ada",
			Conversation: []model.Message{{Role: model.RoleUser, Content: "hi"}},
		},
	)
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: [DONE]\n\n", string(raw))
	assert.Equal(t, "Bearer anon", gotAuth)
	assert.Equal(t, "ada", gotReq.PersonaID)
	assert.Len(t, gotReq.Conversation, 1)
}

func TestStreamRelayErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"json error", http.StatusNotFound, `{"error":"Replica not found"}`, "Replica not found"},
		{"rate limited", http.StatusTooManyRequests, `{"error":"Rate limit exceeded. Please try again later."}`, "Rate limit exceeded. Please try again later."},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`, MessageStreamFailed},
		{"empty error", http.StatusInternalServerError, `{"error":""}`, MessageStreamFailed},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				relay := httptest.NewServer(
					http.HandlerFunc(
						func(w http.ResponseWriter, _ *http.Request) {
							w.WriteHeader(tt.status)
							_, _ = io.WriteString(w, tt.body)
						},
					),
				)
				defer relay.Close()

				c := NewRelayClient(config.Client{RelayURL: relay.URL}, nil)
				_, err := c.Stream(context.Background(), model.RelayRequest{PersonaID: "ada"})

				var relayErr *RelayError
				require.ErrorAs(t, err, &relayErr)
				assert.Equal(t, tt.status, relayErr.StatusCode)
				assert.Equal(t, tt.message, relayErr.Message)
			},
		)
	}
}

func TestStreamTransportError(t *testing.T) {
	c := NewRelayClient(config.Client{RelayURL: "http://127.0.0.1:1/chat"}, nil)
	_, err := c.Stream(context.Background(), model.RelayRequest{PersonaID: "ada"})
	require.Error(t, err)
	var relayErr *RelayError
	assert.NotErrorAs(t, err, &relayErr)
}
