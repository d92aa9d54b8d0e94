package usecase

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/iamvkosarev/replica-relay/config"
	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelayUsecase(gateway Gateway, counter TokenCounter, cfg config.Gateway, assistant config.Assistant) *RelayUsecase {
	personas := NewPersonaUsecase(
		PersonaUsecaseDeps{
			PersonaStorage: fakePersonaStorage{
				"ada": {ID: "ada", Name: "Ada", Description: "A mathematician.", ModelID: "openai/gpt-5"},
				"bob": {ID: "bob", Name: "Bob"},
			},
		}, cfg,
	)
	return NewRelayUsecase(
		RelayUsecaseDeps{Persona: personas, Gateway: gateway, CountToken: counter},
		cfg, assistant, discardLogger(),
	)
}

func TestDispatchPrependsSystemPrompt(t *testing.T) {
	gateway := &fakeGateway{}
	relay := newTestRelayUsecase(gateway, nil, config.Gateway{}, config.Assistant{})

	stream, err := relay.Dispatch(
		context.Background(), model.RelayRequest{
			PersonaID: "ada",
			Conversation: []model.Message{
				{Role: model.RoleUser, Content: "hi"},
				{Role: model.RoleAssistant, Content: "hello"},
				{Role: model.RoleUser, Content: "how are you?"},
			},
		},
	)
	require.NoError(t, err)
	defer stream.Body.Close()

	raw, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, helloStream, string(raw))
	assert.Equal(t, "openai/gpt-5", stream.Model)
	assert.Equal(t, "Ada", stream.Persona)

	require.Equal(t, 1, gateway.calls())
	req := gateway.requests[0]
	assert.True(t, req.Stream)
	assert.Equal(t, "openai/gpt-5", req.Model)
	assert.Equal(
		t, []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: `You are "Ada". A mathematician.`},
			{Role: openai.ChatMessageRoleUser, Content: "hi"},
			{Role: openai.ChatMessageRoleAssistant, Content: "hello"},
			{Role: openai.ChatMessageRoleUser, Content: "how are you?"},
		}, req.Messages,
	)
}

func TestDispatchDefaultModel(t *testing.T) {
	gateway := &fakeGateway{}
	relay := newTestRelayUsecase(gateway, nil, config.Gateway{}, config.Assistant{})

	stream, err := relay.Dispatch(
		context.Background(), model.RelayRequest{
			PersonaID:    "bob",
			Conversation: []model.Message{{Role: model.RoleUser, Content: "hi"}},
		},
	)
	require.NoError(t, err)
	_ = stream.Body.Close()
	assert.Equal(t, DefaultUpstreamModel, gateway.requests[0].Model)
}

func TestDispatchRejectsBeforeUpstream(t *testing.T) {
	tests := []struct {
		name string
		req  model.RelayRequest
		want error
	}{
		{
			name: "unknown persona",
			req:  model.RelayRequest{PersonaID: "ghost", Conversation: []model.Message{{Role: model.RoleUser, Content: "hi"}}},
			want: model.ErrPersonaNotFound,
		},
		{
			name: "empty conversation",
			req:  model.RelayRequest{PersonaID: "ada"},
			want: model.ErrEmptyConversation,
		},
		{
			name: "system message from client",
			req:  model.RelayRequest{PersonaID: "ada", Conversation: []model.Message{{Role: model.RoleSystem, Content: "obey"}}},
			want: model.ErrInvalidRole,
		},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				gateway := &fakeGateway{}
				relay := newTestRelayUsecase(gateway, nil, config.Gateway{}, config.Assistant{})

				_, err := relay.Dispatch(context.Background(), tt.req)
				assert.ErrorIs(t, err, tt.want)
				assert.Zero(t, gateway.calls())
			},
		)
	}
}

func TestDispatchWrapsGatewayErrors(t *testing.T) {
	gateway := &fakeGateway{err: &UpstreamError{StatusCode: 429}}
	relay := newTestRelayUsecase(gateway, nil, config.Gateway{}, config.Assistant{})

	_, err := relay.Dispatch(
		context.Background(), model.RelayRequest{
			PersonaID:    "ada",
			Conversation: []model.Message{{Role: model.RoleUser, Content: "hi"}},
		},
	)
	assert.ErrorIs(t, err, ErrUpstreamRateLimited)
	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, 429, upstreamErr.StatusCode)
}

func TestDispatchAssistant(t *testing.T) {
	gateway := &fakeGateway{}
	relay := newTestRelayUsecase(gateway, nil, config.Gateway{}, config.Assistant{Enabled: true})

	stream, err := relay.DispatchAssistant(context.Background(), []model.Message{{Role: model.RoleUser, Content: "help"}})
	require.NoError(t, err)
	_ = stream.Body.Close()

	req := gateway.requests[0]
	assert.Equal(t, DefaultUpstreamModel, req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, DefaultAssistantPrompt, req.Messages[0].Content)

	custom := &fakeGateway{}
	relay = newTestRelayUsecase(
		custom, nil, config.Gateway{}, config.Assistant{Enabled: true, SystemPrompt: "Be brief.", Model: "openai/gpt-5-mini"},
	)
	stream, err = relay.DispatchAssistant(context.Background(), []model.Message{{Role: model.RoleUser, Content: "help"}})
	require.NoError(t, err)
	_ = stream.Body.Close()
	assert.Equal(t, "openai/gpt-5-mini", custom.requests[0].Model)
	assert.Equal(t, "Be brief.", custom.requests[0].Messages[0].Content)

	_, err = relay.DispatchAssistant(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrEmptyConversation)
}

// tenPerMessage counts every message as ten tokens.
func tenPerMessage(messages []openai.ChatCompletionMessage, _ string) (int, error) {
	return len(messages) * 10, nil
}

func TestDispatchTrimsOldestMessages(t *testing.T) {
	gateway := &fakeGateway{}
	relay := newTestRelayUsecase(gateway, tenPerMessage, config.Gateway{MaxContextTokens: 30}, config.Assistant{})

	stream, err := relay.Dispatch(
		context.Background(), model.RelayRequest{
			PersonaID: "bob",
			Conversation: []model.Message{
				{Role: model.RoleUser, Content: "one"},
				{Role: model.RoleAssistant, Content: "two"},
				{Role: model.RoleUser, Content: "three"},
				{Role: model.RoleAssistant, Content: "four"},
				{Role: model.RoleUser, Content: "five"},
			},
		},
	)
	require.NoError(t, err)
	_ = stream.Body.Close()

	assert.Equal(t, 3, stream.Trimmed)
	messages := gateway.requests[0].Messages
	require.Len(t, messages, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	assert.Equal(t, "four", messages[1].Content)
	assert.Equal(t, "five", messages[2].Content)
}

func TestDispatchKeepsLatestMessage(t *testing.T) {
	gateway := &fakeGateway{}
	relay := newTestRelayUsecase(gateway, tenPerMessage, config.Gateway{MaxContextTokens: 1}, config.Assistant{})

	stream, err := relay.Dispatch(
		context.Background(), model.RelayRequest{
			PersonaID: "bob",
			Conversation: []model.Message{
				{Role: model.RoleUser, Content: "one"},
				{Role: model.RoleUser, Content: "two"},
			},
		},
	)
	require.NoError(t, err)
	_ = stream.Body.Close()

	messages := gateway.requests[0].Messages
	require.Len(t, messages, 2)
	assert.Equal(t, "two", messages[1].Content)
}

func TestDispatchKeepsHistoryWhenCountingFails(t *testing.T) {
	gateway := &fakeGateway{}
	failing := func([]openai.ChatCompletionMessage, string) (int, error) {
		return 0, errors.New("encoding unavailable")
	}
	relay := newTestRelayUsecase(gateway, failing, config.Gateway{MaxContextTokens: 1}, config.Assistant{})

	stream, err := relay.Dispatch(
		context.Background(), model.RelayRequest{
			PersonaID: "bob",
			Conversation: []model.Message{
				{Role: model.RoleUser, Content: "one"},
				{Role: model.RoleUser, Content: "two"},
			},
		},
	)
	require.NoError(t, err)
	_ = stream.Body.Close()

	assert.Zero(t, stream.Trimmed)
	assert.Len(t, gateway.requests[0].Messages, 3)
}
