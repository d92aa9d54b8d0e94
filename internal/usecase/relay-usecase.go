package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/iamvkosarev/replica-relay/config"
	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/sashabaranov/go-openai"
)

const DefaultAssistantPrompt = `You are ReLi Agent, the official assistant of the Replicas platform.

Replicas are AI personas. Each one has a name, a description, system instructions, a text knowledge base and the LLM model that powers it. Anyone can create a replica, manage the replicas they created, discover community replicas and chat with any of them. When someone chats with a replica, its configuration becomes the system prompt and the replica answers in character. Chat history is kept per user and replica.

Be friendly, concise and accurate. Use markdown for clarity. Explain how to create, manage and use replicas, and politely steer questions unrelated to the platform back to it.`

type Gateway interface {
	OpenStream(ctx context.Context, req openai.ChatCompletionRequest) (io.ReadCloser, error)
}

type TokenCounter func(messages []openai.ChatCompletionMessage, model string) (int, error)

// Stream is an open upstream response. Body must be closed by the caller.
type Stream struct {
	Body    io.ReadCloser
	Model   string
	Persona string
	// Trimmed is the number of leading conversation messages dropped to fit
	// the context limit.
	Trimmed int
}

type RelayUsecaseDeps struct {
	Persona *PersonaUsecase
	Gateway Gateway
	// CountToken is optional; without it the conversation is never trimmed.
	CountToken TokenCounter
}

type RelayUsecase struct {
	RelayUsecaseDeps
	cfg       config.Gateway
	assistant config.Assistant
	logger    *slog.Logger
}

func NewRelayUsecase(
	deps RelayUsecaseDeps,
	cfg config.Gateway,
	assistant config.Assistant,
	logger *slog.Logger,
) *RelayUsecase {
	if assistant.SystemPrompt == "" {
		assistant.SystemPrompt = DefaultAssistantPrompt
	}
	return &RelayUsecase{
		RelayUsecaseDeps: deps,
		cfg:              cfg,
		assistant:        assistant,
		logger:           logger,
	}
}

// Dispatch resolves the persona of req and opens the upstream stream with
// the persona system prompt prepended to the conversation.
func (r *RelayUsecase) Dispatch(ctx context.Context, req model.RelayRequest) (*Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	persona, err := r.Persona.GetPersona(ctx, req.PersonaID)
	if err != nil {
		return nil, err
	}
	stream, err := r.open(ctx, BuildSystemPrompt(persona), r.Persona.UpstreamModel(persona.ModelID), req.Conversation)
	if err != nil {
		return nil, err
	}
	stream.Persona = persona.Name
	return stream, nil
}

// DispatchAssistant talks to the built-in platform assistant.
func (r *RelayUsecase) DispatchAssistant(ctx context.Context, conversation []model.Message) (*Stream, error) {
	req := model.RelayRequest{Conversation: conversation}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	upstreamModel := r.assistant.Model
	if upstreamModel == "" {
		upstreamModel = r.Persona.DefaultModel()
	}
	return r.open(ctx, r.assistant.SystemPrompt, upstreamModel, conversation)
}

func (r *RelayUsecase) open(
	ctx context.Context,
	systemPrompt, upstreamModel string,
	conversation []model.Message,
) (*Stream, error) {
	messageHistory := make([]openai.ChatCompletionMessage, 0, len(conversation))
	for _, message := range conversation {
		messageHistory = append(
			messageHistory, openai.ChatCompletionMessage{
				Role:    parseRoleToOpenAI(message.Role),
				Content: message.Content,
			},
		)
	}
	messageHistory, trimmed := r.trimHistory(ctx, systemPrompt, messageHistory, upstreamModel)

	messages := make([]openai.ChatCompletionMessage, 0, len(messageHistory)+1)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	messages = append(messages, messageHistory...)

	body, err := r.Gateway.OpenStream(
		ctx, openai.ChatCompletionRequest{
			Model:    upstreamModel,
			Messages: messages,
			Stream:   true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open upstream stream: %w", err)
	}
	return &Stream{Body: body, Model: upstreamModel, Trimmed: trimmed}, nil
}

// trimHistory drops the oldest messages while the prompt exceeds the
// configured token limit. The latest message is always kept.
func (r *RelayUsecase) trimHistory(
	ctx context.Context,
	systemPrompt string,
	messageHistory []openai.ChatCompletionMessage,
	upstreamModel string,
) ([]openai.ChatCompletionMessage, int) {
	if r.cfg.MaxContextTokens <= 0 || r.CountToken == nil {
		return messageHistory, 0
	}
	system := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt}

	trimmed := 0
	for len(messageHistory) > 1 {
		tokenCount, err := r.CountToken(append([]openai.ChatCompletionMessage{system}, messageHistory...), upstreamModel)
		if err != nil {
			r.logger.WarnContext(ctx, "count token error, history kept as is", slog.String("error", err.Error()))
			return messageHistory, trimmed
		}
		if tokenCount <= r.cfg.MaxContextTokens {
			break
		}
		messageHistory = messageHistory[1:]
		trimmed++
	}
	if trimmed > 0 {
		r.logger.InfoContext(ctx, "history trimmed due to token limit", slog.Int("dropped", trimmed))
	}
	return messageHistory, trimmed
}

func parseRoleToOpenAI(role model.Role) string {
	switch role {
	case model.RoleUser:
		return openai.ChatMessageRoleUser
	case model.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case model.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
