package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/sashabaranov/go-openai"
)

const helloStream = "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
	"data: [DONE]\n\n"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	err      error
}

func (g *fakeGateway) OpenStream(_ context.Context, req openai.ChatCompletionRequest) (io.ReadCloser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return io.NopCloser(strings.NewReader(helloStream)), nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type fakePersonaStorage map[string]model.Persona

func (f fakePersonaStorage) GetPersona(_ context.Context, personaID string) (model.Persona, error) {
	if personaID == "broken" {
		return model.Persona{}, errors.New("connection refused")
	}
	persona, ok := f[personaID]
	if !ok {
		return model.Persona{}, model.ErrPersonaNotFound
	}
	return persona, nil
}

type fakeRelay struct {
	mu       sync.Mutex
	requests []model.RelayRequest
	open     func(req model.RelayRequest) (io.ReadCloser, error)
}

func (f *fakeRelay) Stream(_ context.Context, req model.RelayRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.open == nil {
		return io.NopCloser(strings.NewReader(helloStream)), nil
	}
	return f.open(req)
}

func (f *fakeRelay) lastRequest() model.RelayRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type savedMessage struct {
	conversationID uuid.UUID
	role           model.Role
	content        string
}

type recordingChatLog struct {
	mu      sync.Mutex
	saved   []savedMessage
	history map[uuid.UUID][]model.Message
	err     error
}

func (r *recordingChatLog) AppendMessage(
	_ context.Context,
	conversationID uuid.UUID,
	role model.Role,
	content string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, savedMessage{conversationID: conversationID, role: role, content: content})
	return r.err
}

func (r *recordingChatLog) ListMessages(_ context.Context, conversationID uuid.UUID) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history[conversationID], nil
}

func (r *recordingChatLog) savedMessages() []savedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]savedMessage(nil), r.saved...)
}
