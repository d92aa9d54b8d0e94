package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/replica-relay/config"
	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/iamvkosarev/replica-relay/pkg/eventstream"
)

const defaultPersistTimeout = 5 * time.Second

type ChatLogStorage interface {
	AppendMessage(ctx context.Context, conversationID uuid.UUID, role model.Role, content string) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]model.Message, error)
}

type RelayStreamer interface {
	Stream(ctx context.Context, req model.RelayRequest) (io.ReadCloser, error)
}

type ChatUsecaseDeps struct {
	Relay RelayStreamer
	// ChatLog is optional.
	ChatLog ChatLogStorage
}

type ChatUsecase struct {
	ChatUsecaseDeps
	cfg    config.Client
	logger *slog.Logger
}

func NewChatUsecase(deps ChatUsecaseDeps, cfg config.Client, logger *slog.Logger) *ChatUsecase {
	return &ChatUsecase{
		ChatUsecaseDeps: deps,
		cfg:             cfg,
		logger:          logger,
	}
}

// Session is one open chat view. Its conversation is written by the user
// submit path and by the decoder of the running turn, never both at once.
type Session struct {
	mu           sync.Mutex
	conversation *model.Conversation
	streaming    atomic.Bool
}

func (s *Session) ID() uuid.UUID {
	return s.conversation.ID
}

func (s *Session) PersonaID() string {
	return s.conversation.PersonaID
}

// Streaming reports whether a turn is being decoded; new submissions are
// refused while it is true.
func (s *Session) Streaming() bool {
	return s.streaming.Load()
}

func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation.Snapshot()
}

type TurnResult struct {
	Reply string
	// Completed is set when the stream ended with [DONE] rather than a drop.
	Completed bool
	Discarded int
}

// OpenSession starts a conversation with a persona, seeded with the history
// stored in the chat log.
func (c *ChatUsecase) OpenSession(ctx context.Context, conversationID uuid.UUID, personaID string) (*Session, error) {
	var history []model.Message
	if c.ChatLog != nil {
		var err error
		history, err = c.ChatLog.ListMessages(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load chat history %s: %w", conversationID, err)
		}
	}
	return &Session{conversation: model.NewConversation(conversationID, personaID, history)}, nil
}

// Send runs one turn: it appends the user message, streams the reply into
// the trailing assistant message and calls onUpdate with the reply so far
// after every delta. Relay errors reported before the stream starts are
// returned as *client.RelayError. A dropped stream is not an error; an
// abandoned one returns the context error. Either way the partial reply is
// kept and persisted.
func (c *ChatUsecase) Send(ctx context.Context, s *Session, text string, onUpdate func(reply string)) (TurnResult, error) {
	if !s.streaming.CompareAndSwap(false, true) {
		return TurnResult{}, model.ErrTurnInProgress
	}
	defer s.streaming.Store(false)

	s.mu.Lock()
	userMsg, err := s.conversation.AppendUserMessage(text)
	history := s.conversation.Snapshot()
	s.mu.Unlock()
	if err != nil {
		return TurnResult{}, err
	}

	body, err := c.Relay.Stream(ctx, model.RelayRequest{Conversation: history, PersonaID: s.PersonaID()})
	if err != nil {
		return TurnResult{}, err
	}
	defer body.Close()

	var result TurnResult
	runErr := eventstream.Run(
		ctx, body, eventstream.NewDecoder(c.cfg.MaxPartialSize), func(ev eventstream.Event) {
			switch ev.Kind {
			case eventstream.EventDelta:
				s.mu.Lock()
				result.Reply = s.conversation.AppendOrUpdateAssistantDelta(ev.Delta)
				s.mu.Unlock()
				if onUpdate != nil {
					onUpdate(result.Reply)
				}
			case eventstream.EventDone:
				result.Completed = true
			case eventstream.EventDiscarded:
				result.Discarded++
				c.logger.WarnContext(ctx, "discarded undecodable stream data", slog.Int("bytes", len(ev.Raw)))
			}
		},
	)

	c.persistTurn(ctx, s.ID(), userMsg, result.Reply)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return result, runErr
		}
		c.logger.InfoContext(
			ctx, "stream ended without [DONE]",
			slog.String("conversation", s.ID().String()),
			slog.String("error", runErr.Error()),
		)
	}
	return result, nil
}

// persistTurn hands the finished turn to the chat log once. Failures are
// logged and not retried.
func (c *ChatUsecase) persistTurn(ctx context.Context, conversationID uuid.UUID, userMsg model.Message, reply string) {
	if c.ChatLog == nil {
		return
	}
	timeout := c.cfg.PersistTimeout
	if timeout <= 0 {
		timeout = defaultPersistTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := c.ChatLog.AppendMessage(ctx, conversationID, model.RoleUser, userMsg.Content); err != nil {
		c.logger.ErrorContext(ctx, "failed to save user message", slog.String("error", err.Error()))
	}
	if reply == "" {
		return
	}
	if err := c.ChatLog.AppendMessage(ctx, conversationID, model.RoleAssistant, reply); err != nil {
		c.logger.ErrorContext(ctx, "failed to save assistant message", slog.String("error", err.Error()))
	}
}
