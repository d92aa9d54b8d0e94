package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/google/uuid"
	"github.com/iamvkosarev/replica-relay/config"
	"github.com/iamvkosarev/replica-relay/internal/client"
	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/iamvkosarev/replica-relay/pkg/local"
	"github.com/sourcegraph/conc"
)

const (
	MessageServerError         = "Something wrong with me. Try later"
	MessageUserNoAccess        = "You are not allowed to use this bot"
	MessageCommandStart        = "Welcome to the replicas bot! Pick a replica with /persona <id> and write something to start a conversation. Use /new to start over."
	MessageCommandHelp         = "/persona <id> selects a replica, /new clears the conversation. Anything else you write goes to the selected replica."
	MessageCommandUnknown      = "I don't know that command"
	MessageSelectPersona       = "Select a replica first: /persona <id>"
	MessagePersonaUsage        = "Usage: /persona <id>"
	MessageTurnInProgress      = "Wait for the current answer to finish"
	MessageEmptyMessage        = "Write some text to send"
	MessageStreamInterrupted   = "The answer was interrupted"
	MessageUndecodableSegments = "Some parts of the answer could not be read"

	CommandStart   = "start"
	CommandHelp    = "help"
	CommandNew     = "new"
	CommandPersona = "persona"
)

var (
	MessagePersonaCurrent = local.NewSet(
		"Current replica: %s",
		local.NewTrans(local.Rus, "Текущая реплика: %s"),
	)
	MessagePersonaSelected = local.NewSet(
		"Now talking to %s. Previous messages: %d",
		local.NewTrans(local.Rus, "Теперь вы общаетесь с %s. Предыдущих сообщений: %d"),
	)
	MessageNewConversation = local.NewSet(
		"Started a new conversation with %s",
		local.NewTrans(local.Rus, "Начат новый разговор с %s"),
	)
)

// conversationNamespace derives stable conversation ids for Telegram chats.
var conversationNamespace = uuid.MustParse("5b0d7a8e-3f0c-4c8e-9a55-2f3e0d1c6b71")

// TelegramBot is the part of *api.BotAPI the front-end uses.
type TelegramBot interface {
	Send(c api.Chattable) (api.Message, error)
	Request(c api.Chattable) (*api.APIResponse, error)
	GetUpdatesChan(config api.UpdateConfig) api.UpdatesChannel
	StopReceivingUpdates()
}

type TelegramUsecaseDeps struct {
	Chat *ChatUsecase
	Bot  TelegramBot
}

type TelegramUsecase struct {
	TelegramUsecaseDeps
	cfg          config.Telegram
	logger       *slog.Logger
	allowedUsers map[int64]struct{}

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewTelegramUsecase(cfg config.Telegram, deps TelegramUsecaseDeps, logger *slog.Logger) (*TelegramUsecase, error) {
	allowedUsers := make(map[int64]struct{}, len(cfg.AllowedTelegramID))
	for _, userID := range cfg.AllowedTelegramID {
		allowedUsers[userID] = struct{}{}
	}

	_, err := deps.Bot.Request(
		api.NewSetMyCommands(
			[]api.BotCommand{
				{
					Command:     CommandHelp,
					Description: "Get help",
				},
				{
					Command:     CommandPersona,
					Description: "Select a replica to talk to",
				},
				{
					Command:     CommandNew,
					Description: "Clear context and start a new conversation",
				},
			}...,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set bot commands: %w", err)
	}

	return &TelegramUsecase{
		TelegramUsecaseDeps: deps,
		cfg:                 cfg,
		logger:              logger,
		allowedUsers:        allowedUsers,
		sessions:            make(map[int64]*Session),
	}, nil
}

// ConversationID is the stable conversation id of a Telegram chat with a
// persona.
func ConversationID(chatID int64, personaID string) uuid.UUID {
	return uuid.NewSHA1(conversationNamespace, []byte(fmt.Sprintf("telegram:%d:%s", chatID, personaID)))
}

// Run handles updates until ctx is done. Every update runs in its own
// goroutine so a long answer does not block other chats.
func (t *TelegramUsecase) Run(ctx context.Context) error {
	u := api.NewUpdate(0)
	u.Timeout = 60

	updates := t.Bot.GetUpdatesChan(u)

	wg := conc.NewWaitGroup()
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			t.Bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			msg := update.Message
			wg.Go(
				func() {
					if err := t.handleMessage(ctx, msg); err != nil {
						t.logger.ErrorContext(ctx, "error handling message", slog.String("error", err.Error()))
					}
				},
			)
		}
	}
}

func (t *TelegramUsecase) handleMessage(ctx context.Context, msg *api.Message) error {
	chatID := msg.Chat.ID
	if msg.IsCommand() {
		language := local.Eng
		if msg.From != nil {
			language = local.FromAcceptLanguage(msg.From.LanguageCode)
		}
		return t.HandleCommand(ctx, chatID, language, msg.Command(), msg.CommandArguments())
	}
	return t.HandleText(ctx, chatID, msg.Text)
}

func (t *TelegramUsecase) allowed(chatID int64) bool {
	if len(t.allowedUsers) == 0 {
		return true
	}
	_, ok := t.allowedUsers[chatID]
	return ok
}

// HandleCommand answers a bot command. Replies that carry values are
// localized to language.
func (t *TelegramUsecase) HandleCommand(
	ctx context.Context, chatID int64, language local.Language, command, args string,
) error {
	if !t.allowed(chatID) {
		t.sendMessageAndHandleErr(ctx, chatID, MessageUserNoAccess)
		return nil
	}

	var answerText string
	switch command {
	case CommandStart:
		answerText = MessageCommandStart
	case CommandHelp:
		answerText = MessageCommandHelp
	case CommandPersona:
		personaID := strings.TrimSpace(args)
		if personaID == "" {
			answerText = MessagePersonaUsage
			if session := t.session(chatID); session != nil {
				answerText = MessagePersonaCurrent.Format(language, session.PersonaID())
			}
			break
		}
		session, err := t.selectPersona(ctx, chatID, personaID)
		if err != nil {
			t.sendMessageAndHandleErr(ctx, chatID, MessageServerError)
			return err
		}
		answerText = MessagePersonaSelected.Format(language, personaID, len(session.Messages()))
	case CommandNew:
		current := t.session(chatID)
		if current == nil {
			answerText = MessageSelectPersona
			break
		}
		session, err := t.Chat.OpenSession(ctx, uuid.New(), current.PersonaID())
		if err != nil {
			t.sendMessageAndHandleErr(ctx, chatID, MessageServerError)
			return fmt.Errorf("failed to open new session: %w", err)
		}
		t.setSession(chatID, session)
		answerText = MessageNewConversation.Format(language, session.PersonaID())
	default:
		answerText = MessageCommandUnknown
	}
	t.sendMessageAndHandleErr(ctx, chatID, answerText)
	return nil
}

func (t *TelegramUsecase) selectPersona(ctx context.Context, chatID int64, personaID string) (*Session, error) {
	session, err := t.Chat.OpenSession(ctx, ConversationID(chatID, personaID), personaID)
	if err != nil {
		return nil, fmt.Errorf("failed to open session with %s: %w", personaID, err)
	}
	t.setSession(chatID, session)
	return session, nil
}

func (t *TelegramUsecase) session(chatID int64) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[chatID]
}

func (t *TelegramUsecase) setSession(chatID int64, session *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[chatID] = session
}

// HandleText runs one turn and mirrors the growing reply into a single bot
// message.
func (t *TelegramUsecase) HandleText(ctx context.Context, chatID int64, text string) error {
	if !t.allowed(chatID) {
		t.sendMessageAndHandleErr(ctx, chatID, MessageUserNoAccess)
		return nil
	}

	session := t.session(chatID)
	if session == nil {
		if t.cfg.DefaultPersona == "" {
			t.sendMessageAndHandleErr(ctx, chatID, MessageSelectPersona)
			return nil
		}
		var err error
		if session, err = t.selectPersona(ctx, chatID, t.cfg.DefaultPersona); err != nil {
			t.sendMessageAndHandleErr(ctx, chatID, MessageServerError)
			return err
		}
	}

	answerChan := make(chan string)
	throttledAnswerChan := make(chan string)

	wg := conc.NewWaitGroup()
	wg.Go(
		func() {
			defer close(answerChan)
			result, err := t.Chat.Send(
				ctx, session, text, func(reply string) {
					answerChan <- reply
				},
			)
			var relayErr *client.RelayError
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, model.ErrTurnInProgress):
				t.sendMessageAndHandleErr(ctx, chatID, MessageTurnInProgress)
				return
			case errors.Is(err, model.ErrEmptyMessage):
				t.sendMessageAndHandleErr(ctx, chatID, MessageEmptyMessage)
				return
			case errors.As(err, &relayErr):
				t.sendMessageAndHandleErr(ctx, chatID, relayErr.Message)
				return
			default:
				t.sendMessageAndHandleErr(ctx, chatID, MessageServerError)
				t.logger.ErrorContext(ctx, "failed to run turn", slog.String("error", err.Error()))
				return
			}
			if result.Discarded > 0 {
				t.sendMessageAndHandleErr(ctx, chatID, MessageUndecodableSegments)
			}
			if !result.Completed {
				t.sendMessageAndHandleErr(ctx, chatID, MessageStreamInterrupted)
			}
		},
	)
	wg.Go(
		func() {
			lastUpdateTime := time.Now()
			var currentAnswer string
			for answer := range answerChan {
				currentAnswer = answer
				// Telegram rate-limits edits harder than its documented one
				// message per second.
				// https://core.telegram.org/bots/faq#my-bot-is-hitting-limits-how-do-i-avoid-this
				if lastUpdateTime.Add(t.cfg.EditInterval).Before(time.Now()) {
					throttledAnswerChan <- currentAnswer
					lastUpdateTime = time.Now()
				}
			}
			throttledAnswerChan <- currentAnswer
			close(throttledAnswerChan)
		},
	)
	wg.Go(
		func() {
			if _, err := t.Bot.Request(api.NewChatAction(chatID, api.ChatTyping)); err != nil {
				t.logger.WarnContext(ctx, "failed to send chat action", slog.String("error", err.Error()))
			}

			var (
				answerMsgID int
				shown       string
			)
			for currentAnswer := range throttledAnswerChan {
				if len(currentAnswer) == 0 || currentAnswer == shown {
					continue
				}
				if answerMsgID == 0 {
					answerMsg, err := t.sendMessage(chatID, currentAnswer)
					if err != nil {
						t.logger.ErrorContext(ctx, "failed to send answer", slog.String("error", err.Error()))
						continue
					}
					answerMsgID = answerMsg.MessageID
				} else if _, err := t.sendEditMessage(chatID, answerMsgID, currentAnswer); err != nil {
					t.logger.WarnContext(ctx, "failed to edit answer", slog.String("error", err.Error()))
					continue
				}
				shown = currentAnswer
			}
		},
	)

	wg.Wait()
	return nil
}

func (t *TelegramUsecase) sendMessageAndHandleErr(ctx context.Context, chatID int64, message string) api.Message {
	msg, err := t.sendMessage(chatID, message)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to send new message to bot", slog.String("error", err.Error()))
	}
	return msg
}

func (t *TelegramUsecase) sendMessage(chatID int64, message string) (api.Message, error) {
	return t.sendToBot(api.NewMessage(chatID, message))
}

func (t *TelegramUsecase) sendEditMessage(chatID int64, previousMsgID int, message string) (api.Message, error) {
	return t.sendToBot(api.NewEditMessageText(chatID, previousMsgID, message))
}

func (t *TelegramUsecase) sendToBot(c api.Chattable) (api.Message, error) {
	return t.Bot.Send(c)
}
