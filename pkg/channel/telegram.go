package channel

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/hexclaw/hexclaw/pkg/approval"
	"github.com/hexclaw/hexclaw/pkg/log"
)

// CallbackHandler receives button-press payloads; the approval gate's Resolve
// method is the production handler.
type CallbackHandler func(payload string) bool

// CommandHandler receives one operator command line and returns the reply
// text (empty for no reply). It runs on its own goroutine per command, so
// blocking flows (orchestrate approval) are fine.
type CommandHandler func(ctx context.Context, command string) string

// Telegram is the production operator transport: a long-polling bot bound to
// a single allowlisted chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

// NewTelegram authenticates the bot. chatID is the only chat the transport
// will talk to or accept commands from.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, logger: log.WithComponent("telegram")}, nil
}

// SendText implements Transport, chunking to the per-message cap.
func (t *Telegram) SendText(_ context.Context, markdown string) error {
	for _, part := range chunk(markdown, MaxMessageRunes) {
		msg := tgbotapi.NewMessage(t.chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := t.bot.Send(msg); err != nil {
			// Markdown can fail on unbalanced markers in tool output;
			// retry the chunk as plain text.
			msg.ParseMode = ""
			if _, err := t.bot.Send(msg); err != nil {
				return fmt.Errorf("telegram send: %w", err)
			}
		}
	}
	return nil
}

// SendFile implements Transport.
func (t *Telegram) SendFile(_ context.Context, path, caption string) error {
	doc := tgbotapi.NewDocument(t.chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	if _, err := t.bot.Send(doc); err != nil {
		return fmt.Errorf("telegram send file: %w", err)
	}
	return nil
}

// SendButtons implements Transport and approval.Prompter. Buttons render as
// an inline keyboard, one per row.
func (t *Telegram) SendButtons(_ context.Context, prompt string, buttons []approval.Button) error {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Payload),
		))
	}
	msg := tgbotapi.NewMessage(t.chatID, prompt)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send buttons: %w", err)
	}
	return nil
}

// Listen long-polls updates until ctx is cancelled. Messages from the
// allowlisted chat go to commands (one goroutine each); button presses go to
// callbacks. Unknown senders get a minimal rejection and a log line.
func (t *Telegram) Listen(ctx context.Context, commands CommandHandler, callbacks CallbackHandler) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := t.bot.GetUpdatesChan(cfg)

	t.logger.Info().Str("bot", t.bot.Self.UserName).Msg("Telegram transport listening")
	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, update, commands, callbacks)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update, commands CommandHandler, callbacks CallbackHandler) {
	if cq := update.CallbackQuery; cq != nil {
		// Ack first so the button stops spinning, even for late presses.
		if _, err := t.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			t.logger.Debug().Err(err).Msg("Callback ack failed")
		}
		if cq.Message != nil && cq.Message.Chat.ID != t.chatID {
			t.logger.Warn().Int64("chat", cq.Message.Chat.ID).Msg("Callback from non-allowlisted chat ignored")
			return
		}
		if callbacks != nil {
			callbacks(cq.Data)
		}
		return
	}

	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}
	if msg.Chat.ID != t.chatID {
		t.logger.Warn().Int64("chat", msg.Chat.ID).Str("from", msg.From.UserName).
			Msg("Command from non-allowlisted chat rejected")
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Unauthorized.")
		if _, err := t.bot.Send(reply); err != nil {
			t.logger.Debug().Err(err).Msg("Rejection send failed")
		}
		return
	}

	if commands == nil {
		return
	}
	go func(text string) {
		if reply := commands(ctx, text); reply != "" {
			if err := t.SendText(ctx, reply); err != nil {
				t.logger.Warn().Err(err).Msg("Command reply failed")
			}
		}
	}(msg.Text)
}
