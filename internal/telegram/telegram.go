// Package telegram lets the same commands be used from a Telegram chat.
// Chats are identified as "tg:<chat id>" so their sessions never collide
// with phone numbers.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"

	"github.com/bborn/textline/internal/bot"
)

const senderPrefix = "tg:"

type Handler interface {
	Handle(ctx context.Context, msg bot.Inbound) string
}

type Config struct {
	Token string
	// APIEndpoint and FileEndpoint default to Telegram's public servers
	APIEndpoint  string
	FileEndpoint string
	Logger       *slog.Logger
}

type Channel struct {
	api          *tgbotapi.BotAPI
	http         *resty.Client
	fileEndpoint string
	log          *slog.Logger
}

func New(cfg Config) (*Channel, error) {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = tgbotapi.FileEndpoint
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("Authorized on Telegram", "account", api.Self.UserName)

	return &Channel{
		api:          api,
		http:         resty.New(),
		fileEndpoint: cfg.FileEndpoint,
		log:          logger,
	}, nil
}

func (c *Channel) Name() string { return "telegram" }

// Send posts body to the chat named by a "tg:<chat id>" identity. from is
// ignored; Telegram replies always come from the bot.
func (c *Channel) Send(_ context.Context, to, _ string, body string) error {
	chatID, err := ChatID(to)
	if err != nil {
		return err
	}
	if _, err := c.api.Send(tgbotapi.NewMessage(chatID, body)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// FetchMedia downloads a photo by file id
func (c *Channel) FetchMedia(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := c.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up file: %w", err)
	}
	resp, err := c.http.R().SetContext(ctx).Get(fmt.Sprintf(c.fileEndpoint, c.api.Token, file.FilePath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to download file: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("failed to download file: %s", resp.Status())
	}
	// Telegram serves photos as octet-stream but always re-encodes them as JPEG
	return resp.Body(), "image/jpeg", nil
}

// Run long-polls for updates until ctx is cancelled. Each message is
// handled in turn and the immediate reply is sent back to its chat.
func (c *Channel) Run(ctx context.Context, h Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := c.api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		c.api.StopReceivingUpdates()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			msg := Inbound(update.Message)
			if reply := h.Handle(ctx, msg); reply != "" {
				if err := c.Send(ctx, msg.From, "", reply); err != nil {
					c.log.Error("Error sending message", "chat", update.Message.Chat.ID, "error", err)
				}
			}
		}
	}
}

// Inbound converts a Telegram message into the bot's channel-neutral form.
// /start and /help map to the help command and the largest photo size is
// used as the attachment.
func Inbound(m *tgbotapi.Message) bot.Inbound {
	msg := bot.Inbound{
		Channel: "telegram",
		From:    senderPrefix + strconv.FormatInt(m.Chat.ID, 10),
		Body:    lo.Ternary(m.Text != "", m.Text, m.Caption),
	}
	if m.IsCommand() {
		switch m.Command() {
		case "start", "help":
			msg.Body = "how"
		default:
			msg.Body = strings.TrimSpace(m.Command() + " " + m.CommandArguments())
		}
	}
	if len(m.Photo) > 0 {
		msg.MediaURL = m.Photo[len(m.Photo)-1].FileID
		msg.MediaType = "image/jpeg"
	}
	return msg
}

// ChatID extracts the chat id from a "tg:<chat id>" identity
func ChatID(identity string) (int64, error) {
	raw, ok := strings.CutPrefix(identity, senderPrefix)
	if !ok {
		return 0, fmt.Errorf("not a telegram identity: %q", identity)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", raw, err)
	}
	return id, nil
}
