// Package telegram adapts the go-telegram/bot client to the warden
// transport contract. It maps Telegram updates onto normalized
// inbound messages and renders warden's suffix-form identities back
// into Telegram chat ids.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/lbento/warden/internal/identity"
	"github.com/lbento/warden/internal/transport"
)

// Identity suffixes. Individual senders and private chats carry the
// user suffix; group chats the group suffix; channel posts the
// broadcast suffix. The archive derives its category from these.
const (
	userSuffix      = "@c.telegram"
	groupSuffix     = "@g.telegram"
	broadcastSuffix = "@broadcast"
)

// maxMediaBytes caps attachment downloads; larger payloads are
// archived as metadata-only messages.
const maxMediaBytes = 20 << 20

// Transport is the Telegram-backed transport.
type Transport struct {
	logger   *slog.Logger
	bot      *tgbot.Bot
	messages chan transport.Message
	selfID   string
	http     *http.Client
}

// New creates a Telegram transport from a bot token.
func New(token string, logger *slog.Logger) (*Transport, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Transport{
		logger:   logger.With("component", "telegram_transport"),
		messages: make(chan transport.Message, 64),
		http:     &http.Client{Timeout: 30 * time.Second},
	}

	b, err := tgbot.New(token,
		tgbot.WithDefaultHandler(t.onUpdate),
		tgbot.WithSkipGetMe(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	t.bot = b

	return t, nil
}

// Start resolves the bot's own identity and begins long polling. It
// blocks until the context is canceled.
func (t *Transport) Start(ctx context.Context) error {
	me, err := t.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve bot identity: %w", err)
	}
	t.selfID = formatUser(me.ID)
	t.logger.Info("Telegram transport connected", "username", me.Username, "self_id", t.selfID)

	t.bot.Start(ctx)
	close(t.messages)
	return nil
}

// Messages returns the inbound event stream.
func (t *Transport) Messages() <-chan transport.Message {
	return t.messages
}

// SelfID returns the bot's own raw identity. Empty before Start.
func (t *Transport) SelfID() string {
	return t.selfID
}

// SendText sends a text reply to a conversation.
func (t *Transport) SendText(ctx context.Context, conversationID, text string) error {
	chatID, err := parseConversation(conversationID)
	if err != nil {
		return err
	}
	_, err = t.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", conversationID, err)
	}
	return nil
}

// SendMedia sends a media payload as a document upload.
func (t *Transport) SendMedia(ctx context.Context, conversationID string, media transport.Media, caption string) error {
	chatID, err := parseConversation(conversationID)
	if err != nil {
		return err
	}

	name := media.FileName
	if name == "" {
		name = "file"
	}
	_, err = t.bot.SendDocument(ctx, &tgbot.SendDocumentParams{
		ChatID:   chatID,
		Document: &models.InputFileUpload{Filename: name, Data: bytes.NewReader(media.Data)},
		Caption:  caption,
	})
	if err != nil {
		return fmt.Errorf("failed to send media to %s: %w", conversationID, err)
	}
	return nil
}

// SendTyping shows the transient typing indicator.
func (t *Transport) SendTyping(ctx context.Context, conversationID string) error {
	chatID, err := parseConversation(conversationID)
	if err != nil {
		return err
	}
	_, err = t.bot.SendChatAction(ctx, &tgbot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	})
	if err != nil {
		return fmt.Errorf("failed to send typing action to %s: %w", conversationID, err)
	}
	return nil
}

// onUpdate maps one Telegram update onto the normalized inbound form
// and delivers it. Non-message updates are dropped.
func (t *Transport) onUpdate(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil {
		return
	}

	inbound := transport.Message{
		ID:           strconv.Itoa(msg.ID),
		Conversation: formatChat(&msg.Chat),
		Text:         msg.Text,
		Kind:         "text",
		Timestamp:    time.Unix(int64(msg.Date), 0).UTC(),
	}
	if msg.From != nil {
		inbound.Sender = formatUser(msg.From.ID)
		inbound.FromSelf = inbound.Sender == t.selfID
	}
	if inbound.Text == "" {
		inbound.Text = msg.Caption
	}

	t.attachMedia(ctx, msg, &inbound)

	select {
	case t.messages <- inbound:
	case <-ctx.Done():
	}
}

// attachMedia downloads the message's attachment, if any, and sets
// the message kind accordingly. Download failures degrade to a
// metadata-only message.
func (t *Transport) attachMedia(ctx context.Context, msg *models.Message, inbound *transport.Message) {
	var (
		fileID   string
		fileName string
		mimeType string
		size     int64
	)

	switch {
	case len(msg.Photo) > 0:
		// Telegram sends multiple sizes; the last one is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		fileID, mimeType, size = photo.FileID, "image/jpeg", int64(photo.FileSize)
		inbound.Kind = "image"
	case msg.Document != nil:
		fileID, fileName, mimeType, size = msg.Document.FileID, msg.Document.FileName, msg.Document.MimeType, msg.Document.FileSize
		inbound.Kind = "document"
	case msg.Voice != nil:
		fileID, mimeType, size = msg.Voice.FileID, msg.Voice.MimeType, msg.Voice.FileSize
		inbound.Kind = "voice"
	case msg.Video != nil:
		fileID, fileName, mimeType, size = msg.Video.FileID, msg.Video.FileName, msg.Video.MimeType, msg.Video.FileSize
		inbound.Kind = "video"
	default:
		return
	}

	if size > maxMediaBytes {
		t.logger.Warn("Skipping media download, payload too large",
			"message_id", inbound.ID, "size", size)
		return
	}

	data, err := t.download(ctx, fileID)
	if err != nil {
		t.logger.Warn("Failed to download media, archiving message without payload",
			"message_id", inbound.ID, "error", err)
		return
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	inbound.Media = &transport.Media{
		Data:     data,
		MimeType: mimeType,
		FileName: fileName,
	}
}

func (t *Transport) download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := t.bot.GetFile(ctx, &tgbot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.bot.FileDownloadLink(file), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
}

// formatUser renders a Telegram user id as a warden identity.
func formatUser(id int64) string {
	return strconv.FormatInt(id, 10) + userSuffix
}

// formatChat renders a Telegram chat as a warden conversation
// identity. Group and supergroup ids are negative in the API; the
// digits are kept and the category moves into the suffix.
func formatChat(chat *models.Chat) string {
	id := chat.ID
	if id < 0 {
		id = -id
	}
	digits := strconv.FormatInt(id, 10)

	switch chat.Type {
	case "group", "supergroup":
		return digits + groupSuffix
	case "channel":
		return digits + broadcastSuffix
	default:
		return digits + userSuffix
	}
}

// parseConversation maps a warden conversation identity back to a
// Telegram chat id.
func parseConversation(conversationID string) (int64, error) {
	digits := identity.Normalize(conversationID)
	if digits == "" {
		return 0, fmt.Errorf("invalid conversation identity %q", conversationID)
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid conversation identity %q: %w", conversationID, err)
	}

	if strings.HasSuffix(conversationID, groupSuffix) || strings.HasSuffix(conversationID, broadcastSuffix) {
		// Telegram group and channel ids are negative, and
		// supergroups/channels carry a -100 prefix that survives in
		// the digit form.
		return -id, nil
	}
	return id, nil
}
