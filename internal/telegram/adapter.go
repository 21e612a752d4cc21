// Package telegram adapts the Telegram Bot API to the chat.Port boundary.
// Incoming messages become platform-neutral events for the aggregator;
// slash commands are handled synchronously at this edge.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/batalabs/knowd/internal/config"
	"github.com/batalabs/knowd/internal/docext"
	"github.com/batalabs/knowd/internal/domain"
)

const (
	// MaxMessageLen is the maximum Telegram message length.
	MaxMessageLen = 4096
	// downloadTimeout bounds a single attachment fetch.
	downloadTimeout = 60 * time.Second
	// eventQueueDepth buffers the adapter -> aggregator channel.
	eventQueueDepth = 64
)

// Adapter drives a Telegram bot: long-polls for updates, translates
// messages into domain events, and implements chat.Port for outbound
// status edits and replies.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	settings *config.Store
	logger   *config.Logger
	deps     Deps

	downloads string
	events    chan domain.IncomingEvent
}

type telegramBotLogger struct {
	adapter *Adapter
}

func (l *telegramBotLogger) Println(v ...interface{}) {
	if l == nil || l.adapter == nil {
		return
	}
	l.adapter.logf("telegram_api: %s", strings.TrimSpace(fmt.Sprint(v...)))
}

func (l *telegramBotLogger) Printf(format string, v ...interface{}) {
	if l == nil || l.adapter == nil {
		return
	}
	l.adapter.logf("telegram_api: "+format, v...)
}

// NewAdapter connects to Telegram and prepares the adapter. downloadsDir
// receives fetched attachments.
func NewAdapter(token string, settings *config.Store, deps Deps, logger *config.Logger, downloadsDir string) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting to Telegram: %w", err)
	}
	a := &Adapter{
		bot:       bot,
		settings:  settings,
		logger:    logger,
		deps:      deps,
		downloads: downloadsDir,
		events:    make(chan domain.IncomingEvent, eventQueueDepth),
	}
	// Redirect library polling logs (e.g. transient 502/Bad Gateway) to the
	// runtime log file so they don't land on stderr.
	if err := tgbotapi.SetLogger(&telegramBotLogger{adapter: a}); err != nil {
		fmt.Fprintf(os.Stderr, "telegram: set logger: %v\n", err)
	}
	return a, nil
}

// BotName returns the bot's username (without the @ prefix).
func (ta *Adapter) BotName() string {
	return ta.bot.Self.UserName
}

// Events is the stream of translated incoming events. Closed when Run
// returns.
func (ta *Adapter) Events() <-chan domain.IncomingEvent {
	return ta.events
}

// Run starts the long-polling loop. Blocks until the context is cancelled
// or the updates channel is closed, then closes the event stream.
func (ta *Adapter) Run(ctx context.Context) error {
	defer close(ta.events)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := ta.bot.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		ta.bot.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil {
			continue
		}
		ta.handleMessage(ctx, update.Message)
	}

	return ctx.Err()
}

// IsPrivateChat returns true if the chat is a private (one-on-one) chat.
func IsPrivateChat(chat *tgbotapi.Chat) bool {
	return chat != nil && chat.Type == "private"
}

func (ta *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	// Reject non-private chats (groups, supergroups, channels).
	if !IsPrivateChat(msg.Chat) {
		ta.logf("telegram: rejected %s chat %d", msg.Chat.Type, chatID)
		ta.reply(chatID, "This bot only works in private messages.")
		return
	}
	if msg.From == nil {
		return
	}
	userID := msg.From.ID

	if !ta.settings.Base().UserAllowed(userID) {
		ta.logf("telegram: unauthorized user %d (%s) attempted access", userID, msg.From.UserName)
		ta.reply(chatID, "You are not authorized to use this bot.")
		return
	}

	if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
		ta.handleCommand(ctx, msg)
		return
	}

	ev := ta.toEvent(msg)
	if ev.Text == "" && len(ev.Media) == 0 {
		return
	}
	ta.fetchMedia(ctx, &ev)

	select {
	case ta.events <- ev:
	case <-ctx.Done():
	}
}

// toEvent translates a Telegram message into the platform-neutral DTO.
func (ta *Adapter) toEvent(msg *tgbotapi.Message) domain.IncomingEvent {
	ev := domain.IncomingEvent{
		EventID:      int64(msg.MessageID),
		ChatID:       msg.Chat.ID,
		UserID:       msg.From.ID,
		Text:         strings.TrimSpace(msg.Text),
		ContentType:  domain.ContentText,
		Timestamp:    msg.Time(),
		MediaGroupID: msg.MediaGroupID,
	}

	if len(msg.Photo) > 0 {
		// Telegram sends multiple resolutions; the last is the largest.
		p := msg.Photo[len(msg.Photo)-1]
		ev.Media = append(ev.Media, domain.Media{
			Kind:       "photo",
			FileHandle: p.FileID,
			Caption:    strings.TrimSpace(msg.Caption),
			Digest:     p.FileUniqueID,
		})
		ev.ContentType = domain.ContentPhoto
	}
	if msg.Document != nil {
		ev.Media = append(ev.Media, domain.Media{
			Kind:       "document",
			FileHandle: msg.Document.FileID,
			Caption:    strings.TrimSpace(msg.Caption),
			Filename:   msg.Document.FileName,
			Digest:     msg.Document.FileUniqueID,
		})
		ev.ContentType = domain.ContentDocument
	}

	switch {
	case msg.ForwardFromChat != nil:
		ev.Forward = &domain.ForwardSource{ID: msg.ForwardFromChat.ID, Title: msg.ForwardFromChat.Title}
		ev.ContentType = domain.ContentForwarded
	case msg.ForwardFrom != nil:
		title := strings.TrimSpace(msg.ForwardFrom.FirstName + " " + msg.ForwardFrom.LastName)
		if title == "" {
			title = msg.ForwardFrom.UserName
		}
		ev.Forward = &domain.ForwardSource{ID: msg.ForwardFrom.ID, Title: title}
		ev.ContentType = domain.ContentForwarded
	}

	if ev.Text == "" && len(ev.Media) == 0 && msg.Caption != "" {
		ev.Text = strings.TrimSpace(msg.Caption)
	}
	return ev
}

// fetchMedia downloads each attachment and, for extractable documents,
// folds the extracted text into the event. Download failures are logged
// and the attachment carried without a local copy.
func (ta *Adapter) fetchMedia(ctx context.Context, ev *domain.IncomingEvent) {
	for i := range ev.Media {
		m := &ev.Media[i]
		path, err := ta.download(ctx, m)
		if err != nil {
			ta.logf("telegram: download %s %s: %v", m.Kind, m.FileHandle, err)
			continue
		}
		m.LocalPath = path

		if m.Kind == "document" && docext.Supported(m.Filename) {
			text, err := docext.Extract(path, "")
			if err != nil {
				ta.logf("telegram: extract %s: %v", m.Filename, err)
				continue
			}
			if text != "" {
				header := fmt.Sprintf("Extracted from %s:", m.Filename)
				if ev.Text != "" {
					ev.Text += "\n\n"
				}
				ev.Text += header + "\n" + text
			}
		}
	}
}

func (ta *Adapter) download(ctx context.Context, m *domain.Media) (string, error) {
	url, err := ta.bot.GetFileDirectURL(m.FileHandle)
	if err != nil {
		return "", fmt.Errorf("resolving file url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching attachment: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(ta.downloads, 0o700); err != nil {
		return "", err
	}
	name := m.Digest
	if name == "" {
		name = m.FileHandle
	}
	if ext := filepath.Ext(m.Filename); ext != "" {
		name += ext
	}
	path := filepath.Join(ta.downloads, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", fmt.Errorf("writing attachment: %w", err)
	}
	return path, nil
}

// ---------------------------------------------------------------------------
// chat.Port
// ---------------------------------------------------------------------------

// SendText renders markdown to Telegram HTML and sends it, splitting
// oversized messages. Falls back to plain text when Telegram rejects the
// HTML. Returns the message id of the first part sent.
func (ta *Adapter) SendText(_ context.Context, chatID int64, text string) (int, error) {
	text = stripANSI(text)
	id := 0
	if ta.sendOrSplit(chatID, &id, RenderHTML(text), tgbotapi.ModeHTML) {
		return id, nil
	}
	id = 0
	if ta.sendOrSplit(chatID, &id, text, "") {
		return id, nil
	}
	return 0, domain.Errf(domain.KindInternal, "telegram rejected message to chat %d", chatID)
}

// EditText replaces the text of an already-sent message, splitting any
// overflow into follow-up messages.
func (ta *Adapter) EditText(_ context.Context, chatID int64, messageID int, text string) error {
	text = stripANSI(text)
	id := messageID
	if ta.sendOrSplit(chatID, &id, RenderHTML(text), tgbotapi.ModeHTML) {
		return nil
	}
	id = messageID
	if ta.sendOrSplit(chatID, &id, text, "") {
		return nil
	}
	return domain.Errf(domain.KindInternal, "telegram rejected edit of message %d", messageID)
}

// SendDocument uploads a file with an optional caption.
func (ta *Adapter) SendDocument(_ context.Context, chatID int64, filename string, data []byte, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = caption
	if _, err := ta.bot.Send(doc); err != nil {
		return domain.E(domain.KindInternal, "sending document", err)
	}
	return nil
}

// Delete removes a message, typically one that carried a secret.
func (ta *Adapter) Delete(_ context.Context, chatID int64, messageID int) error {
	if _, err := ta.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return domain.E(domain.KindInternal, "deleting message", err)
	}
	return nil
}

// reply sends a plain-text message, splitting if needed. Errors are logged.
func (ta *Adapter) reply(chatID int64, text string) {
	id := 0
	if !ta.sendOrSplit(chatID, &id, text, "") {
		ta.logf("telegram: reply to chat %d failed", chatID)
	}
}

// sendOrSplit sends text, splitting if it exceeds Telegram's limit. If a
// message id is already set, the first part edits it and overflow goes out
// as new messages. parseMode can be tgbotapi.ModeHTML or "" for plain text.
// Returns false if Telegram rejected the first part (e.g. bad HTML).
func (ta *Adapter) sendOrSplit(chatID int64, sentMsgID *int, text, parseMode string) bool {
	parts := splitPlain(text, MaxMessageLen)
	if parseMode == tgbotapi.ModeHTML {
		parts = splitHTML(text, MaxMessageLen)
	}
	if len(parts) == 0 {
		return true
	}

	for i, part := range parts {
		if i == 0 && *sentMsgID != 0 {
			edit := tgbotapi.NewEditMessageText(chatID, *sentMsgID, part)
			if parseMode != "" {
				edit.ParseMode = parseMode
			}
			if _, err := ta.bot.Send(edit); err != nil {
				return false
			}
		} else if i == 0 {
			reply := tgbotapi.NewMessage(chatID, part)
			if parseMode != "" {
				reply.ParseMode = parseMode
			}
			sent, err := ta.bot.Send(reply)
			if err != nil {
				return false
			}
			*sentMsgID = sent.MessageID
		} else {
			reply := tgbotapi.NewMessage(chatID, part)
			if parseMode != "" {
				reply.ParseMode = parseMode
			}
			ta.bot.Send(reply)
		}
	}
	return true
}

func (ta *Adapter) logf(format string, args ...any) {
	if ta.logger != nil {
		ta.logger.Printf(format, args...)
	}
}
