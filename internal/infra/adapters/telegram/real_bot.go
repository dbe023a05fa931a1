package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-image-editor/internal/application"
	"telegram-image-editor/internal/config"
	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/adapter"
	"telegram-image-editor/internal/infra/logging"
	"telegram-image-editor/internal/infra/metrics"
)

var _ adapter.TelegramBotAdapter = (*RealTelegramBotAdapter)(nil)

// RealTelegramBotAdapter uses tgbotapi to poll updates and delegates to BotFacade.
type RealTelegramBotAdapter struct {
	bot      *tgbotapi.BotAPI
	cfg      *config.BotConfig
	facade   *application.BotFacade
	http     *http.Client
	maxBytes int

	adminIDsMap   map[int64]struct{}
	updateWorkers int
	log           *zerolog.Logger
}

// NewRealTelegramBotAdapter connects to the Bot API. maxImageBytes bounds
// every file download.
func NewRealTelegramBotAdapter(cfg *config.BotConfig, facade *application.BotFacade, maxImageBytes int, logger *zerolog.Logger) (*RealTelegramBotAdapter, error) {
	if cfg == nil {
		return nil, errors.New("bot config is nil")
	}
	if facade == nil {
		return nil, errors.New("bot facade is nil")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}

	adminMap := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		adminMap[id] = struct{}{}
	}
	l := logger.With().Str("component", "TelegramBot").Str("bot", bot.Self.UserName).Logger()
	return &RealTelegramBotAdapter{
		bot:           bot,
		cfg:           cfg,
		facade:        facade,
		http:          &http.Client{Timeout: 60 * time.Second},
		maxBytes:      maxImageBytes,
		adminIDsMap:   adminMap,
		updateWorkers: workers,
		log:           &l,
	}, nil
}

// StartPolling fans updates out to the worker goroutines until ctx ends.
func (r *RealTelegramBotAdapter) StartPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := r.bot.GetUpdatesChan(u)

	defer r.bot.StopReceivingUpdates()

	if err := r.SetMenuCommands(ctx, 0, false); err != nil {
		r.log.Warn().Err(err).Msg("failed to set default menu commands")
	}

	var wg sync.WaitGroup
	updateChan := make(chan tgbotapi.Update, 100)

	for i := 0; i < r.updateWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for up := range updateChan {
				if err := r.handleUpdate(ctx, up); err != nil {
					r.log.Error().Err(err).Int("worker", id).Int("update_id", up.UpdateID).Msg("update failed")
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			close(updateChan)
			wg.Wait()
			return ctx.Err()
		case up := <-updates:
			updateChan <- up
		}
	}
}

func (r *RealTelegramBotAdapter) isAdmin(tgID int64) bool {
	_, ok := r.adminIDsMap[tgID]
	return ok
}

func (r *RealTelegramBotAdapter) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// SendButtons sends a message with inline buttons. A button opens btn.URL when
// set, otherwise it sends btn.Data (or its label) as callback data.
func (r *RealTelegramBotAdapter) SendButtons(ctx context.Context, chatID int64, text string, rows [][]adapter.InlineButton) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if markup, ok := inlineKeyboard(rows); ok {
		msg.ReplyMarkup = markup
	}
	_, err := r.bot.Send(msg)
	return err
}

func (r *RealTelegramBotAdapter) SendPhoto(ctx context.Context, chatID int64, p adapter.Photo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: p.FileName, Bytes: p.Data})
	msg.Caption = p.Caption
	if markup, ok := inlineKeyboard(p.Buttons); ok {
		msg.ReplyMarkup = markup
	}
	_, err := r.bot.Send(msg)
	return err
}

func (r *RealTelegramBotAdapter) SendProgress(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent, err := r.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (r *RealTelegramBotAdapter) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

func inlineKeyboard(rows [][]adapter.InlineButton) (tgbotapi.InlineKeyboardMarkup, bool) {
	kbRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		kr := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			label := strings.TrimSpace(btn.Text)
			if label == "" {
				label = "•"
			}
			switch {
			case btn.URL != "":
				kr = append(kr, tgbotapi.NewInlineKeyboardButtonURL(label, btn.URL))
			case btn.Data != "":
				kr = append(kr, tgbotapi.NewInlineKeyboardButtonData(label, btn.Data))
			default:
				kr = append(kr, tgbotapi.NewInlineKeyboardButtonData(label, label))
			}
		}
		kbRows = append(kbRows, kr)
	}
	if len(kbRows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(kbRows...), true
}

// SetMenuCommands publishes the command list; chatID 0 sets the default list.
func (r *RealTelegramBotAdapter) SetMenuCommands(ctx context.Context, chatID int64, isAdmin bool) error {
	cmds := []tgbotapi.BotCommand{
		{Command: "start", Description: "Start the bot"},
		{Command: "help", Description: "How to edit an image"},
		{Command: "settings", Description: "Aspect ratio and output format"},
		{Command: "stats", Description: "Your edit statistics"},
		{Command: "history", Description: "Your recent edits"},
		{Command: "retry", Description: "Retry the last failed edit"},
		{Command: "cancel", Description: "Cancel running edits"},
		{Command: "about", Description: "About this bot"},
	}
	if isAdmin {
		cmds = append(cmds, tgbotapi.BotCommand{Command: "admin_stats", Description: "Bot statistics"})
	}
	cfg := tgbotapi.NewSetMyCommands(cmds...)
	if chatID != 0 {
		cfg = tgbotapi.NewSetMyCommandsWithScope(tgbotapi.NewBotCommandScopeChat(chatID), cmds...)
	}
	_, err := r.bot.Request(cfg)
	return err
}

func (r *RealTelegramBotAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	ctx = logging.WithTraceID(ctx, fmt.Sprintf("upd-%d", update.UpdateID))
	if update.CallbackQuery != nil {
		metrics.IncTelegramUpdate("callback")
		return r.handleQuery(ctx, update.CallbackQuery)
	}
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return nil
	}
	ctx = logging.WithTgID(ctx, msg.From.ID)
	in := incomingFrom(msg.From, msg.Chat.ID, msg.MessageID, msg.Text)

	if msg.IsCommand() {
		metrics.IncTelegramUpdate(msg.Command())
		in.Text = strings.TrimSpace(msg.CommandArguments())
		if fn, ok := r.commandRoutes()[msg.Command()]; ok {
			return fn(ctx, in)
		}
		return r.facade.HandleUnknown(ctx, in)
	}

	switch {
	case len(msg.Photo) > 0:
		metrics.IncTelegramUpdate("photo")
		// Sizes are ordered smallest first.
		largest := msg.Photo[len(msg.Photo)-1]
		return r.handleFile(ctx, in, largest.FileID, "photo.jpg")
	case msg.Document != nil:
		metrics.IncTelegramUpdate("document")
		return r.handleFile(ctx, in, msg.Document.FileID, msg.Document.FileName)
	case strings.TrimSpace(msg.Text) != "":
		metrics.IncTelegramUpdate("prompt")
		return r.facade.HandlePrompt(ctx, in)
	}
	return nil
}

func (r *RealTelegramBotAdapter) handleFile(ctx context.Context, in application.Incoming, fileID, fileName string) error {
	data, err := r.download(ctx, fileID)
	if err != nil {
		logging.With(ctx, r.log).Warn().Err(err).Str("file_id", fileID).Msg("download failed")
		return r.facade.HandleDownloadFailed(ctx, in)
	}
	return r.facade.HandleImage(ctx, in, data, fileName)
}

// download fetches at most maxBytes+1 bytes so oversize files fail validation
// without being read in full.
func (r *RealTelegramBotAdapter) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := r.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram file download: status %d", resp.StatusCode)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, int64(r.maxBytes)+1)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *RealTelegramBotAdapter) handleQuery(ctx context.Context, query *tgbotapi.CallbackQuery) error {
	if query == nil || query.From == nil {
		return errors.New("invalid callback query")
	}
	// Stop the client spinner.
	defer func() { _, _ = r.bot.Request(tgbotapi.NewCallback(query.ID, "")) }()

	chatID := query.From.ID
	messageID := 0
	if query.Message != nil && query.Message.Chat != nil {
		chatID = query.Message.Chat.ID
		messageID = query.Message.MessageID
	}
	ctx = logging.WithTgID(ctx, query.From.ID)
	data := strings.TrimSpace(query.Data)
	in := incomingFrom(query.From, chatID, messageID, data)

	if fn, ok := r.cbRoutes()[data]; ok {
		return fn(ctx, in, data)
	}
	for _, pr := range r.cbPrefixRoutes() {
		if strings.HasPrefix(data, pr.Prefix) {
			return pr.Fn(ctx, in, strings.TrimPrefix(data, pr.Prefix))
		}
	}
	return fmt.Errorf("unknown callback data %q", data)
}

func incomingFrom(u *tgbotapi.User, chatID int64, messageID int, text string) application.Incoming {
	return application.Incoming{
		Profile: model.TelegramProfile{
			TelegramID:   u.ID,
			Username:     u.UserName,
			FirstName:    u.FirstName,
			LastName:     u.LastName,
			LanguageCode: u.LanguageCode,
		},
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	}
}
