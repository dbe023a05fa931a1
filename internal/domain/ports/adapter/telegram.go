package adapter

import "context"

type InlineButton struct {
	Text string
	Data string
	URL  string
}

type Photo struct {
	FileName string
	Data     []byte
	Caption  string
	Buttons  [][]InlineButton
}

type TelegramBotAdapter interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendButtons(ctx context.Context, chatID int64, text string, rows [][]InlineButton) error
	SendPhoto(ctx context.Context, chatID int64, photo Photo) error
	// SendProgress sends a transient message and returns its id for DeleteMessage.
	SendProgress(ctx context.Context, chatID int64, text string) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}
