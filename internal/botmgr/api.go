package botmgr

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI is the slice of the Telegram API a session uses. Tests inject a
// fake; production wraps tgbotapi.BotAPI.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Self() tgbotapi.User
}

// APIFactory constructs a live API connection for a credential. A failed
// construction (invalid token) surfaces as a registration failure.
type APIFactory func(credential string) (BotAPI, error)

type telegramAPI struct {
	*tgbotapi.BotAPI
}

func (t *telegramAPI) Self() tgbotapi.User {
	return t.BotAPI.Self
}

// TelegramFactory dials the real Telegram Bot API.
func TelegramFactory(credential string) (BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(credential)
	if err != nil {
		return nil, err
	}
	return &telegramAPI{api}, nil
}
