// Package notify delivers fired trigger cards.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"calwatch/internal/flow"
	appLog "calwatch/internal/log"
)

// Log writes every notification to the log.
type Log struct{}

func (Log) Notify(_ context.Context, n flow.Notification) error {
	appLog.Info("trigger fired", "card", n.Card, "subscription", n.Subscription.ID, "tokens", n.Tokens.String())
	return nil
}

// Multi fans out to all notifiers and joins their errors.
type Multi []flow.Notifier

func (m Multi) Notify(ctx context.Context, n flow.Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sender is the part of the Telegram bot API used here.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts notifications into one chat.
type Telegram struct {
	api    Sender
	chatID int64
}

// NewTelegram connects to the bot API with token.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramWithSender(api, chatID), nil
}

func NewTelegramWithSender(api Sender, chatID int64) *Telegram {
	return &Telegram{api: api, chatID: chatID}
}

func (t *Telegram) Notify(ctx context.Context, n flow.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, FormatMessage(n))
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

var cardTitles = map[string]string{
	flow.CardEventStarts:         "Event starts",
	flow.CardEventStartsCalendar: "Event starts",
	flow.CardEventStops:          "Event stops",
	flow.CardEventStartsIn:       "Event starts in %d minutes",
	flow.CardEventStopsIn:        "Event stops in %d minutes",
	flow.CardEventAdded:          "Event added",
	flow.CardCalendarChanged:     "Calendar changed",
}

// FormatMessage renders a notification as plain text.
func FormatMessage(n flow.Notification) string {
	title, ok := cardTitles[n.Card]
	if !ok {
		title = n.Card
	}
	if strings.Contains(title, "%d") {
		title = fmt.Sprintf(title, n.State.When)
	}

	var b strings.Builder
	b.WriteString(title)
	for _, key := range []string{"event_calendar_name", "event_name", "event_location", "event_duration_readable", "calendar_name"} {
		v, ok := n.Tokens[key]
		if !ok {
			continue
		}
		s := fmt.Sprint(v)
		if s == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(s)
	}
	return b.String()
}
