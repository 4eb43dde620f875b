package notify

import (
	"context"
	"fmt"
	"html"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"tutorflow/dispute"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Labeler turns status codes into display text.
type Labeler interface {
	StatusLabel(s dispute.Status) string
}

// TelegramSink alerts the staff chat when a dispute enters the review queue.
// Other transitions are ignored.
type TelegramSink struct {
	sender  messageSender
	chatID  int64
	labeler Labeler
}

// NewTelegramBot creates the bot client used by TelegramSink.
func NewTelegramBot(token string) (*bot.Bot, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return b, nil
}

func NewTelegramSink(sender messageSender, chatID int64, labeler Labeler) *TelegramSink {
	return &TelegramSink{sender: sender, chatID: chatID, labeler: labeler}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Deliver(ctx context.Context, event dispute.Event) error {
	if event.NewStatus != dispute.StatusAwaitingStaffReview {
		return nil
	}
	_, err := s.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    s.chatID,
		Text:      s.reviewAlert(event),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("send staff alert: %w", err)
	}
	return nil
}

func (s *TelegramSink) reviewAlert(event dispute.Event) string {
	trigger := "tutor responded"
	if event.ActorID == dispute.SystemActorID {
		trigger = "reconciliation window expired without a tutor response"
	}
	return fmt.Sprintf(
		"⚖️ <b>%s</b> is now <i>%s</i>\nTrigger: %s\nAt: %s",
		html.EscapeString(event.CaseNumber),
		html.EscapeString(s.labeler.StatusLabel(event.NewStatus)),
		trigger,
		event.OccurredAt.UTC().Format("2006-01-02 15:04 MST"),
	)
}
