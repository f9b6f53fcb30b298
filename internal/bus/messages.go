package bus

import (
	"fmt"

	"github.com/go-telegram/bot/models"
)

// MessageParams carries the caller-owned parts of a new message. The
// bus assigns the identity (per-chat message id, date, chat object) and
// fills From with the bot's own user when none is given.
type MessageParams struct {
	ChatID           int64
	From             *models.User
	Text             string
	Caption          string
	Entities         []models.MessageEntity
	ReplyMarkup      *models.InlineKeyboardMarkup
	ReplyToMessageID int
	Document         *models.Document
	Photo            []models.PhotoSize
	Audio            *models.Audio
	Video            *models.Video
	Voice            *models.Voice
	Animation        *models.Animation
}

// CreateMessage stores a new message in the chat's history and returns
// a copy of it. Message ids are unique per chat and monotonically
// increasing, starting at 1. The chat is created lazily on first
// message.
func (s *Bus) CreateMessage(token string, p MessageParams) *models.Message {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.chat(p.ChatID)
	c.nextMessageID++

	from := p.From
	if from == nil {
		u := b.User
		from = &u
	}

	msg := &models.Message{
		ID:   c.nextMessageID,
		Date: int(b.now().Unix()),
		Chat: models.Chat{
			ID:   p.ChatID,
			Type: models.ChatTypePrivate,
		},
		From:        from,
		Text:        p.Text,
		Caption:     p.Caption,
		Entities:    p.Entities,
		ReplyMarkup: p.ReplyMarkup,
		Document:    p.Document,
		Photo:       p.Photo,
		Audio:       p.Audio,
		Video:       p.Video,
		Voice:       p.Voice,
		Animation:   p.Animation,
	}

	if p.ReplyToMessageID != 0 {
		if parent := c.find(p.ReplyToMessageID); parent != nil {
			cp := *parent
			msg.ReplyToMessage = &cp
		}
	}

	c.messages = append(c.messages, msg)
	cp := *msg
	return &cp
}

// EditMessageText replaces the text (and optionally the inline keyboard)
// of an existing message, stamping edit_date, and returns a copy. The
// message keeps its identity; later reads observe the edited state.
func (s *Bus) EditMessageText(token string, chatID int64, messageID int, text string, markup *models.InlineKeyboardMarkup) (*models.Message, error) {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("%w: chat %d has no history", ErrMessageNotFound, chatID)
	}
	msg := c.find(messageID)
	if msg == nil {
		return nil, fmt.Errorf("%w: message %d in chat %d", ErrMessageNotFound, messageID, chatID)
	}

	msg.Text = text
	msg.EditDate = int(b.now().Unix())
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	cp := *msg
	return &cp, nil
}

// DeleteMessage removes a message from its chat history. It reports
// whether the message existed.
func (s *Bus) DeleteMessage(token string, chatID int64, messageID int) bool {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.chats[chatID]
	if !ok {
		return false
	}
	for i, m := range c.messages {
		if m.ID == messageID {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return true
		}
	}
	return false
}

// GetMessage looks up a message by chat and id, returning a copy.
func (s *Bus) GetMessage(token string, chatID int64, messageID int) (*models.Message, error) {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("%w: chat %d has no history", ErrMessageNotFound, chatID)
	}
	msg := c.find(messageID)
	if msg == nil {
		return nil, fmt.Errorf("%w: message %d in chat %d", ErrMessageNotFound, messageID, chatID)
	}
	cp := *msg
	return &cp, nil
}

func (c *chatHistory) find(messageID int) *models.Message {
	for _, m := range c.messages {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}
