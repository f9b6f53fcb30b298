package bus

import (
	"sync"
	"time"

	"github.com/go-telegram/bot/models"
)

// DeliveryState tracks where an update sits in the webhook delivery
// state machine. Updates for bots without a webhook stay Pending and are
// served by pull.
type DeliveryState string

const (
	DeliveryPending    DeliveryState = "pending"
	DeliveryDelivering DeliveryState = "delivering"
	DeliveryRetrying   DeliveryState = "retrying"
	DeliveryDelivered  DeliveryState = "delivered"
	DeliveryAbandoned  DeliveryState = "abandoned"
)

// StoredUpdate is one entry of a bot's update log: the wire update plus
// the bot-scoped sequence number assigned at append time. The sequence
// doubles as the update_id on the wire.
type StoredUpdate struct {
	Seq        int64
	Role       Role
	Update     models.Update
	State      DeliveryState
	Attempts   int
	AppendedAt time.Time
}

// WebhookState is a bot's push delivery configuration. A nil *WebhookState
// on the bot means pull-only mode.
type WebhookState struct {
	URL            string
	SecretToken    string
	MaxConnections int
	AllowedUpdates []string
	IPAddress      string

	ConsecutiveFailures int
	LastErrorDate       int64
	LastErrorMessage    string

	// pushCursor is the highest sequence whose webhook outcome
	// (delivered or abandoned) has been determined. The worker never
	// issues a push for seq N+1 before this reaches N.
	pushCursor int64
}

// AnsweredCallback records a bot's answerCallbackQuery call so the test
// harness can assert on it.
type AnsweredCallback struct {
	CallbackQueryID string    `json:"callback_query_id"`
	Text            string    `json:"text,omitempty"`
	ShowAlert       bool      `json:"show_alert"`
	URL             string    `json:"url,omitempty"`
	AnsweredAt      time.Time `json:"answered_at"`
}

type chatHistory struct {
	nextMessageID int
	messages      []*models.Message
}

// Bot is the per-token state record. Token and User are immutable after
// creation; everything else is guarded by mu. Bots are created lazily by
// Bus.GetOrCreate and live for the process lifetime.
type Bot struct {
	Token string
	ID    int64
	User  models.User

	mu      sync.Mutex
	lastSeq int64
	log     []*StoredUpdate
	// cursor is the highest sequence acknowledged for pull consumption.
	// It never moves backward.
	cursor int64

	chats          map[int64]*chatHistory
	webhook        *WebhookState
	answered       map[string]AnsweredCallback
	lastCallbackID int64

	// signal is closed and replaced on every append; long-poll waiters
	// grab the current channel and block on it outside the lock.
	signal chan struct{}

	nowFunc func() time.Time
}

func newBot(token string, id int64) *Bot {
	return &Bot{
		Token:    token,
		ID:       id,
		User:     botUser(id),
		chats:    make(map[int64]*chatHistory),
		answered: make(map[string]AnsweredCallback),
		signal:   make(chan struct{}),
		nowFunc:  time.Now,
	}
}

func (b *Bot) now() time.Time {
	return b.nowFunc()
}

func (b *Bot) chat(chatID int64) *chatHistory {
	c, ok := b.chats[chatID]
	if !ok {
		c = &chatHistory{}
		b.chats[chatID] = c
	}
	return c
}

// Cursor returns the bot's pull acknowledgment cursor.
func (b *Bot) Cursor() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}
