// Package bus holds the shared in-memory state of the mock server: the
// bot registry, each bot's ordered update log, chat message histories,
// webhook configuration, and answered callback queries.
//
// All state for one bot is guarded by that bot's mutex, so operations on
// independent bots never contend. Everything is memory-resident and is
// discarded on restart.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot/models"
)

// DefaultPullLimit is the number of updates a pull returns when the
// caller does not specify a limit, matching the Bot API default.
const DefaultPullLimit = 100

var (
	// ErrInvalidToken is returned for tokens that do not follow the
	// "<bot_id>:<secret>" format.
	ErrInvalidToken = errors.New("invalid bot token")

	// ErrMessageNotFound is returned when a chat/message lookup refers to
	// a message that was never stored (or was deleted).
	ErrMessageNotFound = errors.New("message not found")
)

// Role identifies which side of the conversation produced an update.
type Role string

const (
	RoleBot  Role = "bot"
	RoleUser Role = "user"
)

// Observer is notified after every successful append, outside the bot's
// lock and with a snapshot of the entry. The delivery engine
// implements it.
type Observer interface {
	UpdateAppended(b *Bot, u StoredUpdate)
}

// Bus is the single in-process authority over all bot state. Construct
// one per server (or per test) with New; there is no package-level
// instance.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	bots map[string]*Bot

	observer Observer
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger.With("component", "bus"),
		bots:   make(map[string]*Bot),
	}
}

// SetObserver registers the append observer. It must be called before
// the bus is shared with request handlers.
func (s *Bus) SetObserver(o Observer) {
	s.observer = o
}

// ParseToken extracts the numeric bot id from a "<bot_id>:<secret>"
// token. The id before the colon must be a positive integer.
func ParseToken(token string) (int64, error) {
	idPart, _, found := strings.Cut(token, ":")
	if !found {
		return 0, fmt.Errorf("%w: missing ':' separator", ErrInvalidToken)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bot id %q is not a number", ErrInvalidToken, idPart)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: bot id must be positive, got %d", ErrInvalidToken, id)
	}
	return id, nil
}

// GetOrCreate resolves a token to its Bot, creating the Bot atomically
// on first reference. The returned flag reports whether this call
// created the bot. Any well-formed token succeeds; format validation is
// the caller's concern (ParseToken failures fall back to id 0 so that
// the bus itself never rejects a token).
func (s *Bus) GetOrCreate(token string) (*Bot, bool) {
	s.mu.RLock()
	b, ok := s.bots[token]
	s.mu.RUnlock()
	if ok {
		return b, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bots[token]; ok {
		return b, false
	}

	id, err := ParseToken(token)
	if err != nil {
		id = 0
	}
	b = newBot(token, id)
	s.bots[token] = b

	s.logger.Info("bot created", "bot_id", id, "username", b.User.Username)
	return b, true
}

// Get returns the Bot for token if it was seen before.
func (s *Bus) Get(token string) (*Bot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[token]
	return b, ok
}

// BotCount reports how many bots have been created.
func (s *Bus) BotCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bots)
}

// Reset discards every bot and its retained state. Sequence counters
// restart from scratch; this is the only way history is ever dropped.
func (s *Bus) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots = make(map[string]*Bot)
	s.logger.Info("state reset")
}

func botUser(id int64) models.User {
	return models.User{
		ID:        id,
		IsBot:     true,
		FirstName: "Test Bot",
		Username:  fmt.Sprintf("test_bot_%d", id),
	}
}
