// Package actions tracks ephemeral chat action indicators ("typing",
// "upload_photo", ...) per (bot, chat) with a time-to-live. Expiry is
// lazy: readers filter expired entries, and a periodic sweep purges them
// for memory hygiene.
package actions

import (
	"sort"
	"sync"
	"time"
)

// DefaultTTL matches the Bot API, where a chat action is shown for at
// most five seconds.
const DefaultTTL = 5 * time.Second

// Valid is the set of chat actions the Bot API accepts.
var Valid = map[string]bool{
	"typing":            true,
	"upload_photo":      true,
	"record_video":      true,
	"upload_video":      true,
	"record_voice":      true,
	"upload_voice":      true,
	"upload_document":   true,
	"choose_sticker":    true,
	"find_location":     true,
	"record_video_note": true,
	"upload_video_note": true,
}

// Entry is one visible chat action.
type Entry struct {
	ChatID int64     `json:"chat_id"`
	Action string    `json:"action"`
	SetAt  time.Time `json:"set_at"`
	Expiry time.Time `json:"-"`
}

type key struct {
	token  string
	chatID int64
}

// Tracker stores chat actions. Entries are independent per (bot, chat)
// key; a single mutex suffices since operations are O(1) map accesses.
type Tracker struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[key]Entry

	nowFunc func() time.Time
}

// New creates a Tracker. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:     ttl,
		entries: make(map[key]Entry),
		nowFunc: time.Now,
	}
}

// Set inserts or replaces the action for (token, chatID), restarting its
// TTL. Re-setting never creates a duplicate entry.
func (t *Tracker) Set(token string, chatID int64, action string) {
	now := t.nowFunc()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key{token, chatID}] = Entry{
		ChatID: chatID,
		Action: action,
		SetAt:  now,
		Expiry: now.Add(t.ttl),
	}
}

// Active returns the unexpired action for (token, chatID). Entries at or
// past their expiry are logically absent even before a sweep runs.
func (t *Tracker) Active(token string, chatID int64) (Entry, bool) {
	now := t.nowFunc()
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key{token, chatID}]
	if !ok || !now.Before(e.Expiry) {
		return Entry{}, false
	}
	return e, true
}

// AllActive returns every unexpired action for the bot, ordered by chat id.
func (t *Tracker) AllActive(token string) []Entry {
	now := t.nowFunc()
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Entry
	for k, e := range t.entries {
		if k.token != token || !now.Before(e.Expiry) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ChatID < out[j].ChatID
	})
	return out
}

// Reset drops every entry regardless of expiry.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[key]Entry)
}

// Sweep physically removes expired entries and reports how many were
// purged. Visibility does not depend on it.
func (t *Tracker) Sweep() int {
	now := t.nowFunc()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, e := range t.entries {
		if !now.Before(e.Expiry) {
			delete(t.entries, k)
			n++
		}
	}
	return n
}
