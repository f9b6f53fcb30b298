package bus

import (
	"sort"
	"strconv"
)

// NextCallbackQueryID generates a fresh bot-scoped callback query id.
func (s *Bus) NextCallbackQueryID(token string) string {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastCallbackID++
	return strconv.FormatInt(b.lastCallbackID, 10)
}

// RecordAnsweredCallback stores the bot's answer to a callback query,
// replacing any earlier answer for the same id.
func (s *Bus) RecordAnsweredCallback(token string, a AnsweredCallback) {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.answered[a.CallbackQueryID] = a
}

// AnsweredCallbacks returns every callback the bot has answered,
// ordered by callback query id.
func (s *Bus) AnsweredCallbacks(token string) []AnsweredCallback {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]AnsweredCallback, 0, len(b.answered))
	for _, a := range b.answered {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CallbackQueryID < out[j].CallbackQueryID
	})
	return out
}
