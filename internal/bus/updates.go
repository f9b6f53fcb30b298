package bus

import (
	"sort"

	"github.com/go-telegram/bot/models"
)

// Append assigns the next sequence number for the bot, stores the update
// and returns a snapshot of it. Sequence numbers start at 1 and are
// strictly increasing with no gaps; assignment happens under the bot's
// lock so concurrent appends can never observe the same number. The
// registered observer is notified after the lock is released.
func (s *Bus) Append(token string, role Role, update models.Update) StoredUpdate {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	b.lastSeq++
	update.ID = b.lastSeq
	su := &StoredUpdate{
		Seq:        b.lastSeq,
		Role:       role,
		Update:     update,
		State:      DeliveryPending,
		AppendedAt: b.now(),
	}
	b.log = append(b.log, su)
	snap := *su

	// Wake long-poll waiters.
	close(b.signal)
	b.signal = make(chan struct{})
	b.mu.Unlock()

	s.logger.Debug("update appended", "bot_id", b.ID, "seq", snap.Seq, "role", role)

	if s.observer != nil {
		s.observer.UpdateAppended(b, snap)
	}
	return snap
}

// Pull returns up to limit unacknowledged updates in ascending sequence
// order, optionally filtered by sender role (empty role means any).
// Calling Pull with a new maximum offset is the acknowledgment
// mechanism: the bot's cursor advances to offset (never backward), and
// updates at or below the cursor are evicted from the pull window — a
// later pull with a lower offset does not re-deliver them. Pull never
// mutates sequence counters and is idempotent for a fixed offset. The
// returned entries are snapshots taken under the bot's lock.
func (s *Bus) Pull(token string, offset int64, limit int, role Role) []StoredUpdate {
	b, _ := s.GetOrCreate(token)
	if limit <= 0 {
		limit = DefaultPullLimit
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if offset > b.cursor {
		b.cursor = offset
		if b.cursor > b.lastSeq {
			b.cursor = b.lastSeq
		}
	}

	// The window floor is whichever is higher: the caller's offset or
	// everything already acknowledged (pull, webhook delivery, or
	// drop_pending_updates).
	floor := offset
	if b.cursor > floor {
		floor = b.cursor
	}

	// The log is ordered by sequence; skip straight to the window.
	start := sort.Search(len(b.log), func(i int) bool {
		return b.log[i].Seq > floor
	})

	out := make([]StoredUpdate, 0, limit)
	for _, su := range b.log[start:] {
		if role != "" && su.Role != role {
			continue
		}
		out = append(out, *su)
		if len(out) == limit {
			break
		}
	}
	return out
}

// History returns a snapshot of the bot's full retained log regardless
// of acknowledgment state. It never evicts; only Bus.Reset drops
// history.
func (s *Bus) History(token string) []StoredUpdate {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StoredUpdate, len(b.log))
	for i, su := range b.log {
		out[i] = *su
	}
	return out
}

// PeekLatest returns a snapshot of the most recently appended update
// without moving any cursor.
func (s *Bus) PeekLatest(token string) (StoredUpdate, bool) {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.log) == 0 {
		return StoredUpdate{}, false
	}
	return *b.log[len(b.log)-1], true
}

// AppendSignal returns a channel that is closed on the bot's next
// append. Long-poll consumers block on it between pulls.
func (s *Bus) AppendSignal(token string) <-chan struct{} {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signal
}

// PendingCount reports how many user-role updates sit above the pull
// cursor, the figure exposed as pending_update_count on webhook info.
func (s *Bus) PendingCount(token string) int {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingLocked()
}

func (b *Bot) pendingLocked() int {
	n := 0
	for i := len(b.log) - 1; i >= 0; i-- {
		if b.log[i].Seq <= b.cursor {
			break
		}
		if b.log[i].Role == RoleUser {
			n++
		}
	}
	return n
}
