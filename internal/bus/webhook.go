package bus

import (
	"github.com/go-telegram/bot/models"
)

// WebhookParams mirrors the setWebhook request fields the mock honors.
type WebhookParams struct {
	URL                string
	SecretToken        string
	MaxConnections     int
	AllowedUpdates     []string
	IPAddress          string
	DropPendingUpdates bool
}

// SetWebhook switches the bot to push delivery. Pending unacknowledged
// updates are kept (the webhook worker picks them up) unless
// DropPendingUpdates acknowledges everything appended so far.
func (s *Bus) SetWebhook(token string, p WebhookParams) {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	if p.MaxConnections <= 0 {
		p.MaxConnections = 40
	}
	b.webhook = &WebhookState{
		URL:            p.URL,
		SecretToken:    p.SecretToken,
		MaxConnections: p.MaxConnections,
		AllowedUpdates: p.AllowedUpdates,
		IPAddress:      p.IPAddress,
		pushCursor:     b.cursor,
	}
	if p.DropPendingUpdates {
		b.cursor = b.lastSeq
		b.webhook.pushCursor = b.lastSeq
	}
	b.mu.Unlock()

	s.logger.Info("webhook set", "bot_id", b.ID, "url", p.URL, "drop_pending", p.DropPendingUpdates)
}

// DeleteWebhook returns the bot to pull-only mode and reports whether a
// webhook was actually set. Unacknowledged updates stay retrievable via
// Pull unless dropPending is set. An in-flight push attempt is allowed
// to finish; no new ones start.
func (s *Bus) DeleteWebhook(token string, dropPending bool) bool {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	had := b.webhook != nil
	b.webhook = nil
	if dropPending {
		b.cursor = b.lastSeq
	}
	b.mu.Unlock()

	s.logger.Info("webhook deleted", "bot_id", b.ID, "drop_pending", dropPending)
	return had
}

// WebhookTarget reports the current push destination, or ok=false when
// the bot is in pull-only mode. The delivery engine re-reads it before
// every attempt so that disabling the webhook stops further attempts.
func (s *Bus) WebhookTarget(token string) (url, secret string, ok bool) {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.webhook == nil {
		return "", "", false
	}
	return b.webhook.URL, b.webhook.SecretToken, true
}

// WebhookInfo projects the bot's webhook state into the wire shape. A
// bot without a webhook reports an empty URL and its pending count.
func (s *Bus) WebhookInfo(token string) *models.WebhookInfo {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()

	info := &models.WebhookInfo{
		PendingUpdateCount: b.pendingLocked(),
	}
	if b.webhook == nil {
		return info
	}
	info.URL = b.webhook.URL
	info.IPAddress = b.webhook.IPAddress
	info.MaxConnections = b.webhook.MaxConnections
	info.AllowedUpdates = b.webhook.AllowedUpdates
	info.LastErrorDate = int(b.webhook.LastErrorDate)
	info.LastErrorMessage = b.webhook.LastErrorMessage
	return info
}

// ClaimNextWebhookUpdate hands the delivery worker a snapshot of the
// oldest user-role update whose push outcome is still undetermined,
// marking it Delivering. It returns ok=false when the webhook is
// disabled or nothing is pending, preserving the append-order
// guarantee: sequence N+1 is never claimed before N's outcome is
// recorded.
func (s *Bus) ClaimNextWebhookUpdate(token string) (StoredUpdate, bool) {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.webhook == nil {
		return StoredUpdate{}, false
	}
	for _, su := range b.log {
		if su.Seq <= b.webhook.pushCursor || su.Role != RoleUser {
			continue
		}
		su.State = DeliveryDelivering
		return *su, true
	}
	return StoredUpdate{}, false
}

// MarkWebhookDelivered records a successful push: the consecutive
// failure count resets and the pull cursor advances past the update so
// a later deleteWebhook does not replay it. The update itself stays in
// the log for history introspection.
func (s *Bus) MarkWebhookDelivered(token string, seq int64) {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()
	if su := b.findLocked(seq); su != nil {
		su.State = DeliveryDelivered
	}
	if b.webhook != nil {
		b.webhook.ConsecutiveFailures = 0
		if seq > b.webhook.pushCursor {
			b.webhook.pushCursor = seq
		}
	}
	if seq > b.cursor {
		b.cursor = seq
	}
}

// RecordWebhookFailure notes a failed attempt (the update will be
// retried). Failures are bookkeeping only; they never surface to the
// producer of the update.
func (s *Bus) RecordWebhookFailure(token string, seq int64, errMsg string) {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()
	if su := b.findLocked(seq); su != nil {
		su.State = DeliveryRetrying
		su.Attempts++
	}
	if b.webhook != nil {
		b.webhook.ConsecutiveFailures++
		b.webhook.LastErrorDate = b.now().Unix()
		b.webhook.LastErrorMessage = errMsg
	}
}

// MarkWebhookAbandoned gives up on pushing an update after the retry
// ceiling. The push cursor moves on so later updates still go out, but
// the pull cursor does not: the update remains retrievable by polling.
func (s *Bus) MarkWebhookAbandoned(token string, seq int64) {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()
	if su := b.findLocked(seq); su != nil {
		su.State = DeliveryAbandoned
	}
	if b.webhook != nil && seq > b.webhook.pushCursor {
		b.webhook.pushCursor = seq
	}
}

// ReleaseWebhookUpdate returns a claimed update to Pending without an
// outcome, used when the webhook is disabled between retries.
func (s *Bus) ReleaseWebhookUpdate(token string, seq int64) {
	b, _ := s.GetOrCreate(token)

	b.mu.Lock()
	defer b.mu.Unlock()
	if su := b.findLocked(seq); su != nil && su.State != DeliveryDelivered && su.State != DeliveryAbandoned {
		su.State = DeliveryPending
	}
}

func (b *Bot) findLocked(seq int64) *StoredUpdate {
	if seq < 1 || seq > int64(len(b.log)) {
		return nil
	}
	// Sequences are gap-free and start at 1, so the log index is seq-1.
	su := b.log[seq-1]
	if su.Seq != seq {
		panic("bus: update log out of order")
	}
	return su
}
