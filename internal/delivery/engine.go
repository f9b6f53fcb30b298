// Package delivery pushes updates to bot webhooks. One worker per bot
// issues pushes in append order with bounded retry and exponential
// backoff; exhausted updates are abandoned back to the pull path.
// Producers never wait on delivery.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/edgard/telemock/internal/bus"
)

// Config bounds a delivery attempt and its retry schedule.
type Config struct {
	// Timeout caps a single push attempt.
	Timeout time.Duration
	// RetryCeiling is the number of retries after the first failed
	// attempt; once reached the update is abandoned.
	RetryCeiling int
	// BackoffBase is the delay before the first retry; each further
	// retry doubles it up to BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultConfig mirrors the server defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		RetryCeiling: 3,
		BackoffBase:  500 * time.Millisecond,
		BackoffCap:   10 * time.Second,
	}
}

// Engine implements bus.Observer. It lazily starts one worker goroutine
// per bot with a webhook and keeps it alive for the engine's lifetime;
// idle workers block on their wake channel.
type Engine struct {
	logger *slog.Logger
	state  *bus.Bus
	cfg    Config
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]chan struct{}
}

// New creates the engine. Call Stop to tear down the workers.
func New(state *bus.Bus, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = cfg.BackoffBase
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		logger:  logger.With("component", "delivery"),
		state:   state,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]chan struct{}),
	}
}

// UpdateAppended is invoked synchronously at the end of every bus
// append. It only nudges the bot's worker; the push itself is
// asynchronous so appends stay fast regardless of webhook health.
func (e *Engine) UpdateAppended(b *bus.Bot, u bus.StoredUpdate) {
	if u.Role != bus.RoleUser {
		return
	}
	if _, _, ok := e.state.WebhookTarget(b.Token); !ok {
		return
	}
	e.wake(b.Token)
}

// WebhookChanged must be called after setWebhook so pending updates
// appended before the webhook existed get pushed too.
func (e *Engine) WebhookChanged(token string) {
	if _, _, ok := e.state.WebhookTarget(token); ok {
		e.wake(token)
	}
}

// Stop cancels all workers and waits for them to exit. In-flight HTTP
// attempts finish on their own timeout.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) wake(token string) {
	e.mu.Lock()
	ch, ok := e.workers[token]
	if !ok {
		ch = make(chan struct{}, 1)
		e.workers[token] = ch
		e.wg.Add(1)
		go e.run(token, ch)
	}
	e.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
}

func (e *Engine) run(token string, wake <-chan struct{}) {
	defer e.wg.Done()
	log := e.logger.With("bot_token_id", tokenID(token))

	for {
		su, ok := e.state.ClaimNextWebhookUpdate(token)
		if !ok {
			select {
			case <-e.ctx.Done():
				return
			case <-wake:
				continue
			}
		}
		e.deliver(log, token, su)

		select {
		case <-e.ctx.Done():
			return
		default:
		}
	}
}

// deliver drives one update through Pending -> Delivering ->
// {Delivered | Retrying... | Abandoned}. The outcome is recorded before
// the worker claims the next sequence, preserving append order.
func (e *Engine) deliver(log *slog.Logger, token string, su bus.StoredUpdate) {
	payload, err := json.Marshal(su.Update)
	if err != nil {
		// Updates are built from wire types; failure to marshal one is a
		// programming error.
		panic(fmt.Sprintf("delivery: marshal update %d: %v", su.Seq, err))
	}

	for attempt := 0; ; attempt++ {
		url, secret, ok := e.state.WebhookTarget(token)
		if !ok {
			// Webhook disabled between retries: no new attempts, the
			// update stays available for pull.
			e.state.ReleaseWebhookUpdate(token, su.Seq)
			log.Info("webhook disabled, delivery stopped", "seq", su.Seq)
			return
		}

		err := e.post(url, secret, payload)
		if err == nil {
			e.state.MarkWebhookDelivered(token, su.Seq)
			log.Debug("update delivered", "seq", su.Seq, "attempts", attempt+1)
			return
		}

		e.state.RecordWebhookFailure(token, su.Seq, err.Error())
		if attempt >= e.cfg.RetryCeiling {
			e.state.MarkWebhookAbandoned(token, su.Seq)
			log.Warn("update abandoned after retries, falling back to pull",
				"seq", su.Seq, "attempts", attempt+1, "error", err)
			return
		}

		delay := e.backoff(attempt)
		log.Debug("delivery failed, retrying", "seq", su.Seq, "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-e.ctx.Done():
			timer.Stop()
			e.state.ReleaseWebhookUpdate(token, su.Seq)
			return
		case <-timer.C:
		}
	}
}

func (e *Engine) post(url, secret string, payload []byte) error {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Telegram-Bot-Api-Secret-Token", secret)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// backoff returns base*2^attempt capped at BackoffCap.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.BackoffBase
	for i := 0; i < attempt && d < e.cfg.BackoffCap; i++ {
		d *= 2
	}
	if d > e.cfg.BackoffCap {
		d = e.cfg.BackoffCap
	}
	return d
}

// tokenID is the numeric prefix of the token, safe to log (the secret
// part never is).
func tokenID(token string) int64 {
	id, err := bus.ParseToken(token)
	if err != nil {
		return 0
	}
	return id
}
