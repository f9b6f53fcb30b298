package bus_test

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/telemock/internal/bus"
)

const testToken = "42:TEST_SECRET"

func newBus() *bus.Bus {
	return bus.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func userMessage(text string) models.Update {
	return models.Update{
		Message: &models.Message{
			Text: text,
			Chat: models.Chat{ID: 100, Type: models.ChatTypePrivate},
		},
	}
}

func TestParseToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		token   string
		wantID  int64
		wantErr bool
	}{
		{name: "Valid token", token: "123456:ABC-DEF1234", wantID: 123456},
		{name: "Minimal id", token: "1:x", wantID: 1},
		{name: "Missing separator", token: "123456", wantErr: true},
		{name: "Non-numeric id", token: "abc:secret", wantErr: true},
		{name: "Zero id", token: "0:secret", wantErr: true},
		{name: "Negative id", token: "-5:secret", wantErr: true},
		{name: "Empty token", token: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, err := bus.ParseToken(tt.token)
			if tt.wantErr {
				if !errors.Is(err, bus.ErrInvalidToken) {
					t.Fatalf("ParseToken(%q) error = %v, want ErrInvalidToken", tt.token, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseToken(%q) unexpected error: %v", tt.token, err)
			}
			if id != tt.wantID {
				t.Errorf("ParseToken(%q) = %d, want %d", tt.token, id, tt.wantID)
			}
		})
	}
}

func TestGetOrCreate(t *testing.T) {
	t.Parallel()
	s := newBus()

	b, created := s.GetOrCreate(testToken)
	if !created {
		t.Fatal("first GetOrCreate should create the bot")
	}
	if b.ID != 42 {
		t.Errorf("bot id = %d, want 42", b.ID)
	}
	if !b.User.IsBot || b.User.Username != "test_bot_42" {
		t.Errorf("unexpected bot user: %+v", b.User)
	}

	again, created := s.GetOrCreate(testToken)
	if created {
		t.Error("second GetOrCreate should not create")
	}
	if again != b {
		t.Error("GetOrCreate returned a different bot for the same token")
	}
	if s.BotCount() != 1 {
		t.Errorf("BotCount = %d, want 1", s.BotCount())
	}
}

func TestAppendAssignsGapFreeSequences(t *testing.T) {
	t.Parallel()
	s := newBus()

	for i := 1; i <= 5; i++ {
		su := s.Append(testToken, bus.RoleUser, userMessage(fmt.Sprintf("msg %d", i)))
		if su.Seq != int64(i) {
			t.Fatalf("append %d got seq %d", i, su.Seq)
		}
		if su.Update.ID != int64(i) {
			t.Fatalf("append %d got update_id %d", i, su.Update.ID)
		}
	}

	// A second bot keeps its own independent counter.
	other := s.Append("7:other", bus.RoleUser, userMessage("hi"))
	if other.Seq != 1 {
		t.Errorf("other bot first seq = %d, want 1", other.Seq)
	}
}

func TestPullOffsetSemantics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		offset    int64
		wantFirst int64
		wantLen   int
	}{
		{name: "Zero offset returns everything", offset: 0, wantFirst: 1, wantLen: 3},
		{name: "Offset acknowledges below it", offset: 1, wantFirst: 2, wantLen: 2},
		{name: "Offset at head returns nothing", offset: 3, wantLen: 0},
		{name: "Offset beyond head returns nothing", offset: 10, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newBus()
			for i := 1; i <= 3; i++ {
				s.Append(testToken, bus.RoleUser, userMessage(fmt.Sprintf("msg %d", i)))
			}

			got := s.Pull(testToken, tt.offset, 0, bus.RoleUser)
			if len(got) != tt.wantLen {
				t.Fatalf("Pull(offset=%d) returned %d updates, want %d", tt.offset, len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && got[0].Seq != tt.wantFirst {
				t.Errorf("first seq = %d, want %d", got[0].Seq, tt.wantFirst)
			}
		})
	}
}

func TestPullIsIdempotentForFixedOffset(t *testing.T) {
	t.Parallel()
	s := newBus()
	for i := 1; i <= 3; i++ {
		s.Append(testToken, bus.RoleUser, userMessage(fmt.Sprintf("msg %d", i)))
	}

	first := s.Pull(testToken, 1, 0, bus.RoleUser)
	second := s.Pull(testToken, 1, 0, bus.RoleUser)
	if len(first) != len(second) {
		t.Fatalf("repeated pull lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Seq != second[i].Seq {
			t.Errorf("repeated pull seq[%d] differs: %d vs %d", i, first[i].Seq, second[i].Seq)
		}
	}
}

func TestPullCursorNeverMovesBackward(t *testing.T) {
	t.Parallel()
	s := newBus()
	for i := 1; i <= 3; i++ {
		s.Append(testToken, bus.RoleUser, userMessage(fmt.Sprintf("msg %d", i)))
	}

	s.Pull(testToken, 2, 0, bus.RoleUser)
	b, _ := s.Get(testToken)
	if b.Cursor() != 2 {
		t.Fatalf("cursor = %d, want 2", b.Cursor())
	}

	// A lower offset must not rewind the acknowledgment, and must not
	// replay updates already acknowledged.
	got := s.Pull(testToken, 1, 0, bus.RoleUser)
	if len(got) != 1 || got[0].Seq != 3 {
		t.Fatalf("lower offset replayed acknowledged updates: %+v", got)
	}
	if b.Cursor() != 2 {
		t.Errorf("cursor after lower offset = %d, want 2", b.Cursor())
	}
}

func TestPullSkipsDeliveredUpdates(t *testing.T) {
	t.Parallel()
	s := newBus()
	s.SetWebhook(testToken, bus.WebhookParams{URL: "https://example.com/hook"})
	s.Append(testToken, bus.RoleUser, userMessage("pushed"))
	s.Append(testToken, bus.RoleUser, userMessage("pending"))

	s.ClaimNextWebhookUpdate(testToken)
	s.MarkWebhookDelivered(testToken, 1)
	s.DeleteWebhook(testToken, false)

	// A zero offset sits below the pull cursor; the delivered update
	// must not come back.
	got := s.Pull(testToken, 0, 0, bus.RoleUser)
	if len(got) != 1 || got[0].Seq != 2 {
		t.Fatalf("Pull after delivery = %+v, want only seq 2", got)
	}
}

func TestPullLimitAndRoleFilter(t *testing.T) {
	t.Parallel()
	s := newBus()
	s.Append(testToken, bus.RoleUser, userMessage("u1"))
	s.Append(testToken, bus.RoleBot, userMessage("b1"))
	s.Append(testToken, bus.RoleUser, userMessage("u2"))
	s.Append(testToken, bus.RoleUser, userMessage("u3"))

	got := s.Pull(testToken, 0, 2, bus.RoleUser)
	if len(got) != 2 {
		t.Fatalf("Pull(limit=2) returned %d updates", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 3 {
		t.Errorf("role filter returned seqs %d,%d, want 1,3", got[0].Seq, got[1].Seq)
	}

	all := s.Pull(testToken, 0, 0, "")
	if len(all) != 4 {
		t.Errorf("unfiltered pull returned %d updates, want 4", len(all))
	}
}

func TestHistoryRetainsAcknowledgedUpdates(t *testing.T) {
	t.Parallel()
	s := newBus()
	for i := 1; i <= 3; i++ {
		s.Append(testToken, bus.RoleUser, userMessage(fmt.Sprintf("msg %d", i)))
	}

	// Acknowledge everything; history must still hold the full log.
	s.Pull(testToken, 3, 0, bus.RoleUser)
	hist := s.History(testToken)
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	for i, su := range hist {
		if su.Seq != int64(i+1) {
			t.Errorf("history[%d].Seq = %d, want %d", i, su.Seq, i+1)
		}
	}
}

func TestAppendSignalWakesWaiters(t *testing.T) {
	t.Parallel()
	s := newBus()

	sig := s.AppendSignal(testToken)
	done := make(chan struct{})
	go func() {
		<-sig
		close(done)
	}()

	s.Append(testToken, bus.RoleUser, userMessage("wake up"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("append did not wake the signal waiter")
	}
}

func TestConcurrentAppendsStayOrdered(t *testing.T) {
	t.Parallel()
	s := newBus()

	const workers = 20
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.Append(testToken, bus.RoleUser, userMessage("concurrent"))
			}
		}()
	}
	wg.Wait()

	hist := s.History(testToken)
	if len(hist) != workers*perWorker {
		t.Fatalf("history length = %d, want %d", len(hist), workers*perWorker)
	}
	for i, su := range hist {
		if su.Seq != int64(i+1) {
			t.Fatalf("sequence gap at index %d: got %d", i, su.Seq)
		}
	}
}

// Readers get snapshots, so inspecting delivery bookkeeping while the
// webhook worker mutates it must be race-free (run with -race).
func TestHistoryReadsDuringDeliveryBookkeeping(t *testing.T) {
	t.Parallel()
	s := newBus()
	s.SetWebhook(testToken, bus.WebhookParams{URL: "https://example.com/hook"})
	const n = 50
	for i := 0; i < n; i++ {
		s.Append(testToken, bus.RoleUser, userMessage(fmt.Sprintf("msg %d", i)))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for seq := int64(1); seq <= n; seq++ {
			s.ClaimNextWebhookUpdate(testToken)
			s.RecordWebhookFailure(testToken, seq, "connection refused")
			s.MarkWebhookDelivered(testToken, seq)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			for _, su := range s.History(testToken) {
				_ = su.State
				_ = su.Attempts
			}
		}
	}()
	wg.Wait()

	hist := s.History(testToken)
	if len(hist) != n {
		t.Fatalf("history length = %d, want %d", len(hist), n)
	}
	for _, su := range hist {
		if su.State != bus.DeliveryDelivered {
			t.Fatalf("seq %d state = %q, want delivered", su.Seq, su.State)
		}
	}
}

func TestPeekLatest(t *testing.T) {
	t.Parallel()
	s := newBus()

	if _, ok := s.PeekLatest(testToken); ok {
		t.Fatal("empty log should have nothing to peek")
	}

	s.Append(testToken, bus.RoleUser, userMessage("first"))
	s.Append(testToken, bus.RoleBot, userMessage("second"))

	su, ok := s.PeekLatest(testToken)
	if !ok || su.Seq != 2 {
		t.Fatalf("PeekLatest = (%+v, %v)", su, ok)
	}

	// Peeking moves no cursor.
	b, _ := s.Get(testToken)
	if b.Cursor() != 0 {
		t.Errorf("cursor after peek = %d", b.Cursor())
	}
}

func TestPendingCount(t *testing.T) {
	t.Parallel()
	s := newBus()
	s.Append(testToken, bus.RoleUser, userMessage("u1"))
	s.Append(testToken, bus.RoleBot, userMessage("b1"))
	s.Append(testToken, bus.RoleUser, userMessage("u2"))

	if n := s.PendingCount(testToken); n != 2 {
		t.Fatalf("PendingCount = %d, want 2", n)
	}
	s.Pull(testToken, 1, 0, bus.RoleUser)
	if n := s.PendingCount(testToken); n != 1 {
		t.Errorf("PendingCount after ack = %d, want 1", n)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	s := newBus()
	s.Append(testToken, bus.RoleUser, userMessage("before reset"))
	s.Reset()

	if s.BotCount() != 0 {
		t.Errorf("BotCount after reset = %d", s.BotCount())
	}
	su := s.Append(testToken, bus.RoleUser, userMessage("after reset"))
	if su.Seq != 1 {
		t.Errorf("seq after reset = %d, want 1", su.Seq)
	}
}
