package bus_test

import (
	"errors"
	"testing"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/telemock/internal/bus"
)

func TestCreateMessageAssignsPerChatIDs(t *testing.T) {
	t.Parallel()
	s := newBus()

	m1 := s.CreateMessage(testToken, bus.MessageParams{ChatID: 100, Text: "one"})
	m2 := s.CreateMessage(testToken, bus.MessageParams{ChatID: 100, Text: "two"})
	other := s.CreateMessage(testToken, bus.MessageParams{ChatID: 200, Text: "elsewhere"})

	if m1.ID != 1 || m2.ID != 2 {
		t.Errorf("message ids = %d, %d, want 1, 2", m1.ID, m2.ID)
	}
	if other.ID != 1 {
		t.Errorf("other chat first id = %d, want 1", other.ID)
	}
	if m1.Chat.ID != 100 || m1.Chat.Type != models.ChatTypePrivate {
		t.Errorf("chat = %+v", m1.Chat)
	}
	if m1.From == nil || !m1.From.IsBot {
		t.Errorf("default sender should be the bot user, got %+v", m1.From)
	}
	if m1.Date == 0 {
		t.Error("date not stamped")
	}
}

func TestCreateMessageWithExplicitSender(t *testing.T) {
	t.Parallel()
	s := newBus()

	from := &models.User{ID: 777, FirstName: "Alice"}
	msg := s.CreateMessage(testToken, bus.MessageParams{ChatID: 100, From: from, Text: "hi"})
	if msg.From.ID != 777 || msg.From.IsBot {
		t.Errorf("sender = %+v", msg.From)
	}
}

func TestCreateMessageReplyTo(t *testing.T) {
	t.Parallel()
	s := newBus()

	parent := s.CreateMessage(testToken, bus.MessageParams{ChatID: 100, Text: "parent"})
	reply := s.CreateMessage(testToken, bus.MessageParams{ChatID: 100, Text: "reply", ReplyToMessageID: parent.ID})

	if reply.ReplyToMessage == nil || reply.ReplyToMessage.ID != parent.ID {
		t.Fatalf("reply_to_message = %+v", reply.ReplyToMessage)
	}

	// An unknown parent id is tolerated; the reference is just dropped.
	orphan := s.CreateMessage(testToken, bus.MessageParams{ChatID: 100, Text: "orphan", ReplyToMessageID: 999})
	if orphan.ReplyToMessage != nil {
		t.Errorf("orphan reply got a parent: %+v", orphan.ReplyToMessage)
	}
}

func TestEditMessageText(t *testing.T) {
	t.Parallel()
	s := newBus()

	msg := s.CreateMessage(testToken, bus.MessageParams{ChatID: 100, Text: "before"})
	markup := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "ok", CallbackData: "ok"}},
		},
	}

	edited, err := s.EditMessageText(testToken, 100, msg.ID, "after", markup)
	if err != nil {
		t.Fatalf("EditMessageText: %v", err)
	}
	if edited.Text != "after" || edited.EditDate == 0 {
		t.Errorf("edited = text %q edit_date %d", edited.Text, edited.EditDate)
	}
	if len(edited.ReplyMarkup.InlineKeyboard) != 1 {
		t.Errorf("markup not applied: %+v", edited.ReplyMarkup)
	}

	// Later reads observe the edit.
	got, err := s.GetMessage(testToken, 100, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Text != "after" {
		t.Errorf("stored text = %q, want %q", got.Text, "after")
	}

	if _, err := s.EditMessageText(testToken, 100, 999, "nope", nil); !errors.Is(err, bus.ErrMessageNotFound) {
		t.Errorf("editing unknown message: err = %v", err)
	}
	if _, err := s.EditMessageText(testToken, 300, 1, "nope", nil); !errors.Is(err, bus.ErrMessageNotFound) {
		t.Errorf("editing unknown chat: err = %v", err)
	}
}

func TestDeleteMessage(t *testing.T) {
	t.Parallel()
	s := newBus()

	msg := s.CreateMessage(testToken, bus.MessageParams{ChatID: 100, Text: "doomed"})
	if !s.DeleteMessage(testToken, 100, msg.ID) {
		t.Fatal("delete of existing message failed")
	}
	if s.DeleteMessage(testToken, 100, msg.ID) {
		t.Error("second delete should report missing")
	}
	if _, err := s.GetMessage(testToken, 100, msg.ID); !errors.Is(err, bus.ErrMessageNotFound) {
		t.Errorf("deleted message still readable: err = %v", err)
	}

	// Ids are never reused after a delete.
	next := s.CreateMessage(testToken, bus.MessageParams{ChatID: 100, Text: "next"})
	if next.ID != msg.ID+1 {
		t.Errorf("id after delete = %d, want %d", next.ID, msg.ID+1)
	}
}

func TestAnsweredCallbacks(t *testing.T) {
	t.Parallel()
	s := newBus()

	id1 := s.NextCallbackQueryID(testToken)
	id2 := s.NextCallbackQueryID(testToken)
	if id1 == id2 {
		t.Fatalf("callback ids not unique: %q", id1)
	}

	s.RecordAnsweredCallback(testToken, bus.AnsweredCallback{CallbackQueryID: id2, Text: "later"})
	s.RecordAnsweredCallback(testToken, bus.AnsweredCallback{CallbackQueryID: id1, Text: "first"})

	got := s.AnsweredCallbacks(testToken)
	if len(got) != 2 {
		t.Fatalf("answered callbacks = %d, want 2", len(got))
	}
	if got[0].CallbackQueryID != id1 {
		t.Errorf("callbacks not ordered by id: %+v", got)
	}

	// Re-answering replaces, never duplicates.
	s.RecordAnsweredCallback(testToken, bus.AnsweredCallback{CallbackQueryID: id1, Text: "updated"})
	got = s.AnsweredCallbacks(testToken)
	if len(got) != 2 || got[0].Text != "updated" {
		t.Errorf("re-answer handling: %+v", got)
	}
}
