package actions

import (
	"testing"
	"time"
)

const testToken = "42:TEST_SECRET"

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newTestTracker(ttl time.Duration) (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	t := New(ttl)
	t.nowFunc = func() time.Time { return clock.now }
	return t, clock
}

func TestSetAndActive(t *testing.T) {
	tr, clock := newTestTracker(5 * time.Second)

	if _, ok := tr.Active(testToken, 100); ok {
		t.Fatal("fresh tracker reports an active action")
	}

	tr.Set(testToken, 100, "typing")
	e, ok := tr.Active(testToken, 100)
	if !ok || e.Action != "typing" || e.ChatID != 100 {
		t.Fatalf("Active = (%+v, %v)", e, ok)
	}

	// Just before expiry the action is still visible.
	clock.advance(5*time.Second - time.Millisecond)
	if _, ok := tr.Active(testToken, 100); !ok {
		t.Error("action expired early")
	}

	// At expiry it is logically absent even without a sweep.
	clock.advance(time.Millisecond)
	if _, ok := tr.Active(testToken, 100); ok {
		t.Error("action visible at expiry")
	}
}

func TestSetReplacesAndRestartsTTL(t *testing.T) {
	tr, clock := newTestTracker(5 * time.Second)

	tr.Set(testToken, 100, "typing")
	clock.advance(4 * time.Second)
	tr.Set(testToken, 100, "upload_photo")

	// The replacement got a fresh TTL.
	clock.advance(4 * time.Second)
	e, ok := tr.Active(testToken, 100)
	if !ok || e.Action != "upload_photo" {
		t.Fatalf("Active after replace = (%+v, %v)", e, ok)
	}

	// And there is exactly one entry for the pair.
	if got := tr.AllActive(testToken); len(got) != 1 {
		t.Errorf("AllActive = %d entries, want 1", len(got))
	}
}

func TestAllActiveOrdersAndFilters(t *testing.T) {
	tr, clock := newTestTracker(5 * time.Second)

	tr.Set(testToken, 300, "typing")
	tr.Set(testToken, 100, "upload_video")
	tr.Set("7:other", 100, "typing")

	got := tr.AllActive(testToken)
	if len(got) != 2 {
		t.Fatalf("AllActive = %d entries, want 2", len(got))
	}
	if got[0].ChatID != 100 || got[1].ChatID != 300 {
		t.Errorf("entries not ordered by chat id: %+v", got)
	}

	clock.advance(6 * time.Second)
	if got := tr.AllActive(testToken); len(got) != 0 {
		t.Errorf("expired entries returned: %+v", got)
	}
}

func TestSweep(t *testing.T) {
	tr, clock := newTestTracker(5 * time.Second)

	tr.Set(testToken, 100, "typing")
	clock.advance(3 * time.Second)
	tr.Set(testToken, 200, "typing")

	clock.advance(3 * time.Second)
	if n := tr.Sweep(); n != 1 {
		t.Fatalf("Sweep purged %d entries, want 1", n)
	}
	if _, ok := tr.Active(testToken, 200); !ok {
		t.Error("sweep removed a live entry")
	}
}

func TestReset(t *testing.T) {
	tr, _ := newTestTracker(5 * time.Second)
	tr.Set(testToken, 100, "typing")
	tr.Reset()
	if got := tr.AllActive(testToken); len(got) != 0 {
		t.Errorf("entries survived reset: %+v", got)
	}
}

func TestValidActions(t *testing.T) {
	for _, action := range []string{"typing", "upload_photo", "record_video_note"} {
		if !Valid[action] {
			t.Errorf("%q should be a valid action", action)
		}
	}
	if Valid["dancing"] {
		t.Error("unknown action accepted")
	}
}
