package store

import (
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fleetyard/waybot/internal/models"
)

// openTestStore creates an in-memory store with migrated tables.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Session{}, &models.Message{}, &models.PhoneConfig{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	st, err := New(gdb)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return st
}

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestCreateSession(t *testing.T) {
	st := openTestStore(t)

	sess, err := st.CreateSession("628111", "Budi", testNow)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if len(sess.ID) != 32 {
		t.Errorf("session id %q is not 32 hex chars", sess.ID)
	}
	if sess.Status != models.StatusActive {
		t.Errorf("status = %q, want active", sess.Status)
	}

	// Config row auto-created with the agent enabled.
	disabled, err := st.AgentDisabled("628111")
	if err != nil {
		t.Fatalf("AgentDisabled: %v", err)
	}
	if disabled {
		t.Error("new phone should have the agent enabled")
	}
}

func TestActiveSessionByPhone(t *testing.T) {
	st := openTestStore(t)

	got, err := st.ActiveSessionByPhone("628111")
	if err != nil {
		t.Fatalf("ActiveSessionByPhone: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown phone, got %+v", got)
	}

	sess, _ := st.CreateSession("628111", "Budi", testNow)
	got, err = st.ActiveSessionByPhone("628111")
	if err != nil {
		t.Fatalf("ActiveSessionByPhone: %v", err)
	}
	if got == nil || got.ID != sess.ID {
		t.Fatalf("got %+v, want session %s", got, sess.ID)
	}

	if err := st.EndSession(sess.ID, models.StatusEndedInactivity, testNow.Add(time.Hour)); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	got, err = st.ActiveSessionByPhone("628111")
	if err != nil {
		t.Fatalf("ActiveSessionByPhone: %v", err)
	}
	if got != nil {
		t.Errorf("ended session still reported active: %+v", got)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	st := openTestStore(t)
	sess, _ := st.CreateSession("628111", "", testNow)

	if err := st.EndSession(sess.ID, models.StatusEndedForced, testNow.Add(time.Hour)); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	// Second end with a different status must not change the row.
	if err := st.EndSession(sess.ID, models.StatusEndedManual, testNow.Add(2*time.Hour)); err != nil {
		t.Fatalf("second EndSession: %v", err)
	}
	got, err := st.Session(sess.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Status != models.StatusEndedForced {
		t.Errorf("status = %q, want ended_forced", got.Status)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("ended_at = %v, want first end time", got.EndedAt)
	}
}

func TestAddMessageBumpsActivity(t *testing.T) {
	st := openTestStore(t)
	sess, _ := st.CreateSession("628111", "", testNow)

	later := testNow.Add(10 * time.Minute)
	if _, err := st.AddMessage(sess.ID, models.SenderUser, "halo", "", later); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	got, _ := st.Session(sess.ID)
	if !got.LastActivity.Equal(later) {
		t.Errorf("last_activity = %v, want %v", got.LastActivity, later)
	}

	// Bot messages do not count as user activity.
	evenLater := later.Add(10 * time.Minute)
	if _, err := st.AddMessage(sess.ID, models.SenderBot, "hai", "", evenLater); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	got, _ = st.Session(sess.ID)
	if !got.LastActivity.Equal(later) {
		t.Errorf("bot message moved last_activity to %v", got.LastActivity)
	}
}

func TestMessagesForSessionOrderAndLimit(t *testing.T) {
	st := openTestStore(t)
	sess, _ := st.CreateSession("628111", "", testNow)

	for i := 0; i < 5; i++ {
		ts := testNow.Add(time.Duration(i) * time.Minute)
		if _, err := st.AddMessage(sess.ID, models.SenderUser, "msg", "", ts); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	msgs, err := st.MessagesForSession(sess.ID, 3)
	if err != nil {
		t.Fatalf("MessagesForSession: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if !msgs[0].Timestamp.After(msgs[1].Timestamp) {
		t.Error("messages are not most-recent-first")
	}
}

func TestSessionsByPhone(t *testing.T) {
	st := openTestStore(t)
	first, _ := st.CreateSession("628111", "", testNow)
	st.EndSession(first.ID, models.StatusEnded, testNow.Add(time.Hour))
	second, _ := st.CreateSession("628111", "", testNow.Add(2*time.Hour))
	st.CreateSession("628222", "", testNow)

	sessions, err := st.SessionsByPhone("628111", 0)
	if err != nil {
		t.Fatalf("SessionsByPhone: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != first.ID || sessions[1].ID != second.ID {
		t.Error("sessions are not oldest-first")
	}
}

func TestSessionsByPhoneLimitKeepsRecent(t *testing.T) {
	st := openTestStore(t)
	first, _ := st.CreateSession("628111", "", testNow)
	st.EndSession(first.ID, models.StatusEnded, testNow.Add(time.Minute))
	second, _ := st.CreateSession("628111", "", testNow.Add(time.Hour))
	st.EndSession(second.ID, models.StatusEnded, testNow.Add(2*time.Hour))
	third, _ := st.CreateSession("628111", "", testNow.Add(3*time.Hour))

	// The limit trims the oldest sessions; the window stays chronological.
	sessions, err := st.SessionsByPhone("628111", 2)
	if err != nil {
		t.Fatalf("SessionsByPhone: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != second.ID || sessions[1].ID != third.ID {
		t.Errorf("window = [%s, %s], want the two most recent oldest-first", sessions[0].ID, sessions[1].ID)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	st := openTestStore(t)
	sess, _ := st.CreateSession("628111", "", testNow)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if i%2 == 0 {
					if _, err := st.AddMessage(sess.ID, models.SenderUser, "msg", "", testNow.Add(time.Duration(j)*time.Second)); err != nil {
						t.Errorf("AddMessage: %v", err)
					}
				} else {
					if _, err := st.MessagesForSession(sess.ID, 5); err != nil {
						t.Errorf("MessagesForSession: %v", err)
					}
					if _, err := st.ActiveSessionByPhone("628111"); err != nil {
						t.Errorf("ActiveSessionByPhone: %v", err)
					}
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestSetAgentDisabled(t *testing.T) {
	st := openTestStore(t)

	if err := st.SetAgentDisabled("628111", true); err != nil {
		t.Fatalf("SetAgentDisabled: %v", err)
	}
	disabled, err := st.AgentDisabled("628111")
	if err != nil {
		t.Fatalf("AgentDisabled: %v", err)
	}
	if !disabled {
		t.Error("agent should be disabled")
	}

	if err := st.SetAgentDisabled("628111", false); err != nil {
		t.Fatalf("SetAgentDisabled: %v", err)
	}
	disabled, _ = st.AgentDisabled("628111")
	if disabled {
		t.Error("agent should be re-enabled")
	}
}

func TestStaleActiveSessions(t *testing.T) {
	st := openTestStore(t)
	stale, _ := st.CreateSession("628111", "", testNow)
	st.CreateSession("628222", "", testNow.Add(time.Hour))

	got, err := st.StaleActiveSessions(testNow.Add(30 * time.Minute))
	if err != nil {
		t.Fatalf("StaleActiveSessions: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("got %+v, want only the stale session", got)
	}
}

func TestPhones(t *testing.T) {
	st := openTestStore(t)
	st.CreateSession("628111", "", testNow)
	st.CreateSession("628222", "", testNow.Add(time.Hour))

	phones, err := st.Phones()
	if err != nil {
		t.Fatalf("Phones: %v", err)
	}
	if len(phones) != 2 {
		t.Fatalf("got %d phones, want 2", len(phones))
	}
	if phones[0] != "628222" {
		t.Errorf("phones = %v, want most recently active first", phones)
	}
}
