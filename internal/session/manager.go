// Package session owns the conversation lifecycle: one active session per
// phone, an inactivity watcher that warns and then ends idle sessions, and
// a forced watcher that caps total session length regardless of activity.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fleetyard/waybot/internal/models"
	"github.com/fleetyard/waybot/internal/store"
)

// Notifier delivers lifecycle messages to the user. Implementations must
// tolerate being called from watcher goroutines.
type Notifier interface {
	// InactivityWarning tells the user the session is about to end for
	// inactivity.
	InactivityWarning(ctx context.Context, chatID string)
	// ForcedWarning tells the user the session is about to hit its hard
	// time limit.
	ForcedWarning(ctx context.Context, chatID string)
	// SessionEnded tells the user the session is over.
	SessionEnded(ctx context.Context, chatID, status string)
}

// Timers holds the lifecycle intervals.
type Timers struct {
	InactivityWarning time.Duration // idle time before the warning
	InactivityEnd     time.Duration // idle time before the session ends
	ForcedDuration    time.Duration // hard ceiling from session start
	ForcedWarningLead time.Duration // warning this long before the forced end
	HandoverCooldown  time.Duration // agent re-enabled this long after handover
}

// Entry is the in-memory handle for one active session.
type Entry struct {
	SessionID string
	Phone     string
	ChatID    string

	// processing serializes turn handling for this phone. Acquired with
	// TryLock; a second message arriving mid-turn is dropped.
	processing sync.Mutex

	inactivityCancel context.CancelFunc
	forcedCancel     context.CancelFunc
}

// TryAcquire attempts to take the per-phone processing lock without
// blocking.
func (e *Entry) TryAcquire() bool {
	return e.processing.TryLock()
}

// Release releases the processing lock.
func (e *Entry) Release() {
	e.processing.Unlock()
}

// Manager tracks active sessions and runs their watchers.
type Manager struct {
	store    *store.Store
	notifier Notifier
	timers   Timers
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry // key: phone
}

// Opts holds parameters for creating a Manager.
type Opts struct {
	Store    *store.Store
	Notifier Notifier
	Timers   Timers
}

// NewManager creates a Manager.
func NewManager(opts Opts) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("session: notifier is required")
	}
	t := opts.Timers
	if t.InactivityWarning <= 0 || t.InactivityEnd <= t.InactivityWarning {
		return nil, fmt.Errorf("session: inactivity timers must satisfy 0 < warning < end")
	}
	if t.ForcedWarningLead <= 0 || t.ForcedDuration <= t.ForcedWarningLead {
		return nil, fmt.Errorf("session: forced timers must satisfy 0 < lead < duration")
	}
	return &Manager{
		store:    opts.Store,
		notifier: opts.Notifier,
		timers:   t,
		now:      time.Now,
		entries:  make(map[string]*Entry),
	}, nil
}

// Ensure returns the active session entry for phone, creating a new session
// when there is none. A leftover active row older than the forced session
// limit is closed and replaced rather than resumed; this covers sessions
// orphaned by a restart. The second result reports whether a new session
// was started.
func (m *Manager) Ensure(ctx context.Context, phone, chatID, displayName string) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[phone]; ok {
		row, err := m.store.Session(e.SessionID)
		if err == nil && row.Status == models.StatusActive {
			return e, false, nil
		}
		// The row was ended out of band; drop the entry and start over.
		e.inactivityCancel()
		e.forcedCancel()
		delete(m.entries, phone)
		log.Printf("session: dropped entry %s for %s, row no longer active", e.SessionID, phone)
	}

	existing, err := m.store.ActiveSessionByPhone(phone)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if now.Sub(existing.StartedAt) < m.timers.ForcedDuration {
			// Adopt the row; the forced watcher stays anchored to the
			// original start time.
			e := m.startEntry(ctx, existing, chatID, now)
			return e, false, nil
		}
		if err := m.store.EndSession(existing.ID, models.StatusEnded, now); err != nil {
			return nil, false, err
		}
		log.Printf("session: replaced stale session %s for %s", existing.ID, phone)
	}

	sess, err := m.store.CreateSession(phone, displayName, now)
	if err != nil {
		return nil, false, err
	}
	e := m.startEntry(ctx, sess, chatID, now)
	log.Printf("session: started %s for %s", sess.ID, phone)
	return e, true, nil
}

// startEntry registers the entry and spawns its watchers. Caller holds m.mu.
func (m *Manager) startEntry(ctx context.Context, sess *models.Session, chatID string, now time.Time) *Entry {
	e := &Entry{
		SessionID: sess.ID,
		Phone:     sess.Phone,
		ChatID:    chatID,
	}
	m.entries[sess.Phone] = e

	inactCtx, inactCancel := context.WithCancel(ctx)
	e.inactivityCancel = inactCancel
	go m.watchInactivity(inactCtx, e)

	forcedCtx, forcedCancel := context.WithCancel(ctx)
	e.forcedCancel = forcedCancel
	remaining := m.timers.ForcedDuration - now.Sub(sess.StartedAt)
	go m.watchForced(forcedCtx, e, remaining)

	return e
}

// Touch records user activity: it bumps the stored last-activity time and
// restarts the inactivity watcher. The forced watcher is left alone.
func (m *Manager) Touch(ctx context.Context, e *Entry) error {
	if err := m.store.UpdateActivity(e.SessionID, m.now()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[e.Phone] != e {
		return nil // ended concurrently
	}
	e.inactivityCancel()
	inactCtx, cancel := context.WithCancel(ctx)
	e.inactivityCancel = cancel
	go m.watchInactivity(inactCtx, e)
	return nil
}

// End closes the session with the given status, stops its watchers and
// notifies the user. Ending a phone with no active entry is a no-op.
func (m *Manager) End(ctx context.Context, phone, status string) error {
	m.mu.Lock()
	e, ok := m.entries[phone]
	if ok {
		delete(m.entries, phone)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	e.inactivityCancel()
	e.forcedCancel()
	if err := m.store.EndSession(e.SessionID, status, m.now()); err != nil {
		return err
	}
	log.Printf("session: ended %s for %s (%s)", e.SessionID, phone, status)
	m.notifier.SessionEnded(ctx, e.ChatID, status)
	return nil
}

// Entry returns the in-memory entry for phone, or nil.
func (m *Manager) Entry(phone string) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[phone]
}

// Shutdown stops all watchers without ending the sessions; leftover rows
// are adopted or replaced on the next message.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for phone, e := range m.entries {
		e.inactivityCancel()
		e.forcedCancel()
		delete(m.entries, phone)
	}
}

// sessionIdle reads the stored idle time for the entry's session and
// whether the row is still active.
func (m *Manager) sessionIdle(e *Entry) (time.Duration, bool) {
	sess, err := m.store.Session(e.SessionID)
	if err != nil || sess.Status != models.StatusActive {
		return 0, false
	}
	return m.now().Sub(sess.LastActivity), true
}

// watchInactivity warns after the warning interval and ends the session
// after the full idle interval. Touch cancels and replaces this watcher;
// the stored idle time is re-read at every wake-up so activity that beat
// the cancellation still wins.
func (m *Manager) watchInactivity(ctx context.Context, e *Entry) {
	warn := time.NewTimer(m.timers.InactivityWarning)
	defer warn.Stop()
	select {
	case <-ctx.Done():
		return
	case <-warn.C:
	}
	if idle, active := m.sessionIdle(e); !active || idle < m.timers.InactivityWarning {
		return
	}
	m.notifier.InactivityWarning(ctx, e.ChatID)

	end := time.NewTimer(m.timers.InactivityEnd - m.timers.InactivityWarning)
	defer end.Stop()
	select {
	case <-ctx.Done():
		return
	case <-end.C:
	}
	if idle, active := m.sessionIdle(e); !active || idle < m.timers.InactivityEnd {
		return
	}
	if err := m.End(context.WithoutCancel(ctx), e.Phone, models.StatusEndedInactivity); err != nil {
		log.Printf("session: inactivity end %s: %v", e.SessionID, err)
	}
}

// watchForced warns shortly before the hard limit and then ends the
// session. It is anchored to the session start and never reset.
func (m *Manager) watchForced(ctx context.Context, e *Entry, remaining time.Duration) {
	lead := remaining - m.timers.ForcedWarningLead
	if lead > 0 {
		warn := time.NewTimer(lead)
		defer warn.Stop()
		select {
		case <-ctx.Done():
			return
		case <-warn.C:
		}
		m.notifier.ForcedWarning(ctx, e.ChatID)
		remaining = m.timers.ForcedWarningLead
	}
	if remaining < 0 {
		remaining = 0
	}
	end := time.NewTimer(remaining)
	defer end.Stop()
	select {
	case <-ctx.Done():
		return
	case <-end.C:
	}
	if err := m.End(context.WithoutCancel(ctx), e.Phone, models.StatusEndedForced); err != nil {
		log.Printf("session: forced end %s: %v", e.SessionID, err)
	}
}

// SweepStale ends active rows whose idle time already exceeds the
// inactivity limit. Run once at startup to clean up after an unclean
// shutdown; sessions swept here were never adopted, so no one is
// notified.
func (m *Manager) SweepStale() error {
	cutoff := m.now().Add(-m.timers.InactivityEnd)
	stale, err := m.store.StaleActiveSessions(cutoff)
	if err != nil {
		return err
	}
	for _, sess := range stale {
		if m.Entry(sess.Phone) != nil {
			continue
		}
		if err := m.store.EndSession(sess.ID, models.StatusEnded, m.now()); err != nil {
			return err
		}
		log.Printf("session: swept stale session %s for %s", sess.ID, sess.Phone)
	}
	return nil
}

// Handover disables the agent for phone and schedules it to be re-enabled
// after the cooldown. The reset runs even if the process context is busy;
// failures are logged and dropped.
func (m *Manager) Handover(phone string) error {
	if err := m.store.SetAgentDisabled(phone, true); err != nil {
		return err
	}
	log.Printf("session: handover for %s, agent disabled for %s", phone, m.timers.HandoverCooldown)
	time.AfterFunc(m.timers.HandoverCooldown, func() {
		if err := m.store.SetAgentDisabled(phone, false); err != nil {
			log.Printf("session: re-enable agent for %s: %v", phone, err)
		}
	})
	return nil
}
