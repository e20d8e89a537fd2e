package models

import "time"

// Session status values. A phone has at most one active session at a time;
// the session manager enforces this, not the database.
const (
	StatusActive          = "active"
	StatusEnded           = "ended"
	StatusEndedInactivity = "ended_inactivity"
	StatusEndedForced     = "ended_forced"
	StatusEndedManual     = "ended_manual"
)

// Session is one bounded conversation between the bot and a single phone
// number. Rows are never deleted; ended sessions are kept for history.
type Session struct {
	ID           string `gorm:"primaryKey;size:32"`
	Phone        string `gorm:"size:32;not null;index"`
	DisplayName  string `gorm:"size:128"`
	StartedAt    time.Time
	LastActivity time.Time `gorm:"index"`
	Status       string    `gorm:"size:24;not null;default:active;index"`
	EndedAt      *time.Time

	Messages []Message `gorm:"foreignKey:SessionID"`
}

// Active reports whether the session row is still live.
func (s *Session) Active() bool {
	return s.Status == StatusActive
}

// Age returns how long the session has existed at time now.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}
