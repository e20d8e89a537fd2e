package models

import "time"

// Message sender roles.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Message is a single chat bubble (user or bot) within a session. Rows are
// immutable once written; history reads are most-recent-first.
type Message struct {
	ID        string    `gorm:"primaryKey;size:32"`
	SessionID string    `gorm:"size:32;not null;index:idx_messages_session_ts,priority:1"`
	Sender    string    `gorm:"size:8;not null"`
	Body      string    `gorm:"type:text"`
	Timestamp time.Time `gorm:"index:idx_messages_session_ts,priority:2"`
	Metadata  string    `gorm:"type:text"` // free-form JSON

	Session Session `gorm:"foreignKey:SessionID"`
}
