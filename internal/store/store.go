// Package store is the persistence layer for sessions, messages and
// per-phone configuration. All operations are serialized through one
// mutex because the embedded database has a single writer.
package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetyard/waybot/internal/models"
)

// Store wraps the chat database.
type Store struct {
	mu sync.Mutex
	db *gorm.DB
}

// New creates a Store.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &Store{db: db}, nil
}

// newID returns a 32-char hex identifier.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateSession inserts a new active session for phone and ensures a
// PhoneConfig row exists for it, in one transaction.
func (s *Store) CreateSession(phone, displayName string, now time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &models.Session{
		ID:           newID(),
		Phone:        phone,
		DisplayName:  displayName,
		StartedAt:    now,
		LastActivity: now,
		Status:       models.StatusActive,
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&models.PhoneConfig{}).Where("phone = ?", phone).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			pc := &models.PhoneConfig{ID: newID(), Phone: phone}
			if err := tx.Create(pc).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: create session for %s: %w", phone, err)
	}
	return session, nil
}

// UpdateActivity bumps the session's last-activity time.
func (s *Store) UpdateActivity(sessionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.db.Model(&models.Session{}).
		Where("id = ?", sessionID).
		Update("last_activity", now)
	if result.Error != nil {
		return fmt.Errorf("store: update activity %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: update activity %s: session not found", sessionID)
	}
	return nil
}

// EndSession marks a session ended with the given status. Ending an already
// ended session is a no-op.
func (s *Store) EndSession(sessionID, status string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.db.Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.StatusActive).
		Updates(map[string]interface{}{"status": status, "ended_at": now})
	if result.Error != nil {
		return fmt.Errorf("store: end session %s: %w", sessionID, result.Error)
	}
	return nil
}

// Session fetches a session by id.
func (s *Store) Session(sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var session models.Session
	err := s.db.First(&session, "id = ?", sessionID).Error
	if err != nil {
		return nil, fmt.Errorf("store: session %s: %w", sessionID, err)
	}
	return &session, nil
}

// ActiveSessionByPhone returns the active session for phone, or nil if the
// phone has none.
func (s *Store) ActiveSessionByPhone(phone string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var session models.Session
	err := s.db.Where("phone = ? AND status = ?", phone, models.StatusActive).
		Order("started_at DESC").
		First(&session).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: active session for %s: %w", phone, err)
	}
	return &session, nil
}

// SessionsByPhone returns the most recent limit sessions for phone, in
// chronological order. A non-positive limit returns all of them.
func (s *Store) SessionsByPhone(phone string, limit int) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.db.Where("phone = ?", phone).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var sessions []models.Session
	if err := q.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("store: sessions for %s: %w", phone, err)
	}
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
	return sessions, nil
}

// AddMessage appends a message to a session and bumps its last-activity
// time when the sender is the user.
func (s *Store) AddMessage(sessionID, sender, body, metadata string, now time.Time) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &models.Message{
		ID:        newID(),
		SessionID: sessionID,
		Sender:    sender,
		Body:      body,
		Timestamp: now,
		Metadata:  metadata,
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if sender == models.SenderUser {
			return tx.Model(&models.Session{}).
				Where("id = ?", sessionID).
				Update("last_activity", now).Error
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: add message to %s: %w", sessionID, err)
	}
	return msg, nil
}

// MessagesForSession returns up to limit messages for a session, most
// recent first. A non-positive limit returns all of them.
func (s *Store) MessagesForSession(sessionID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.db.Where("session_id = ?", sessionID).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var msgs []models.Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("store: messages for %s: %w", sessionID, err)
	}
	return msgs, nil
}

// AgentDisabled reports whether the bot is disabled for phone, creating
// the config row with defaults if the phone has never been seen.
func (s *Store) AgentDisabled(phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pc models.PhoneConfig
	err := s.db.Where("phone = ?", phone).First(&pc).Error
	if err == gorm.ErrRecordNotFound {
		pc = models.PhoneConfig{ID: newID(), Phone: phone}
		if err := s.db.Create(&pc).Error; err != nil {
			return false, fmt.Errorf("store: create config for %s: %w", phone, err)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: config for %s: %w", phone, err)
	}
	return pc.DisableAgent, nil
}

// SetAgentDisabled flips the bot on or off for phone, creating the config
// row if needed.
func (s *Store) SetAgentDisabled(phone string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pc models.PhoneConfig
	err := s.db.Where("phone = ?", phone).First(&pc).Error
	if err == gorm.ErrRecordNotFound {
		pc = models.PhoneConfig{ID: newID(), Phone: phone, DisableAgent: disabled}
		if err := s.db.Create(&pc).Error; err != nil {
			return fmt.Errorf("store: create config for %s: %w", phone, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: config for %s: %w", phone, err)
	}
	if err := s.db.Model(&pc).Update("disable_agent", disabled).Error; err != nil {
		return fmt.Errorf("store: update config for %s: %w", phone, err)
	}
	return nil
}

// Phones returns every distinct phone number that has at least one session,
// most recently active first.
func (s *Store) Phones() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var phones []string
	err := s.db.Model(&models.Session{}).
		Group("phone").
		Order("max(last_activity) DESC").
		Pluck("phone", &phones).Error
	if err != nil {
		return nil, fmt.Errorf("store: phones: %w", err)
	}
	return phones, nil
}

// StaleActiveSessions returns active sessions whose last activity is older
// than cutoff, used to sweep leftovers after a restart.
func (s *Store) StaleActiveSessions(cutoff time.Time) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []models.Session
	err := s.db.Where("status = ? AND last_activity < ?", models.StatusActive, cutoff).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("store: stale sessions: %w", err)
	}
	return sessions, nil
}
