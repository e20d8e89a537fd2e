package models

// PhoneConfig holds per-phone bot flags. One row per phone, auto-created
// with all flags false the first time the phone is seen. DisableAgent is
// set during human handover and reset by a cool-down task.
type PhoneConfig struct {
	ID           string `gorm:"primaryKey;size:32"`
	Phone        string `gorm:"size:32;uniqueIndex;not null"`
	DisableAgent bool   `gorm:"not null;default:false"`
}
