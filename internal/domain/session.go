package domain

import "time"

// Session binds a user to one device/client for a bounded window. The row
// itself is the source of truth for revocation: logout deletes it, and a
// signature-valid token whose session row is gone is dead.
type Session struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	UserID           uint      `gorm:"index;not null" json:"user_id"`
	RefreshTokenHash string    `gorm:"size:128;uniqueIndex;not null" json:"-"`
	IP               string    `gorm:"size:64" json:"ip"`
	UserAgent        string    `gorm:"size:512" json:"user_agent"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `gorm:"index;not null" json:"expires_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
