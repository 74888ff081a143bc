package domain

import "time"

type User struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Username      string     `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Email         string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash  string     `gorm:"size:128;not null" json:"-"`
	FullName      string     `gorm:"size:255" json:"full_name"`
	Phone         string     `gorm:"size:32" json:"phone,omitempty"`
	AvatarURL     string     `gorm:"size:512" json:"avatar_url,omitempty"`
	Role          Role       `gorm:"size:32;not null;default:rider" json:"role"`
	EmailVerified bool       `gorm:"not null;default:false" json:"email_verified"`
	LoginAttempts int        `gorm:"not null;default:0" json:"-"`
	LockedUntil   *time.Time `json:"-"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Locked reports whether the account lock timer is still running at now.
// The lazy Open transition (clearing the stale lock) is the lockout
// policy's job, not the model's.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}
