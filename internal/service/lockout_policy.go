package service

import (
	"time"

	"github.com/throttlecove/throttlecove/internal/domain"
	"github.com/throttlecove/throttlecove/internal/observability"
	"github.com/throttlecove/throttlecove/internal/repository"
)

// LockoutPolicy is the per-user failed-login state machine: Open while
// attempts stay below the threshold, Locked once they reach it, back to Open
// when the lock timer runs out. Every transition is persisted through the
// credential store before the decision is returned.
type LockoutPolicy struct {
	users        repository.UserRepository
	maxAttempts  int
	lockDuration time.Duration
}

func NewLockoutPolicy(users repository.UserRepository, maxAttempts int, lockDuration time.Duration) *LockoutPolicy {
	return &LockoutPolicy{users: users, maxAttempts: maxAttempts, lockDuration: lockDuration}
}

// IsLocked reports whether the user is currently locked. A lock whose timer
// has passed is lazily cleared (attempts back to 0, timer to NULL) before
// the answer is given, so the check itself performs Locked->Open.
func (p *LockoutPolicy) IsLocked(user *domain.User) (bool, error) {
	if user.LockedUntil == nil {
		return false, nil
	}
	now := time.Now()
	if user.Locked(now) {
		return true, nil
	}
	if err := p.users.ClearExpiredLock(user.ID, now); err != nil {
		return false, err
	}
	user.LoginAttempts = 0
	user.LockedUntil = nil
	return false, nil
}

// RecordFailure counts one failed attempt and arms the lock when the
// threshold is reached. The increment is atomic at the storage layer, so N
// concurrent failures count as N.
func (p *LockoutPolicy) RecordFailure(userID uint) (locked bool, err error) {
	u, err := p.users.RecordFailedLogin(userID, p.maxAttempts, p.lockDuration)
	if err != nil {
		return false, err
	}
	if u.LockedUntil != nil {
		observability.RecordAccountLockout("armed")
		return true, nil
	}
	return false, nil
}

// RecordSuccess resets the counter, clears any lock and stamps last_login.
func (p *LockoutPolicy) RecordSuccess(userID uint) error {
	return p.users.ResetLockout(userID, time.Now())
}
