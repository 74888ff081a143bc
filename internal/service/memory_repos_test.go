package service

import (
	"strings"
	"sync"
	"time"

	"github.com/throttlecove/throttlecove/internal/domain"
	"github.com/throttlecove/throttlecove/internal/repository"
)

// In-memory stores implementing the repository interfaces, mirroring the
// persistent implementations closely enough for service-level tests.

type memUserRepo struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{nextID: 1, byID: map[uint]*domain.User{}}
}

func (r *memUserRepo) FindByID(id uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) FindByUsername(username string) (*domain.User, error) {
	return r.findWhere(func(u *domain.User) bool { return u.Username == username })
}

func (r *memUserRepo) FindByEmail(email string) (*domain.User, error) {
	return r.findWhere(func(u *domain.User) bool { return u.Email == email })
}

func (r *memUserRepo) FindByUsernameOrEmail(identifier string) (*domain.User, error) {
	u, err := r.FindByUsername(identifier)
	if err == nil {
		return u, nil
	}
	return r.FindByEmail(identifier)
}

func (r *memUserRepo) findWhere(match func(*domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *memUserRepo) Create(user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Username == user.Username {
			return &repository.DuplicateUserError{Field: "username"}
		}
		if strings.EqualFold(u.Email, user.Email) {
			return &repository.DuplicateUserError{Field: "email"}
		}
	}
	cp := *user
	cp.ID = r.nextID
	r.nextID++
	cp.CreatedAt = time.Now()
	r.byID[cp.ID] = &cp
	user.ID = cp.ID
	return nil
}

func (r *memUserRepo) UpdateProfile(id uint, fields repository.ProfileUpdate) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if fields.Email != nil && *fields.Email != u.Email {
		for _, other := range r.byID {
			if other.ID != id && strings.EqualFold(other.Email, *fields.Email) {
				return nil, &repository.DuplicateUserError{Field: "email"}
			}
		}
		u.Email = *fields.Email
		u.EmailVerified = false
	}
	if fields.FullName != nil {
		u.FullName = *fields.FullName
	}
	if fields.Phone != nil {
		u.Phone = *fields.Phone
	}
	if fields.AvatarURL != nil {
		u.AvatarURL = *fields.AvatarURL
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) UpdatePasswordHash(id uint, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *memUserRepo) RecordFailedLogin(id uint, maxAttempts int, lockDuration time.Duration) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	u.LoginAttempts++
	if u.LoginAttempts >= maxAttempts && u.LockedUntil == nil {
		until := time.Now().Add(lockDuration)
		u.LockedUntil = &until
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) ResetLockout(id uint, loginAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.LoginAttempts = 0
	u.LockedUntil = nil
	u.LastLogin = &loginAt
	return nil
}

func (r *memUserRepo) ClearExpiredLock(id uint, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	if u.LockedUntil != nil && !now.Before(*u.LockedUntil) {
		u.LoginAttempts = 0
		u.LockedUntil = nil
	}
	return nil
}

func (r *memUserRepo) Delete(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(r.byID, id)
	return nil
}

type memSessionRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{byID: map[string]*domain.Session{}}
}

func (r *memSessionRepo) Create(s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.CreatedAt = time.Now()
	r.byID[cp.ID] = &cp
	return nil
}

func (r *memSessionRepo) FindByID(id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) FindActiveByID(id string) (*domain.Session, error) {
	s, err := r.FindByID(id)
	if err != nil {
		return nil, err
	}
	if s.Expired(time.Now()) {
		return nil, repository.ErrSessionNotFound
	}
	return s, nil
}

func (r *memSessionRepo) FindByRefreshHash(hash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.RefreshTokenHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *memSessionRepo) ListActiveByUserID(userID uint) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []domain.Session
	for _, s := range r.byID {
		if s.UserID == userID && !s.Expired(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Rotate(id, newHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || s.Expired(time.Now()) {
		return repository.ErrSessionNotFound
	}
	s.RefreshTokenHash = newHash
	s.ExpiresAt = expiresAt
	return nil
}

func (r *memSessionRepo) DeleteByID(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

func (r *memSessionRepo) DeleteOthersByUserID(userID uint, keepID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, s := range r.byID {
		if s.UserID == userID && id != keepID {
			delete(r.byID, id)
			count++
		}
	}
	return count, nil
}

func (r *memSessionRepo) DeleteByUserID(userID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, s := range r.byID {
		if s.UserID == userID {
			delete(r.byID, id)
			count++
		}
	}
	return count, nil
}

func (r *memSessionRepo) CleanupExpired() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var count int64
	for id, s := range r.byID {
		if s.Expired(now) {
			delete(r.byID, id)
			count++
		}
	}
	return count, nil
}
