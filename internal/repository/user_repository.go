package repository

import (
	"context"
	"errors"
	"time"

	"github.com/throttlecove/throttlecove/internal/domain"
	"github.com/throttlecove/throttlecove/internal/observability"

	"gorm.io/gorm"
)

type UserRepository interface {
	FindByID(id uint) (*domain.User, error)
	FindByUsername(username string) (*domain.User, error)
	FindByEmail(email string) (*domain.User, error)
	// FindByUsernameOrEmail resolves the login identifier: username first,
	// then email.
	FindByUsernameOrEmail(identifier string) (*domain.User, error)
	Create(user *domain.User) error
	UpdateProfile(id uint, fields ProfileUpdate) (*domain.User, error)
	UpdatePasswordHash(id uint, hash string) error
	// RecordFailedLogin atomically increments login_attempts and, when the
	// incremented value reaches maxAttempts, arms locked_until. Returns the
	// post-increment user row.
	RecordFailedLogin(id uint, maxAttempts int, lockDuration time.Duration) (*domain.User, error)
	// ResetLockout clears attempts and the lock timer and stamps last_login.
	ResetLockout(id uint, loginAt time.Time) error
	// ClearExpiredLock performs the lazy Locked->Open transition: attempts
	// and locked_until are cleared only if the timer has already passed.
	ClearExpiredLock(id uint, now time.Time) error
	Delete(id uint) error
}

// ProfileUpdate carries the only user fields profile update may touch.
// Nil pointers mean "leave unchanged".
type ProfileUpdate struct {
	FullName  *string
	Email     *string
	Phone     *string
	AvatarURL *string
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.First(&u, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByUsername(username string) (*domain.User, error) {
	return r.findOne("find_by_username", "username = ?", username)
}

func (r *GormUserRepository) FindByEmail(email string) (*domain.User, error) {
	return r.findOne("find_by_email", "email = ?", email)
}

func (r *GormUserRepository) FindByUsernameOrEmail(identifier string) (*domain.User, error) {
	u, err := r.FindByUsername(identifier)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	return r.FindByEmail(identifier)
}

func (r *GormUserRepository) findOne(op, query string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.db.Where(query, arg).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", op, "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", op, "success")
	return &u, nil
}

// Create inserts the user inside one transaction. The pre-checks give a
// field-specific DuplicateUserError; the unique indexes are the backstop for
// two concurrent registrations racing past the pre-check.
func (r *GormUserRepository) Create(user *domain.User) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.User{}).Where("username = ?", user.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return &DuplicateUserError{Field: "username"}
		}
		if err := tx.Model(&domain.User{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return &DuplicateUserError{Field: "email"}
		}
		return tx.Create(user).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			err = r.classifyDuplicate(user)
		}
		if _, ok := IsDuplicateUser(err); ok {
			observability.RecordRepositoryOperation(context.Background(), "user", "create", "duplicate")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "user", "create", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "create", "success")
	return nil
}

func (r *GormUserRepository) classifyDuplicate(user *domain.User) error {
	var count int64
	if err := r.db.Model(&domain.User{}).Where("username = ?", user.Username).Count(&count).Error; err == nil && count > 0 {
		return &DuplicateUserError{Field: "username"}
	}
	return &DuplicateUserError{Field: "email"}
}

func (r *GormUserRepository) UpdateProfile(id uint, fields ProfileUpdate) (*domain.User, error) {
	var updated domain.User
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var u domain.User
		if err := tx.First(&u, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		updates := map[string]any{}
		if fields.FullName != nil {
			updates["full_name"] = *fields.FullName
		}
		if fields.Phone != nil {
			updates["phone"] = *fields.Phone
		}
		if fields.AvatarURL != nil {
			updates["avatar_url"] = *fields.AvatarURL
		}
		if fields.Email != nil && *fields.Email != u.Email {
			var count int64
			if err := tx.Model(&domain.User{}).Where("email = ? AND id <> ?", *fields.Email, id).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return &DuplicateUserError{Field: "email"}
			}
			updates["email"] = *fields.Email
			updates["email_verified"] = false
		}
		if len(updates) > 0 {
			if err := tx.Model(&domain.User{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return &DuplicateUserError{Field: "email"}
				}
				return err
			}
		}
		return tx.First(&updated, id).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "update_profile", outcomeOf(err))
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "update_profile", "success")
	return &updated, nil
}

func (r *GormUserRepository) UpdatePasswordHash(id uint, hash string) error {
	res := r.db.Model(&domain.User{}).Where("id = ?", id).Update("password_hash", hash)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "update_password_hash", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "user", "update_password_hash", "not_found")
		return ErrUserNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "update_password_hash", "success")
	return nil
}

func (r *GormUserRepository) RecordFailedLogin(id uint, maxAttempts int, lockDuration time.Duration) (*domain.User, error) {
	var u domain.User
	err := r.db.Transaction(func(tx *gorm.DB) error {
		// The increment is a single UPDATE expression, so concurrent
		// failures never under-count even without a row lock.
		res := tx.Model(&domain.User{}).Where("id = ?", id).
			Update("login_attempts", gorm.Expr("login_attempts + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		if err := tx.First(&u, id).Error; err != nil {
			return err
		}
		if u.LoginAttempts >= maxAttempts && u.LockedUntil == nil {
			until := time.Now().Add(lockDuration)
			if err := tx.Model(&domain.User{}).Where("id = ?", id).
				Update("locked_until", until).Error; err != nil {
				return err
			}
			u.LockedUntil = &until
		}
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "record_failed_login", outcomeOf(err))
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "record_failed_login", "success")
	return &u, nil
}

func (r *GormUserRepository) ResetLockout(id uint, loginAt time.Time) error {
	res := r.db.Model(&domain.User{}).Where("id = ?", id).Updates(map[string]any{
		"login_attempts": 0,
		"locked_until":   nil,
		"last_login":     loginAt,
	})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "reset_lockout", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "user", "reset_lockout", "not_found")
		return ErrUserNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "reset_lockout", "success")
	return nil
}

func (r *GormUserRepository) ClearExpiredLock(id uint, now time.Time) error {
	err := r.db.Model(&domain.User{}).
		Where("id = ? AND locked_until IS NOT NULL AND locked_until <= ?", id, now).
		Updates(map[string]any{"login_attempts": 0, "locked_until": nil}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "clear_expired_lock", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "clear_expired_lock", "success")
	return nil
}

// Delete removes the user and every dependent session in one transaction:
// either all effects commit or none do.
func (r *GormUserRepository) Delete(id uint) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&domain.Session{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.User{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "delete", outcomeOf(err))
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "delete", "success")
	return nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrSessionNotFound):
		return "not_found"
	default:
		if _, ok := IsDuplicateUser(err); ok {
			return "duplicate"
		}
		return "error"
	}
}
