package repository

import (
	"context"
	"errors"
	"time"

	"github.com/throttlecove/throttlecove/internal/domain"
	"github.com/throttlecove/throttlecove/internal/observability"

	"gorm.io/gorm"
)

type SessionRepository interface {
	Create(s *domain.Session) error
	FindByID(id string) (*domain.Session, error)
	// FindActiveByID is FindByID restricted to unexpired rows.
	FindActiveByID(id string) (*domain.Session, error)
	FindByRefreshHash(hash string) (*domain.Session, error)
	ListActiveByUserID(userID uint) ([]domain.Session, error)
	// Rotate swaps the stored refresh hash and pushes the expiry forward,
	// keeping the session id stable. The old refresh token dies here.
	Rotate(id, newHash string, expiresAt time.Time) error
	// DeleteByID is idempotent: deleting an absent session is not an error.
	DeleteByID(id string) error
	DeleteOthersByUserID(userID uint, keepID string) (int64, error)
	DeleteByUserID(userID uint) (int64, error)
	CleanupExpired() (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(s *domain.Session) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByID(id string) (*domain.Session, error) {
	return r.findOne("find_by_id", "id = ?", id)
}

func (r *GormSessionRepository) FindActiveByID(id string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("id = ? AND expires_at > ?", id, time.Now()).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindByRefreshHash(hash string) (*domain.Session, error) {
	return r.findOne("find_by_refresh_hash", "refresh_token_hash = ?", hash)
}

func (r *GormSessionRepository) findOne(op, query string, arg any) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where(query, arg).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", op, "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", op, "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(userID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.Where("user_id = ? AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) Rotate(id, newHash string, expiresAt time.Time) error {
	res := r.db.Model(&domain.Session{}).
		Where("id = ? AND expires_at > ?", id, time.Now()).
		Updates(map[string]any{"refresh_token_hash": newHash, "expires_at": expiresAt})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "rotate", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "session", "rotate", "not_found")
		return ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "rotate", "success")
	return nil
}

func (r *GormSessionRepository) DeleteByID(id string) error {
	err := r.db.Where("id = ?", id).Delete(&domain.Session{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_id", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_id", "success")
	return nil
}

func (r *GormSessionRepository) DeleteOthersByUserID(userID uint, keepID string) (int64, error) {
	res := r.db.Where("user_id = ? AND id <> ?", userID, keepID).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_others_by_user_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_others_by_user_id", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) DeleteByUserID(userID uint) (int64, error) {
	res := r.db.Where("user_id = ?", userID).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_user_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_user_id", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) CleanupExpired() (int64, error) {
	res := r.db.Where("expires_at <= ?", time.Now()).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
