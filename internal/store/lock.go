package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationLockName = "migrations"

// AcquireLock takes the migration lock for holder.
// A lock held by another holder for longer than ttl is considered stale and taken over.
func (s *SQLStore) AcquireLock(ctx context.Context, holder string, ttl time.Duration) error {
	now := s.now()
	return newStoreError("lock.acquire", s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current migrationLock
		err := tx.Where("name = ?", migrationLockName).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&migrationLock{Name: migrationLockName, Holder: holder, AcquiredAtSeconds: now.Unix()}).Error
		}
		if err != nil {
			return err
		}

		acquiredAt := time.Unix(current.AcquiredAtSeconds, 0).UTC()
		if current.Holder != holder {
			if ttl <= 0 || now.Sub(acquiredAt) < ttl {
				return fmt.Errorf("%w: holder %s since %s", ErrLocked, current.Holder, acquiredAt.Format(time.RFC3339))
			}
			s.logger.Warn("taking over stale migration lock",
				zap.String("previous_holder", current.Holder),
				zap.Time("acquired_at", acquiredAt))
		}

		return tx.Model(&migrationLock{}).
			Where("name = ? AND holder = ?", migrationLockName, current.Holder).
			Updates(map[string]interface{}{"holder": holder, "acquired_at_s": now.Unix()}).Error
	}))
}

// ReleaseLock frees the migration lock when holder owns it.
func (s *SQLStore) ReleaseLock(ctx context.Context, holder string) error {
	err := s.db.WithContext(ctx).
		Where("name = ? AND holder = ?", migrationLockName, holder).
		Delete(&migrationLock{}).Error
	return newStoreError("lock.release", err)
}
