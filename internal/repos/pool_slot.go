package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/types"
)

type PoolSlotRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, id int) (*types.PoolSlot, error)
	GetByAssignedBot(ctx context.Context, tx *gorm.DB, botID int) (*types.PoolSlot, error)
	ListAll(ctx context.Context, tx *gorm.DB) ([]*types.PoolSlot, error)
	// ListRecoveryCandidates returns slots in ERROR, slots stuck in
	// DEPLOYING since before the cutoff, and HEALTHY slots with no
	// assigned bot (orphaned by bot deletion).
	ListRecoveryCandidates(ctx context.Context, tx *gorm.DB, deployingCutoff time.Time) ([]*types.PoolSlot, error)
	// TouchForRetry bumps last_used_at and increments recovery_attempts,
	// buying a live-looking bot more time before repair.
	TouchForRetry(ctx context.Context, tx *gorm.DB, id int) error
	// ForceHealthy corrects a slot whose status update never landed and
	// resets the attempt counter.
	ForceHealthy(ctx context.Context, tx *gorm.DB, id int) error
	// ResetToIdle returns a slot to the pool: IDLE, unassigned, no error,
	// zero recovery attempts.
	ResetToIdle(ctx context.Context, tx *gorm.DB, id int) error
	IncrementRecoveryAttempts(ctx context.Context, tx *gorm.DB, id int) error
	Delete(ctx context.Context, tx *gorm.DB, id int) error
}

type poolSlotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPoolSlotRepo(db *gorm.DB, baseLog *logger.Logger) PoolSlotRepo {
	return &poolSlotRepo{
		db:  db,
		log: baseLog.With("repo", "PoolSlotRepo"),
	}
}

func (r *poolSlotRepo) GetByID(ctx context.Context, tx *gorm.DB, id int) (*types.PoolSlot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var slot types.PoolSlot
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&slot).Error
	if err != nil {
		return nil, err
	}
	if slot.ID == 0 {
		return nil, nil
	}
	return &slot, nil
}

func (r *poolSlotRepo) GetByAssignedBot(ctx context.Context, tx *gorm.DB, botID int) (*types.PoolSlot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var slot types.PoolSlot
	err := transaction.WithContext(ctx).
		Where("assigned_bot_id = ?", botID).
		Limit(1).
		Find(&slot).Error
	if err != nil {
		return nil, err
	}
	if slot.ID == 0 {
		return nil, nil
	}
	return &slot, nil
}

func (r *poolSlotRepo) ListAll(ctx context.Context, tx *gorm.DB) ([]*types.PoolSlot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PoolSlot
	if err := transaction.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *poolSlotRepo) ListRecoveryCandidates(ctx context.Context, tx *gorm.DB, deployingCutoff time.Time) ([]*types.PoolSlot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PoolSlot
	err := transaction.WithContext(ctx).
		Where(
			transaction.Where("status = ?", string(types.PoolSlotStatusError)).
				Or("status = ? AND last_used_at < ?", string(types.PoolSlotStatusDeploying), deployingCutoff).
				Or("status = ? AND assigned_bot_id IS NULL", string(types.PoolSlotStatusHealthy)),
		).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *poolSlotRepo) TouchForRetry(ctx context.Context, tx *gorm.DB, id int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.PoolSlot{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_used_at":      now,
			"recovery_attempts": gorm.Expr("recovery_attempts + 1"),
			"updated_at":        now,
		}).Error
}

func (r *poolSlotRepo) ForceHealthy(ctx context.Context, tx *gorm.DB, id int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.PoolSlot{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            string(types.PoolSlotStatusHealthy),
			"error_message":     nil,
			"recovery_attempts": 0,
			"last_used_at":      now,
			"updated_at":        now,
		}).Error
}

func (r *poolSlotRepo) ResetToIdle(ctx context.Context, tx *gorm.DB, id int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.PoolSlot{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            string(types.PoolSlotStatusIdle),
			"assigned_bot_id":   nil,
			"error_message":     nil,
			"recovery_attempts": 0,
			"last_used_at":      now,
			"updated_at":        now,
		}).Error
}

func (r *poolSlotRepo) IncrementRecoveryAttempts(ctx context.Context, tx *gorm.DB, id int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.PoolSlot{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"recovery_attempts": gorm.Expr("recovery_attempts + 1"),
			"updated_at":        time.Now(),
		}).Error
}

func (r *poolSlotRepo) Delete(ctx context.Context, tx *gorm.DB, id int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.PoolSlot{}).Error
}
