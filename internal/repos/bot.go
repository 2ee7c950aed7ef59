package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/types"
)

type BotRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, id int) (*types.Bot, error)
	// ListStaleActive returns bots in an active status whose heartbeat is
	// missing or older than the cutoff.
	ListStaleActive(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*types.Bot, error)
	// ListStuckDeploying returns DEPLOYING bots created before the cutoff.
	// A nil platform matches any platform, including bots with none set.
	ListStuckDeploying(ctx context.Context, tx *gorm.DB, platform *types.DeploymentPlatform, cutoff time.Time) ([]*types.Bot, error)
	// ListFatalWithResource returns FATAL bots on the platform that still
	// carry a platform identifier.
	ListFatalWithResource(ctx context.Context, tx *gorm.DB, platform types.DeploymentPlatform) ([]*types.Bot, error)
	// ListStaleActiveOnPlatform returns non-terminal bots on the platform
	// whose heartbeat is missing or older than the cutoff.
	ListStaleActiveOnPlatform(ctx context.Context, tx *gorm.DB, platform types.DeploymentPlatform, cutoff time.Time) ([]*types.Bot, error)
	// MarkFatal transitions a bot to FATAL with an end time and reason.
	// Already-FATAL bots are left untouched, so re-marking is a no-op.
	MarkFatal(ctx context.Context, tx *gorm.DB, id int, reason string) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id int, status types.BotStatus) error
}

type botRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBotRepo(db *gorm.DB, baseLog *logger.Logger) BotRepo {
	return &botRepo{
		db:  db,
		log: baseLog.With("repo", "BotRepo"),
	}
}

func (r *botRepo) GetByID(ctx context.Context, tx *gorm.DB, id int) (*types.Bot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var bot types.Bot
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&bot).Error
	if err != nil {
		return nil, err
	}
	if bot.ID == 0 {
		return nil, nil
	}
	return &bot, nil
}

func (r *botRepo) ListStaleActive(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*types.Bot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Bot
	err := transaction.WithContext(ctx).
		Where("status IN ?", activeStatusStrings()).
		Where("last_heartbeat IS NULL OR last_heartbeat < ?", cutoff).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *botRepo) ListStuckDeploying(ctx context.Context, tx *gorm.DB, platform *types.DeploymentPlatform, cutoff time.Time) ([]*types.Bot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Where("status = ?", string(types.BotStatusDeploying)).
		Where("created_at < ?", cutoff)
	if platform != nil {
		q = q.Where("deployment_platform = ?", string(*platform))
	}
	var out []*types.Bot
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *botRepo) ListFatalWithResource(ctx context.Context, tx *gorm.DB, platform types.DeploymentPlatform) ([]*types.Bot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Bot
	err := transaction.WithContext(ctx).
		Where("status = ?", string(types.BotStatusFatal)).
		Where("deployment_platform = ?", string(platform)).
		Where("platform_identifier IS NOT NULL AND platform_identifier <> ''").
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *botRepo) ListStaleActiveOnPlatform(ctx context.Context, tx *gorm.DB, platform types.DeploymentPlatform, cutoff time.Time) ([]*types.Bot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Bot
	err := transaction.WithContext(ctx).
		Where("status NOT IN ?", []string{string(types.BotStatusDone), string(types.BotStatusFatal)}).
		Where("deployment_platform = ?", string(platform)).
		Where("platform_identifier IS NOT NULL AND platform_identifier <> ''").
		Where("last_heartbeat IS NULL OR last_heartbeat < ?", cutoff).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *botRepo) MarkFatal(ctx context.Context, tx *gorm.DB, id int, reason string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.Bot{}).
		Where("id = ? AND status <> ?", id, string(types.BotStatusFatal)).
		Updates(map[string]interface{}{
			"status":        string(types.BotStatusFatal),
			"error_message": reason,
			"end_time":      now,
			"updated_at":    now,
		}).Error
}

func (r *botRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id int, status types.BotStatus) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Bot{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now(),
		}).Error
}

func activeStatusStrings() []string {
	out := make([]string, 0, len(types.ActiveBotStatuses))
	for _, s := range types.ActiveBotStatuses {
		out = append(out, string(s))
	}
	return out
}
