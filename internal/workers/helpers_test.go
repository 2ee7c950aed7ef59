package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/platform"
	"github.com/meetloop/fleet-backend/internal/repos"
	"github.com/meetloop/fleet-backend/internal/types"
)

var errPlatformDown = errors.New("platform unreachable")

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.Bot{}, &types.PoolSlot{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newRepos(t *testing.T, db *gorm.DB) (repos.BotRepo, repos.PoolSlotRepo) {
	t.Helper()
	log := logger.NewNop()
	return repos.NewBotRepo(db, log), repos.NewPoolSlotRepo(db, log)
}

func seedBot(t *testing.T, db *gorm.DB, bot *types.Bot) *types.Bot {
	t.Helper()
	if err := db.Create(bot).Error; err != nil {
		t.Fatalf("seed bot: %v", err)
	}
	return bot
}

func seedSlot(t *testing.T, db *gorm.DB, slot *types.PoolSlot) *types.PoolSlot {
	t.Helper()
	if slot.LastUsedAt.IsZero() {
		slot.LastUsedAt = time.Now()
	}
	if err := db.Create(slot).Error; err != nil {
		t.Fatalf("seed slot: %v", err)
	}
	return slot
}

func getBot(t *testing.T, db *gorm.DB, id int) *types.Bot {
	t.Helper()
	var bot types.Bot
	if err := db.First(&bot, id).Error; err != nil {
		t.Fatalf("load bot %d: %v", id, err)
	}
	return &bot
}

func slotExists(t *testing.T, db *gorm.DB, id int) bool {
	t.Helper()
	var count int64
	if err := db.Model(&types.PoolSlot{}).Where("id = ?", id).Count(&count).Error; err != nil {
		t.Fatalf("count slots: %v", err)
	}
	return count > 0
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrStr(s string) *string { return &s }

func ptrPlatform(p types.DeploymentPlatform) *types.DeploymentPlatform { return &p }

// fakeClient records stop/release calls for a single platform.
type fakeClient struct {
	name      string
	stopped   []string
	released  []int
	stopErr   map[string]error
	statuses  map[string]platform.TaskStatus
	statusErr error
}

func newFakeClient(name string) *fakeClient {
	return &fakeClient{name: name}
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) ReleaseBot(ctx context.Context, botID int) error {
	f.released = append(f.released, botID)
	return nil
}

func (f *fakeClient) StopBot(ctx context.Context, resourceID string) error {
	if err := f.stopErr[resourceID]; err != nil {
		return err
	}
	f.stopped = append(f.stopped, resourceID)
	return nil
}

func (f *fakeClient) GetBotStatus(ctx context.Context, resourceID string) (platform.TaskStatus, error) {
	if f.statusErr != nil {
		return platform.TaskStatusUnknown, f.statusErr
	}
	if s, ok := f.statuses[resourceID]; ok {
		return s, nil
	}
	return platform.TaskStatusUnknown, nil
}

// fakePoolService records releases without touching a platform.
type fakePoolService struct {
	released   []int
	releaseErr map[int]error
}

func (f *fakePoolService) ReleaseBot(ctx context.Context, botID int) error {
	if err := f.releaseErr[botID]; err != nil {
		return err
	}
	f.released = append(f.released, botID)
	return nil
}

func (f *fakePoolService) ResolveSlotUUID(ctx context.Context, botID int) (string, error) {
	return "", nil
}

func (f *fakePoolService) SlotDescription(slot *types.PoolSlot) string { return "" }

func (f *fakePoolService) NewSlotName() string { return "meetbot-pool-test" }

// fakePoolClient implements platform.PoolClient for the sync worker.
type fakePoolClient struct {
	apps      []platform.Application
	deleted   []string
	stopped   []string
	deleteErr map[string]error
	listErr   error
}

func newFakePoolClient() *fakePoolClient {
	return &fakePoolClient{}
}

func (f *fakePoolClient) Name() string { return "coolify" }

func (f *fakePoolClient) ReleaseBot(ctx context.Context, botID int) error { return nil }

func (f *fakePoolClient) StopBot(ctx context.Context, resourceID string) error {
	return f.StopApplication(ctx, resourceID)
}

func (f *fakePoolClient) GetBotStatus(ctx context.Context, resourceID string) (platform.TaskStatus, error) {
	return platform.TaskStatusUnknown, nil
}

func (f *fakePoolClient) ListPoolApplications(ctx context.Context) ([]platform.Application, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.apps, nil
}

func (f *fakePoolClient) StopApplication(ctx context.Context, uuid string) error {
	f.stopped = append(f.stopped, uuid)
	return nil
}

func (f *fakePoolClient) DeleteApplication(ctx context.Context, uuid string) error {
	if err := f.deleteErr[uuid]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, uuid)
	return nil
}

func (f *fakePoolClient) UpdateDescription(ctx context.Context, uuid string, description string) error {
	return nil
}
