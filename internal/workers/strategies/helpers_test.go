package strategies

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

func getSlot(t *testing.T, db *gorm.DB, id int) *types.PoolSlot {
	t.Helper()
	var slot types.PoolSlot
	if err := db.First(&slot, id).Error; err != nil {
		t.Fatalf("load slot %d: %v", id, err)
	}
	return &slot
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

// fakePoolClient records Coolify-side calls and can fail per UUID.
type fakePoolClient struct {
	apps         []platform.Application
	stopped      []string
	deleted      []string
	descriptions map[string]string
	stopErr      map[string]error
	deleteErr    map[string]error
	listErr      error
}

func newFakePoolClient() *fakePoolClient {
	return &fakePoolClient{descriptions: map[string]string{}}
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
	if err := f.stopErr[uuid]; err != nil {
		return err
	}
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
	f.descriptions[uuid] = description
	return nil
}

// fakeJobClient is an in-memory Kubernetes Jobs surface.
type fakeJobClient struct {
	jobs      map[string]bool // name -> active
	deleted   []string
	getErr    map[string]error
	deleteErr map[string]error
}

func newFakeJobClient() *fakeJobClient {
	return &fakeJobClient{jobs: map[string]bool{}}
}

func (f *fakeJobClient) Name() string { return "k8s" }

func (f *fakeJobClient) ReleaseBot(ctx context.Context, botID int) error { return nil }

func (f *fakeJobClient) StopBot(ctx context.Context, resourceID string) error {
	return f.DeleteJob(ctx, resourceID)
}

func (f *fakeJobClient) GetBotStatus(ctx context.Context, resourceID string) (platform.TaskStatus, error) {
	if _, ok := f.jobs[resourceID]; !ok {
		return platform.TaskStatusStopped, nil
	}
	return platform.TaskStatusRunning, nil
}

func (f *fakeJobClient) GetJob(ctx context.Context, name string) (*platform.JobInfo, error) {
	if err := f.getErr[name]; err != nil {
		return nil, err
	}
	active, ok := f.jobs[name]
	if !ok {
		return nil, nil
	}
	return &platform.JobInfo{Name: name, Active: active}, nil
}

func (f *fakeJobClient) DeleteJob(ctx context.Context, name string) error {
	if err := f.deleteErr[name]; err != nil {
		return err
	}
	delete(f.jobs, name)
	f.deleted = append(f.deleted, name)
	return nil
}

// fakeTaskClient is an in-memory ECS surface reporting fixed statuses.
type fakeTaskClient struct {
	statuses  map[string]platform.TaskStatus
	stopped   []string
	statusErr map[string]error
	stopErr   map[string]error
}

func newFakeTaskClient() *fakeTaskClient {
	return &fakeTaskClient{statuses: map[string]platform.TaskStatus{}}
}

func (f *fakeTaskClient) Name() string { return "aws" }

func (f *fakeTaskClient) ReleaseBot(ctx context.Context, botID int) error { return nil }

func (f *fakeTaskClient) StopBot(ctx context.Context, resourceID string) error {
	if err := f.stopErr[resourceID]; err != nil {
		return err
	}
	f.stopped = append(f.stopped, resourceID)
	return nil
}

func (f *fakeTaskClient) GetBotStatus(ctx context.Context, resourceID string) (platform.TaskStatus, error) {
	if err := f.statusErr[resourceID]; err != nil {
		return platform.TaskStatusUnknown, err
	}
	status, ok := f.statuses[resourceID]
	if !ok {
		return platform.TaskStatusStopped, nil
	}
	return status, nil
}

var errPlatformDown = errors.New("platform unavailable")
