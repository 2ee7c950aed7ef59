package strategies

import (
	"context"
	"testing"
	"time"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/types"
)

func TestK8sCorrectsStuckBotWithLiveHeartbeat(t *testing.T) {
	db := newTestDB(t)
	botRepo, _ := newRepos(t, db)
	client := newFakeJobClient()
	client.jobs["meetbot-job-11"] = true

	bot := seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/a",
		Status:             types.BotStatusDeploying,
		DeploymentPlatform: ptrPlatform(types.PlatformK8s),
		PlatformIdentifier: ptrStr("meetbot-job-11"),
		LastHeartbeat:      ptrTime(time.Now().Add(-time.Minute)),
		CreatedAt:          time.Now().Add(-30 * time.Minute),
	})

	strat := NewK8sRecoveryStrategy(botRepo, client, DefaultTunables(), logger.NewNop())
	result, err := strat.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}

	got := getBot(t, db, bot.ID)
	if got.Status != types.BotStatusJoiningCall {
		t.Fatalf("bot status = %s, want JOINING_CALL", got.Status)
	}
	if len(client.deleted) != 0 {
		t.Fatalf("job deleted for a live bot: %v", client.deleted)
	}
	if result.Counters["statusCorrected"] != 1 {
		t.Fatalf("counters = %v, want statusCorrected=1", result.Counters)
	}
}

func TestK8sDeletesJobAndMarksStuckBotFatal(t *testing.T) {
	db := newTestDB(t)
	botRepo, _ := newRepos(t, db)
	client := newFakeJobClient()
	client.jobs["meetbot-job-12"] = true

	bot := seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/b",
		Status:             types.BotStatusDeploying,
		DeploymentPlatform: ptrPlatform(types.PlatformK8s),
		PlatformIdentifier: ptrStr("meetbot-job-12"),
		CreatedAt:          time.Now().Add(-30 * time.Minute),
	})

	strat := NewK8sRecoveryStrategy(botRepo, client, DefaultTunables(), logger.NewNop())
	result, err := strat.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}

	got := getBot(t, db, bot.ID)
	if got.Status != types.BotStatusFatal {
		t.Fatalf("bot status = %s, want FATAL", got.Status)
	}
	if got.ErrorMessage == nil {
		t.Fatalf("no error message recorded")
	}
	if len(client.deleted) == 0 || client.deleted[0] != "meetbot-job-12" {
		t.Fatalf("job not deleted: %v", client.deleted)
	}
	if result.Counters["stuckDeploying"] != 1 {
		t.Fatalf("counters = %v, want stuckDeploying=1", result.Counters)
	}
}

func TestK8sMarksStuckBotFatalEvenWhenJobDeleteFails(t *testing.T) {
	db := newTestDB(t)
	botRepo, _ := newRepos(t, db)
	client := newFakeJobClient()
	client.jobs["meetbot-job-13"] = true
	client.deleteErr = map[string]error{"meetbot-job-13": errPlatformDown}

	bot := seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/c",
		Status:             types.BotStatusDeploying,
		DeploymentPlatform: ptrPlatform(types.PlatformK8s),
		PlatformIdentifier: ptrStr("meetbot-job-13"),
		CreatedAt:          time.Now().Add(-time.Hour),
	})

	strat := NewK8sRecoveryStrategy(botRepo, client, DefaultTunables(), logger.NewNop())
	if _, err := strat.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if getBot(t, db, bot.ID).Status != types.BotStatusFatal {
		t.Fatalf("delete failure must not block marking the bot fatal")
	}
}

func TestK8sCleansUpJobOutlivingFatalBot(t *testing.T) {
	db := newTestDB(t)
	botRepo, _ := newRepos(t, db)
	client := newFakeJobClient()
	client.jobs["meetbot-job-20"] = false

	seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/d",
		Status:             types.BotStatusFatal,
		DeploymentPlatform: ptrPlatform(types.PlatformK8s),
		PlatformIdentifier: ptrStr("meetbot-job-20"),
		EndTime:            ptrTime(time.Now().Add(-time.Hour)),
	})
	// Gone already on the cluster: not counted, not an error.
	seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/e",
		Status:             types.BotStatusFatal,
		DeploymentPlatform: ptrPlatform(types.PlatformK8s),
		PlatformIdentifier: ptrStr("meetbot-job-21"),
	})

	strat := NewK8sRecoveryStrategy(botRepo, client, DefaultTunables(), logger.NewNop())
	result, err := strat.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}

	if len(client.deleted) != 1 || client.deleted[0] != "meetbot-job-20" {
		t.Fatalf("deleted jobs = %v, want [meetbot-job-20]", client.deleted)
	}
	if result.Counters["orphanedJobs"] != 1 {
		t.Fatalf("counters = %v, want orphanedJobs=1", result.Counters)
	}
	if result.Failed != 0 {
		t.Fatalf("failed = %d, want 0", result.Failed)
	}
}

func TestK8sOrphanScanIsolatesPerBotFailures(t *testing.T) {
	db := newTestDB(t)
	botRepo, _ := newRepos(t, db)
	client := newFakeJobClient()
	client.jobs["meetbot-job-30"] = false
	client.jobs["meetbot-job-31"] = false
	client.getErr = map[string]error{"meetbot-job-30": errPlatformDown}

	seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/f",
		Status:             types.BotStatusFatal,
		DeploymentPlatform: ptrPlatform(types.PlatformK8s),
		PlatformIdentifier: ptrStr("meetbot-job-30"),
	})
	seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/g",
		Status:             types.BotStatusFatal,
		DeploymentPlatform: ptrPlatform(types.PlatformK8s),
		PlatformIdentifier: ptrStr("meetbot-job-31"),
	})

	strat := NewK8sRecoveryStrategy(botRepo, client, DefaultTunables(), logger.NewNop())
	result, err := strat.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}

	if result.Failed != 1 {
		t.Fatalf("failed = %d, want 1", result.Failed)
	}
	if result.Counters["orphanedJobs"] != 1 {
		t.Fatalf("counters = %v, want the healthy bot still cleaned", result.Counters)
	}
}

func TestK8sMissingClientIsZeroResult(t *testing.T) {
	db := newTestDB(t)
	botRepo, _ := newRepos(t, db)

	seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/h",
		Status:             types.BotStatusDeploying,
		DeploymentPlatform: ptrPlatform(types.PlatformK8s),
		CreatedAt:          time.Now().Add(-time.Hour),
	})

	strat := NewK8sRecoveryStrategy(botRepo, nil, DefaultTunables(), logger.NewNop())
	result, err := strat.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if result.Recovered != 0 || result.Failed != 0 {
		t.Fatalf("result = %+v, want zero when client missing", result)
	}
}
