package workers

import (
	"context"
	"testing"
	"time"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/platform"
	"github.com/meetloop/fleet-backend/internal/types"
)

const healthTimeout = 10 * time.Minute

func TestBotHealthMarksStaleActiveBotsFatal(t *testing.T) {
	db := newTestDB(t)
	botRepo, _ := newRepos(t, db)
	k8s := newFakeClient("k8s")
	clients := map[types.DeploymentPlatform]platform.Client{types.PlatformK8s: k8s}

	stale := seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/a",
		Status:             types.BotStatusInCall,
		DeploymentPlatform: ptrPlatform(types.PlatformK8s),
		PlatformIdentifier: ptrStr("meetbot-job-1"),
		LastHeartbeat:      ptrTime(time.Now().Add(-20 * time.Minute)),
	})
	never := seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/b",
		Status:             types.BotStatusJoiningCall,
		DeploymentPlatform: ptrPlatform(types.PlatformK8s),
		PlatformIdentifier: ptrStr("meetbot-job-2"),
	})
	fresh := seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/c",
		Status:             types.BotStatusInCall,
		DeploymentPlatform: ptrPlatform(types.PlatformK8s),
		PlatformIdentifier: ptrStr("meetbot-job-3"),
		LastHeartbeat:      ptrTime(time.Now().Add(-time.Minute)),
	})

	w := NewBotHealthWorker(botRepo, clients, nil, healthTimeout, logger.NewNop())
	report, err := w.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if getBot(t, db, stale.ID).Status != types.BotStatusFatal {
		t.Fatalf("stale bot not marked fatal")
	}
	if getBot(t, db, never.ID).Status != types.BotStatusFatal {
		t.Fatalf("never-heartbeat bot not marked fatal")
	}
	if getBot(t, db, fresh.ID).Status != types.BotStatusInCall {
		t.Fatalf("fresh bot was touched")
	}
	if report["marked_fatal"] != 2 {
		t.Fatalf("report = %v, want marked_fatal=2", report)
	}
	if len(k8s.stopped) != 2 {
		t.Fatalf("stopped resources = %v, want both stale bots' jobs", k8s.stopped)
	}
}

func TestBotHealthExcludesDeployingBots(t *testing.T) {
	db := newTestDB(t)
	botRepo, _ := newRepos(t, db)

	deploying := seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/d",
		Status:             types.BotStatusDeploying,
		DeploymentPlatform: ptrPlatform(types.PlatformK8s),
		CreatedAt:          time.Now().Add(-time.Hour),
	})

	w := NewBotHealthWorker(botRepo, nil, nil, healthTimeout, logger.NewNop())
	report, err := w.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report["checked"] != 0 {
		t.Fatalf("report = %v, DEPLOYING bots must be left to the recovery strategies", report)
	}
	if getBot(t, db, deploying.ID).Status != types.BotStatusDeploying {
		t.Fatalf("deploying bot was modified")
	}
}

func TestBotHealthReleasesCoolifyBotsThroughPool(t *testing.T) {
	db := newTestDB(t)
	botRepo, _ := newRepos(t, db)
	pool := &fakePoolService{}

	bot := seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/e",
		Status:             types.BotStatusInCall,
		DeploymentPlatform: ptrPlatform(types.PlatformCoolify),
		LastHeartbeat:      ptrTime(time.Now().Add(-time.Hour)),
	})

	w := NewBotHealthWorker(botRepo, nil, pool, healthTimeout, logger.NewNop())
	report, err := w.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(pool.released) != 1 || pool.released[0] != bot.ID {
		t.Fatalf("pool releases = %v, want [%d]", pool.released, bot.ID)
	}
	if report["resources_released"] != 1 {
		t.Fatalf("report = %v, want resources_released=1", report)
	}
}

func TestBotHealthReleaseFailureDoesNotStopBatch(t *testing.T) {
	db := newTestDB(t)
	botRepo, _ := newRepos(t, db)
	aws := newFakeClient("aws")
	aws.stopErr = map[string]error{"arn:task/1": errPlatformDown}
	clients := map[types.DeploymentPlatform]platform.Client{types.PlatformAWS: aws}

	broken := seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/f",
		Status:             types.BotStatusInCall,
		DeploymentPlatform: ptrPlatform(types.PlatformAWS),
		PlatformIdentifier: ptrStr("arn:task/1"),
		LastHeartbeat:      ptrTime(time.Now().Add(-time.Hour)),
	})
	healthy := seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/g",
		Status:             types.BotStatusInCall,
		DeploymentPlatform: ptrPlatform(types.PlatformAWS),
		PlatformIdentifier: ptrStr("arn:task/2"),
		LastHeartbeat:      ptrTime(time.Now().Add(-time.Hour)),
	})

	w := NewBotHealthWorker(botRepo, clients, nil, healthTimeout, logger.NewNop())
	report, err := w.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Both fatal regardless of the release failure.
	if getBot(t, db, broken.ID).Status != types.BotStatusFatal {
		t.Fatalf("bot with failing release not marked fatal")
	}
	if getBot(t, db, healthy.ID).Status != types.BotStatusFatal {
		t.Fatalf("second bot not processed after release failure")
	}
	if report["marked_fatal"] != 2 || report["resources_released"] != 1 {
		t.Fatalf("report = %v, want marked_fatal=2 resources_released=1", report)
	}
}

func TestBotHealthWithoutClientStillMarksFatal(t *testing.T) {
	db := newTestDB(t)
	botRepo, _ := newRepos(t, db)

	bot := seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/h",
		Status:             types.BotStatusInWaitingRoom,
		DeploymentPlatform: ptrPlatform(types.PlatformAWS),
		PlatformIdentifier: ptrStr("arn:task/9"),
		LastHeartbeat:      ptrTime(time.Now().Add(-time.Hour)),
	})

	w := NewBotHealthWorker(botRepo, nil, nil, healthTimeout, logger.NewNop())
	report, err := w.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if getBot(t, db, bot.ID).Status != types.BotStatusFatal {
		t.Fatalf("bot not marked fatal when no client is configured")
	}
	if report["resources_released"] != 0 {
		t.Fatalf("report = %v, nothing was released without a client", report)
	}
}

func TestBotHealthDoesNotCountNoopReleases(t *testing.T) {
	db := newTestDB(t)
	botRepo, _ := newRepos(t, db)
	k8s := newFakeClient("k8s")
	clients := map[types.DeploymentPlatform]platform.Client{types.PlatformK8s: k8s}

	seedBot(t, db, &types.Bot{
		MeetingURL:    "https://meet.example/i",
		Status:        types.BotStatusInCall,
		LastHeartbeat: ptrTime(time.Now().Add(-time.Hour)),
	})
	seedBot(t, db, &types.Bot{
		MeetingURL:         "https://meet.example/j",
		Status:             types.BotStatusInCall,
		DeploymentPlatform: ptrPlatform(types.PlatformK8s),
		PlatformIdentifier: ptrStr("meetbot-job-9"),
		LastHeartbeat:      ptrTime(time.Now().Add(-time.Hour)),
	})

	w := NewBotHealthWorker(botRepo, clients, nil, healthTimeout, logger.NewNop())
	report, err := w.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report["marked_fatal"] != 2 {
		t.Fatalf("report = %v, want marked_fatal=2", report)
	}
	// Only the k8s bot had anything to tear down.
	if report["resources_released"] != 1 {
		t.Fatalf("report = %v, want resources_released=1", report)
	}
	if len(k8s.stopped) != 1 || k8s.stopped[0] != "meetbot-job-9" {
		t.Fatalf("stopped resources = %v, want [meetbot-job-9]", k8s.stopped)
	}
}
