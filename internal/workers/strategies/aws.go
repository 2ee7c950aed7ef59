package strategies

import (
	"context"
	"fmt"
	"time"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/metrics"
	"github.com/meetloop/fleet-backend/internal/platform"
	"github.com/meetloop/fleet-backend/internal/repos"
	"github.com/meetloop/fleet-backend/internal/types"
)

// AWSRecoveryStrategy repairs bots deployed as ECS tasks. Two passes:
// bots stuck in DEPLOYING, and active bot records drifting behind the
// platform's own failure detection (ECS notices a dead task before the
// backend does, so the scan direction is the inverse of the K8s one).
type AWSRecoveryStrategy struct {
	botRepo repos.BotRepo
	client  platform.Client
	tun     Tunables
	log     *logger.Logger
}

func NewAWSRecoveryStrategy(botRepo repos.BotRepo, client platform.Client, tun Tunables, baseLog *logger.Logger) *AWSRecoveryStrategy {
	return &AWSRecoveryStrategy{
		botRepo: botRepo,
		client:  client,
		tun:     tun,
		log:     baseLog.With("strategy", "AWSRecovery"),
	}
}

func (s *AWSRecoveryStrategy) Name() string { return "aws-recovery" }

func (s *AWSRecoveryStrategy) Recover(ctx context.Context) (Result, error) {
	var result Result
	if s.client == nil {
		return result, nil
	}
	s.recoverStuckDeploying(ctx, &result)
	s.reconcileStoppedTasks(ctx, &result)
	return result, nil
}

func (s *AWSRecoveryStrategy) recoverStuckDeploying(ctx context.Context, result *Result) {
	plat := types.PlatformAWS
	cutoff := time.Now().Add(-s.tun.DeployingTimeout)
	bots, err := s.botRepo.ListStuckDeploying(ctx, nil, &plat, cutoff)
	if err != nil {
		s.log.Error("Failed to list stuck deploying bots", "error", err)
		result.Failed++
		return
	}

	for _, bot := range bots {
		if bot.HeartbeatFresh(s.tun.HeartbeatFreshness, time.Now()) {
			if err := s.botRepo.UpdateStatus(ctx, nil, bot.ID, types.BotStatusJoiningCall); err != nil {
				s.log.Error("Failed to correct stale bot status", "bot_id", bot.ID, "error", err)
				result.Failed++
				continue
			}
			s.log.Info("Corrected stale DEPLOYING status, heartbeat is live", "bot_id", bot.ID)
			result.Recovered++
			result.Count("statusCorrected")
			continue
		}

		if bot.PlatformIdentifier != nil {
			if err := s.client.StopBot(ctx, *bot.PlatformIdentifier); err != nil {
				s.log.Warn("Failed to stop task for stuck bot", "bot_id", bot.ID, "task", *bot.PlatformIdentifier, "error", err)
			}
		}
		reason := fmt.Sprintf("aws deployment stuck for over %s", s.tun.DeployingTimeout)
		if err := s.botRepo.MarkFatal(ctx, nil, bot.ID, reason); err != nil {
			s.log.Error("Failed to mark stuck bot fatal", "bot_id", bot.ID, "error", err)
			result.Failed++
			continue
		}
		s.log.Warn("Marked stuck deploying bot fatal", "bot_id", bot.ID)
		metrics.BotsMarkedFatal.WithLabelValues(s.Name()).Inc()
		result.Recovered++
		result.Count("stuckDeploying")
	}
}

// reconcileStoppedTasks marks bots FATAL when ECS reports their task as
// stopped or failed while the bot record still looks active.
func (s *AWSRecoveryStrategy) reconcileStoppedTasks(ctx context.Context, result *Result) {
	cutoff := time.Now().Add(-s.tun.HeartbeatFreshness)
	bots, err := s.botRepo.ListStaleActiveOnPlatform(ctx, nil, types.PlatformAWS, cutoff)
	if err != nil {
		s.log.Error("Failed to list stale active bots", "error", err)
		result.Failed++
		return
	}

	for _, bot := range bots {
		status, err := s.client.GetBotStatus(ctx, *bot.PlatformIdentifier)
		if err != nil {
			s.log.Warn("Failed to query task status", "bot_id", bot.ID, "task", *bot.PlatformIdentifier, "error", err)
			result.Failed++
			continue
		}
		if status != platform.TaskStatusFailed && status != platform.TaskStatusStopped {
			continue
		}
		reason := fmt.Sprintf("ecs reports task %s as %s", *bot.PlatformIdentifier, status)
		if err := s.botRepo.MarkFatal(ctx, nil, bot.ID, reason); err != nil {
			s.log.Error("Failed to mark out-of-sync bot fatal", "bot_id", bot.ID, "error", err)
			result.Failed++
			continue
		}
		s.log.Warn("Marked bot fatal, task is gone on the platform side", "bot_id", bot.ID, "task_status", status)
		metrics.BotsMarkedFatal.WithLabelValues(s.Name()).Inc()
		result.Recovered++
		result.Count("outOfSyncTasks")
	}
}
