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

// K8sRecoveryStrategy repairs bots deployed as Kubernetes Jobs. Two
// passes: bots stuck in DEPLOYING, and Job objects that outlived a FATAL
// bot (marking FATAL can race with resource teardown, so the Job may
// still exist).
type K8sRecoveryStrategy struct {
	botRepo repos.BotRepo
	client  platform.JobClient
	tun     Tunables
	log     *logger.Logger
}

func NewK8sRecoveryStrategy(botRepo repos.BotRepo, client platform.JobClient, tun Tunables, baseLog *logger.Logger) *K8sRecoveryStrategy {
	return &K8sRecoveryStrategy{
		botRepo: botRepo,
		client:  client,
		tun:     tun,
		log:     baseLog.With("strategy", "K8sRecovery"),
	}
}

func (s *K8sRecoveryStrategy) Name() string { return "k8s-recovery" }

func (s *K8sRecoveryStrategy) Recover(ctx context.Context) (Result, error) {
	var result Result
	if s.client == nil {
		return result, nil
	}
	s.recoverStuckDeploying(ctx, &result)
	s.cleanupOrphanedJobs(ctx, &result)
	return result, nil
}

func (s *K8sRecoveryStrategy) recoverStuckDeploying(ctx context.Context, result *Result) {
	plat := types.PlatformK8s
	cutoff := time.Now().Add(-s.tun.DeployingTimeout)
	bots, err := s.botRepo.ListStuckDeploying(ctx, nil, &plat, cutoff)
	if err != nil {
		s.log.Error("Failed to list stuck deploying bots", "error", err)
		result.Failed++
		return
	}

	for _, bot := range bots {
		// A fresh heartbeat means the bot is running and only its status
		// is stale. Correct it forward instead of killing it.
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
			if err := s.client.DeleteJob(ctx, *bot.PlatformIdentifier); err != nil {
				s.log.Warn("Failed to delete job for stuck bot", "bot_id", bot.ID, "job", *bot.PlatformIdentifier, "error", err)
			}
		}
		reason := fmt.Sprintf("k8s deployment stuck for over %s", s.tun.DeployingTimeout)
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

func (s *K8sRecoveryStrategy) cleanupOrphanedJobs(ctx context.Context, result *Result) {
	bots, err := s.botRepo.ListFatalWithResource(ctx, nil, types.PlatformK8s)
	if err != nil {
		s.log.Error("Failed to list fatal bots with job handles", "error", err)
		result.Failed++
		return
	}

	for _, bot := range bots {
		job, err := s.client.GetJob(ctx, *bot.PlatformIdentifier)
		if err != nil {
			s.log.Warn("Failed to check job existence", "bot_id", bot.ID, "job", *bot.PlatformIdentifier, "error", err)
			result.Failed++
			continue
		}
		if job == nil {
			continue
		}
		if err := s.client.DeleteJob(ctx, job.Name); err != nil {
			s.log.Error("Failed to delete orphaned job", "bot_id", bot.ID, "job", job.Name, "error", err)
			result.Failed++
			continue
		}
		s.log.Info("Deleted orphaned job for fatal bot", "bot_id", bot.ID, "job", job.Name)
		result.Recovered++
		result.Count("orphanedJobs")
	}
}
