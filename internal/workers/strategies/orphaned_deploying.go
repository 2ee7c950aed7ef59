package strategies

import (
	"context"
	"fmt"
	"time"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/metrics"
	"github.com/meetloop/fleet-backend/internal/repos"
	"github.com/meetloop/fleet-backend/internal/types"
)

// OrphanedDeployingStrategy is the platform-agnostic safety net: any bot
// stuck in DEPLOYING past the timeout is marked FATAL, including bots that
// failed before a platform was ever chosen. Bots whose heartbeat is still
// fresh are corrected to JOINING_CALL instead. It deliberately overlaps the
// platform-specific stuck-deploying cleanups; double-marking is harmless.
type OrphanedDeployingStrategy struct {
	botRepo repos.BotRepo
	tun     Tunables
	log     *logger.Logger
}

func NewOrphanedDeployingStrategy(botRepo repos.BotRepo, tun Tunables, baseLog *logger.Logger) *OrphanedDeployingStrategy {
	return &OrphanedDeployingStrategy{
		botRepo: botRepo,
		tun:     tun,
		log:     baseLog.With("strategy", "OrphanedDeploying"),
	}
}

func (s *OrphanedDeployingStrategy) Name() string { return "orphaned-deploying" }

func (s *OrphanedDeployingStrategy) Recover(ctx context.Context) (Result, error) {
	var result Result
	cutoff := time.Now().Add(-s.tun.DeployingTimeout)
	bots, err := s.botRepo.ListStuckDeploying(ctx, nil, nil, cutoff)
	if err != nil {
		return result, fmt.Errorf("list stuck deploying bots: %w", err)
	}

	for _, bot := range bots {
		// A fresh heartbeat always wins over the stored status: the bot
		// is running, only its DEPLOYING row is stale. Correct it forward
		// instead of killing it.
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

		reason := fmt.Sprintf("deployment timed out after %s", s.tun.DeployingTimeout)
		if err := s.botRepo.MarkFatal(ctx, nil, bot.ID, reason); err != nil {
			s.log.Error("Failed to mark orphaned deploying bot fatal", "bot_id", bot.ID, "error", err)
			result.Failed++
			continue
		}
		s.log.Warn("Marked orphaned deploying bot fatal", "bot_id", bot.ID, "created_at", bot.CreatedAt)
		metrics.BotsMarkedFatal.WithLabelValues(s.Name()).Inc()
		result.Recovered++
		result.Count("orphanedDeploying")
	}
	return result, nil
}
