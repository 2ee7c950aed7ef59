package strategies

import (
	"context"
	"fmt"
	"time"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/metrics"
	"github.com/meetloop/fleet-backend/internal/platform"
	"github.com/meetloop/fleet-backend/internal/repos"
	"github.com/meetloop/fleet-backend/internal/services"
	"github.com/meetloop/fleet-backend/internal/types"
)

// CoolifyRecoveryStrategy repairs pool slots rather than bots: Coolify
// runs a slot pool instead of one container per bot. Candidates are slots
// in ERROR, slots stuck in DEPLOYING, and HEALTHY slots orphaned by bot
// deletion.
//
// A fresh heartbeat from the assigned bot always wins over slot state: the
// slot is left alone (attempts bumped to bound the deferral), and after
// enough consecutive live-heartbeat skips the slot status is assumed to
// have simply never been updated and is force-corrected to HEALTHY.
type CoolifyRecoveryStrategy struct {
	slotRepo repos.PoolSlotRepo
	botRepo  repos.BotRepo
	client   platform.PoolClient
	pool     services.PoolService
	tun      Tunables
	log      *logger.Logger
}

func NewCoolifyRecoveryStrategy(
	slotRepo repos.PoolSlotRepo,
	botRepo repos.BotRepo,
	client platform.PoolClient,
	pool services.PoolService,
	tun Tunables,
	baseLog *logger.Logger,
) *CoolifyRecoveryStrategy {
	return &CoolifyRecoveryStrategy{
		slotRepo: slotRepo,
		botRepo:  botRepo,
		client:   client,
		pool:     pool,
		tun:      tun,
		log:      baseLog.With("strategy", "CoolifyRecovery"),
	}
}

func (s *CoolifyRecoveryStrategy) Name() string { return "coolify-recovery" }

func (s *CoolifyRecoveryStrategy) Recover(ctx context.Context) (Result, error) {
	var result Result
	if s.client == nil {
		return result, nil
	}

	cutoff := time.Now().Add(-s.tun.DeployingTimeout)
	slots, err := s.slotRepo.ListRecoveryCandidates(ctx, nil, cutoff)
	if err != nil {
		return result, fmt.Errorf("list recovery candidate slots: %w", err)
	}

	for _, slot := range slots {
		if err := s.recoverSlot(ctx, slot, &result); err != nil {
			s.log.Error("Slot recovery failed", "slot", slot.Name, "uuid", slot.ApplicationUUID, "attempts", slot.RecoveryAttempts, "error", err)
			result.Failed++
			// Count the failed attempt so a persistently broken slot
			// reaches the give-up path instead of flapping forever.
			if err := s.slotRepo.IncrementRecoveryAttempts(ctx, nil, slot.ID); err != nil {
				s.log.Warn("Failed to bump recovery attempts", "slot", slot.Name, "error", err)
			}
		}
	}
	return result, nil
}

func (s *CoolifyRecoveryStrategy) recoverSlot(ctx context.Context, slot *types.PoolSlot, result *Result) error {
	var bot *types.Bot
	if slot.AssignedBotID != nil {
		var err error
		bot, err = s.botRepo.GetByID(ctx, nil, *slot.AssignedBotID)
		if err != nil {
			return fmt.Errorf("load assigned bot %d: %w", *slot.AssignedBotID, err)
		}
	}

	// Heartbeat arbitration: a live bot is never torn down because its
	// slot row lags behind.
	if bot != nil && !bot.Status.Terminal() && bot.HeartbeatFresh(s.tun.HeartbeatFreshness, time.Now()) {
		if slot.RecoveryAttempts >= s.tun.MaxSkippedRecoveries {
			if err := s.slotRepo.ForceHealthy(ctx, nil, slot.ID); err != nil {
				return fmt.Errorf("force slot healthy: %w", err)
			}
			s.log.Info("Slot status corrected to HEALTHY after repeated live heartbeats",
				"slot", slot.Name, "bot_id", bot.ID, "skips", slot.RecoveryAttempts)
			result.Recovered++
			result.Count("forcedHealthy")
			return nil
		}
		if err := s.slotRepo.TouchForRetry(ctx, nil, slot.ID); err != nil {
			return fmt.Errorf("touch slot for retry: %w", err)
		}
		s.log.Debug("Skipped slot recovery, assigned bot heartbeat is fresh",
			"slot", slot.Name, "bot_id", bot.ID, "attempts", slot.RecoveryAttempts+1)
		result.Count("skippedLiveHeartbeat")
		return nil
	}

	if slot.RecoveryAttempts >= s.tun.MaxRecoveryAttempts {
		return s.giveUpSlot(ctx, slot, bot, result)
	}
	return s.repairSlot(ctx, slot, bot, result)
}

func (s *CoolifyRecoveryStrategy) repairSlot(ctx context.Context, slot *types.PoolSlot, bot *types.Bot, result *Result) error {
	if bot != nil {
		reason := fmt.Sprintf("slot %s recovered (status %s)", slot.Name, slot.Status)
		if err := s.botRepo.MarkFatal(ctx, nil, bot.ID, reason); err != nil {
			return fmt.Errorf("mark bot %d fatal: %w", bot.ID, err)
		}
		metrics.BotsMarkedFatal.WithLabelValues(s.Name()).Inc()
	}

	if err := s.client.StopApplication(ctx, slot.ApplicationUUID); err != nil {
		// Best-effort: the database reset still goes through, platform
		// residue is the sync worker's problem.
		s.log.Warn("Failed to stop slot application during repair", "slot", slot.Name, "error", err)
	}

	if err := s.slotRepo.ResetToIdle(ctx, nil, slot.ID); err != nil {
		return fmt.Errorf("reset slot to idle: %w", err)
	}

	if s.pool != nil {
		reset := *slot
		reset.Status = types.PoolSlotStatusIdle
		reset.AssignedBotID = nil
		if err := s.client.UpdateDescription(ctx, slot.ApplicationUUID, s.pool.SlotDescription(&reset)); err != nil {
			s.log.Warn("Failed to update slot description after repair", "slot", slot.Name, "error", err)
		}
	}

	s.log.Info("Recovered slot back to IDLE", "slot", slot.Name, "previous_status", slot.Status, "attempts", slot.RecoveryAttempts)
	metrics.SlotsRecovered.Inc()
	result.Recovered++
	result.Count("slotsReset")
	return nil
}

// giveUpSlot deletes a slot that keeps failing recovery. The provisioning
// service re-creates pool capacity on demand.
func (s *CoolifyRecoveryStrategy) giveUpSlot(ctx context.Context, slot *types.PoolSlot, bot *types.Bot, result *Result) error {
	if bot != nil {
		reason := fmt.Sprintf("slot %s deleted after %d failed recovery attempts", slot.Name, slot.RecoveryAttempts)
		if err := s.botRepo.MarkFatal(ctx, nil, bot.ID, reason); err != nil {
			return fmt.Errorf("mark bot %d fatal: %w", bot.ID, err)
		}
		metrics.BotsMarkedFatal.WithLabelValues(s.Name()).Inc()
	}

	if err := s.client.DeleteApplication(ctx, slot.ApplicationUUID); err != nil {
		s.log.Warn("Failed to delete application for exhausted slot", "slot", slot.Name, "uuid", slot.ApplicationUUID, "error", err)
	}

	if err := s.slotRepo.Delete(ctx, nil, slot.ID); err != nil {
		return fmt.Errorf("delete slot row: %w", err)
	}

	s.log.Warn("Deleted slot after exhausting recovery attempts", "slot", slot.Name, "attempts", slot.RecoveryAttempts)
	metrics.SlotsDeleted.Inc()
	result.Recovered++
	result.Count("slotsDeleted")
	return nil
}
