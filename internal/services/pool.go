package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/platform"
	"github.com/meetloop/fleet-backend/internal/repos"
	"github.com/meetloop/fleet-backend/internal/types"
)

// PoolService owns slot bookkeeping for the Coolify pool: releasing a
// bot's slot back to IDLE and keeping the platform-visible description
// tag in sync with slot state. Slot acquisition lives in the deployment
// path, not here.
type PoolService interface {
	// ReleaseBot stops the application behind the bot's slot and resets
	// the slot to IDLE. Unknown bot ids are a no-op.
	ReleaseBot(ctx context.Context, botID int) error
	// ResolveSlotUUID returns the application UUID of the slot assigned
	// to the bot, or "" when the bot holds no slot.
	ResolveSlotUUID(ctx context.Context, botID int) (string, error)
	SlotDescription(slot *types.PoolSlot) string
	// NewSlotName generates a unique pool application name.
	NewSlotName() string
}

type poolService struct {
	slotRepo repos.PoolSlotRepo
	client   platform.PoolClient
	prefix   string
	log      *logger.Logger
}

func NewPoolService(slotRepo repos.PoolSlotRepo, client platform.PoolClient, prefix string, baseLog *logger.Logger) PoolService {
	if prefix == "" {
		prefix = "meetbot-pool"
	}
	return &poolService{
		slotRepo: slotRepo,
		client:   client,
		prefix:   prefix,
		log:      baseLog.With("service", "PoolService"),
	}
}

func (s *poolService) ReleaseBot(ctx context.Context, botID int) error {
	slot, err := s.slotRepo.GetByAssignedBot(ctx, nil, botID)
	if err != nil {
		return fmt.Errorf("lookup slot for bot %d: %w", botID, err)
	}
	if slot == nil {
		return nil
	}

	// Platform stop is best-effort: the slot goes back to the pool either
	// way and the sync worker cleans up any residue.
	if s.client != nil {
		if err := s.client.StopApplication(ctx, slot.ApplicationUUID); err != nil {
			s.log.Warn("Failed to stop slot application", "slot", slot.Name, "uuid", slot.ApplicationUUID, "error", err)
		}
	}
	if err := s.slotRepo.ResetToIdle(ctx, nil, slot.ID); err != nil {
		return fmt.Errorf("reset slot %d: %w", slot.ID, err)
	}
	if s.client != nil {
		slot.Status = types.PoolSlotStatusIdle
		slot.AssignedBotID = nil
		if err := s.client.UpdateDescription(ctx, slot.ApplicationUUID, s.SlotDescription(slot)); err != nil {
			s.log.Warn("Failed to update slot description", "slot", slot.Name, "error", err)
		}
	}
	s.log.Info("Released slot for bot", "bot_id", botID, "slot", slot.Name)
	return nil
}

func (s *poolService) ResolveSlotUUID(ctx context.Context, botID int) (string, error) {
	slot, err := s.slotRepo.GetByAssignedBot(ctx, nil, botID)
	if err != nil {
		return "", err
	}
	if slot == nil {
		return "", nil
	}
	return slot.ApplicationUUID, nil
}

func (s *poolService) SlotDescription(slot *types.PoolSlot) string {
	switch slot.Status {
	case types.PoolSlotStatusIdle:
		return fmt.Sprintf("[%s] available since %s", slot.Name, time.Now().UTC().Format(time.RFC3339))
	case types.PoolSlotStatusError:
		return fmt.Sprintf("[%s] errored, pending recovery", slot.Name)
	default:
		if slot.AssignedBotID != nil {
			return fmt.Sprintf("[%s] in use by bot %d", slot.Name, *slot.AssignedBotID)
		}
		return fmt.Sprintf("[%s] %s", slot.Name, slot.Status)
	}
}

func (s *poolService) NewSlotName() string {
	return fmt.Sprintf("%s-%s", s.prefix, uuid.NewString()[:8])
}
