package workers

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/metrics"
	"github.com/meetloop/fleet-backend/internal/platform"
	"github.com/meetloop/fleet-backend/internal/repos"
	"github.com/meetloop/fleet-backend/internal/types"
)

// PoolSlotSyncWorker reconciles the pool-slot table against the
// platform's live application listing. A platform application without a
// slot row is leftover from a provisioning transaction that died after
// creating the resource; a slot row without a platform application means
// the resource was deleted behind the system's back. Both directions are
// repaired independently with per-item isolation.
type PoolSlotSyncWorker struct {
	slotRepo repos.PoolSlotRepo
	botRepo  repos.BotRepo
	client   platform.PoolClient
	log      *logger.Logger
}

func NewPoolSlotSyncWorker(slotRepo repos.PoolSlotRepo, botRepo repos.BotRepo, client platform.PoolClient, baseLog *logger.Logger) *PoolSlotSyncWorker {
	return &PoolSlotSyncWorker{
		slotRepo: slotRepo,
		botRepo:  botRepo,
		client:   client,
		log:      baseLog.With("worker", "PoolSlotSyncWorker"),
	}
}

func (w *PoolSlotSyncWorker) Name() string { return "pool-slot-sync" }

func (w *PoolSlotSyncWorker) Execute(ctx context.Context) (Report, error) {
	report := Report{"platform_orphans_deleted": 0, "db_orphans_deleted": 0, "failed": 0}
	if w.client == nil {
		return report, nil
	}

	var apps []platform.Application
	var slots []*types.PoolSlot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		apps, err = w.client.ListPoolApplications(gctx)
		if err != nil {
			return fmt.Errorf("list pool applications: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		slots, err = w.slotRepo.ListAll(gctx, nil)
		if err != nil {
			return fmt.Errorf("list pool slots: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return report, err
	}

	slotUUIDs := make(map[string]*types.PoolSlot, len(slots))
	for _, slot := range slots {
		slotUUIDs[slot.ApplicationUUID] = slot
	}
	appUUIDs := make(map[string]struct{}, len(apps))
	for _, app := range apps {
		appUUIDs[app.UUID] = struct{}{}
	}

	w.deletePlatformOrphans(ctx, apps, slotUUIDs, report)
	w.deleteDatabaseOrphans(ctx, slots, appUUIDs, report)
	return report, nil
}

// deletePlatformOrphans removes platform applications that never got a
// slot row persisted.
func (w *PoolSlotSyncWorker) deletePlatformOrphans(ctx context.Context, apps []platform.Application, slotUUIDs map[string]*types.PoolSlot, report Report) {
	for _, app := range apps {
		if _, ok := slotUUIDs[app.UUID]; ok {
			continue
		}
		if err := w.client.DeleteApplication(ctx, app.UUID); err != nil {
			w.log.Error("Failed to delete orphaned platform application", "uuid", app.UUID, "name", app.Name, "error", err)
			report["failed"]++
			continue
		}
		w.log.Warn("Deleted orphaned platform application", "uuid", app.UUID, "name", app.Name)
		metrics.OrphansDeleted.WithLabelValues("platform").Inc()
		report["platform_orphans_deleted"]++
	}
}

// deleteDatabaseOrphans removes slot rows whose platform application is
// gone, marking any assigned bot FATAL first since its infrastructure no
// longer exists.
func (w *PoolSlotSyncWorker) deleteDatabaseOrphans(ctx context.Context, slots []*types.PoolSlot, appUUIDs map[string]struct{}, report Report) {
	for _, slot := range slots {
		if _, ok := appUUIDs[slot.ApplicationUUID]; ok {
			continue
		}
		if slot.AssignedBotID != nil {
			reason := fmt.Sprintf("slot %s application %s no longer exists on the platform", slot.Name, slot.ApplicationUUID)
			if err := w.botRepo.MarkFatal(ctx, nil, *slot.AssignedBotID, reason); err != nil {
				w.log.Error("Failed to mark bot fatal for vanished slot", "bot_id", *slot.AssignedBotID, "slot", slot.Name, "error", err)
				report["failed"]++
				continue
			}
			metrics.BotsMarkedFatal.WithLabelValues(w.Name()).Inc()
		}
		if err := w.slotRepo.Delete(ctx, nil, slot.ID); err != nil {
			w.log.Error("Failed to delete orphaned slot row", "slot", slot.Name, "error", err)
			report["failed"]++
			continue
		}
		w.log.Warn("Deleted orphaned slot row, application gone on platform", "slot", slot.Name, "uuid", slot.ApplicationUUID)
		metrics.OrphansDeleted.WithLabelValues("database").Inc()
		report["db_orphans_deleted"]++
	}
}
