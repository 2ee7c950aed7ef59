package workers

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

// BotHealthWorker catches bots whose process died without reporting it:
// any bot in an active status with a missing or stale heartbeat is marked
// FATAL and its platform resources are released. DEPLOYING bots are
// excluded; they have no process to heartbeat yet and belong to the
// recovery strategies.
type BotHealthWorker struct {
	botRepo          repos.BotRepo
	clients          map[types.DeploymentPlatform]platform.Client
	pool             services.PoolService
	heartbeatTimeout time.Duration
	log              *logger.Logger
}

func NewBotHealthWorker(
	botRepo repos.BotRepo,
	clients map[types.DeploymentPlatform]platform.Client,
	pool services.PoolService,
	heartbeatTimeout time.Duration,
	baseLog *logger.Logger,
) *BotHealthWorker {
	return &BotHealthWorker{
		botRepo:          botRepo,
		clients:          clients,
		pool:             pool,
		heartbeatTimeout: heartbeatTimeout,
		log:              baseLog.With("worker", "BotHealthWorker"),
	}
}

func (w *BotHealthWorker) Name() string { return "bot-health" }

func (w *BotHealthWorker) Execute(ctx context.Context) (Report, error) {
	report := Report{"checked": 0, "marked_fatal": 0, "resources_released": 0}

	cutoff := time.Now().Add(-w.heartbeatTimeout)
	bots, err := w.botRepo.ListStaleActive(ctx, nil, cutoff)
	if err != nil {
		return report, fmt.Errorf("list stale active bots: %w", err)
	}
	report["checked"] = len(bots)

	for _, bot := range bots {
		reason := fmt.Sprintf("no heartbeat for over %s", w.heartbeatTimeout)
		if err := w.botRepo.MarkFatal(ctx, nil, bot.ID, reason); err != nil {
			w.log.Error("Failed to mark unresponsive bot fatal", "bot_id", bot.ID, "error", err)
			continue
		}
		w.log.Warn("Marked unresponsive bot fatal", "bot_id", bot.ID, "status", bot.Status, "last_heartbeat", bot.LastHeartbeat)
		metrics.BotsMarkedFatal.WithLabelValues(w.Name()).Inc()
		report["marked_fatal"]++

		// Resource release is per-bot best-effort: one platform hiccup
		// must not stop the rest of the batch.
		released, err := w.releaseResources(ctx, bot)
		if err != nil {
			w.log.Error("Failed to release platform resources", "bot_id", bot.ID, "error", err)
			continue
		}
		if released {
			report["resources_released"]++
		}
	}
	return report, nil
}

// releaseResources tears down whatever the bot's platform holds for it.
// The bool reports whether a teardown call was actually issued; bots
// with no platform, no slot, or no configured client are a no-op.
func (w *BotHealthWorker) releaseResources(ctx context.Context, bot *types.Bot) (bool, error) {
	if bot.DeploymentPlatform == nil {
		return false, nil
	}
	if *bot.DeploymentPlatform == types.PlatformCoolify {
		if w.pool == nil {
			return false, nil
		}
		return true, w.pool.ReleaseBot(ctx, bot.ID)
	}
	client, ok := w.clients[*bot.DeploymentPlatform]
	if !ok || client == nil {
		return false, nil
	}
	if bot.PlatformIdentifier != nil && *bot.PlatformIdentifier != "" {
		return true, client.StopBot(ctx, *bot.PlatformIdentifier)
	}
	return true, client.ReleaseBot(ctx, bot.ID)
}
