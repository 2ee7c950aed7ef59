package app

import (
	"context"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/platform"
	"github.com/meetloop/fleet-backend/internal/platform/aws"
	"github.com/meetloop/fleet-backend/internal/platform/coolify"
	"github.com/meetloop/fleet-backend/internal/platform/k8s"
	"github.com/meetloop/fleet-backend/internal/repos"
	"github.com/meetloop/fleet-backend/internal/types"
)

// Clients holds the optional platform clients. A nil client means that
// platform is not configured; its strategies no-op.
type Clients struct {
	Coolify *coolify.Client
	K8s     *k8s.Client
	AWS     *aws.Client
}

// wireClients constructs whichever platform clients the config enables.
// Client construction failures disable the platform rather than aborting
// startup: recovery for the others still runs.
func wireClients(ctx context.Context, cfg Config, slotRepo repos.PoolSlotRepo, log *logger.Logger) Clients {
	var clients Clients

	if cfg.Coolify.BaseURL != "" && cfg.Coolify.APIToken != "" {
		resolver := func(ctx context.Context, botID int) (string, error) {
			slot, err := slotRepo.GetByAssignedBot(ctx, nil, botID)
			if err != nil || slot == nil {
				return "", err
			}
			return slot.ApplicationUUID, nil
		}
		clients.Coolify = coolify.NewClient(coolify.Config{
			BaseURL:    cfg.Coolify.BaseURL,
			APIToken:   cfg.Coolify.APIToken,
			PoolPrefix: cfg.Coolify.PoolPrefix,
		}, resolver, log)
		log.Info("Coolify client configured", "base_url", cfg.Coolify.BaseURL)
	}

	if cfg.K8s.Namespace != "" {
		k8sClient, err := k8s.NewClient(k8s.Config{
			Namespace: cfg.K8s.Namespace,
			JobPrefix: cfg.K8s.JobPrefix,
		}, log)
		if err != nil {
			log.Warn("K8s client unavailable, k8s recovery disabled", "error", err)
		} else {
			clients.K8s = k8sClient
			log.Info("K8s client configured", "namespace", cfg.K8s.Namespace)
		}
	}

	if cfg.AWS.Cluster != "" {
		awsClient, err := aws.NewClient(ctx, aws.Config{
			Region:  cfg.AWS.Region,
			Cluster: cfg.AWS.Cluster,
		}, log)
		if err != nil {
			log.Warn("AWS client unavailable, aws recovery disabled", "error", err)
		} else {
			clients.AWS = awsClient
			log.Info("AWS client configured", "cluster", cfg.AWS.Cluster)
		}
	}

	return clients
}

// byPlatform maps the configured clients by platform for the health
// worker's release dispatch.
func (c Clients) byPlatform() map[types.DeploymentPlatform]platform.Client {
	out := map[types.DeploymentPlatform]platform.Client{}
	if c.Coolify != nil {
		out[types.PlatformCoolify] = c.Coolify
	}
	if c.K8s != nil {
		out[types.PlatformK8s] = c.K8s
	}
	if c.AWS != nil {
		out[types.PlatformAWS] = c.AWS
	}
	return out
}

// poolClient returns the Coolify client as a PoolClient, nil-safe for the
// strategies' missing-dependency short circuit.
func (c Clients) poolClient() platform.PoolClient {
	if c.Coolify == nil {
		return nil
	}
	return c.Coolify
}

// jobClient returns the K8s client as a JobClient.
func (c Clients) jobClient() platform.JobClient {
	if c.K8s == nil {
		return nil
	}
	return c.K8s
}

// taskClient returns the AWS client as a plain platform client.
func (c Clients) taskClient() platform.Client {
	if c.AWS == nil {
		return nil
	}
	return c.AWS
}
