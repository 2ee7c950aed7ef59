package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/utils"
)

type CoolifyConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIToken   string `yaml:"api_token"`
	PoolPrefix string `yaml:"pool_prefix"`
}

type K8sConfig struct {
	Namespace string `yaml:"namespace"`
	JobPrefix string `yaml:"job_prefix"`
}

type AWSConfig struct {
	Region  string `yaml:"region"`
	Cluster string `yaml:"cluster"`
}

type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	// Recovery thresholds. One authoritative value per concern.
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"`
	HeartbeatFreshness   time.Duration `yaml:"heartbeat_freshness"`
	DeployingTimeout     time.Duration `yaml:"deploying_timeout"`
	MaxRecoveryAttempts  int           `yaml:"max_recovery_attempts"`
	MaxSkippedRecoveries int           `yaml:"max_skipped_recoveries"`

	HealthInterval   time.Duration `yaml:"health_interval"`
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
	SlotSyncInterval time.Duration `yaml:"slot_sync_interval"`
	RunOnStart       bool          `yaml:"run_on_start"`

	DeployMaxConcurrent  int           `yaml:"deploy_max_concurrent"`
	DeployReservationTTL time.Duration `yaml:"deploy_reservation_ttl"`

	Coolify CoolifyConfig `yaml:"coolify"`
	K8s     K8sConfig     `yaml:"k8s"`
	AWS     AWSConfig     `yaml:"aws"`
}

// LoadConfig layers an optional YAML file (CONFIG_FILE) under the
// environment; env always wins.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
		log.Info("Loaded config file", "path", path)
	}

	cfg.HTTPAddr = utils.GetEnv("HTTP_ADDR", fallback(cfg.HTTPAddr, ":8080"), log)

	cfg.HeartbeatTimeout = utils.GetEnvAsDuration("BOT_HEARTBEAT_TIMEOUT", fallbackDur(cfg.HeartbeatTimeout, 10*time.Minute), log)
	cfg.HeartbeatFreshness = utils.GetEnvAsDuration("BOT_HEARTBEAT_FRESHNESS", fallbackDur(cfg.HeartbeatFreshness, 5*time.Minute), log)
	cfg.DeployingTimeout = utils.GetEnvAsDuration("BOT_DEPLOYING_TIMEOUT", fallbackDur(cfg.DeployingTimeout, 15*time.Minute), log)
	cfg.MaxRecoveryAttempts = utils.GetEnvAsInt("SLOT_MAX_RECOVERY_ATTEMPTS", fallbackInt(cfg.MaxRecoveryAttempts, 3), log)
	cfg.MaxSkippedRecoveries = utils.GetEnvAsInt("SLOT_MAX_SKIPPED_RECOVERIES", fallbackInt(cfg.MaxSkippedRecoveries, 3), log)

	cfg.HealthInterval = utils.GetEnvAsDuration("HEALTH_WORKER_INTERVAL", fallbackDur(cfg.HealthInterval, time.Minute), log)
	cfg.RecoveryInterval = utils.GetEnvAsDuration("RECOVERY_WORKER_INTERVAL", fallbackDur(cfg.RecoveryInterval, time.Minute), log)
	cfg.SlotSyncInterval = utils.GetEnvAsDuration("SLOT_SYNC_INTERVAL", fallbackDur(cfg.SlotSyncInterval, 5*time.Minute), log)
	cfg.RunOnStart = utils.GetEnvAsBool("WORKERS_RUN_ON_START", cfg.RunOnStart, log)

	cfg.DeployMaxConcurrent = utils.GetEnvAsInt("DEPLOY_MAX_CONCURRENT", fallbackInt(cfg.DeployMaxConcurrent, 10), log)
	cfg.DeployReservationTTL = utils.GetEnvAsDuration("DEPLOY_RESERVATION_TTL", fallbackDur(cfg.DeployReservationTTL, 10*time.Minute), log)

	cfg.Coolify.BaseURL = utils.GetEnv("COOLIFY_BASE_URL", cfg.Coolify.BaseURL, log)
	cfg.Coolify.APIToken = utils.GetEnv("COOLIFY_API_TOKEN", cfg.Coolify.APIToken, log)
	cfg.Coolify.PoolPrefix = utils.GetEnv("COOLIFY_POOL_PREFIX", fallback(cfg.Coolify.PoolPrefix, "meetbot-pool"), log)

	cfg.K8s.Namespace = utils.GetEnv("K8S_NAMESPACE", cfg.K8s.Namespace, log)
	cfg.K8s.JobPrefix = utils.GetEnv("K8S_JOB_PREFIX", fallback(cfg.K8s.JobPrefix, "meetbot"), log)

	cfg.AWS.Region = utils.GetEnv("AWS_REGION", cfg.AWS.Region, log)
	cfg.AWS.Cluster = utils.GetEnv("AWS_ECS_CLUSTER", cfg.AWS.Cluster, log)

	return cfg, nil
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func fallbackDur(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

func fallbackInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
