package queue

import (
	"context"
	"sync"
	"time"

	"github.com/meetloop/fleet-backend/internal/logger"
)

// DeployFunc starts one queued deployment. Provided by the deployment
// service at wiring time.
type DeployFunc func(ctx context.Context, req DeploymentRequest) error

type DeploymentRequest struct {
	BotID      string
	MeetingURL string
	EnqueuedAt time.Time
}

type Stats struct {
	Active        int `json:"active"`
	MaxConcurrent int `json:"max_concurrent"`
	Queued        int `json:"queued"`
}

// DeploymentQueue bounds how many bot deployments run at once. A
// reservation is held from deployment start until the bot finishes (or
// until its TTL lapses, covering callers that crashed without releasing).
type DeploymentQueue struct {
	mu             sync.Mutex
	reservations   map[string]time.Time
	pending        []DeploymentRequest
	maxConcurrent  int
	reservationTTL time.Duration
	deploy         DeployFunc
	log            *logger.Logger
}

func NewDeploymentQueue(maxConcurrent int, reservationTTL time.Duration, deploy DeployFunc, baseLog *logger.Logger) *DeploymentQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if reservationTTL <= 0 {
		reservationTTL = 10 * time.Minute
	}
	return &DeploymentQueue{
		reservations:   make(map[string]time.Time),
		maxConcurrent:  maxConcurrent,
		reservationTTL: reservationTTL,
		deploy:         deploy,
		log:            baseLog.With("component", "DeploymentQueue"),
	}
}

// Reserve claims a deployment slot for the bot. Returns false when the
// queue is at capacity.
func (q *DeploymentQueue) Reserve(botID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.reservations) >= q.maxConcurrent {
		return false
	}
	q.reservations[botID] = time.Now()
	return true
}

func (q *DeploymentQueue) Release(botID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.reservations, botID)
}

func (q *DeploymentQueue) Enqueue(req DeploymentRequest) {
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, req)
}

// ReleaseExpired frees reservations older than the TTL and returns how
// many were released.
func (q *DeploymentQueue) ReleaseExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-q.reservationTTL)
	released := 0
	for botID, reservedAt := range q.reservations {
		if reservedAt.Before(cutoff) {
			delete(q.reservations, botID)
			released++
			q.log.Warn("Released expired deployment reservation", "bot_id", botID, "reserved_at", reservedAt)
		}
	}
	return released
}

// ProcessQueue starts queued deployments while capacity allows. A deploy
// failure releases the reservation and drops the request; it does not stop
// the drain.
func (q *DeploymentQueue) ProcessQueue(ctx context.Context) int {
	started := 0
	for {
		req, ok := q.popNext()
		if !ok {
			return started
		}
		if q.deploy == nil {
			q.Release(req.BotID)
			continue
		}
		if err := q.deploy(ctx, req); err != nil {
			q.log.Error("Queued deployment failed", "bot_id", req.BotID, "error", err)
			q.Release(req.BotID)
			continue
		}
		started++
	}
}

func (q *DeploymentQueue) popNext() (DeploymentRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 || len(q.reservations) >= q.maxConcurrent {
		return DeploymentRequest{}, false
	}
	req := q.pending[0]
	q.pending = q.pending[1:]
	q.reservations[req.BotID] = time.Now()
	return req, true
}

func (q *DeploymentQueue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Active:        len(q.reservations),
		MaxConcurrent: q.maxConcurrent,
		Queued:        len(q.pending),
	}
}
