package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/queue"
	"github.com/meetloop/fleet-backend/internal/workers"
)

// OpsHandler exposes the operational endpoints: liveness, manual worker
// triggers, and deployment queue stats. No end-user API lives here.
type OpsHandler struct {
	db          *gorm.DB
	workers     map[string]*workers.Worker
	deployQueue *queue.DeploymentQueue
	log         *logger.Logger
}

func NewOpsHandler(db *gorm.DB, workerSet map[string]*workers.Worker, deployQueue *queue.DeploymentQueue, baseLog *logger.Logger) *OpsHandler {
	return &OpsHandler{
		db:          db,
		workers:     workerSet,
		deployQueue: deployQueue,
		log:         baseLog.With("handler", "OpsHandler"),
	}
}

func (h *OpsHandler) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunWorker triggers one execution outside the schedule. A worker already
// mid-execution responds 409 rather than queueing a second run.
func (h *OpsHandler) RunWorker(c *gin.Context) {
	name := c.Param("name")
	worker, ok := h.workers[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown worker", "worker": name})
		return
	}
	report, err := worker.ExecuteNow(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"worker": name, "error": err.Error()})
		return
	}
	if report == nil {
		c.JSON(http.StatusConflict, gin.H{"worker": name, "error": "execution already in progress"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"worker": name, "report": report})
}

func (h *OpsHandler) QueueStats(c *gin.Context) {
	if h.deployQueue == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, h.deployQueue.GetStats())
}
