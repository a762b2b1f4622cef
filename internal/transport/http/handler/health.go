package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	redisv9 "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"docchat/internal/platform/qdrant"
)

type HealthHandler struct {
	db     *gorm.DB
	rdb    *redisv9.Client
	mqConn *amqp.Connection
	qdrant *qdrant.Client
}

func NewHealthHandler(db *gorm.DB, rdb *redisv9.Client, mqConn *amqp.Connection, qc *qdrant.Client) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb, mqConn: mqConn, qdrant: qc}
}

// Check reports per-dependency health. Any failing dependency turns the
// overall status to degraded with a 503, so orchestrators can act on it.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{
		"mysql":    h.checkMySQL(ctx),
		"redis":    h.checkRedis(ctx),
		"rabbitmq": h.checkRabbitMQ(),
		"qdrant":   h.checkQdrant(ctx),
	}

	status := http.StatusOK
	overall := "ok"
	for _, v := range checks {
		if v != "ok" {
			status = http.StatusServiceUnavailable
			overall = "degraded"
			break
		}
	}

	c.JSON(status, gin.H{
		"status": overall,
		"checks": checks,
	})
}

func (h *HealthHandler) checkMySQL(ctx context.Context) string {
	if h.db == nil {
		return "not configured"
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err.Error()
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}

func (h *HealthHandler) checkRedis(ctx context.Context) string {
	if h.rdb == nil {
		return "not configured"
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		return err.Error()
	}
	return "ok"
}

func (h *HealthHandler) checkRabbitMQ() string {
	if h.mqConn == nil {
		return "not configured"
	}
	if h.mqConn.IsClosed() {
		return "connection closed"
	}
	return "ok"
}

func (h *HealthHandler) checkQdrant(ctx context.Context) string {
	if h.qdrant == nil {
		return "not configured"
	}
	if err := h.qdrant.Live(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}
