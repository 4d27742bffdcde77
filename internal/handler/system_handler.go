package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-practice/internal/config"
	"github.com/stemsi/exstem-practice/internal/response"
)

const healthTimeout = 2 * time.Second

// SystemHandler reports dependency health and runtime stats.
type SystemHandler struct {
	startTime  time.Time
	checks     map[string]func(ctx context.Context) error
	queueDepth func(ctx context.Context) (int64, error)
	log        zerolog.Logger
}

func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		startTime: time.Now(),
		checks: map[string]func(ctx context.Context) error{
			"postgres": pool.Ping,
			"redis": func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		},
		queueDepth: func(ctx context.Context) (int64, error) {
			return rdb.LLen(ctx, config.WorkerKey.PersistRevisionQueue).Result()
		},
		log: log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status        string            `json:"status"`
	Uptime        string            `json:"uptime"`
	Dependencies  map[string]string `json:"dependencies"`
	RevisionQueue int64             `json:"revision_queue"`
	Goroutines    int               `json:"goroutines"`
	HeapAlloc     uint64            `json:"heap_alloc"`
	GoVersion     string            `json:"go_version"`
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	report := healthReport{
		Status:       "ok",
		Uptime:       time.Since(h.startTime).Truncate(time.Second).String(),
		Dependencies: make(map[string]string, len(h.checks)),
		Goroutines:   runtime.NumGoroutine(),
		GoVersion:    runtime.Version(),
	}

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Health check failed")
			report.Dependencies[name] = "down"
			report.Status = "degraded"
			continue
		}
		report.Dependencies[name] = "up"
	}

	if depth, err := h.queueDepth(ctx); err == nil {
		report.RevisionQueue = depth
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	report.HeapAlloc = ms.HeapAlloc

	if report.Status != "ok" {
		response.FailWithData(c, http.StatusServiceUnavailable, response.ErrServiceUnavailable, report)
		return
	}
	response.Success(c, http.StatusOK, report)
}
