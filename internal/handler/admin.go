package handler

import (
	"net/http"
	"runtime"
	"time"

	"sweetshop-rest-api/internal/repository"
	"sweetshop-rest-api/pkg/response"
)

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	store     repository.Store
	cacheType string // memory or redis
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(store repository.Store, cacheType string) *AdminHandler {
	return &AdminHandler{
		store:     store,
		cacheType: cacheType,
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["cache_type"] = h.cacheType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	if h.store != nil {
		storeStats, err := h.store.GetStats(ctx)
		if err == nil {
			storeStats["status"] = "connected"
			stats["store"] = storeStats
		} else {
			stats["store"] = map[string]interface{}{
				"type":   h.store.Name(),
				"status": "error",
				"error":  err.Error(),
			}
		}
	} else {
		stats["store"] = map[string]interface{}{
			"status": "not_configured",
		}
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}
