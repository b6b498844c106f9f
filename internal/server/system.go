package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/bowerhall/kindred/internal/budget"
)

const healthTimeout = 3 * time.Second

type SystemHandler struct {
	store  Store
	audio  AudioStore
	budget *budget.Tracker
}

type hostStats struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	DiskPercent float64 `json:"disk_percent"`
}

func NewSystemHandler(r *gin.Engine, st Store, audio AudioStore, tracker *budget.Tracker) *SystemHandler {
	h := &SystemHandler{store: st, audio: audio, budget: tracker}

	r.GET("/healthz", h.Health)
	r.GET("/v1/audio/*key", h.Audio)
	if tracker != nil {
		r.GET("/v1/usage", h.Usage)
	}

	return h
}

func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		healthy = false
	} else {
		checks["store"] = "ok"
	}

	if h.audio != nil {
		if h.audio.Healthy(ctx) {
			checks["audio_storage"] = "ok"
		} else {
			checks["audio_storage"] = "unreachable"
			healthy = false
		}
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks, "host": readHostStats()})
}

// readHostStats samples load without blocking; unavailable readings stay zero.
func readHostStats() hostStats {
	var stats hostStats
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemPercent = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		stats.DiskPercent = du.UsedPercent
	}
	return stats
}

func (h *SystemHandler) Audio(c *gin.Context) {
	if h.audio == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Error: "audio storage not configured", Code: "not_found"})
		return
	}

	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" || strings.Contains(key, "..") {
		badRequest(c, "invalid audio key")
		return
	}

	data, contentType, err := h.audio.Download(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}

func (h *SystemHandler) Usage(c *gin.Context) {
	used, limit := h.budget.Usage()
	body := gin.H{"used_tokens": used, "daily_limit": limit}

	if st := h.budget.Store(); st != nil {
		today, err := st.Today()
		if err != nil {
			respondError(c, err)
			return
		}
		stages, err := st.TodayByStage()
		if err != nil {
			respondError(c, err)
			return
		}
		body["today"] = today
		body["stages"] = stages
	}

	c.JSON(http.StatusOK, body)
}
