package handler

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/iconidentify/captionlab/internal/domain"
	"github.com/iconidentify/captionlab/internal/repository"
)

var startTime = time.Now()

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo        repository.DatasetRepository
	storagePath string
}

// NewHealthHandler creates a new health handler. storagePath is the store
// root used for disk statistics.
func NewHealthHandler(repo repository.DatasetRepository, storagePath string) *HealthHandler {
	return &HealthHandler{
		repo:        repo,
		storagePath: storagePath,
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Datasets  *int   `json:"datasets,omitempty"`
}

// Live handles GET /health - liveness check.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - readiness check.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// The store root must exist and be listable.
	names, err := h.repo.List(ctx)
	if err == nil {
		err = h.checkRoot()
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "error",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	count := len(names)
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Datasets:  &count,
	})
}

func (h *HealthHandler) checkRoot() error {
	if h.storagePath == "" {
		return nil
	}
	info, err := os.Stat(h.storagePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("store root %s is not a directory", h.storagePath)
	}
	return nil
}

// SystemStats contains system resource statistics.
type SystemStats struct {
	Uptime         int64   `json:"uptime_seconds"`
	UptimeHuman    string  `json:"uptime_human"`
	MemAllocMB     int64   `json:"mem_alloc_mb"`
	MemSysMB       int64   `json:"mem_sys_mb"`
	MemHeapMB      int64   `json:"mem_heap_mb"`
	NumGoroutines  int     `json:"num_goroutines"`
	NumCPU         int     `json:"num_cpu"`
	CPUPercent     float64 `json:"cpu_percent"`
	DiskUsedBytes  int64   `json:"disk_used_bytes"`
	DiskFreeBytes  int64   `json:"disk_free_bytes"`
	DiskTotalBytes int64   `json:"disk_total_bytes"`
	DiskUsedPct    float64 `json:"disk_used_pct"`
	StoragePath    string  `json:"storage_path"`
	Datasets       int     `json:"datasets"`
	ImageCount     int     `json:"image_count"`
	ImageBytes     int64   `json:"image_bytes"`
	CaptionCount   int     `json:"caption_count"`
	CaptionBytes   int64   `json:"caption_bytes"`
}

// Stats handles GET /api/v1/stats - system statistics.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)

	stats := SystemStats{
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		MemAllocMB:    int64(m.Alloc / 1024 / 1024),
		MemSysMB:      int64(m.Sys / 1024 / 1024),
		MemHeapMB:     int64(m.HeapAlloc / 1024 / 1024),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		CPUPercent:    processCPU.percent(),
		StoragePath:   h.storagePath,
	}

	if total, avail, ok := volumeSize(h.storagePath); ok {
		disk := newDiskUsage(total, avail)
		stats.DiskTotalBytes = disk.total
		stats.DiskFreeBytes = disk.free
		stats.DiskUsedBytes = disk.used
		stats.DiskUsedPct = disk.usedPct
	}

	store := getStoreStats(h.storagePath)
	stats.Datasets = store.datasets
	stats.ImageCount = store.imageCount
	stats.ImageBytes = store.imageBytes
	stats.CaptionCount = store.captionCount
	stats.CaptionBytes = store.captionBytes

	writeJSON(w, http.StatusOK, stats)
}

type diskUsage struct {
	total, free, used int64
	usedPct           float64
}

func newDiskUsage(total, avail uint64) diskUsage {
	d := diskUsage{total: int64(total), free: int64(avail)}
	d.used = d.total - d.free
	if d.total > 0 {
		d.usedPct = float64(d.used) / float64(d.total) * 100
	}
	return d
}

// cpuSampler reports process CPU use as a percentage of one core over the
// interval since the previous call. The first call primes it and reads 0.
type cpuSampler struct {
	mu       sync.Mutex
	cpuTime  func() (time.Duration, bool)
	now      func() time.Time
	lastCPU  time.Duration
	lastWall time.Time
	primed   bool
}

var processCPU = &cpuSampler{cpuTime: processCPUTime, now: time.Now}

func (c *cpuSampler) percent() float64 {
	cpu, ok := c.cpuTime()
	if !ok {
		return 0
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	prevCPU, prevWall, primed := c.lastCPU, c.lastWall, c.primed
	c.lastCPU, c.lastWall, c.primed = cpu, now, true
	if !primed {
		return 0
	}

	wall := now.Sub(prevWall)
	if wall <= 0 {
		return 0
	}
	pct := float64(cpu-prevCPU) / float64(wall) * 100
	return min(max(pct, 0), 100)
}

type storeStats struct {
	datasets     int
	imageCount   int
	imageBytes   int64
	captionCount int
	captionBytes int64
}

// getStoreStats walks the store root and tallies files in images/ and
// text/ of every dataset. Unreadable entries are skipped.
func getStoreStats(root string) storeStats {
	var stats storeStats
	if root == "" {
		return stats
	}

	filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if d.IsDir() {
			if len(parts) == 1 {
				stats.datasets++
			}
			return nil
		}
		if len(parts) != 3 {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		switch parts[1] {
		case domain.ImagesDir:
			stats.imageCount++
			stats.imageBytes += info.Size()
		case domain.TextDir:
			stats.captionCount++
			stats.captionBytes += info.Size()
		}
		return nil
	})
	return stats
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
