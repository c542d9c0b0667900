package server

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/aristath/autopublish/internal/database"
	"github.com/aristath/autopublish/internal/domain"
	"github.com/aristath/autopublish/internal/scheduler"
	"github.com/aristath/autopublish/internal/server/respond"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Version is reported by /health
const Version = "1.0.0"

// WorkerCounter reports how many profile workers are running
type WorkerCounter interface {
	ActiveWorkers() int
}

// JobRunner lists and triggers maintenance jobs
type JobRunner interface {
	Jobs() []scheduler.JobInfo
	RunNow(name string) error
}

// SystemStatus is the payload of GET /api/system/status
type SystemStatus struct {
	StartedAt      time.Time           `json:"started_at"`
	Jobs           []scheduler.JobInfo `json:"jobs"`
	UptimeSeconds  int64               `json:"uptime_seconds"`
	Goroutines     int                 `json:"goroutines"`
	ActiveWorkers  int                 `json:"active_workers"`
	CPUPercent     float64             `json:"cpu_percent"`
	MemoryPercent  float64             `json:"memory_percent"`
	HeapAllocBytes uint64              `json:"heap_alloc_bytes"`
	Databases      map[string]string   `json:"databases"`
}

// SystemHandlers serves health, status and maintenance endpoints
type SystemHandlers struct {
	startedAt time.Time
	workers   WorkerCounter
	jobs      JobRunner
	databases map[string]*database.DB
	now       func() time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(startedAt time.Time, workers WorkerCounter, jobs JobRunner, databases map[string]*database.DB, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		startedAt: startedAt,
		workers:   workers,
		jobs:      jobs,
		databases: databases,
		now:       time.Now,
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// RegisterRoutes registers the authenticated system routes
func (h *SystemHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/system", func(r chi.Router) {
		r.Get("/status", h.HandleSystemStatus)
		r.Get("/databases", h.HandleDatabaseStats)
		r.Get("/jobs", h.HandleJobs)
		r.Post("/jobs/{name}/run", h.HandleRunJob)
	})
}

// HandleHealth reports whether every database answers
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbs := h.checkDatabases(r.Context())

	status, code := "healthy", http.StatusOK
	for _, state := range dbs {
		if state != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	respond.JSON(w, h.log, code, map[string]any{
		"status":    status,
		"service":   "autopublish",
		"version":   Version,
		"databases": dbs,
	})
}

// HandleSystemStatus reports process and host resource usage
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	status := SystemStatus{
		StartedAt:      h.startedAt,
		UptimeSeconds:  int64(h.now().Sub(h.startedAt).Seconds()),
		Goroutines:     runtime.NumGoroutine(),
		CPUPercent:     cpuPercent,
		MemoryPercent:  memPercent,
		HeapAllocBytes: ms.HeapAlloc,
		Databases:      h.checkDatabases(r.Context()),
		Jobs:           []scheduler.JobInfo{},
	}
	if h.workers != nil {
		status.ActiveWorkers = h.workers.ActiveWorkers()
	}
	if h.jobs != nil {
		status.Jobs = sortedJobs(h.jobs.Jobs())
	}

	respond.JSON(w, h.log, http.StatusOK, status)
}

// HandleDatabaseStats returns file and page statistics of each database
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]*database.Stats, len(h.databases))
	for name, db := range h.databases {
		stats, err := db.GetStats()
		if err != nil {
			respond.Error(w, h.log, err)
			return
		}
		out[name] = stats
	}
	respond.JSON(w, h.log, http.StatusOK, out)
}

// HandleJobs lists the maintenance jobs with their last and next run
func (h *SystemHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobInfo{}
	if h.jobs != nil {
		jobs = sortedJobs(h.jobs.Jobs())
	}
	respond.JSON(w, h.log, http.StatusOK, jobs)
}

// HandleRunJob runs a maintenance job now and waits for it
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		respond.Message(w, h.log, http.StatusServiceUnavailable, "scheduler not running")
		return
	}

	name := chi.URLParam(r, "name")
	if err := h.jobs.RunNow(name); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			respond.Error(w, h.log, err)
			return
		}
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		respond.Message(w, h.log, http.StatusInternalServerError, "job failed: "+err.Error())
		return
	}

	respond.JSON(w, h.log, http.StatusOK, map[string]string{"job": name, "status": "completed"})
}

func (h *SystemHandlers) checkDatabases(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out := make(map[string]string, len(h.databases))
	for name, db := range h.databases {
		if err := db.QuickCheck(ctx); err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Database health check failed")
			out[name] = "unavailable"
			continue
		}
		out[name] = "ok"
	}
	return out
}

// getSystemStats samples CPU over 100ms and reads memory usage
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuAvg := 0.0
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuAvg, 0
	}
	return cpuAvg, memStat.UsedPercent
}

func sortedJobs(jobs []scheduler.JobInfo) []scheduler.JobInfo {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}
