package handler

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-runner/internal/response"
)

const probeTimeout = 2 * time.Second

// Probe checks one dependency, e.g. a PostgreSQL or Redis ping.
type Probe func(ctx context.Context) error

// SystemHandler reports liveness and runtime status of the process.
type SystemHandler struct {
	startTime time.Time
	probes    map[string]Probe
	depths    func(ctx context.Context) (map[string]int64, error)
	live      func() int
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. depths and live may be nil.
func NewSystemHandler(
	probes map[string]Probe,
	depths func(ctx context.Context) (map[string]int64, error),
	live func() int,
	log zerolog.Logger,
) *SystemHandler {
	return &SystemHandler{
		startTime: time.Now(),
		probes:    probes,
		depths:    depths,
		live:      live,
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
// 200 when every dependency answers, 503 otherwise.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.probes))
	healthy := true
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Health probe failed")
			checks[name] = "down"
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

type systemStatus struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	// Go Application
	Goroutines  int    `json:"goroutines"`
	HeapAlloc   uint64 `json:"heap_alloc"`
	HeapSys     uint64 `json:"heap_sys"`
	NumGC       uint32 `json:"num_gc"`
	AppRSSBytes uint64 `json:"app_rss_bytes"`
	OSThreads   uint64 `json:"os_threads"`
	GoVersion   string `json:"go_version"`
	NumCPU      int    `json:"num_cpu"`

	// Exam engine
	LiveAttempts int              `json:"live_attempts"`
	Queues       map[string]int64 `json:"queues"`
}

// Status godoc
// GET /api/v1/system/status
// Returns runtime counters, live attempts and worker queue depths.
func (h *SystemHandler) Status(c *gin.Context) {
	m := systemStatus{
		Timestamp: time.Now().Unix(),
		Uptime:    time.Since(h.startTime).Truncate(time.Second).String(),
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
		Queues:    map[string]int64{},
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Goroutines = runtime.NumGoroutine()
	m.HeapAlloc = ms.HeapAlloc
	m.HeapSys = ms.Sys
	m.NumGC = ms.NumGC
	proc := procStatus("VmRSS", "Threads")
	m.AppRSSBytes = proc["VmRSS"]
	m.OSThreads = proc["Threads"]

	if h.live != nil {
		m.LiveAttempts = h.live()
	}
	if h.depths != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
		defer cancel()
		depths, err := h.depths(ctx)
		if err != nil {
			h.log.Warn().Err(err).Msg("Queue depth read failed")
		} else {
			m.Queues = depths
		}
	}

	response.Success(c, http.StatusOK, m)
}

// procStatus reads the named numeric fields of /proc/self/status. Fields
// measured in kB are returned in bytes; missing fields are absent.
func procStatus(keys ...string) map[string]uint64 {
	out := make(map[string]uint64, len(keys))
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return out
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok || !slices.Contains(keys, name) {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		if len(fields) > 1 && fields[1] == "kB" {
			n *= 1024
		}
		out[name] = n
	}
	return out
}
