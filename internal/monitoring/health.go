package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/quarrel-gemm/internal/bench"
	"github.com/23skdu/quarrel-gemm/internal/logger"
)

// HealthStatus is the body of /status.
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	System    SystemInfo    `json:"system"`
	Run       RunInfo       `json:"run"`
	Alerts    []Alert       `json:"alerts"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// RunInfo describes benchmark progress.
type RunInfo struct {
	Total           int          `json:"total"`
	Done            int          `json:"done"`
	Finished        bool         `json:"finished"`
	Error           string       `json:"error,omitempty"`
	DeviceMemoryMB  int64        `json:"device_memory_mb"`
	LastResult      *ResultInfo  `json:"last_result,omitempty"`
	BestSpeedup     float64      `json:"best_speedup"`
	Results         []ResultInfo `json:"results"`
	LastCompletedAt time.Time    `json:"last_completed_at"`
}

type ResultInfo struct {
	Name       string  `json:"name"`
	Shape      [3]int  `json:"shape"`
	DType      string  `json:"dtype"`
	RefSeconds float64 `json:"ref_time_s"`
	FP8Seconds float64 `json:"fp8_time_s"`
	Speedup    float64 `json:"fp8_speedup"`
}

// Alert levels: info, warning, error, critical.
type Alert struct {
	Level      string     `json:"level"`
	Component  string     `json:"component"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

const maxAlerts = 100

// HealthMonitor serves /metrics alongside run status. It implements
// bench.Observer.
type HealthMonitor struct {
	startTime time.Time
	// deviceMemory reports current device allocation; may be nil.
	deviceMemory func() int64
	hub          *hub

	mu       sync.RWMutex
	server   *http.Server
	stopped  bool
	alerts   []Alert
	total    int
	results  []ResultInfo
	finished bool
	runErr   error
	lastDone time.Time
}

func NewHealthMonitor(deviceMemory func() int64) *HealthMonitor {
	return &HealthMonitor{
		startTime:    time.Now(),
		deviceMemory: deviceMemory,
		hub:          newHub(),
		alerts:       make([]Alert, 0),
	}
}

// Handler routes the monitor endpoints.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", hm.handleDetailedStatus)
	mux.HandleFunc("/admin/alerts", hm.handleAlerts)
	mux.HandleFunc("/admin/clear-alerts", hm.handleClearAlerts)
	mux.HandleFunc("/ws", hm.handleStream)
	return mux
}

// Start serves until Stop is called. After Stop it returns
// http.ErrServerClosed.
func (hm *HealthMonitor) Start(addr string) error {
	hm.mu.Lock()
	if hm.stopped {
		hm.mu.Unlock()
		return http.ErrServerClosed
	}
	hm.server = &http.Server{
		Addr:         addr,
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	srv := hm.server
	hm.mu.Unlock()

	logger.Log.With("monitor").Info("Health monitor starting", "addr", addr)
	return srv.ListenAndServe()
}

func (hm *HealthMonitor) Stop(ctx context.Context) error {
	hm.mu.Lock()
	hm.stopped = true
	srv := hm.server
	hm.mu.Unlock()

	hm.hub.closeAll()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Begin resets run state for a run of total configurations.
func (hm *HealthMonitor) Begin(total int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.total = total
	hm.results = hm.results[:0]
	hm.finished = false
	hm.runErr = nil
	hm.hub.broadcast(Event{Type: "start", Payload: map[string]int{"total": total}})
}

// ConfigDone records a finished configuration.
func (hm *HealthMonitor) ConfigDone(res bench.Result) {
	info := ResultInfo{
		Name:       res.Name,
		Shape:      [3]int{res.M, res.K, res.N},
		DType:      res.DType.String(),
		RefSeconds: res.RefSeconds,
		FP8Seconds: res.FP8Seconds,
		Speedup:    res.Speedup,
	}

	hm.mu.Lock()
	hm.results = append(hm.results, info)
	hm.lastDone = time.Now()
	hm.mu.Unlock()

	hm.hub.broadcast(Event{Type: "result", Payload: info})
	hm.checkResultAlerts(res)
}

// Finish marks the run complete, failed when err is non-nil.
func (hm *HealthMonitor) Finish(err error) {
	hm.mu.Lock()
	hm.finished = true
	hm.runErr = err
	hm.mu.Unlock()

	done := map[string]string{}
	if err != nil {
		done["error"] = err.Error()
	}
	hm.hub.broadcast(Event{Type: "finish", Payload: done})

	if err != nil {
		hm.AddAlert("error", "bench", err.Error())
	}
}

// Observer adapts the monitor to bench.Observer.
func (hm *HealthMonitor) Observer() bench.Observer {
	return observer{hm}
}

type observer struct{ hm *HealthMonitor }

func (o observer) Start(total int)             { o.hm.Begin(total) }
func (o observer) ConfigDone(res bench.Result) { o.hm.ConfigDone(res) }

func (hm *HealthMonitor) AddAlert(level, component, message string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.alerts = append(hm.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(hm.alerts) > maxAlerts {
		hm.alerts = hm.alerts[1:]
	}

	logger.Log.With("monitor").Warn("Alert", "level", level, "component", component, "message", message)
}

func (hm *HealthMonitor) ResolveAlert(index int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if index >= 0 && index < len(hm.alerts) {
		now := time.Now()
		hm.alerts[index].Resolved = true
		hm.alerts[index].ResolvedAt = &now
	}
}

// HTTP Handlers

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.getHealthStatus()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hm.getHealthStatus())
}

func (hm *HealthMonitor) handleAlerts(w http.ResponseWriter, r *http.Request) {
	hm.mu.RLock()
	alerts := make([]Alert, len(hm.alerts))
	copy(alerts, hm.alerts)
	hm.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alerts)
}

func (hm *HealthMonitor) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hm.mu.Lock()
	hm.alerts = hm.alerts[:0]
	hm.mu.Unlock()

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "alerts cleared"})
}

// getHealthStatus is healthy unless an unresolved error or critical alert
// exists.
func (hm *HealthMonitor) getHealthStatus() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := "healthy"
	for _, alert := range hm.alerts {
		if alert.Resolved {
			continue
		}
		if alert.Level == "critical" {
			status = "critical"
			break
		}
		if alert.Level == "error" {
			status = "degraded"
		}
	}

	alerts := make([]Alert, len(hm.alerts))
	copy(alerts, hm.alerts)

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		System:    getSystemInfo(),
		Run:       hm.runInfo(),
		Alerts:    alerts,
	}
}

// runInfo expects hm.mu held.
func (hm *HealthMonitor) runInfo() RunInfo {
	info := RunInfo{
		Total:           hm.total,
		Done:            len(hm.results),
		Finished:        hm.finished,
		Results:         make([]ResultInfo, len(hm.results)),
		LastCompletedAt: hm.lastDone,
	}
	copy(info.Results, hm.results)
	if hm.runErr != nil {
		info.Error = hm.runErr.Error()
	}
	if hm.deviceMemory != nil {
		info.DeviceMemoryMB = hm.deviceMemory() / (1024 * 1024)
	}
	for i := range info.Results {
		if info.Results[i].Speedup > info.BestSpeedup {
			info.BestSpeedup = info.Results[i].Speedup
		}
	}
	if n := len(info.Results); n > 0 {
		last := info.Results[n-1]
		info.LastResult = &last
	}
	return info
}

func getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		MemoryMB:     int(m.Sys / 1024 / 1024),
		MemoryUsedMB: int(m.Alloc / 1024 / 1024),
	}
}

// checkResultAlerts flags results that contradict the fp8 path being the
// fast one, or that claim more than the theoretical peak.
func (hm *HealthMonitor) checkResultAlerts(res bench.Result) {
	if res.Speedup < 1 {
		hm.AddAlert("info", "fp8",
			fmt.Sprintf("%s %s: fp8 slower than baseline (speedup %.3f)", res.Name, res.DType, res.Speedup))
	}
	if res.Ref.PeakFraction > 1 {
		hm.AddAlert("warning", "timer",
			fmt.Sprintf("%s %s: baseline above peak (%.3f)", res.Name, res.DType, res.Ref.PeakFraction))
	}
	if res.FP8.PeakFraction > 1 {
		hm.AddAlert("warning", "timer",
			fmt.Sprintf("%s %s: fp8 above peak (%.3f)", res.Name, res.DType, res.FP8.PeakFraction))
	}
}
