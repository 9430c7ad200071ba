package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status — агрегированное состояние сервиса либо одной его зависимости.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFunc опрашивает одну зависимость; nil означает, что зависимость жива.
// Таймаут на опрос задаёт сама функция.
type CheckFunc func() error

// Check — результат опроса одной зависимости.
type Check struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Report — тело ответа /healthz.
type Report struct {
	Status        Status  `json:"status"`
	Version       string  `json:"version,omitempty"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Checks        []Check `json:"checks,omitempty"`
}

// Handler отдаёт /healthz и /readyz поверх зарегистрированных проверок.
type Handler struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	version   string
	startedAt time.Time
}

// NewHandler создаёт handler без проверок.
func NewHandler(version string) *Handler {
	return &Handler{
		checks:    make(map[string]CheckFunc),
		version:   version,
		startedAt: time.Now(),
	}
}

// RegisterChecker добавляет проверку зависимости под именем name.
func (h *Handler) RegisterChecker(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
}

func (h *Handler) snapshot() map[string]CheckFunc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	return checks
}

// run опрашивает все зависимости и сводит их в общий статус.
func (h *Handler) run() (Status, []Check) {
	snapshot := h.snapshot()

	overall := StatusHealthy
	checks := make([]Check, 0, len(snapshot))
	for name, fn := range snapshot {
		started := time.Now()
		err := fn()

		check := Check{
			Name:      name,
			Status:    StatusHealthy,
			LatencyMs: time.Since(started).Milliseconds(),
		}
		if err != nil {
			check.Status = StatusUnhealthy
			check.Error = err.Error()
			overall = StatusUnhealthy
		}
		checks = append(checks, check)
	}

	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return overall, checks
}

// ServeHTTP отвечает полным отчётом; 503 при любой мёртвой зависимости.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	overall, checks := h.run()

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(Report{
		Status:        overall,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Checks:        checks,
	})
}

// ReadinessHandler отвечает 200 только когда все зависимости живы.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	if overall, _ := h.run(); overall == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler — безусловный liveness probe.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
