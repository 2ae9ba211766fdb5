package httpserver

import (
	"net/http"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

type healthResponse struct {
	Status      string  `json:"status"`
	Connections int     `json:"pooled_connections"`
	Goroutines  int     `json:"goroutines"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryRSS   uint64  `json:"memory_rss"`
}

// handleHealth reports daemon liveness plus its own resource usage, so the
// panel can spot a leaking or runaway daemon before operators do.
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}

	resp := healthResponse{
		Status:      "ok",
		Connections: s.registry.Len(),
		Goroutines:  runtime.NumGoroutine(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			resp.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			resp.MemoryRSS = mem.RSS
		}
	} else {
		logrus.Debugf("healthz: process inspection failed: %v", err)
	}

	WriteJSON(w, http.StatusOK, resp)
}
