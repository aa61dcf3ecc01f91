package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemResponse reports host-level resource usage for the dashboard.
type SystemResponse struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	NumCPU        int     `json:"num_cpu"`
	MemTotal      uint64  `json:"mem_total"`
	MemUsed       uint64  `json:"mem_used"`
	MemPercent    float64 `json:"mem_percent"`
	Goroutines    int     `json:"goroutines"`
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := SystemResponse{
		NumCPU:     runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		resp.Hostname = info.Hostname
		resp.OS = info.OS
		resp.Platform = info.Platform
		resp.UptimeSeconds = info.Uptime
	} else {
		s.logger.Warn("Failed to read host info", "error", err)
	}

	// Sensor availability varies; every probe failure degrades to zeros.
	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemTotal = vm.Total
		resp.MemUsed = vm.Used
		resp.MemPercent = vm.UsedPercent
	}

	s.writeJSON(w, http.StatusOK, resp)
}
