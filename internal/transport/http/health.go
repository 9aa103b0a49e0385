package httptransport

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"glass-server-go/internal/app/session"
	"glass-server-go/internal/platform/observability"
)

// StatusFunc reports the state of a component outside the session, such as
// a transport.
type StatusFunc func() any

type systemStats struct {
	Goroutines     int     `json:"goroutines"`
	ProcessRSS     uint64  `json:"process_rss"`
	MemTotal       uint64  `json:"mem_total"`
	MemUsedPercent float64 `json:"mem_used_percent"`
}

type healthReport struct {
	Status     string                      `json:"status"`
	Uptime     string                      `json:"uptime"`
	Session    session.Stats               `json:"session"`
	Components map[string]any              `json:"components,omitempty"`
	System     systemStats                 `json:"system"`
	Metrics    []observability.MetricSample `json:"metrics"`
}

type health struct {
	app        App
	started    time.Time
	components map[string]StatusFunc
}

func (h *health) handle(c *gin.Context) {
	ctx := c.Request.Context()
	sys := systemStats{Goroutines: runtime.NumGoroutine()}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sys.MemTotal = vm.Total
		sys.MemUsedPercent = vm.UsedPercent
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
			sys.ProcessRSS = mi.RSS
		}
	}

	report := healthReport{
		Status:  "ok",
		Uptime:  time.Since(h.started).Truncate(time.Second).String(),
		Session: h.app.Stats(),
		System:  sys,
		Metrics: observability.Snapshot(),
	}
	if len(h.components) > 0 {
		report.Components = make(map[string]any, len(h.components))
		for name, fn := range h.components {
			report.Components[name] = fn()
		}
	}
	RespondSuccess(c, http.StatusOK, report, "")
}
