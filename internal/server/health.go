package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/errgroup"
)

// healthHandler reports process liveness, the transcript store and host load.
// Probes run concurrently; a failing host probe is reported, not fatal.
func (s *Server) healthHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	var (
		mu         sync.Mutex
		storeStats map[string]string
		server     = map[string]string{}
	)
	set := func(k, v string) {
		mu.Lock()
		server[k] = v
		mu.Unlock()
	}

	g, grpCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		st := s.store.Health(grpCtx)
		mu.Lock()
		storeStats = st
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		if v, err := mem.VirtualMemoryWithContext(grpCtx); err == nil {
			set("ram_usage", fmt.Sprintf("%.1f%%", v.UsedPercent))
		}
		return nil
	})
	g.Go(func() error {
		if p, err := cpu.PercentWithContext(grpCtx, 0, false); err == nil && len(p) > 0 {
			set("cpu_load", fmt.Sprintf("%.1f%%", p[0]))
		}
		return nil
	})
	g.Go(func() error {
		if d, err := disk.UsageWithContext(grpCtx, "/"); err == nil {
			set("disk_usage", fmt.Sprintf("%.1f%%", d.UsedPercent))
		}
		return nil
	})
	g.Go(func() error {
		if up, err := host.UptimeWithContext(grpCtx); err == nil {
			set("host_uptime", (time.Duration(up) * time.Second).String())
		}
		return nil
	})
	_ = g.Wait()

	status := http.StatusOK
	overall := "up"
	if storeStats["status"] != "up" {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	return c.JSON(status, map[string]interface{}{
		"status":        overall,
		"uptime":        time.Since(s.startedAt).Round(time.Second).String(),
		"pipeline":      s.pipeline.State(),
		"transcript":    storeStats,
		"server_health": server,
	})
}
