// Dashboard-host self telemetry, served at /api/system.
// Uses gopsutil for cross-platform collection.
package server

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// SystemStats is a point-in-time snapshot of the host running OpenFlux.
type SystemStats struct {
	Hostname  string    `json:"hostname"`
	OS        string    `json:"os"`
	CPUUsage  float64   `json:"cpu_usage"`  // percent 0-100
	MemUsage  float64   `json:"mem_usage"`  // percent 0-100
	DiskUsage float64   `json:"disk_usage"` // percent 0-100 (largest mount)
	RxBytes   uint64    `json:"rx_bytes"`   // cumulative, all interfaces
	TxBytes   uint64    `json:"tx_bytes"`
	Time      time.Time `json:"time"`
}

func (s *Server) handleSystemStats(c *gin.Context) {
	stats := SystemStats{
		OS:   detailedOS(),
		Time: time.Now().UTC(),
	}

	if h, err := os.Hostname(); err == nil {
		stats.Hostname = h
	}
	if pcts, err := cpu.Percent(500*time.Millisecond, false); err == nil && len(pcts) > 0 {
		stats.CPUUsage = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemUsage = vm.UsedPercent
	}
	stats.DiskUsage = maxDiskUsage()

	if io, err := psnet.IOCounters(false); err == nil && len(io) > 0 {
		stats.RxBytes = io[0].BytesRecv
		stats.TxBytes = io[0].BytesSent
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// detailedOS returns a descriptive OS version string, or runtime.GOOS as fallback.
func detailedOS() string {
	info, err := host.Info()
	if err == nil && info.Platform != "" {
		if info.PlatformVersion != "" {
			return fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
		}
		return info.Platform
	}
	return runtime.GOOS
}

// maxDiskUsage returns the used percentage of the partition with highest usage.
func maxDiskUsage() float64 {
	partitions, err := disk.Partitions(false)
	if err != nil {
		return 0
	}
	var max float64
	for _, p := range partitions {
		usage, err := disk.Usage(p.Mountpoint)
		if err != nil {
			continue
		}
		if usage.UsedPercent > max {
			max = usage.UsedPercent
		}
	}
	return max
}
