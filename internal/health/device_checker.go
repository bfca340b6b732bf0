package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jwopto-code/atten-server/internal/device"
	"github.com/jwopto-code/atten-server/internal/monitor"
)

// DeviceChecker 衰减器串口链路健康检查器
// 设备未连接视为降级：服务仍可受理连接与指令，由上位机决定何时连接设备。
type DeviceChecker struct {
	mgr        *device.Manager
	poller     *monitor.Poller
	staleAfter time.Duration
}

// NewDeviceChecker 创建设备健康检查器
// poller可为nil；staleAfter>0时按实时数据新鲜度判定降级
func NewDeviceChecker(mgr *device.Manager, poller *monitor.Poller, staleAfter time.Duration) *DeviceChecker {
	return &DeviceChecker{mgr: mgr, poller: poller, staleAfter: staleAfter}
}

// Name 返回检查器名称
func (c *DeviceChecker) Name() string {
	return "device"
}

// Check 执行健康检查
func (c *DeviceChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	set := c.mgr.Settings()
	details := map[string]interface{}{
		"port":      set.Path,
		"baud_rate": set.BaudRate,
	}

	if !c.mgr.Connected() {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "device not connected",
			Details: details,
			Latency: time.Since(start),
		}
	}

	if ver, ok := c.mgr.Version(); ok {
		details["version"] = fmt.Sprintf("%d.%d.%d", ver.Module, ver.Hardware, ver.Software)
	}

	status := StatusHealthy
	message := "ok"

	// 已连接但实时数据长期未更新，说明轮询或链路异常
	if c.poller != nil && c.staleAfter > 0 {
		if snaps := c.poller.Snapshots(); len(snaps) > 0 {
			age := time.Since(snaps[0].UpdatedAt)
			details["realtime_age"] = age.String()

			if age > c.staleAfter {
				status = StatusDegraded
				message = "realtime data stale"
			}
		}
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
