package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jwopto-code/atten-server/internal/dispatch"
)

// DispatchChecker 任务队列健康检查器
// 队列满时Submit会被拒绝，上报Unhealthy
type DispatchChecker struct {
	disp *dispatch.Dispatcher
}

// NewDispatchChecker 创建任务队列健康检查器
func NewDispatchChecker(disp *dispatch.Dispatcher) *DispatchChecker {
	return &DispatchChecker{disp: disp}
}

// Name 返回检查器名称
func (c *DispatchChecker) Name() string {
	return "dispatch"
}

// Check 执行健康检查
func (c *DispatchChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	depth := c.disp.Len()
	capacity := c.disp.Cap()

	utilization := 0.0
	if capacity > 0 {
		utilization = float64(depth) / float64(capacity)
	}

	status := StatusHealthy
	message := "ok"

	if utilization > 0.9 {
		status = StatusDegraded
		message = "task queue near full"
	}

	if utilization >= 1.0 {
		status = StatusUnhealthy
		message = "task queue exhausted"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"queued":      depth,
			"capacity":    capacity,
			"utilization": fmt.Sprintf("%.1f%%", utilization*100),
		},
		Latency: time.Since(start),
	}
}
