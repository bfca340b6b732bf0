package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jwopto-code/atten-server/internal/tcpserver"
)

// TCPChecker TCP服务器健康检查器
type TCPChecker struct {
	server *tcpserver.Server
}

// NewTCPChecker 创建TCP健康检查器
func NewTCPChecker(server *tcpserver.Server) *TCPChecker {
	return &TCPChecker{server: server}
}

// Name 返回检查器名称
func (c *TCPChecker) Name() string {
	return "tcp"
}

// Check 执行健康检查
func (c *TCPChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	stats := c.server.LimiterStats()

	if stats.MaxConnections == 0 {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "no limiting enabled",
			Details: map[string]interface{}{
				"active_connections": stats.ActiveConnections,
			},
			Latency: time.Since(start),
		}
	}

	// 计算连接利用率
	utilization := float64(stats.ActiveConnections) / float64(stats.MaxConnections)

	status := StatusHealthy
	message := "ok"

	if utilization > 0.8 {
		status = StatusDegraded
		message = "high connection usage"
	}

	if utilization > 0.95 {
		status = StatusUnhealthy
		message = "connection limit near exhausted"
	}

	details := map[string]interface{}{
		"active_connections": stats.ActiveConnections,
		"max_connections":    stats.MaxConnections,
		"utilization":        fmt.Sprintf("%.1f%%", utilization*100),
		"rejected_total":     stats.RejectedTotal,
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
