package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	TCPAccepted      prometheus.Counter
	TCPBytesReceived prometheus.Counter
	TCPConnCurrent   prometheus.Gauge       // 当前活跃 TCP 连接数
	CommandTotal     *prometheus.CounterVec // labels: opcode, result=ok|error
	ExchangeTotal    *prometheus.CounterVec // labels: op, result=ok|error
	DispatchTimeout  prometheus.Counter     // 调度执行超时计数
	MonitorPollTotal *prometheus.CounterVec // labels: result=ok|error
	DeviceConnected  prometheus.Gauge       // 1=串口设备已连接
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		TCPAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcp_accept_total",
			Help: "Total accepted TCP connections.",
		}),
		TCPBytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcp_bytes_received_total",
			Help: "Total bytes received over TCP.",
		}),
		TCPConnCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tcp_conn_current",
			Help: "Current number of open TCP client connections.",
		}),
		CommandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "command_total",
			Help: "Handled control commands by opcode.",
		}, []string{"opcode", "result"}),
		ExchangeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serial_exchange_total",
			Help: "Serial request/response exchanges by operation.",
		}, []string{"op", "result"}),
		DispatchTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_timeout_total",
			Help: "Dispatched tasks that exceeded their wait deadline.",
		}),
		MonitorPollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_poll_total",
			Help: "Real-time status poll rounds.",
		}, []string{"result"}),
		DeviceConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "device_connected",
			Help: "Whether the attenuator serial link is up (0/1).",
		}),
	}
	reg.MustRegister(
		m.TCPAccepted, m.TCPBytesReceived, m.TCPConnCurrent,
		m.CommandTotal, m.ExchangeTotal, m.DispatchTimeout,
		m.MonitorPollTotal, m.DeviceConnected,
	)
	return m
}
