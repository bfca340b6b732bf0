package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jwopto-code/atten-server/internal/command"
	cfgpkg "github.com/jwopto-code/atten-server/internal/config"
	"github.com/jwopto-code/atten-server/internal/device"
	"github.com/jwopto-code/atten-server/internal/dispatch"
	"github.com/jwopto-code/atten-server/internal/health"
	appmetrics "github.com/jwopto-code/atten-server/internal/metrics"
	"github.com/jwopto-code/atten-server/internal/monitor"
	"github.com/jwopto-code/atten-server/internal/protocol/jw8507"
	"github.com/jwopto-code/atten-server/internal/tcpserver"
)

// fakePort 内存桩串口，按 respond 脚本应答
type fakePort struct {
	mu      sync.Mutex
	pending []byte
	respond func(frame []byte) []byte
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.respond != nil {
		f.pending = append(f.pending, f.respond(p)...)
	}
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, nil
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (f *fakePort) ResetInputBuffer() error            { return nil }
func (f *fakePort) Close() error                       { return nil }

// 应答一切命令的正常设备
func normalDevice(frame []byte) []byte {
	cmd := jw8507.RespCmd(frame)
	var data []byte
	switch cmd {
	case jw8507.CmdReadVersion:
		data = []byte{0x16, 0x0A, 0x03}
	case jw8507.CmdReadWavelengthTable:
		data = []byte{
			0x06,
			0x1E, 0x05, 0xD2, 0x05, 0x04, 0x06,
			0x0E, 0x06, 0x1B, 0x06, 0x59, 0x06,
		}
	case jw8507.CmdReadRealTimeInfo:
		data = []byte{0x00, 0x01, 0x03, 0xE8, 0x03, 0x00, 0x00}
	}
	resp, _ := jw8507.Build(frame[1], cmd+1, data)
	return resp
}

func newTestServer(t *testing.T, connect bool) (*Server, *device.Manager) {
	t.Helper()
	disp := dispatch.New(8)
	m := device.NewManager(
		device.Settings{Path: "/dev/ttyUSB0", BaudRate: 115200, ReadTimeout: 50 * time.Millisecond},
		nil, disp, nil, nil)
	m.SetPortOpener(func(device.Settings) (device.Port, error) {
		return &fakePort{respond: normalDevice}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)

	if connect {
		if r := m.ConnectDevice(); !r.OK {
			t.Fatalf("测试前置：设备连接失败 %+v", r)
		}
	}

	router := command.NewRouter(m, disp, 8, "1.4.2", 2*time.Second, nil, nil)
	poller := monitor.New(m, 2, time.Second, nil, nil)
	reg := appmetrics.NewRegistry()

	srv := New(
		cfgpkg.HTTPConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second},
		"/metrics", appmetrics.Handler(reg),
		Deps{
			App:      cfgpkg.AppConfig{Name: "atten-server", Env: "test", Version: "1.4.2"},
			Manager:  m,
			Router:   router,
			Poller:   poller,
			TCPStats: func() tcpserver.LimiterStats { return tcpserver.LimiterStats{MaxConnections: 64} },
		})
	return srv, m
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthzReadyzMetrics(t *testing.T) {
	srv, _ := newTestServer(t, false)

	if rr := doRequest(t, srv, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("/healthz code=%d", rr.Code)
	}
	if rr := doRequest(t, srv, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("/readyz code=%d", rr.Code)
	}
	if rr := doRequest(t, srv, http.MethodGet, "/metrics", ""); rr.Code != http.StatusOK {
		t.Fatalf("/metrics code=%d", rr.Code)
	}
}

// downChecker 恒定上报指定状态的检查器
type downChecker struct {
	status health.Status
}

func (d *downChecker) Name() string { return "stub" }
func (d *downChecker) Check(ctx context.Context) health.CheckResult {
	return health.CheckResult{Status: d.status, Message: "stub"}
}

func TestReadyzNotReady(t *testing.T) {
	base, _ := newTestServer(t, false)
	srv := New(
		cfgpkg.HTTPConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second},
		"/metrics", nil,
		Deps{
			Manager: base.deps.Manager,
			Router:  base.deps.Router,
			Health:  health.NewAggregator(&downChecker{status: health.StatusUnhealthy}),
		})

	if rr := doRequest(t, srv, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz not-ready code=%d", rr.Code)
	}
	if rr := doRequest(t, srv, http.MethodGet, "/api/health", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/api/health unhealthy code=%d", rr.Code)
	}
}

func TestHealthReportDegraded(t *testing.T) {
	base, _ := newTestServer(t, false)
	srv := New(
		cfgpkg.HTTPConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second},
		"/metrics", nil,
		Deps{
			Manager: base.deps.Manager,
			Router:  base.deps.Router,
			Health:  health.NewAggregator(health.NewDeviceChecker(base.deps.Manager, nil, 0)),
		})

	// 设备未连接时降级，readiness仍通过，报告返回200
	if rr := doRequest(t, srv, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("/readyz degraded code=%d", rr.Code)
	}
	rr := doRequest(t, srv, http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("/api/health degraded code=%d", rr.Code)
	}
	var report health.HealthReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("/api/health 解析失败: %v", err)
	}
	if report.Status != health.StatusDegraded {
		t.Fatalf("期望degraded，实际: %v", report.Status)
	}
	if _, ok := report.Checks["device"]; !ok {
		t.Fatalf("报告缺少device检查项: %v", report.Checks)
	}
}

func TestStatusRoutes(t *testing.T) {
	srv, _ := newTestServer(t, true)

	rr := doRequest(t, srv, http.MethodGet, "/api/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("/api/status code=%d", rr.Code)
	}
	var status map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("/api/status 解析失败: %v", err)
	}
	dev, ok := status["device"].(map[string]interface{})
	if !ok || dev["connected"] != true {
		t.Fatalf("/api/status 设备状态异常: %v", status["device"])
	}
	if _, ok := status["tcp"]; !ok {
		t.Fatal("/api/status 缺少 tcp 统计")
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/device", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"version"`) {
		t.Fatalf("/api/device code=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/wavelengths", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "1550") {
		t.Fatalf("/api/wavelengths code=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestWavelengthsNotConnected(t *testing.T) {
	srv, _ := newTestServer(t, false)

	rr := doRequest(t, srv, http.MethodGet, "/api/wavelengths", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("未连接时 /api/wavelengths code=%d", rr.Code)
	}
}

func TestChannelCommandRoutes(t *testing.T) {
	srv, _ := newTestServer(t, true)

	rr := doRequest(t, srv, http.MethodPost, "/api/channels/1/attenuation", `{"attenuation": 10}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Attenuation set successfully") {
		t.Fatalf("设置衰减 code=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/channels/99/attenuation", `{"attenuation": 10}`)
	if !strings.Contains(rr.Body.String(), "Out of range") {
		t.Fatalf("通道越界应报 Out of range，body=%s", rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/channels/abc/attenuation", `{"attenuation": 10}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("非法通道号 code=%d", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/channels/1/wavelength", `{"wavelength": 1550}`)
	if !strings.Contains(rr.Body.String(), "Wavelength set successfully") {
		t.Fatalf("设置波长 body=%s", rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/channels/1/closereset", `{"set": "Halt"}`)
	if !strings.Contains(rr.Body.String(), "Invalid control instruction") {
		t.Fatalf("非法控制指令 body=%s", rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/channels/1/closereset", `{"set": "Reset"}`)
	if !strings.Contains(rr.Body.String(), "Close/Reset set successfully") {
		t.Fatalf("复位 body=%s", rr.Body.String())
	}
}

func TestConnectDisconnectRoutes(t *testing.T) {
	srv, m := newTestServer(t, false)

	rr := doRequest(t, srv, http.MethodPost, "/api/connect", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Connection successful") {
		t.Fatalf("连接设备 code=%d body=%s", rr.Code, rr.Body.String())
	}
	if !m.Connected() {
		t.Fatal("连接后设备状态应为已连接")
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/disconnect", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("断开设备 code=%d body=%s", rr.Code, rr.Body.String())
	}
	if m.Connected() {
		t.Fatal("断开后设备状态应为未连接")
	}
}

func TestWebSocketStream(t *testing.T) {
	srv, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.srv.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket 连接失败: %v", err)
	}
	defer conn.Close()

	// 接入首帧
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("读取首帧失败: %v", err)
	}
	var frame StatusFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("首帧解析失败: %v", err)
	}
	if !frame.Connected {
		t.Fatal("首帧应标记设备已连接")
	}

	// 快照广播
	srv.PublishStatus([]monitor.Snapshot{{Channel: 1, Wavelength: 1550, Attenuation: 10}})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("读取广播帧失败: %v", err)
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("广播帧解析失败: %v", err)
	}
	if len(frame.Channels) != 1 || frame.Channels[0].Wavelength != 1550 {
		t.Fatalf("广播帧内容异常: %+v", frame.Channels)
	}
}
