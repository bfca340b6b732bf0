package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jwopto-code/atten-server/internal/dispatch"
	"github.com/jwopto-code/atten-server/internal/metrics"
	"github.com/jwopto-code/atten-server/internal/protocol/jw8507"
)

var (
	// ErrNotConnected 设备尚未连接
	ErrNotConnected = errors.New("device not connected")
)

// 连接校验与波长表读取使用的通道地址
const verifyAddr byte = 0x01

// Manager 设备连接的所属上下文
// 管理循环独占执行连接/断开等生命周期任务，其他goroutine把任务投递到
// 队列后限时等待结果；串口句柄只在这里创建和销毁
type Manager struct {
	settings Settings
	presets  []uint16
	disp     *dispatch.Dispatcher
	log      *zap.Logger
	appm     *metrics.AppMetrics

	// 串口打开入口，测试时替换为桩实现
	openPort func(Settings) (Port, error)

	mu      sync.RWMutex
	session *Session
	version jw8507.VersionInfo
}

// NewManager 创建设备管理器，presets 为可选的波长预置表
func NewManager(settings Settings, presets []uint16, disp *dispatch.Dispatcher, logger *zap.Logger, appm *metrics.AppMetrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		settings: settings,
		presets:  presets,
		disp:     disp,
		log:      logger,
		appm:     appm,
		openPort: OpenPort,
	}
}

// SetPortOpener 安装串口打开函数，测试时注入桩实现
func (m *Manager) SetPortOpener(fn func(Settings) (Port, error)) {
	m.openPort = fn
}

// Run 管理循环：逐个执行队列任务，上下文取消时断开设备后退出
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.disconnect()
			return
		case p := <-m.disp.Queue():
			p.Execute()
		}
	}
}

// Settings 返回串口连接参数
func (m *Manager) Settings() Settings {
	return m.settings
}

// Session 返回当前设备会话，未连接时为 nil
func (m *Manager) Session() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Connected 返回设备是否已连接
func (m *Manager) Connected() bool {
	return m.Session() != nil
}

// Version 返回连接校验时读到的设备版本信息
func (m *Manager) Version() (jw8507.VersionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version, m.session != nil
}

// ConnectDevice 打开串口、校验设备并刷新波长表
// 仅应经由任务队列在管理循环中执行
func (m *Manager) ConnectDevice() dispatch.Result {
	if m.Connected() {
		return dispatch.Result{OK: true, Message: "Device already connected"}
	}
	if m.settings.Path == "" {
		return dispatch.Result{Message: "Port not selected"}
	}

	port, err := m.openPort(m.settings)
	if err != nil {
		m.log.Warn("serial open failed",
			zap.String("port", m.settings.Path),
			zap.Int("baud", m.settings.BaudRate),
			zap.Error(err))
		return dispatch.Result{Message: fmt.Sprintf("Connection failed: %v", err)}
	}

	sess := NewSession(port, m.settings.ReadTimeout, m.log, m.appm)
	if len(m.presets) > 0 {
		sess.ReplaceWavelengths(m.presets)
	}

	// 连接后先读版本号校验设备，失败则直接关闭串口
	version, err := sess.ReadVersion(verifyAddr)
	if err != nil {
		_ = port.Close()
		m.log.Warn("device verification failed", zap.Error(err))
		if errors.Is(err, jw8507.ErrShortResponse) || errors.Is(err, jw8507.ErrCommandMismatch) {
			return dispatch.Result{Message: "Device verification failed: no valid response"}
		}
		return dispatch.Result{Message: fmt.Sprintf("Device verification exception: %v", err)}
	}

	// 刷新波长表；读取失败不影响连接结果，沿用现有表
	if table, err := sess.RefreshWavelengths(verifyAddr); err != nil {
		m.log.Warn("read wavelength table failed", zap.Error(err))
	} else {
		m.log.Info("wavelength table refreshed", zap.Uint16s("wavelengths", table))
	}

	m.mu.Lock()
	m.session = sess
	m.version = version
	m.mu.Unlock()

	if m.appm != nil {
		m.appm.DeviceConnected.Set(1)
	}
	m.log.Info("device connected",
		zap.String("port", m.settings.Path),
		zap.Int("baud", m.settings.BaudRate),
		zap.Uint8("module_version", version.Module),
		zap.Uint8("hardware_version", version.Hardware),
		zap.Uint8("software_version", version.Software))

	return dispatch.Result{OK: true, Message: "Connection successful"}
}

// DisconnectDevice 恢复仪表默认显示并关闭串口
// 仅应经由任务队列在管理循环中执行
func (m *Manager) DisconnectDevice() dispatch.Result {
	if !m.Connected() {
		return dispatch.Result{OK: true, Message: "Device not connected"}
	}
	m.disconnect()
	return dispatch.Result{OK: true, Message: "Disconnected"}
}

func (m *Manager) disconnect() {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.version = jw8507.VersionInfo{}
	m.mu.Unlock()

	if sess == nil {
		return
	}

	// 断开前尽量恢复默认显示，失败不影响关闭
	if err := sess.DefaultDisplay(verifyAddr); err != nil {
		m.log.Debug("default display failed", zap.Error(err))
	}
	if err := sess.Close(); err != nil {
		m.log.Warn("serial close failed", zap.Error(err))
	}

	if m.appm != nil {
		m.appm.DeviceConnected.Set(0)
	}
	m.log.Info("device disconnected", zap.String("port", m.settings.Path))
}
