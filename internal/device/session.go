package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jwopto-code/atten-server/internal/metrics"
	"github.com/jwopto-code/atten-server/internal/protocol/jw8507"
)

var (
	// ErrWavelengthNotListed 波长不在当前波长表中
	ErrWavelengthNotListed = errors.New("wavelength not in list")
)

// Session 已连接设备的命令会话
// 每次操作完成一次完整的"组帧-写入-读满-判定"交换，互斥锁覆盖全程，
// 多goroutine并发调用时在串口上逐条串行执行，问答不会交错
type Session struct {
	mu          sync.Mutex
	port        Port
	readTimeout time.Duration
	wavelengths []uint16

	log  *zap.Logger
	appm *metrics.AppMetrics
}

// NewSession 基于已打开的串口创建会话，波长表初始为出厂默认值
func NewSession(port Port, readTimeout time.Duration, logger *zap.Logger, appm *metrics.AppMetrics) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		port:        port,
		readTimeout: readTimeout,
		wavelengths: jw8507.DefaultWavelengths(),
		log:         logger,
		appm:        appm,
	}
}

// exchange 执行一次命令交换并校验应答命令码
func (s *Session) exchange(op string, addr byte, cmd uint16, data []byte, respLen int) ([]byte, error) {
	frame, err := jw8507.Build(addr, cmd, data)
	if err != nil {
		s.countExchange(op, false)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.port.ResetInputBuffer()

	if _, err := s.port.Write(frame); err != nil {
		s.countExchange(op, false)
		return nil, fmt.Errorf("write frame: %w", err)
	}

	resp := make([]byte, respLen)
	got, err := s.readFull(resp)
	if err != nil {
		s.countExchange(op, false)
		return nil, fmt.Errorf("read response: %w", err)
	}
	resp = resp[:got]

	if len(resp) < respLen {
		s.countExchange(op, false)
		s.log.Debug("response too short",
			zap.String("op", op),
			zap.Int("got", got),
			zap.Int("want", respLen))
		return nil, jw8507.ErrShortResponse
	}
	if !jw8507.Match(resp, cmd, respLen) {
		s.countExchange(op, false)
		s.log.Debug("response command mismatch",
			zap.String("op", op),
			zap.Uint16("cmd", cmd),
			zap.Uint16("resp_cmd", jw8507.RespCmd(resp)))
		return nil, jw8507.ErrCommandMismatch
	}

	s.countExchange(op, true)
	return resp, nil
}

// readFull 在读超时内循环读满 buf，线路静默或超时则返回已读字节数
func (s *Session) readFull(buf []byte) (int, error) {
	got := 0
	deadline := time.Now().Add(s.readTimeout)
	for got < len(buf) && time.Now().Before(deadline) {
		n, err := s.port.Read(buf[got:])
		if err != nil {
			return got, err
		}
		if n == 0 {
			break
		}
		got += n
	}
	return got, nil
}

func (s *Session) countExchange(op string, ok bool) {
	if s.appm == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	s.appm.ExchangeTotal.WithLabelValues(op, result).Inc()
}

// ReadVersion 读取设备版本信息，连接后也用于设备校验
func (s *Session) ReadVersion(addr byte) (jw8507.VersionInfo, error) {
	resp, err := s.exchange("read_version", addr, jw8507.CmdReadVersion, nil, jw8507.RespLenVersion)
	if err != nil {
		return jw8507.VersionInfo{}, err
	}
	return jw8507.ParseVersion(resp)
}

// RefreshWavelengths 读取设备波长表并整体替换会话内的波长表
func (s *Session) RefreshWavelengths(addr byte) ([]uint16, error) {
	resp, err := s.exchange("read_wavelength_table", addr, jw8507.CmdReadWavelengthTable, nil, jw8507.RespLenWavelengthTable)
	if err != nil {
		return nil, err
	}
	table, err := jw8507.ParseWavelengthTable(resp)
	if err != nil {
		return nil, err
	}
	s.ReplaceWavelengths(table)
	return table, nil
}

// ReplaceWavelengths 整体替换波长表
func (s *Session) ReplaceWavelengths(table []uint16) {
	s.mu.Lock()
	s.wavelengths = table
	s.mu.Unlock()
}

// Wavelengths 返回当前波长表副本
func (s *Session) Wavelengths() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint16, len(s.wavelengths))
	copy(out, s.wavelengths)
	return out
}

// HasWavelength 判断波长是否在当前波长表中
func (s *Session) HasWavelength(nm uint16) bool {
	_, ok := s.wavelengthIndex(nm)
	return ok
}

func (s *Session) wavelengthIndex(nm uint16) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.wavelengths {
		if w == nm {
			return i, true
		}
	}
	return 0, false
}

// RTStatus 单通道实时状态，波长已按波长表解析为 nm（下标越界时为0）
type RTStatus struct {
	jw8507.RealTimeInfo
	Wavelength uint16
}

// ReadRealTimeInfo 读取指定通道的实时状态
func (s *Session) ReadRealTimeInfo(addr byte) (RTStatus, error) {
	resp, err := s.exchange("read_rt_info", addr, jw8507.CmdReadRealTimeInfo, nil, jw8507.RespLenRealTimeInfo)
	if err != nil {
		return RTStatus{}, err
	}
	info, err := jw8507.ParseRealTimeInfo(resp)
	if err != nil {
		return RTStatus{}, err
	}

	st := RTStatus{RealTimeInfo: info}
	s.mu.Lock()
	if int(info.WavelengthIndex) < len(s.wavelengths) {
		st.Wavelength = s.wavelengths[info.WavelengthIndex]
	}
	s.mu.Unlock()
	return st, nil
}

// DefaultDisplay 恢复仪表默认显示，断开连接前调用
func (s *Session) DefaultDisplay(addr byte) error {
	_, err := s.exchange("default_display", addr, jw8507.CmdDefaultDisplay, nil, jw8507.RespLenAck)
	return err
}

// SetWavelength 设置工作波长，数据区为波长在波长表中的下标
func (s *Session) SetWavelength(addr byte, nm uint16) error {
	idx, ok := s.wavelengthIndex(nm)
	if !ok {
		s.log.Warn("wavelength not in list", zap.Uint16("wavelength", nm))
		return ErrWavelengthNotListed
	}
	_, err := s.exchange("set_wavelength", addr, jw8507.CmdSetWavelength, []byte{byte(idx)}, jw8507.RespLenAck)
	return err
}

// SetAttenuation 设置衰减量 (dB)，addr 为 0xFF 时对全部通道生效
func (s *Session) SetAttenuation(addr byte, db float64) error {
	_, err := s.exchange("set_attenuation", addr, jw8507.CmdSetAttenuation, jw8507.EncodeHundredths(db), jw8507.RespLenAck)
	return err
}

// SetCloseReset 关断输出或复位，code 取 jw8507.CloseCode / jw8507.ResetCode
func (s *Session) SetCloseReset(addr byte, code uint16) error {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, code)
	_, err := s.exchange("set_close_reset", addr, jw8507.CmdSetCloseReset, data, jw8507.RespLenAck)
	return err
}

// SetOutputMode 设置输出工作模式
// V22_10及之后的无内部监控功能的设备无法使用
func (s *Session) SetOutputMode(addr byte, mode byte) error {
	_, err := s.exchange("set_output_mode", addr, jw8507.CmdSetOutputMode, []byte{mode}, jw8507.RespLenAck)
	return err
}

// SetLockPower 设置锁定输出功率 (mW)，可为负
func (s *Session) SetLockPower(addr byte, mw float64) error {
	_, err := s.exchange("set_lock_power", addr, jw8507.CmdSetLockPower, jw8507.EncodeSignedHundredths(mw), jw8507.RespLenAck)
	return err
}

// Close 关闭底层串口，等待进行中的交换完成
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}
