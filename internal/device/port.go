// Package device 管理 JW8507 光衰减器的串口会话与连接生命周期。
package device

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Port 串口读写能力抽象，测试时可用内存桩替换真实串口
type Port interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// Settings 串口参数，数据格式固定 8N1
type Settings struct {
	Path        string        // 串口设备路径
	BaudRate    int           // 波特率
	ReadTimeout time.Duration // 单次命令应答的读超时
}

// OpenPort 打开串口并设置读超时
func OpenPort(s Settings) (Port, error) {
	mode := &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(s.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", s.Path, err)
	}

	if err := port.SetReadTimeout(s.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	return port, nil
}
