package jw8507

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrShortResponse 应答长度不足
	ErrShortResponse = errors.New("response too short")
	// ErrCommandMismatch 应答命令码与请求不对应
	ErrCommandMismatch = errors.New("response command mismatch")
)

// Match 判定应答是否与请求命令对应
// 规则：应答长度不小于该命令的应答帧长度，且应答命令码 = 请求命令码 + 1
// 校验和与包尾不参与判定
func Match(resp []byte, cmd uint16, wantLen int) bool {
	if len(resp) < wantLen {
		return false
	}
	return binary.BigEndian.Uint16(resp[3:5]) == cmd+1
}

// VersionInfo 设备版本信息
type VersionInfo struct {
	Module   byte // 模块版本
	Hardware byte // 硬件版本
	Software byte // 软件版本
}

// ParseVersion 解析读版本号应答
func ParseVersion(resp []byte) (VersionInfo, error) {
	if len(resp) < RespLenVersion {
		return VersionInfo{}, ErrShortResponse
	}

	return VersionInfo{
		Module:   resp[5],
		Hardware: resp[6],
		Software: resp[7],
	}, nil
}

// ParseWavelengthTable 解析读波长表应答
// 数据区：条目数(1) + 各波长(小端 uint16, nm)
func ParseWavelengthTable(resp []byte) ([]uint16, error) {
	if len(resp) < RespLenWavelengthTable {
		return nil, ErrShortResponse
	}

	count := int(resp[5])
	if 6+count*2 > len(resp)-2 {
		return nil, ErrShortResponse
	}

	table := make([]uint16, 0, count)
	for i := 0; i < count; i++ {
		table = append(table, binary.LittleEndian.Uint16(resp[6+i*2:8+i*2]))
	}
	return table, nil
}

// RealTimeInfo 单通道实时状态
type RealTimeInfo struct {
	WorkMode        byte    // 0x00 衰减模式，0x01 锁定功率模式
	AttenMode       byte    // 衰减工作方式
	WavelengthIndex byte    // 当前波长在波长表中的下标
	Attenuation     float64 // 当前衰减量 (dB)
	OutputPower     float64 // 输出光功率 (mW)，可为负
}

// ParseRealTimeInfo 解析读实时信息应答
func ParseRealTimeInfo(resp []byte) (RealTimeInfo, error) {
	if len(resp) < RespLenRealTimeInfo {
		return RealTimeInfo{}, ErrShortResponse
	}

	data := resp[5 : RespLenRealTimeInfo-2]
	return RealTimeInfo{
		WorkMode:        data[0],
		AttenMode:       data[1],
		WavelengthIndex: data[2],
		Attenuation:     DecodeHundredths(data[3:5]),
		OutputPower:     DecodeSignedHundredths(data[5:7]),
	}, nil
}
