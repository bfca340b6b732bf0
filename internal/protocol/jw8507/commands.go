package jw8507

import "encoding/binary"

// 命令码定义（应答命令码 = 命令码 + 1）
const (
	CmdReadVersion         uint16 = 0x0003 // 读版本号
	CmdDefaultDisplay      uint16 = 0x0005 // 恢复默认显示
	CmdReadWavelengthTable uint16 = 0x072E // 读波长表
	CmdSetCloseReset       uint16 = 0x1434 // 关断/复位
	CmdReadRealTimeInfo    uint16 = 0x1436 // 读实时信息
	CmdSetOutputMode       uint16 = 0x1438 // 设置输出模式
	CmdSetWavelength       uint16 = 0x143A // 设置波长
	CmdSetAttenuation      uint16 = 0x143C // 设置衰减量
	CmdSetLockPower        uint16 = 0x143E // 设置锁定光功率
)

// 各命令应答帧总长度（字节）
const (
	RespLenAck             = 7  // 仅回执，无数据区
	RespLenVersion         = 10 // 模块/硬件/软件版本各1字节
	RespLenRealTimeInfo    = 14 // 工作模式+衰减方式+波长下标+衰减量(2)+光功率(2)
	RespLenWavelengthTable = 20 // 条目数(1)+波长(小端uint16)x6
)

// 输出工作模式
const (
	ModeAttenuation byte = 0x00 // 衰减模式
	ModeLockPower   byte = 0x01 // 锁定功率模式
)

// 关断/复位命令的数据区取值（小端 uint16）
const (
	CloseCode uint16 = 0xFFFF // 关断输出
	ResetCode uint16 = 0x0000 // 复位
)

// DefaultWavelengths 出厂默认波长表（nm）
// 连接设备后应以读波长表命令的结果整体替换
func DefaultWavelengths() []uint16 {
	return []uint16{1310, 1490, 1540, 1550, 1563, 1625}
}

// EncodeHundredths 将保留两位小数的物理量编码为 1/100 单位的小端 uint16
// 与设备一致采用截断而非四舍五入
func EncodeHundredths(v float64) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v*100))
	return b
}

// EncodeSignedHundredths 同 EncodeHundredths，有符号（锁定功率可为负）
func EncodeSignedHundredths(v float64) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(int16(v*100)))
	return b
}

// DecodeHundredths 将小端 uint16 还原为 1/100 单位的物理量
func DecodeHundredths(b []byte) float64 {
	return float64(binary.LittleEndian.Uint16(b)) / 100
}

// DecodeSignedHundredths 同 DecodeHundredths，有符号
func DecodeSignedHundredths(b []byte) float64 {
	return float64(int16(binary.LittleEndian.Uint16(b))) / 100
}
