// Package jw8507 实现 JW8507 系列多通道光衰减器的串口协议编解码。
//
// 帧格式：0x7B(1) + addr(1) + len(1) + cmd(2, 大端) + data(0..200) + checksum(1) + 0x7D(1)
// len 字段 = 5 + len(data)，覆盖 addr 到 checksum（不含包头包尾）。
// 应答帧结构相同，应答命令码 = 请求命令码 + 1。
package jw8507

import "encoding/binary"

const (
	// FrameHeader 包头
	FrameHeader byte = 0x7B
	// FrameTail 包尾
	FrameTail byte = 0x7D

	// AddrBroadcast 广播地址，仅设置类命令可用，读取类命令必须指定通道地址
	AddrBroadcast byte = 0xFF

	// MaxDataLen 单帧数据区最大字节数
	MaxDataLen = 200

	// FrameOverhead 除数据区外的固定开销：包头+地址+长度+命令码(2)+校验和+包尾
	FrameOverhead = 7
)

// RespCmd 取应答帧中的命令码（大端，位于第 3..4 字节）
func RespCmd(resp []byte) uint16 {
	return binary.BigEndian.Uint16(resp[3:5])
}

// RespData 取应答帧数据区（命令码之后、校验和之前）
func RespData(resp []byte) []byte {
	return resp[5 : len(resp)-2]
}
