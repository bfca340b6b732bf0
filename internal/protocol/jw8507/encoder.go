package jw8507

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrDataTooLong 数据区超出单帧上限
	ErrDataTooLong = errors.New("frame data exceeds 200 bytes")
)

// Build 构造一帧下发命令
// 格式：7B + addr + len(5+data) + cmd(大端) + data + checksum + 7D
func Build(addr byte, cmd uint16, data []byte) ([]byte, error) {
	if len(data) > MaxDataLen {
		return nil, ErrDataTooLong
	}

	buf := make([]byte, 0, FrameOverhead+len(data))

	// 包头与地址
	buf = append(buf, FrameHeader, addr)

	// 长度字段：addr 到 checksum 的字节数
	buf = append(buf, byte(5+len(data)))

	// 命令码（大端）
	cmdBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(cmdBytes, cmd)
	buf = append(buf, cmdBytes...)

	// 数据区
	buf = append(buf, data...)

	// 校验和：覆盖包头到数据区
	buf = append(buf, CalculateChecksum(buf))

	// 包尾
	buf = append(buf, FrameTail)

	return buf, nil
}
