package jw8507

import "errors"

var (
	// ErrChecksumMismatch checksum校验失败
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// CalculateChecksum 计算JW8507校验和
// 算法：对包头到数据区的所有字节累加后取补码（两补数）
// 由此整帧从包头到校验和的字节之和 ≡ 0 (mod 256)
func CalculateChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}

// VerifyFrameChecksum 验证整帧校验和（倒数第二字节）
// 注意：设备应答在命令码匹配后即被采信，校验和不参与应答判定，此函数用于发送侧自检
func VerifyFrameChecksum(frame []byte) error {
	if len(frame) < FrameOverhead {
		return errors.New("frame too short for checksum verification")
	}

	expected := CalculateChecksum(frame[:len(frame)-2])
	if frame[len(frame)-2] != expected {
		return ErrChecksumMismatch
	}

	return nil
}
