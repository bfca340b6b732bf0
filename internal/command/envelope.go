// Package command 实现TCP文本命令到设备操作的路由。
// 请求为一行JSON：{"opcode": "...", "parameter": {...}}
// 应答为一行JSON：{"IsSuccessful": bool, "Value": "...", "ErrorMessage": "..."}
package command

import "encoding/json"

// Request 命令请求
type Request struct {
	Opcode    string          `json:"opcode"`
	Parameter json.RawMessage `json:"parameter"`
}

// Response 命令应答信封
// 提示消息（包括成功提示）统一放在 ErrorMessage 字段，Value 仅用于查询类命令的返回值
type Response struct {
	IsSuccessful bool   `json:"IsSuccessful"`
	Value        string `json:"Value"`
	ErrorMessage string `json:"ErrorMessage"`
}

// Encode 序列化应答信封
func (r Response) Encode() []byte {
	b, _ := json.Marshal(r)
	return b
}

func success(msg string) Response {
	return Response{IsSuccessful: true, ErrorMessage: msg}
}

func failure(msg string) Response {
	return Response{ErrorMessage: msg}
}
