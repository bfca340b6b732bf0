package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jwopto-code/atten-server/internal/device"
	"github.com/jwopto-code/atten-server/internal/dispatch"
	"github.com/jwopto-code/atten-server/internal/metrics"
	"github.com/jwopto-code/atten-server/internal/protocol/jw8507"
)

// Router 把一行JSON命令映射到设备操作并产生应答信封
// 设置类命令直接走设备会话（由会话锁串行化）；连接设备投递到管理循环限时等待
type Router struct {
	mgr         *device.Manager
	disp        *dispatch.Dispatcher
	channels    int
	version     string
	execTimeout time.Duration
	log         *zap.Logger
	appm        *metrics.AppMetrics
}

// NewRouter 创建命令路由
// channels 为可控通道数上限，version 为 check 命令返回的程序版本号
func NewRouter(mgr *device.Manager, disp *dispatch.Dispatcher, channels int, version string, execTimeout time.Duration, logger *zap.Logger, appm *metrics.AppMetrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if execTimeout <= 0 {
		execTimeout = 10 * time.Second
	}
	return &Router{
		mgr:         mgr,
		disp:        disp,
		channels:    channels,
		version:     version,
		execTimeout: execTimeout,
		log:         logger,
		appm:        appm,
	}
}

// Handle 处理一条完整的命令行，任何输入都对应恰好一个应答信封
func (r *Router) Handle(line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil || req.Opcode == "" {
		return r.done("invalid", failure("Invalid JSON command"))
	}

	switch req.Opcode {
	case "check":
		return r.done("check", Response{IsSuccessful: true, Value: r.version})
	case "SetWavelength":
		return r.done("SetWavelength", r.setWavelength(req.Parameter))
	case "SetAttenuation":
		return r.done("SetAttenuation", r.setAttenuation(req.Parameter))
	case "SetCloseReset":
		return r.done("SetCloseReset", r.setCloseReset(req.Parameter))
	case "ConnectDevice":
		return r.done("ConnectDevice", r.ConnectDevice())
	}

	return r.done("unknown", failure("Unknown command"))
}

func (r *Router) done(opcode string, resp Response) Response {
	if r.appm != nil {
		result := "error"
		if resp.IsSuccessful {
			result = "ok"
		}
		r.appm.CommandTotal.WithLabelValues(opcode, result).Inc()
	}
	return resp
}

func (r *Router) setWavelength(raw json.RawMessage) Response {
	var p struct {
		CH         int `json:"CH"`
		Wavelength int `json:"Wavelength"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return failure("Invalid JSON command")
	}
	return r.SetWavelength(p.CH, p.Wavelength)
}

// SetWavelength 校验并执行指定通道的波长设置
func (r *Router) SetWavelength(ch, nm int) Response {
	if ch < 1 || ch > r.channels {
		return failure("Out of range")
	}

	sess := r.mgr.Session()
	if sess == nil {
		return failure("Device not connected")
	}
	if nm < 0 || nm > 0xFFFF {
		return failure("Wavelength not in list")
	}

	err := sess.SetWavelength(byte(ch), uint16(nm))
	switch {
	case err == nil:
		return success("Wavelength set successfully")
	case errors.Is(err, device.ErrWavelengthNotListed):
		return failure("Wavelength not in list")
	default:
		r.log.Warn("set wavelength failed", zap.Int("ch", ch), zap.Int("wavelength", nm), zap.Error(err))
		return failure("Wavelength set failed")
	}
}

func (r *Router) setAttenuation(raw json.RawMessage) Response {
	var p struct {
		CH          int     `json:"CH"`
		Attenuation float64 `json:"Attenuation"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return failure("Invalid JSON command")
	}
	return r.SetAttenuation(p.CH, p.Attenuation)
}

// SetAttenuation 校验并执行指定通道的衰减量设置 (0~60dB)
func (r *Router) SetAttenuation(ch int, db float64) Response {
	if ch < 1 || ch > r.channels {
		return failure("Out of range")
	}
	if db < 0 || db > 60 {
		return failure("Out of range")
	}

	sess := r.mgr.Session()
	if sess == nil {
		return failure("Device not connected")
	}

	if err := sess.SetAttenuation(byte(ch), db); err != nil {
		r.log.Warn("set attenuation failed", zap.Int("ch", ch), zap.Float64("attenuation", db), zap.Error(err))
		return failure("Attenuation set failed")
	}
	return success("Attenuation set successfully")
}

func (r *Router) setCloseReset(raw json.RawMessage) Response {
	var p struct {
		CH  int    `json:"CH"`
		Set string `json:"Set"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return failure("Invalid JSON command")
	}
	return r.SetCloseReset(p.CH, p.Set)
}

// SetCloseReset 校验并执行指定通道的关断/复位，set 取 "Close" 或 "Reset"
func (r *Router) SetCloseReset(ch int, set string) Response {
	if ch < 1 || ch > r.channels {
		return failure("Out of range")
	}

	var code uint16
	switch set {
	case "Close":
		code = jw8507.CloseCode
	case "Reset":
		code = jw8507.ResetCode
	default:
		return failure("Invalid control instruction")
	}

	sess := r.mgr.Session()
	if sess == nil {
		return failure("Device not connected")
	}

	if err := sess.SetCloseReset(byte(ch), code); err != nil {
		r.log.Warn("set close/reset failed", zap.Int("ch", ch), zap.String("set", set), zap.Error(err))
		return failure("Close/Reset set failed")
	}
	return success("Close/Reset set successfully")
}

// ConnectDevice 投递连接任务到管理循环并限时等待结果
func (r *Router) ConnectDevice() Response {
	return r.dispatchCall("connect device", r.mgr.ConnectDevice)
}

// DisconnectDevice 投递断开任务到管理循环并限时等待结果
func (r *Router) DisconnectDevice() Response {
	return r.dispatchCall("disconnect device", r.mgr.DisconnectDevice)
}

func (r *Router) dispatchCall(name string, task func() dispatch.Result) Response {
	res, err := r.disp.Call(task, r.execTimeout)
	if err != nil {
		if errors.Is(err, dispatch.ErrTimeout) {
			if r.appm != nil {
				r.appm.DispatchTimeout.Inc()
			}
			r.log.Warn("dispatched task timed out",
				zap.String("task", name), zap.Duration("timeout", r.execTimeout))
			return failure("Command execution timeout")
		}
		return failure(fmt.Sprintf("Command execution error: %v", err))
	}
	return Response{IsSuccessful: res.OK, Value: res.Value, ErrorMessage: res.Message}
}
