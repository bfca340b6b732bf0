package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jwopto-code/atten-server/internal/device"
	"github.com/jwopto-code/atten-server/internal/metrics"
)

// Snapshot 单通道实时状态快照
type Snapshot struct {
	Channel     int       `json:"channel"`
	WorkMode    byte      `json:"work_mode"`
	AttenMode   byte      `json:"atten_mode"`
	Wavelength  uint16    `json:"wavelength"`
	Attenuation float64   `json:"attenuation"`
	OutputPower float64   `json:"output_power"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// 连续整轮失败达到 failStreakLimit 后进入退避，跳过 failBackoffTicks 个周期再试
const (
	failStreakLimit  = 3
	failBackoffTicks = 10
)

// Poller 周期轮询各通道实时状态
// 设备未连接时空转，连接后逐通道读取并缓存最近一轮快照，持续失败时退避
type Poller struct {
	mgr      *device.Manager
	channels int
	interval time.Duration
	log      *zap.Logger
	appm     *metrics.AppMetrics

	// 快照推送回调，由外部安装（如 WebSocket 广播）
	publish func([]Snapshot)

	// 退避状态，仅由轮询goroutine访问
	failStreak int
	skip       int

	mu    sync.RWMutex
	snaps []Snapshot
}

// New 创建轮询器
func New(mgr *device.Manager, channels int, interval time.Duration, logger *zap.Logger, appm *metrics.AppMetrics) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channels <= 0 {
		channels = 1
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Poller{
		mgr:      mgr,
		channels: channels,
		interval: interval,
		log:      logger,
		appm:     appm,
	}
}

// SetPublish 安装快照推送回调
func (p *Poller) SetPublish(fn func([]Snapshot)) { p.publish = fn }

// Run 轮询循环，上下文取消时退出
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Poller) tick() {
	sess := p.mgr.Session()
	if sess == nil {
		p.failStreak, p.skip = 0, 0
		return
	}
	if p.skip > 0 {
		p.skip--
		return
	}

	now := time.Now()
	snaps := make([]Snapshot, 0, p.channels)
	ok := true
	for ch := 1; ch <= p.channels; ch++ {
		st, err := sess.ReadRealTimeInfo(byte(ch))
		if err != nil {
			ok = false
			p.log.Debug("realtime poll failed", zap.Int("channel", ch), zap.Error(err))
			continue
		}
		snaps = append(snaps, Snapshot{
			Channel:     ch,
			WorkMode:    st.WorkMode,
			AttenMode:   st.AttenMode,
			Wavelength:  st.Wavelength,
			Attenuation: st.Attenuation,
			OutputPower: st.OutputPower,
			UpdatedAt:   now,
		})
	}
	p.countPoll(ok)
	if len(snaps) == 0 {
		p.failStreak++
		if p.failStreak >= failStreakLimit {
			p.skip = failBackoffTicks
			p.log.Warn("realtime polling backing off", zap.Int("failed_rounds", p.failStreak))
		}
		return
	}
	p.failStreak = 0

	p.mu.Lock()
	p.snaps = snaps
	p.mu.Unlock()

	if p.publish != nil {
		p.publish(snaps)
	}
}

func (p *Poller) countPoll(ok bool) {
	if p.appm == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	p.appm.MonitorPollTotal.WithLabelValues(result).Inc()
}

// Snapshots 返回最近一轮成功轮询的通道状态副本
func (p *Poller) Snapshots() []Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Snapshot, len(p.snaps))
	copy(out, p.snaps)
	return out
}
