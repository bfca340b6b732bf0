package httpserver

import (
	"context"
	"net/http"
	netpprof "net/http/pprof"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jwopto-code/atten-server/internal/command"
	cfgpkg "github.com/jwopto-code/atten-server/internal/config"
	"github.com/jwopto-code/atten-server/internal/device"
	"github.com/jwopto-code/atten-server/internal/health"
	"github.com/jwopto-code/atten-server/internal/monitor"
	"github.com/jwopto-code/atten-server/internal/tcpserver"
)

// Deps 控制 API 的运行时依赖
type Deps struct {
	App      cfgpkg.AppConfig
	Manager  *device.Manager
	Router   *command.Router
	Poller   *monitor.Poller
	TCPStats func() tcpserver.LimiterStats
	Health   *health.Aggregator
	Log      *zap.Logger
}

// Server HTTP 服务封装
type Server struct {
	srv  *http.Server
	hub  *Hub
	deps Deps
}

// New 创建并配置 Gin + HTTP Server，注册健康检查、指标与控制 API 路由
func New(cfg cfgpkg.HTTPConfig, metricsPath string, metricsHandler http.Handler, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if deps.Health == nil || deps.Health.Ready(c.Request.Context()) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "ready": true})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "ready": false})
	})
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if metricsHandler != nil {
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}

	srv := &Server{deps: deps}
	srv.hub = NewHub(deps.Log)
	srv.hub.SetOnConnect(srv.statusFrame)

	api := r.Group("/api")
	{
		api.GET("/status", srv.getStatus)
		api.GET("/health", srv.getHealth)
		api.GET("/device", srv.getDevice)
		api.GET("/wavelengths", srv.getWavelengths)
		api.POST("/connect", srv.postConnect)
		api.POST("/disconnect", srv.postDisconnect)
		api.POST("/channels/:ch/wavelength", srv.postWavelength)
		api.POST("/channels/:ch/attenuation", srv.postAttenuation)
		api.POST("/channels/:ch/closereset", srv.postCloseReset)
	}
	r.GET("/ws", srv.hub.handle)

	if cfg.Pprof.Enable {
		prefix := cfg.Pprof.Prefix
		if prefix == "" {
			prefix = "/debug/pprof"
		}
		mux := http.NewServeMux()
		mux.HandleFunc(prefix+"/", netpprof.Index)
		mux.HandleFunc(prefix+"/cmdline", netpprof.Cmdline)
		mux.HandleFunc(prefix+"/profile", netpprof.Profile)
		mux.HandleFunc(prefix+"/symbol", netpprof.Symbol)
		mux.HandleFunc(prefix+"/trace", netpprof.Trace)
		r.Any(prefix+"/*any", gin.WrapH(mux))
	}

	srv.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv
}

// Start 启动 HTTP 服务（阻塞）
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// PublishStatus 向 WebSocket 客户端推送一轮通道状态
func (s *Server) PublishStatus(snaps []monitor.Snapshot) {
	s.hub.Broadcast(StatusFrame{
		Connected: s.deps.Manager != nil && s.deps.Manager.Connected(),
		Channels:  snaps,
		Stamp:     time.Now().UnixMilli(),
	})
}

func (s *Server) statusFrame() interface{} {
	var snaps []monitor.Snapshot
	if s.deps.Poller != nil {
		snaps = s.deps.Poller.Snapshots()
	}
	return StatusFrame{
		Connected: s.deps.Manager != nil && s.deps.Manager.Connected(),
		Channels:  snaps,
		Stamp:     time.Now().UnixMilli(),
	}
}

func (s *Server) deviceInfo() gin.H {
	version, connected := s.deps.Manager.Version()
	settings := s.deps.Manager.Settings()
	info := gin.H{
		"connected": connected,
		"port":      settings.Path,
		"baud":      settings.BaudRate,
	}
	if connected {
		info["version"] = gin.H{
			"module":   version.Module,
			"hardware": version.Hardware,
			"software": version.Software,
		}
	}
	return info
}

func (s *Server) getStatus(c *gin.Context) {
	status := gin.H{
		"app": gin.H{
			"name":    s.deps.App.Name,
			"env":     s.deps.App.Env,
			"version": s.deps.App.Version,
		},
		"device": s.deviceInfo(),
	}
	if s.deps.TCPStats != nil {
		status["tcp"] = s.deps.TCPStats()
	}
	if s.deps.Poller != nil {
		status["channels"] = s.deps.Poller.Snapshots()
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) getHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy})
		return
	}

	report := s.deps.Health.Report(c.Request.Context())

	// Degraded仍返回200，表示可以服务
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (s *Server) getDevice(c *gin.Context) {
	c.JSON(http.StatusOK, s.deviceInfo())
}

func (s *Server) getWavelengths(c *gin.Context) {
	sess := s.deps.Manager.Session()
	if sess == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Device not connected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wavelengths": sess.Wavelengths()})
}

func (s *Server) postConnect(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Router.ConnectDevice())
}

func (s *Server) postDisconnect(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Router.DisconnectDevice())
}

func (s *Server) channelParam(c *gin.Context) (int, bool) {
	ch, err := strconv.Atoi(c.Param("ch"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel"})
		return 0, false
	}
	return ch, true
}

func (s *Server) postWavelength(c *gin.Context) {
	ch, ok := s.channelParam(c)
	if !ok {
		return
	}
	var body struct {
		Wavelength int `json:"wavelength"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Router.SetWavelength(ch, body.Wavelength))
}

func (s *Server) postAttenuation(c *gin.Context) {
	ch, ok := s.channelParam(c)
	if !ok {
		return
	}
	var body struct {
		Attenuation float64 `json:"attenuation"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Router.SetAttenuation(ch, body.Attenuation))
}

func (s *Server) postCloseReset(c *gin.Context) {
	ch, ok := s.channelParam(c)
	if !ok {
		return
	}
	var body struct {
		Set string `json:"set"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Router.SetCloseReset(ch, body.Set))
}
