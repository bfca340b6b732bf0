package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jwopto-code/atten-server/internal/command"
	cfgpkg "github.com/jwopto-code/atten-server/internal/config"
	"github.com/jwopto-code/atten-server/internal/device"
	"github.com/jwopto-code/atten-server/internal/dispatch"
	"github.com/jwopto-code/atten-server/internal/health"
	"github.com/jwopto-code/atten-server/internal/httpserver"
	"github.com/jwopto-code/atten-server/internal/logging"
	"github.com/jwopto-code/atten-server/internal/metrics"
	"github.com/jwopto-code/atten-server/internal/monitor"
	"github.com/jwopto-code/atten-server/internal/tcpserver"
)

func main() {
	// 1) 加载配置
	cfg, err := cfgpkg.Load("")
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()
	log.Info("starting attenuator server",
		zap.String("env", cfg.App.Env),
		zap.String("version", cfg.App.Version))

	// 3) 指标注册与处理器
	reg := metrics.NewRegistry()
	appm := metrics.NewAppMetrics(reg)
	metricsHandler := metrics.Handler(reg)

	// 4) 设备管理器与命令调度
	var presets []uint16
	if cfg.Device.WavelengthFile != "" {
		presets, err = device.LoadWavelengthPresets(cfg.Device.WavelengthFile)
		if err != nil {
			log.Fatal("load wavelength presets failed",
				zap.String("path", cfg.Device.WavelengthFile), zap.Error(err))
		}
		log.Info("wavelength presets loaded", zap.Uint16s("wavelengths", presets))
	}

	disp := dispatch.New(cfg.Device.QueueSize)
	mgr := device.NewManager(device.Settings{
		Path:        cfg.Serial.Port,
		BaudRate:    cfg.Serial.BaudRate,
		ReadTimeout: cfg.Serial.ReadTimeout,
	}, presets, disp, log, appm)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	mgrDone := make(chan struct{})
	go func() {
		defer close(mgrDone)
		mgr.Run(runCtx)
	}()

	// 5) 命令路由与 TCP 命令服务
	router := command.NewRouter(mgr, disp,
		cfg.Device.ChannelCount, cfg.App.Version, cfg.Device.ExecTimeout, log, appm)
	tcpSrv := tcpserver.New(cfg.TCP, router, log, appm)

	// 6) 实时状态轮询、健康聚合与 HTTP 服务
	poller := monitor.New(mgr, cfg.Device.ChannelCount, cfg.Monitor.Interval, log, appm)

	var staleAfter time.Duration
	if cfg.Monitor.Enable {
		staleAfter = 5 * cfg.Monitor.Interval
	}
	agg := health.NewAggregator(
		health.NewDeviceChecker(mgr, poller, staleAfter),
		health.NewTCPChecker(tcpSrv),
		health.NewDispatchChecker(disp),
	)

	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, httpserver.Deps{
		App:      cfg.App,
		Manager:  mgr,
		Router:   router,
		Poller:   poller,
		TCPStats: tcpSrv.LimiterStats,
		Health:   agg,
		Log:      log,
	})

	pollerDone := make(chan struct{})
	if cfg.Monitor.Enable {
		poller.SetPublish(httpSrv.PublishStatus)
		go func() {
			defer close(pollerDone)
			poller.Run(runCtx)
		}()
	} else {
		close(pollerDone)
	}

	// 并行启动
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
		}
	}()
	if err := tcpSrv.Start(); err != nil {
		log.Fatal("tcp server start error", zap.Error(err))
	}
	log.Info("tcp command server started", zap.String("addr", cfg.TCP.Addr))

	// 7) 按需自动连接设备
	if cfg.Device.AutoConnect {
		if err := disp.Submit(mgr.ConnectDevice); err != nil {
			log.Warn("queue auto connect failed", zap.Error(err))
		}
	}

	// 8) 信号处理，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("received shutdown signal, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Info("http server stopped")
	_ = tcpSrv.Shutdown(ctx)
	log.Info("tcp server stopped")

	// 停止轮询与管理循环，管理循环退出前会断开设备
	runCancel()
	for _, done := range []<-chan struct{}{pollerDone, mgrDone} {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	log.Info("shutdown complete")
}
