package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jwopto-code/atten-server/internal/command"
	cfgpkg "github.com/jwopto-code/atten-server/internal/config"
	"github.com/jwopto-code/atten-server/internal/metrics"
)

// ErrPortInUse 监听地址已被其他服务占用
var ErrPortInUse = errors.New("tcp address already in use")

// Server 行分隔 JSON 命令服务
type Server struct {
	cfg     cfgpkg.TCPConfig
	router  *command.Router
	log     *zap.Logger
	appm    *metrics.AppMetrics
	limiter *ConnectionLimiter

	ln       net.Listener
	wg       sync.WaitGroup
	stopC    chan struct{}
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New 创建命令服务
func New(cfg cfgpkg.TCPConfig, router *command.Router, logger *zap.Logger, appm *metrics.AppMetrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		router:  router,
		log:     logger,
		appm:    appm,
		limiter: NewConnectionLimiter(cfg.MaxConnections, cfg.AcquireTimeout),
		stopC:   make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start 监听并接受连接（非阻塞，内部 goroutine）
func (s *Server) Start() error {
	// 预检监听地址：已有服务监听时拨号会成功
	d := net.Dialer{Timeout: 500 * time.Millisecond}
	if probe, err := d.Dial("tcp", s.cfg.Addr); err == nil {
		_ = probe.Close()
		return ErrPortInUse
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	s.log.Info("tcp command server listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				select {
				case <-s.stopC:
					return
				default:
				}
				// 短暂错误等待后重试
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if s.appm != nil {
				s.appm.TCPAccepted.Inc()
			}
			if err := s.limiter.Acquire(s.ctx); err != nil {
				s.log.Warn("connection rejected",
					zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
				_ = conn.Close()
				continue
			}
			s.trackConn(conn)
			s.wg.Add(1)
			go s.handleConn(conn)
		}
	}()
	return nil
}

// Addr 实际监听地址（Start 成功后有效）
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// LimiterStats 连接限制统计信息
func (s *Server) LimiterStats() LimiterStats {
	return s.limiter.Stats()
}

// Shutdown 优雅关闭：停止接受新连接，断开存量连接并等待退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopC)
		s.cancel()
		if s.ln != nil {
			_ = s.ln.Close()
		}
		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
	})

	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}
