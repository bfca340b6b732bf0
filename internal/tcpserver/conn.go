package tcpserver

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jwopto-code/atten-server/internal/command"
)

// handleConn 逐行读取 JSON 命令并逐行回写应答，阻塞直至连接结束
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.limiter.Release()
	defer s.untrackConn(conn)
	defer conn.Close()

	log := s.log.With(
		zap.String("conn_id", uuid.NewString()),
		zap.String("remote", conn.RemoteAddr().String()),
	)
	log.Info("client connected")
	defer log.Info("client disconnected")

	if s.appm != nil {
		s.appm.TCPConnCurrent.Inc()
		defer s.appm.TCPConnCurrent.Dec()
	}

	// 每连接独立的命令速率限制
	var cmdLimiter *RateLimiter
	if s.cfg.CmdRatePerSec > 0 {
		cmdLimiter = NewRateLimiter(s.cfg.CmdRatePerSec, s.cfg.CmdBurst)
	}

	reader := bufio.NewReader(conn)
	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		line, err := reader.ReadBytes('\n')
		// 对端在行中途断开时，残余字节仍按一条完整命令处理
		if err == nil || err == io.EOF {
			if msg := bytes.TrimRight(line, "\r\n"); len(msg) > 0 {
				if s.appm != nil {
					s.appm.TCPBytesReceived.Add(float64(len(line)))
				}
				if cmdLimiter != nil {
					if werr := cmdLimiter.Wait(s.ctx); werr != nil {
						log.Warn("rate limiter wait aborted", zap.Error(werr))
						return
					}
				}
				resp, panicked := s.handleLine(msg, log)
				if werr := s.writeResponse(conn, resp.Encode()); werr != nil {
					log.Warn("write response failed", zap.Error(werr))
					return
				}
				if panicked {
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					log.Info("client idle timeout")
				} else {
					log.Warn("read failed", zap.Error(err))
				}
			}
			return
		}
	}
}

// handleLine 路由一条命令行；处理过程中的panic折叠为一条失败应答，连接随后关闭
func (s *Server) handleLine(msg []byte, log *zap.Logger) (resp command.Response, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("command handler panic", zap.Any("panic", r))
			resp = command.Response{ErrorMessage: fmt.Sprintf("%v", r)}
			panicked = true
		}
	}()
	return s.router.Handle(msg), false
}

func (s *Server) writeResponse(conn net.Conn, payload []byte) error {
	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	_, err := conn.Write(append(payload, '\n'))
	return err
}
