// Copyright 2025 The tokud Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tokud/tokud/confengine"
	"github.com/tokud/tokud/internal/rescue"
	"github.com/tokud/tokud/logger"
	"github.com/tokud/tokud/session"
)

func newError(format string, args ...any) error {
	format = "toku/server: " + format
	return errors.Errorf(format, args...)
}

// ErrServerClosed ListenAndServe 在 Stop 之后返回
var ErrServerClosed = newError("server closed")

// Config Server 配置
type Config struct {
	Address           string        `config:"address"`
	PingInterval      time.Duration `config:"pingInterval"`
	Codecs            []string      `config:"codecs"`
	Compressors       []string      `config:"compressors"`
	CompressThreshold int           `config:"compressThreshold"`
	OutbufSoftMax     int           `config:"outbufSoftMax"`
	MaxPayloadSize    int           `config:"maxPayloadSize"`
}

func (c *Config) sessionConfig() session.Config {
	return session.Config{
		PingInterval:      c.PingInterval,
		Codecs:            c.Codecs,
		Compressors:       c.Compressors,
		CompressThreshold: c.CompressThreshold,
		OutbufSoftMax:     c.OutbufSoftMax,
		MaxPayloadSize:    c.MaxPayloadSize,
	}
}

// Server Toku TCP 服务端
//
// 每条入站链接对应一个 session.Session 业务逻辑经 Handler 回调
type Server struct {
	config  Config
	handler Handler

	mut      sync.Mutex
	listener net.Listener
	sessions map[string]*session.Session
	closed   bool
}

// New 创建并返回 Server 实例
func New(conf *confengine.Config, h Handler) (*Server, error) {
	var config Config
	if err := conf.UnpackChild("server", &config); err != nil {
		return nil, err
	}
	if config.Address == "" {
		return nil, newError("empty listen address")
	}

	return &Server{
		config:   config,
		handler:  h,
		sessions: make(map[string]*session.Session),
	}, nil
}

// Handler Server 的业务回调
//
// 与 session.Handler 的区别在于生命周期钩子 Server 会在
// 会话建立与销毁时额外通知
type Handler interface {
	session.Handler

	// OnSessionStart 新会话完成接入时回调
	OnSessionStart(s *session.Session)

	// OnSessionGone 会话终止时回调
	OnSessionGone(s *session.Session)
}

// ListenAndServe 监听并处理入站链接 阻塞直到 Stop
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}

	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mut.Unlock()

	logger.Infof("toku server listening on %s", s.config.Address)
	for {
		conn, err := l.Accept()
		if err != nil {
			s.mut.Lock()
			closed := s.closed
			s.mut.Unlock()
			if closed {
				return ErrServerClosed
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer rescue.HandleCrash()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	sess, err := session.New(conn, s.config.sessionConfig(), s.handler, false)
	if err != nil {
		logger.Errorf("failed to create session from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	logger.Infof("session %s accepted from %s", sess.ID(), conn.RemoteAddr())

	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		sess.Close(session.CloseNormal, nil)
		return
	}
	s.sessions[sess.ID()] = sess
	s.mut.Unlock()

	s.handler.OnSessionStart(sess)

	go func() {
		defer rescue.HandleCrash()
		<-sess.Done()

		s.mut.Lock()
		delete(s.sessions, sess.ID())
		s.mut.Unlock()
		s.handler.OnSessionGone(sess)
	}()
}

// Addr 返回实际监听地址 未开始监听时返回 nil
func (s *Server) Addr() net.Addr {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Sessions 返回当前活跃会话数
func (s *Server) Sessions() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return len(s.sessions)
}

// Stop 停止监听并优雅关闭所有会话
func (s *Server) Stop() {
	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		return
	}
	s.closed = true
	l := s.listener
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mut.Unlock()

	if l != nil {
		l.Close()
	}
	for _, sess := range sessions {
		sess.Close(session.CloseNormal, nil)
	}
	for _, sess := range sessions {
		_ = sess.Join()
	}
	logger.Infof("toku server stopped")
}
