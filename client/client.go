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

package client

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tokud/tokud/backoff"
	"github.com/tokud/tokud/internal/rescue"
	"github.com/tokud/tokud/logger"
	"github.com/tokud/tokud/session"
)

func newError(format string, args ...any) error {
	format = "toku/client: " + format
	return errors.Errorf(format, args...)
}

// ErrClosed 客户端已被关闭
var ErrClosed = newError("client closed")

// Config Client 配置
type Config struct {
	Address     string         `config:"address"`
	DialTimeout time.Duration  `config:"dialTimeout"`
	Session     session.Config `config:"session"`
}

// Client 带自动重连的 Toku 客户端
//
// 链接断开后由重连循环以指数退避重建会话
// 重建期间的请求以 ErrTerminated 失败 旧会话由本端 Close 关闭时
// 则以 ErrShuttingDown 失败 由调用方自行重试
type Client struct {
	cfg    Config
	onPush func(v any)
	bo     *backoff.Backoff

	mut  sync.Mutex
	sess *session.Session

	closeOnce sync.Once
	closeCh   chan struct{}
}

// pushHandler 客户端侧的 session.Handler 只关心 Push
type pushHandler struct {
	onPush func(v any)
}

func (h *pushHandler) OnRequest(_ *session.Session, _ any) (any, error) {
	return nil, newError("client does not serve requests")
}

func (h *pushHandler) OnPush(_ *session.Session, v any) {
	if h.onPush != nil {
		h.onPush(v)
	}
}

// Dial 建立首个会话并启动重连循环
//
// onPush 为服务端推送回调 可为 nil
// 首次建链失败直接返回错误 不进入重连
func Dial(cfg Config, onPush func(v any)) (*Client, error) {
	if cfg.Address == "" {
		return nil, newError("empty address")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	c := &Client{
		cfg:     cfg,
		onPush:  onPush,
		bo:      backoff.New(backoff.DefaultMinDelay),
		closeCh: make(chan struct{}),
	}

	sess, err := c.connect()
	if err != nil {
		return nil, err
	}
	c.sess = sess

	go c.reconnectLoop()
	return c, nil
}

func (c *Client) connect() (*session.Session, error) {
	conn, err := net.DialTimeout("tcp", c.cfg.Address, c.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	sess, err := session.New(conn, c.cfg.Session, &pushHandler{onPush: c.onPush}, true)
	if err != nil {
		conn.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()
	if err := sess.AwaitReady(ctx); err != nil {
		sess.Close(session.CloseNormal, nil)
		return nil, err
	}
	return sess, nil
}

// reconnectLoop 监听会话终止 以退避节奏重建
func (c *Client) reconnectLoop() {
	defer rescue.HandleCrash()

	for {
		c.mut.Lock()
		sess := c.sess
		c.mut.Unlock()

		select {
		case <-c.closeCh:
			return
		case <-sess.Done():
		}

		for {
			select {
			case <-c.closeCh:
				return
			default:
			}

			next, err := c.connect()
			if err == nil {
				c.bo.Succeed()
				c.mut.Lock()
				c.sess = next
				c.mut.Unlock()
				logger.Infof("client reconnected to %s (session=%s)", c.cfg.Address, next.ID())
				break
			}

			delay := c.bo.Fail()
			logger.Warnf("client reconnect to %s failed (fails=%d): %v, retry in %s",
				c.cfg.Address, c.bo.Fails(), err, delay)

			select {
			case <-c.closeCh:
				return
			case <-time.After(delay):
			}
		}
	}
}

func (c *Client) current() (*session.Session, error) {
	select {
	case <-c.closeCh:
		return nil, ErrClosed
	default:
	}

	c.mut.Lock()
	defer c.mut.Unlock()
	return c.sess, nil
}

// Request 通过当前会话发送请求
func (c *Client) Request(ctx context.Context, v any) (any, error) {
	sess, err := c.current()
	if err != nil {
		return nil, err
	}
	return sess.Request(ctx, v)
}

// Push 通过当前会话发送推送
func (c *Client) Push(ctx context.Context, v any) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	return sess.Push(ctx, v)
}

// Ping 通过当前会话探测对端 返回往返耗时
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	sess, err := c.current()
	if err != nil {
		return 0, err
	}
	return sess.PingWait(ctx)
}

// Close 关闭客户端与当前会话
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)

		c.mut.Lock()
		sess := c.sess
		c.mut.Unlock()
		if sess != nil {
			sess.Close(session.CloseNormal, nil)
		}
	})
}
