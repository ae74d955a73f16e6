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

package session

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"

	"github.com/tokud/tokud/codec"
	"github.com/tokud/tokud/common"
	"github.com/tokud/tokud/compress"
	"github.com/tokud/tokud/internal/rescue"
	"github.com/tokud/tokud/logger"
	"github.com/tokud/tokud/stream"
	"github.com/tokud/tokud/transport"
	"github.com/tokud/tokud/wire"
)

func newError(format string, args ...any) error {
	format = "toku/session: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrTerminated 链接已被终止 所有 in-flight 请求以此错误失败
	ErrTerminated = newError("connection terminated")

	// ErrNotReady 握手尚未完成
	ErrNotReady = newError("session not ready")

	// ErrShuttingDown 会话正在关闭 不再接受新请求
	ErrShuttingDown = newError("session shutting down")
)

// CloseReason GoAway 帧中携带的关闭原因码
const (
	CloseNormal          uint16 = 0
	ClosePingTimeout     uint16 = 1
	CloseUnknownEncoder  uint16 = 2
	CloseNoMutualEncoder uint16 = 3
	CloseDidntStop       uint16 = 4
	CloseDecoderError    uint16 = 5
)

// ErrCodeInternal 服务端处理请求失败时 Error 帧携带的错误码
const ErrCodeInternal uint16 = 1

// RemoteError 对端以 Error 帧应答时向调用方浮出的错误
type RemoteError struct {
	Code uint16
	Data []byte
}

func (e *RemoteError) Error() string {
	return newError("remote error (code=%d): %s", e.Code, e.Data).Error()
}

// Handler 服务端会话的业务回调
//
// 回调收到的是经 Codec 解码后的值 返回值会被编码为 Response
type Handler interface {
	// OnRequest 处理一个请求 返回的 err 会以 Error 帧回给对端
	OnRequest(s *Session, v any) (any, error)

	// OnPush 处理一个推送 无需应答
	OnPush(s *Session, v any)
}

// Config Session 行为参数
type Config struct {
	PingInterval      time.Duration `config:"pingInterval"`
	Codecs            []string      `config:"codecs"`
	Compressors       []string      `config:"compressors"`
	CompressThreshold int           `config:"compressThreshold"`
	OutbufSoftMax     int           `config:"outbufSoftMax"`
	MaxPayloadSize    int           `config:"maxPayloadSize"`
}

// Validate 补全缺省参数
func (c *Config) Validate() {
	if c.PingInterval <= 0 {
		c.PingInterval = 5 * time.Second
	}
	if len(c.Codecs) == 0 {
		c.Codecs = codec.Names()
	}
	if c.Compressors == nil {
		c.Compressors = compress.Names()
	}
	if c.CompressThreshold <= 0 {
		c.CompressThreshold = 4096
	}
	if c.OutbufSoftMax <= 0 {
		c.OutbufSoftMax = common.OutbufSoftMax
	}
}

type result struct {
	flags uint8
	data  []byte
	err   error
}

// Session 拥有一条 transport.Conn 与一个 StreamHandler 的协议会话
//
// StreamHandler 本身是单任务模型 Session 将其包在互斥锁之后
// 读写 ping 三个循环以及调用方的发送共享同一把锁
//
// 客户端会话建立后立即发送 Hello 服务端收到 Hello 后协商
// Codec/Compressor 并应答 HelloAck 握手完成前的业务调用会阻塞
type Session struct {
	id       string
	conn     transport.Conn
	isClient bool
	cfg      Config
	handler  Handler

	mut     sync.Mutex
	sh      *stream.Handler
	drained *sync.Cond

	cdc codec.Codec
	cmp compress.Compressor

	pingInterval atomic.Int64
	lastRecvAt   atomic.Int64

	inflightMut sync.Mutex
	inflight    map[uint32]chan result

	readyOnce sync.Once
	readyCh   chan struct{}
	closeOnce sync.Once
	closeCh   chan struct{}
	wakeCh    chan struct{}

	shuttingDown atomic.Bool
	closeErr     error
}

// New 创建会话并启动读写与保活循环
//
// conn 满足 transport.Conn 即可 并不要求是真实的 socket
// isClient 为 true 时立即发送 Hello 服务端的 handler 不允许为 nil
func New(conn transport.Conn, conf Config, h Handler, isClient bool) (*Session, error) {
	conf.Validate()

	opts := common.NewOptions()
	opts.Merge("maxPayloadSize", conf.MaxPayloadSize)

	s := &Session{
		id:       uuid.New().String(),
		conn:     conn,
		isClient: isClient,
		cfg:      conf,
		handler:  h,
		sh:       stream.NewHandlerWithOptions(opts),
		inflight: make(map[uint32]chan result),
		readyCh:  make(chan struct{}),
		closeCh:  make(chan struct{}),
		wakeCh:   make(chan struct{}, 1),
	}
	s.drained = sync.NewCond(&s.mut)
	s.pingInterval.Store(int64(conf.PingInterval))
	s.lastRecvAt.Store(time.Now().UnixNano())

	if isClient {
		s.mut.Lock()
		err := s.sh.SendHello(0, conf.Codecs, conf.Compressors)
		s.mut.Unlock()
		if err != nil {
			return nil, err
		}
		s.wake()
	}

	sessionsActive.Inc()
	go s.readLoop()
	go s.writeLoop()
	go s.pingLoop()
	return s, nil
}

// ID 返回会话唯一标识
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr 返回对端地址
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Done 会话结束时关闭
func (s *Session) Done() <-chan struct{} {
	return s.closeCh
}

// IsReady 返回握手是否已完成
func (s *Session) IsReady() bool {
	select {
	case <-s.readyCh:
		return true
	default:
		return false
	}
}

// AwaitReady 阻塞等待握手完成
func (s *Session) AwaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-s.closeCh:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wake 唤醒 writeLoop 非阻塞
func (s *Session) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// encodePayload 编码并按阈值压缩 payload 返回字节与 flags
func (s *Session) encodePayload(v any) ([]byte, uint8, error) {
	b, err := s.cdc.Marshal(v)
	if err != nil {
		return nil, 0, err
	}
	if s.cmp == nil || len(b) < s.cfg.CompressThreshold {
		return b, 0, nil
	}
	return s.cmp.Encode(nil, b), wire.FlagCompressed, nil
}

// decodePayload 按 flags 解压并解码 payload
func (s *Session) decodePayload(flags uint8, b []byte) (any, error) {
	if flags&wire.FlagCompressed != 0 {
		if s.cmp == nil {
			return nil, newError("compressed payload without negotiated compressor")
		}
		raw, err := s.cmp.Decode(nil, b)
		if err != nil {
			return nil, err
		}
		b = raw
	}

	var v any
	if err := s.cdc.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// waitWritable 输出缓冲背压 超过软上限时挂起生产方
func (s *Session) waitWritable() error {
	s.mut.Lock()
	defer s.mut.Unlock()

	for s.sh.WriteBufferLen() >= s.cfg.OutbufSoftMax {
		if s.isClosed() {
			return ErrTerminated
		}
		s.drained.Wait()
	}
	return nil
}

// Request 发送请求并等待对端 Response
//
// v 经协商的 Codec 编码 响应被解码为 any 返回
func (s *Session) Request(ctx context.Context, v any) (any, error) {
	if s.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}
	if err := s.AwaitReady(ctx); err != nil {
		return nil, err
	}

	payload, flags, err := s.encodePayload(v)
	if err != nil {
		return nil, err
	}
	if err := s.waitWritable(); err != nil {
		return nil, err
	}

	ch := make(chan result, 1)

	s.mut.Lock()
	seq, err := s.sh.SendRequest(flags, payload)
	if err != nil {
		s.mut.Unlock()
		return nil, err
	}
	s.inflightMut.Lock()
	s.inflight[seq] = ch
	s.inflightMut.Unlock()
	s.mut.Unlock()
	s.wake()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return s.decodePayload(r.flags, r.data)

	case <-ctx.Done():
		s.inflightMut.Lock()
		delete(s.inflight, seq)
		s.inflightMut.Unlock()
		return nil, ctx.Err()

	case <-s.closeCh:
		return nil, ErrTerminated
	}
}

// Push 发送推送 不等待应答
func (s *Session) Push(ctx context.Context, v any) error {
	if s.shuttingDown.Load() {
		return ErrShuttingDown
	}
	if err := s.AwaitReady(ctx); err != nil {
		return err
	}

	payload, flags, err := s.encodePayload(v)
	if err != nil {
		return err
	}
	if err := s.waitWritable(); err != nil {
		return err
	}

	s.mut.Lock()
	err = s.sh.SendPush(flags, payload)
	s.mut.Unlock()
	if err != nil {
		return err
	}
	s.wake()
	return nil
}

// Ping 发送一次保活探测 返回分配的 seq 不等待 Pong
func (s *Session) Ping() uint32 {
	s.mut.Lock()
	seq := s.sh.SendPing(0)
	s.mut.Unlock()
	s.wake()
	return seq
}

// PingWait 发送保活探测并等待对端 Pong 返回往返耗时
func (s *Session) PingWait(ctx context.Context) (time.Duration, error) {
	if err := s.AwaitReady(ctx); err != nil {
		return 0, err
	}

	ch := make(chan result, 1)

	s.mut.Lock()
	seq := s.sh.SendPing(0)
	s.inflightMut.Lock()
	s.inflight[seq] = ch
	s.inflightMut.Unlock()
	s.mut.Unlock()
	s.wake()

	t0 := time.Now()
	select {
	case r := <-ch:
		if r.err != nil {
			return 0, r.err
		}
		return time.Since(t0), nil

	case <-ctx.Done():
		s.inflightMut.Lock()
		delete(s.inflight, seq)
		s.inflightMut.Unlock()
		return 0, ctx.Err()

	case <-s.closeCh:
		return 0, ErrTerminated
	}
}

// readLoop 读取 socket 并将字节喂给 StreamHandler
func (s *Session) readLoop() {
	defer rescue.HandleCrash()

	buf := make([]byte, common.ReadBlockSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			bytesReceived.Add(float64(n))
			s.lastRecvAt.Store(time.Now().UnixNano())

			s.mut.Lock()
			frames, derr := s.sh.OnBytesReceived(buf[:n])
			s.mut.Unlock()

			for _, frame := range frames {
				framesReceived.WithLabelValues(frame.Opcode().String()).Inc()
				s.dispatch(frame)
			}

			// 解码错误是终止态 通知对端后关闭链接
			if derr != nil {
				decodeErrors.Inc()
				logger.Errorf("session %s decode failed: %v", s.id, derr)
				s.Close(CloseDecoderError, []byte(derr.Error()))
				return
			}
		}
		if err != nil {
			s.terminate(nil)
			return
		}
	}
}

// writeLoop 消费输出缓冲并写入 socket
//
// StreamHandler 的 drain 在锁内完成拷贝 socket 写在锁外进行
// 避免慢速对端阻塞其他发送方
func (s *Session) writeLoop() {
	defer rescue.HandleCrash()

	for {
		select {
		case <-s.closeCh:
			return
		case <-s.wakeCh:
		}

		for {
			bb := bytebufferpool.Get()

			s.mut.Lock()
			pending := s.sh.WriteBufferLen()
			if pending == 0 {
				s.mut.Unlock()
				bytebufferpool.Put(bb)
				break
			}
			if pending > common.OutbufSoftMax {
				pending = common.OutbufSoftMax
			}
			bb.Write(s.sh.GetBytes(pending, false))
			s.mut.Unlock()

			n, err := s.conn.Write(bb.B)
			if n > 0 {
				bytesSent.Add(float64(n))
				s.mut.Lock()
				s.sh.ConsumeBytes(n)
				s.drained.Broadcast()
				s.mut.Unlock()
			}
			bytebufferpool.Put(bb)

			if err != nil {
				s.terminate(err)
				return
			}
		}
	}
}

// pingLoop 按协商的间隔发送 Ping 并检测对端失联
func (s *Session) pingLoop() {
	defer rescue.HandleCrash()

	for {
		interval := time.Duration(s.pingInterval.Load())
		select {
		case <-s.closeCh:
			return
		case <-time.After(interval):
		}

		if !s.IsReady() {
			continue
		}

		// 超过两个周期没有任何入站数据 视为对端失联
		idle := time.Since(time.Unix(0, s.lastRecvAt.Load()))
		if idle > interval*2 {
			pingTimeouts.Inc()
			logger.Warnf("session %s ping timeout (idle=%s)", s.id, idle)
			s.Close(ClosePingTimeout, nil)
			return
		}
		s.Ping()
	}
}

// dispatch 处理一个完整的入站帧
func (s *Session) dispatch(frame wire.Frame) {
	switch f := frame.(type) {
	case *wire.Hello:
		s.onHello(f)

	case *wire.HelloAck:
		s.onHelloAck(f)

	case *wire.Ping:
		s.mut.Lock()
		s.sh.SendPong(0, f.Seq)
		s.mut.Unlock()
		s.wake()

	case *wire.Pong:
		// 保活循环的 Ping 不注册 in-flight 此处 resolve 只服务 PingWait
		s.resolve(f.Seq, result{})

	case *wire.Request:
		go s.onRequest(f)

	case *wire.Response:
		s.resolve(f.Seq, result{flags: f.Flags, data: f.Data})

	case *wire.Push:
		if s.handler != nil {
			go func() {
				defer rescue.HandleCrash()
				v, err := s.decodePayload(f.Flags, f.Data)
				if err != nil {
					logger.Warnf("session %s drop malformed push: %v", s.id, err)
					return
				}
				s.handler.OnPush(s, v)
			}()
		}

	case *wire.GoAway:
		logger.Infof("session %s received goaway (code=%d reason=%s)", s.id, f.Code, f.Reason)
		s.terminate(nil)

	case *wire.Error:
		s.resolve(f.Seq, result{err: &RemoteError{Code: f.Code, Data: f.Data}})
	}
}

// onHello 服务端握手 协商编码与压缩器
func (s *Session) onHello(f *wire.Hello) {
	if s.isClient {
		return
	}

	cdc, err := codec.Select(f.SupportedEncodings, s.cfg.Codecs)
	if err != nil {
		logger.Warnf("session %s no mutual codec in %v", s.id, f.SupportedEncodings)
		s.Close(CloseNoMutualEncoder, nil)
		return
	}
	cmp := compress.Select(f.SupportedCompressors, s.cfg.Compressors)

	s.cdc = cdc
	s.cmp = cmp

	var cmpName string
	if cmp != nil {
		cmpName = cmp.Name()
	}
	interval := uint32(time.Duration(s.pingInterval.Load()) / time.Second)

	s.mut.Lock()
	err = s.sh.SendHelloAck(0, interval, cdc.Name(), cmpName)
	s.mut.Unlock()
	if err != nil {
		s.terminate(err)
		return
	}
	s.wake()
	s.ready()
}

// onHelloAck 客户端握手 采纳服务端的选择
func (s *Session) onHelloAck(f *wire.HelloAck) {
	if !s.isClient {
		return
	}

	cdc, err := codec.Get(f.SelectedEncoding)
	if err != nil {
		logger.Warnf("session %s unknown encoder %q", s.id, f.SelectedEncoding)
		s.Close(CloseUnknownEncoder, nil)
		return
	}
	s.cdc = cdc

	if f.SelectedCompressor != "" {
		cmp, err := compress.Get(f.SelectedCompressor)
		if err != nil {
			logger.Warnf("session %s unknown compressor %q", s.id, f.SelectedCompressor)
			s.Close(CloseUnknownEncoder, nil)
			return
		}
		s.cmp = cmp
	}

	if f.PingInterval > 0 {
		s.pingInterval.Store(int64(time.Duration(f.PingInterval) * time.Second))
	}
	s.ready()
}

func (s *Session) ready() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// onRequest 服务端处理请求 应答 Response 或 Error
func (s *Session) onRequest(f *wire.Request) {
	defer rescue.HandleCrash()

	if s.handler == nil {
		return
	}

	v, err := s.decodePayload(f.Flags, f.Data)
	if err != nil {
		s.replyError(f.Seq, err)
		return
	}

	rv, err := s.handler.OnRequest(s, v)
	if err != nil {
		s.replyError(f.Seq, err)
		return
	}

	payload, flags, err := s.encodePayload(rv)
	if err != nil {
		s.replyError(f.Seq, err)
		return
	}

	s.mut.Lock()
	err = s.sh.SendResponse(flags, f.Seq, payload)
	s.mut.Unlock()
	if err != nil {
		s.terminate(err)
		return
	}
	s.wake()
}

func (s *Session) replyError(seq uint32, cause error) {
	s.mut.Lock()
	err := s.sh.SendError(0, ErrCodeInternal, seq, []byte(cause.Error()))
	s.mut.Unlock()
	if err != nil {
		s.terminate(err)
		return
	}
	s.wake()
}

// resolve 结对 in-flight 请求
func (s *Session) resolve(seq uint32, r result) {
	s.inflightMut.Lock()
	ch, ok := s.inflight[seq]
	if ok {
		delete(s.inflight, seq)
	}
	s.inflightMut.Unlock()

	if ok {
		ch <- r
	}
}

// cleanupInflight 以给定错误终结所有 in-flight 请求
func (s *Session) cleanupInflight(err error) {
	s.inflightMut.Lock()
	chans := make([]chan result, 0, len(s.inflight))
	for _, ch := range s.inflight {
		chans = append(chans, ch)
	}
	s.inflight = make(map[uint32]chan result)
	s.inflightMut.Unlock()

	for _, ch := range chans {
		ch <- result{err: err}
	}
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

// Close 优雅关闭 发送 GoAway 并给对端一个排水周期
func (s *Session) Close(code uint16, reason []byte) {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return
	}

	s.mut.Lock()
	if err := s.sh.SendGoAway(0, code, reason); err != nil {
		logger.Warnf("session %s append goaway failed: %v", s.id, err)
	}
	s.mut.Unlock()
	s.wake()

	go func() {
		defer rescue.HandleCrash()
		select {
		case <-s.closeCh:
		case <-time.After(time.Duration(s.pingInterval.Load())):
			s.terminate(nil)
		}
	}()
}

// Join 阻塞至会话结束 返回终止错误
func (s *Session) Join() error {
	<-s.closeCh
	return s.closeErr
}

// terminate 立即终止会话 幂等
func (s *Session) terminate(cause error) {
	s.closeOnce.Do(func() {
		var errs *multierror.Error
		if cause != nil {
			errs = multierror.Append(errs, cause)
		}
		if err := s.conn.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		s.closeErr = errs.ErrorOrNil()

		close(s.closeCh)
		s.cleanupInflight(ErrTerminated)

		// 唤醒所有挂在背压上的发送方
		s.mut.Lock()
		s.drained.Broadcast()
		s.mut.Unlock()

		sessionsActive.Dec()
		if s.closeErr != nil {
			logger.Debugf("session %s terminated: %v", s.id, s.closeErr)
		}
	})
}
