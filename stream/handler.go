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

package stream

import (
	"github.com/pkg/errors"

	"github.com/tokud/tokud/common"
	"github.com/tokud/tokud/wire"
)

func newError(format string, args ...any) error {
	format = "toku/stream: " + format
	return errors.Errorf(format, args...)
}

// ErrDefunct 解码器已进入终止态 Handler 不再可用
var ErrDefunct = newError("stream defunct")

// SeqMax 序列号回绕点
const SeqMax = 1<<32 - 2

// Handler 单条链接的帧流处理器
//
// 持有一个输出 Buffer 一个消费游标以及一个 DecodeBuffer
// 不持有任何 IO 资源 所有操作均为内存操作 立即返回
//
// Handler 状态不允许并发修改 预期的嵌入方式是每条链接一个任务
// 多线程嵌入需在公开接口外层加锁
type Handler struct {
	seq     uint32
	wpos    int
	out     wire.Buffer
	dec     wire.DecodeBuffer
	defunct bool
}

// NewHandler 创建并返回 Handler 实例
func NewHandler() *Handler {
	return &Handler{}
}

// NewHandlerWithOptions 创建 Handler 并应用可选参数
//
// 目前支持 maxPayloadSize 覆盖解码器的 payload 安全上限
func NewHandlerWithOptions(opts common.Options) *Handler {
	h := NewHandler()
	if n, err := opts.GetInt("maxPayloadSize"); err == nil {
		h.dec.SetMaxPayloadSize(n)
	}
	return h
}

// CurrentSeq 返回最后分配的序列号
func (h *Handler) CurrentSeq() uint32 {
	return h.seq
}

// NextSeq 递增并返回序列号 到达 SeqMax 时回绕至 0
//
// 序列号由发送方本地分配 协议不保证唯一性
// 不复用 in-flight 的值是上层的责任
func (h *Handler) NextSeq() uint32 {
	h.seq++
	if h.seq >= SeqMax {
		h.seq = 0
	}
	return h.seq
}

// SendPing 追加 Ping 帧 返回分配的 seq
func (h *Handler) SendPing(flags uint8) uint32 {
	seq := h.NextSeq()
	wire.AppendPing(&h.out, flags, seq)
	return seq
}

// SendPong 追加 Pong 帧 seq 为对端 Ping 的序列号
func (h *Handler) SendPong(flags uint8, seq uint32) {
	wire.AppendPong(&h.out, flags, seq)
}

// SendRequest 追加 Request 帧 返回分配的 seq
func (h *Handler) SendRequest(flags uint8, data []byte) (uint32, error) {
	seq := h.NextSeq()
	if _, err := wire.AppendRequest(&h.out, flags, seq, data); err != nil {
		return 0, err
	}
	return seq, nil
}

// SendResponse 追加 Response 帧 seq 为对应 Request 的序列号
func (h *Handler) SendResponse(flags uint8, seq uint32, data []byte) error {
	_, err := wire.AppendResponse(&h.out, flags, seq, data)
	return err
}

// SendPush 追加 Push 帧 payload 原样传输
func (h *Handler) SendPush(flags uint8, data []byte) error {
	_, err := wire.AppendPush(&h.out, flags, data)
	return err
}

// SendHello 追加 Hello 帧
//
// seq 写入当前序列号 不递增
func (h *Handler) SendHello(flags uint8, encodings []string, compressors []string) error {
	payload := wire.HelloPayload(encodings, compressors)
	_, err := wire.AppendHello(&h.out, flags, h.seq, payload)
	return err
}

// SendHelloAck 追加 HelloAck 帧
func (h *Handler) SendHelloAck(flags uint8, pingInterval uint32, encoding string, compressor string) error {
	payload := wire.HelloAckPayload(encoding, compressor)
	_, err := wire.AppendHelloAck(&h.out, flags, h.seq, pingInterval, payload)
	return err
}

// SendGoAway 追加 GoAway 帧 reason 可为 nil
func (h *Handler) SendGoAway(flags uint8, code uint16, reason []byte) error {
	_, err := wire.AppendGoAway(&h.out, flags, code, reason)
	return err
}

// SendError 追加 Error 帧 reason 可为 nil
func (h *Handler) SendError(flags uint8, code uint16, seq uint32, reason []byte) error {
	_, err := wire.AppendError(&h.out, flags, code, seq, reason)
	return err
}

// WriteBufferLen 返回输出缓冲中尚未消费的字节数
func (h *Handler) WriteBufferLen() int {
	return h.out.Len() - h.wpos
}

// GetBytes 返回自消费游标起最多 n 个字节
//
// consume 为 true 时推进游标并触发 reset/compact
// 此时返回的是拷贝 否则返回的视图在下一次写操作前有效
// 无待消费数据时返回 nil
func (h *Handler) GetBytes(n int, consume bool) []byte {
	pending := h.WriteBufferLen()
	if n > pending {
		n = pending
	}
	if n == 0 {
		return nil
	}

	b := h.out.Bytes(h.wpos)[:n]
	if consume {
		b = append([]byte{}, b...)
		h.wpos += n
		h.resetOrCompact()
	}
	return b
}

// ConsumeBytes 推进消费游标 min(n, pending) 返回剩余待消费字节数
func (h *Handler) ConsumeBytes(n int) int {
	pending := h.WriteBufferLen()
	if n > pending {
		n = pending
	}
	h.wpos += n
	h.resetOrCompact()
	return pending - n
}

// resetOrCompact 消费之后的缓冲回收策略
//
// - 已全部消费: 整体 Reset 释放超额分配
// - 游标越过容量一半且仍有剩余: 原地 Compact 把浪费的头部控制在容量一半以内
// - 其余情况不动 避免小步消费触发 O(n) 拷贝
func (h *Handler) resetOrCompact() {
	switch {
	case h.wpos == h.out.Len():
		h.out.Reset()
		h.wpos = 0

	case h.out.Len() > h.wpos && h.wpos > h.out.Cap()/2:
		h.out.Compact(h.wpos)
		h.wpos = 0
	}
}

// OnBytesReceived 将收到的字节喂给解码器 返回本次完成的所有帧
//
// 一次调用可能返回零个或多个帧 任何负向解码状态都会先重置
// DecodeBuffer 再以错误形式浮出 协议将解码错误视为终止态
// 上层应当随即关闭链接
func (h *Handler) OnBytesReceived(b []byte) ([]wire.Frame, error) {
	if h.defunct {
		return nil, ErrDefunct
	}

	var frames []wire.Frame
	for len(b) > 0 {
		status, consumed := h.dec.Read(b)
		if err := status.Err(); err != nil {
			h.dec.Reset()
			h.defunct = true
			return frames, err
		}
		b = b[consumed:]

		if status == wire.DecodeNeedsMore {
			break
		}

		frame, err := h.dec.Frame()
		if err != nil {
			h.dec.Reset()
			h.defunct = true
			return frames, err
		}
		frames = append(frames, frame)
		h.dec.Reset()
	}
	return frames, nil
}
