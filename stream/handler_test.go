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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tokud/tokud/common"
	"github.com/tokud/tokud/wire"
)

func TestHandlerSendAndDrain(t *testing.T) {
	h := NewHandler()

	seq := h.SendPing(0)
	assert.Equal(t, uint32(1), seq)
	assert.Equal(t, uint32(1), h.CurrentSeq())
	assert.Equal(t, 6, h.WriteBufferLen())

	b := h.GetBytes(6, true)
	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}, b)

	// 全量消费之后缓冲整体复位
	assert.Equal(t, 0, h.WriteBufferLen())
	assert.Equal(t, 0, h.wpos)
	assert.Nil(t, h.GetBytes(16, true))
}

func TestHandlerPipelining(t *testing.T) {
	h := NewHandler()

	pingSeq := h.SendPing(0)
	reqSeq, err := h.SendRequest(0, []byte("data-1"))
	assert.NoError(t, err)
	assert.NoError(t, h.SendPush(0, []byte("data-2")))
	assert.Equal(t, pingSeq+1, reqSeq)

	encoded := h.GetBytes(h.WriteBufferLen(), true)

	peer := NewHandler()
	frames, err := peer.OnBytesReceived(encoded)
	assert.NoError(t, err)
	assert.Equal(t, []wire.Frame{
		&wire.Ping{Flags: 0, Seq: pingSeq},
		&wire.Request{Flags: 0, Seq: reqSeq, Data: []byte("data-1")},
		&wire.Push{Flags: 0, Data: []byte("data-2")},
	}, frames)
}

func TestHandlerByteAtATime(t *testing.T) {
	h := NewHandler()
	h.SendPing(0)
	_, err := h.SendRequest(0, []byte("hi"))
	assert.NoError(t, err)

	encoded := h.GetBytes(h.WriteBufferLen(), true)

	// 一个字节一个字节地投喂 结果应与整块投喂一致
	peer := NewHandler()
	var frames []wire.Frame
	for _, c := range encoded {
		got, err := peer.OnBytesReceived([]byte{c})
		assert.NoError(t, err)
		frames = append(frames, got...)
	}

	assert.Len(t, frames, 2)
	assert.Equal(t, &wire.Ping{Flags: 0, Seq: 1}, frames[0])
	assert.Equal(t, &wire.Request{Flags: 0, Seq: 2, Data: []byte("hi")}, frames[1])
}

func TestHandlerSeqWrap(t *testing.T) {
	h := NewHandler()
	h.seq = SeqMax - 2

	assert.Equal(t, uint32(SeqMax-1), h.NextSeq())
	assert.Equal(t, uint32(0), h.NextSeq())
	assert.Equal(t, uint32(1), h.NextSeq())
}

func TestHandlerPartialDrainOrder(t *testing.T) {
	h := NewHandler()
	h.SendPing(0)
	_, err := h.SendRequest(0, []byte("payload"))
	assert.NoError(t, err)

	total := h.WriteBufferLen()
	var drained []byte
	for h.WriteBufferLen() > 0 {
		drained = append(drained, h.GetBytes(5, true)...)
	}
	assert.Equal(t, total, len(drained))

	// 部分消费不得破坏前缀顺序
	peer := NewHandler()
	frames, err := peer.OnBytesReceived(drained)
	assert.NoError(t, err)
	assert.Len(t, frames, 2)
	assert.IsType(t, &wire.Ping{}, frames[0])
	assert.IsType(t, &wire.Request{}, frames[1])
}

func TestHandlerConsumeBytes(t *testing.T) {
	h := NewHandler()
	h.SendPing(0)
	h.SendPong(0, 1)

	assert.Equal(t, 12, h.WriteBufferLen())
	assert.Equal(t, 7, h.ConsumeBytes(5))
	assert.Equal(t, 0, h.ConsumeBytes(100))
	assert.Equal(t, 0, h.WriteBufferLen())
	assert.Equal(t, 0, h.wpos)
}

func TestHandlerCompaction(t *testing.T) {
	h := NewHandler()

	first := bytes.Repeat([]byte("a"), 100)
	second := bytes.Repeat([]byte("b"), 80)
	_, err := h.SendRequest(0, first)
	assert.NoError(t, err)
	_, err = h.SendRequest(0, second)
	assert.NoError(t, err)

	total := h.WriteBufferLen()
	drainN := total - 30

	b := h.GetBytes(drainN, true)
	assert.Len(t, b, drainN)

	// 游标越过容量一半且仍有剩余时触发原地压缩
	assert.Equal(t, 30, h.WriteBufferLen())
	assert.Equal(t, 0, h.wpos)
	assert.Equal(t, 30, h.out.Len())
}

func TestHandlerBufferLifecycle(t *testing.T) {
	h := NewHandler()

	var total int
	for i := 0; i < 64; i++ {
		_, err := h.SendRequest(0, bytes.Repeat([]byte("x"), 512))
		assert.NoError(t, err)
	}
	total = h.WriteBufferLen()

	b := h.GetBytes(total, true)
	assert.Len(t, b, total)
	assert.Equal(t, 0, h.WriteBufferLen())
	assert.Equal(t, 0, h.wpos)
	assert.LessOrEqual(t, h.out.Cap(), wire.InitialBufferSize)
}

func TestHandlerMaxPayloadSizeOption(t *testing.T) {
	peer := NewHandler()
	_, err := peer.SendRequest(0, bytes.Repeat([]byte("a"), 128))
	assert.NoError(t, err)
	encoded := peer.GetBytes(peer.WriteBufferLen(), true)

	opts := common.NewOptions()
	opts.Merge("maxPayloadSize", 64)
	h := NewHandlerWithOptions(opts)

	_, err = h.OnBytesReceived(encoded)
	assert.ErrorIs(t, err, wire.ErrInvalidSize)
}

func TestHandlerDecodeErrorIsTerminal(t *testing.T) {
	h := NewHandler()

	frames, err := h.OnBytesReceived([]byte{0xFF, 0x00, 0x00})
	assert.Empty(t, frames)
	assert.ErrorIs(t, err, wire.ErrInvalidOpcode)

	// 解码错误后 Handler 进入终止态
	_, err = h.OnBytesReceived([]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01})
	assert.ErrorIs(t, err, ErrDefunct)
}

func TestHandlerFramesBeforeError(t *testing.T) {
	peer := NewHandler()
	peer.SendPing(0)
	encoded := peer.GetBytes(peer.WriteBufferLen(), true)
	encoded = append(encoded, 0x08) // 保留 opcode

	h := NewHandler()
	frames, err := h.OnBytesReceived(encoded)
	assert.ErrorIs(t, err, wire.ErrInvalidOpcode)

	// 错误之前完成的帧仍然交付
	assert.Equal(t, []wire.Frame{&wire.Ping{Flags: 0, Seq: 1}}, frames)
}

func TestHandlerGoAwayAndError(t *testing.T) {
	h := NewHandler()
	assert.NoError(t, h.SendGoAway(0, 5, []byte("decoder error")))
	assert.NoError(t, h.SendError(0, 1, 42, []byte("bad request")))

	peer := NewHandler()
	frames, err := peer.OnBytesReceived(h.GetBytes(h.WriteBufferLen(), true))
	assert.NoError(t, err)
	assert.Equal(t, []wire.Frame{
		&wire.GoAway{Flags: 0, Code: 5, Reason: []byte("decoder error")},
		&wire.Error{Flags: 0, Code: 1, Seq: 42, Data: []byte("bad request")},
	}, frames)
}

func TestHandlerHelloRoundTrip(t *testing.T) {
	h := NewHandler()
	assert.NoError(t, h.SendHello(0, []string{"json", "msgpack"}, nil))
	assert.NoError(t, h.SendHelloAck(0, 30, "json", "snappy"))

	peer := NewHandler()
	frames, err := peer.OnBytesReceived(h.GetBytes(h.WriteBufferLen(), true))
	assert.NoError(t, err)
	assert.Equal(t, []wire.Frame{
		&wire.Hello{
			Flags:                0,
			Seq:                  0,
			SupportedEncodings:   []string{"json", "msgpack"},
			SupportedCompressors: []string{},
		},
		&wire.HelloAck{
			Flags:              0,
			PingInterval:       30,
			SelectedEncoding:   "json",
			SelectedCompressor: "snappy",
		},
	}, frames)
}
