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

package wire

import (
	"bytes"
	"strings"
)

// ErrBadHelloPayload Hello/HelloAck payload 不满足 `a|b` 微格式
var ErrBadHelloPayload = newError("malformed hello payload")

// Frame 一个完整的协议消息
//
// 封闭集合 每个 opcode 对应一种变体 解码完成后由
// DecodeBuffer.Frame 物化
type Frame interface {
	Opcode() Opcode
}

// Hello 客户端握手帧
type Hello struct {
	Flags                uint8
	Seq                  uint32
	SupportedEncodings   []string
	SupportedCompressors []string
}

// HelloAck 服务端握手应答帧
type HelloAck struct {
	Flags              uint8
	PingInterval       uint32
	SelectedEncoding   string
	SelectedCompressor string
}

// Ping 保活探测帧
type Ping struct {
	Flags uint8
	Seq   uint32
}

// Pong 保活应答帧
type Pong struct {
	Flags uint8
	Seq   uint32
}

// Request 请求帧 seq 由发送方分配用于配对
type Request struct {
	Flags uint8
	Seq   uint32
	Data  []byte
}

// Response 响应帧 seq 与对应 Request 一致
type Response struct {
	Flags uint8
	Seq   uint32
	Data  []byte
}

// Push 服务端主动推送帧 无需应答
type Push struct {
	Flags uint8
	Data  []byte
}

// GoAway 链接终止帧 code 标识终止原因
type GoAway struct {
	Flags  uint8
	Code   uint16
	Reason []byte
}

// Error 帧级错误帧 seq 指向出错的请求
type Error struct {
	Flags uint8
	Code  uint16
	Seq   uint32
	Data  []byte
}

func (f *Hello) Opcode() Opcode    { return OpHello }
func (f *HelloAck) Opcode() Opcode { return OpHelloAck }
func (f *Ping) Opcode() Opcode     { return OpPing }
func (f *Pong) Opcode() Opcode     { return OpPong }
func (f *Request) Opcode() Opcode  { return OpRequest }
func (f *Response) Opcode() Opcode { return OpResponse }
func (f *Push) Opcode() Opcode     { return OpPush }
func (f *GoAway) Opcode() Opcode   { return OpGoAway }
func (f *Error) Opcode() Opcode    { return OpError }

// HelloPayload 构造 `a,b|c,d` 微格式的握手 payload
//
// Hello 帧左侧为支持的编码列表 右侧为支持的压缩器列表
func HelloPayload(left []string, right []string) []byte {
	return []byte(strings.Join(left, ",") + "|" + strings.Join(right, ","))
}

// HelloAckPayload 构造 `a|b` 微格式的握手应答 payload
//
// 两侧均允许为空
func HelloAckPayload(encoding string, compressor string) []byte {
	return []byte(encoding + "|" + compressor)
}

// splitHelloPayload 切分 `a|b` 微格式 payload
func splitHelloPayload(p []byte) ([]byte, []byte, error) {
	left, right, ok := bytes.Cut(p, []byte{'|'})
	if !ok {
		return nil, nil, ErrBadHelloPayload
	}
	return left, right, nil
}

// splitTokens 切分逗号分隔的 token 列表 空串返回空列表
func splitTokens(p []byte) []string {
	if len(p) == 0 {
		return []string{}
	}
	return strings.Split(string(p), ",")
}

// Frame 将已完成的 DecodeBuffer 物化为具体的帧变体
//
// 在未完成的 DecodeBuffer 上调用返回 ErrIncomplete
func (d *DecodeBuffer) Frame() (Frame, error) {
	if !d.complete {
		return nil, ErrIncomplete
	}

	switch d.opcode {
	case OpHello:
		left, right, err := splitHelloPayload(d.Payload())
		if err != nil {
			return nil, err
		}
		return &Hello{
			Flags:                d.Flags(),
			Seq:                  d.Seq(),
			SupportedEncodings:   splitTokens(left),
			SupportedCompressors: splitTokens(right),
		}, nil

	case OpHelloAck:
		left, right, err := splitHelloPayload(d.Payload())
		if err != nil {
			return nil, err
		}
		return &HelloAck{
			Flags:              d.Flags(),
			PingInterval:       d.PingInterval(),
			SelectedEncoding:   string(left),
			SelectedCompressor: string(right),
		}, nil

	case OpPing:
		return &Ping{Flags: d.Flags(), Seq: d.Seq()}, nil

	case OpPong:
		return &Pong{Flags: d.Flags(), Seq: d.Seq()}, nil

	case OpRequest:
		return &Request{Flags: d.Flags(), Seq: d.Seq(), Data: d.Payload()}, nil

	case OpResponse:
		return &Response{Flags: d.Flags(), Seq: d.Seq(), Data: d.Payload()}, nil

	case OpPush:
		return &Push{Flags: d.Flags(), Data: d.Payload()}, nil

	case OpGoAway:
		return &GoAway{Flags: d.Flags(), Code: d.Code(), Reason: d.Payload()}, nil

	case OpError:
		return &Error{Flags: d.Flags(), Code: d.Code(), Seq: d.Seq(), Data: d.Payload()}, nil
	}
	return nil, ErrInvalidOpcode
}
