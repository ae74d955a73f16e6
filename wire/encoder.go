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
	"encoding/binary"
)

// 编码器为每种帧类型提供一个 Append 函数
// 按固定布局写入 header 随后写入 payload 只追加内存 不做任何 IO

// appendHeader 按布局写入 header 并返回写入字节数
func appendHeader(buf *Buffer, op Opcode, flags uint8, seq uint32, code uint16, pingInterval uint32, payloadSize int) int {
	lay := layoutOf(op)

	var hdr [maxHeaderSize]byte
	hdr[0] = byte(op)
	hdr[flagsOffset] = flags
	if lay.hasSeq {
		binary.BigEndian.PutUint32(hdr[seqOffset:], seq)
	}
	if lay.hasCode {
		binary.BigEndian.PutUint16(hdr[lay.codeOffset():], code)
	}
	if lay.hasPingInterval {
		binary.BigEndian.PutUint32(hdr[lay.pingIntervalOffset():], pingInterval)
	}
	if lay.hasPayload {
		binary.BigEndian.PutUint32(hdr[lay.payloadSizeOffset():], uint32(payloadSize))
	}
	return buf.Append(hdr[:lay.headerSize])
}

// appendFrame 写入 header+payload 校验 payload 上限
func appendFrame(buf *Buffer, op Opcode, flags uint8, seq uint32, code uint16, pingInterval uint32, data []byte) (int, error) {
	if len(data) > MaxPayloadSize {
		return -1, ErrPayloadTooLarge
	}
	n := appendHeader(buf, op, flags, seq, code, pingInterval, len(data))
	n += buf.Append(data)
	return n, nil
}

// AppendHello 追加 Hello 帧
//
// payload 为 `encodings|compressors` 微格式 由调用方构造
func AppendHello(buf *Buffer, flags uint8, seq uint32, payload []byte) (int, error) {
	return appendFrame(buf, OpHello, flags, seq, 0, 0, payload)
}

// AppendHelloAck 追加 HelloAck 帧
//
// payload 为 `encoding|compressor` 微格式 由调用方构造
func AppendHelloAck(buf *Buffer, flags uint8, seq uint32, pingInterval uint32, payload []byte) (int, error) {
	return appendFrame(buf, OpHelloAck, flags, seq, 0, pingInterval, payload)
}

// AppendPing 追加 Ping 帧
func AppendPing(buf *Buffer, flags uint8, seq uint32) int {
	return appendHeader(buf, OpPing, flags, seq, 0, 0, 0)
}

// AppendPong 追加 Pong 帧
func AppendPong(buf *Buffer, flags uint8, seq uint32) int {
	return appendHeader(buf, OpPong, flags, seq, 0, 0, 0)
}

// AppendRequest 追加 Request 帧
func AppendRequest(buf *Buffer, flags uint8, seq uint32, data []byte) (int, error) {
	return appendFrame(buf, OpRequest, flags, seq, 0, 0, data)
}

// AppendResponse 追加 Response 帧
func AppendResponse(buf *Buffer, flags uint8, seq uint32, data []byte) (int, error) {
	return appendFrame(buf, OpResponse, flags, seq, 0, 0, data)
}

// AppendPush 追加 Push 帧 payload 原样传输
func AppendPush(buf *Buffer, flags uint8, data []byte) (int, error) {
	return appendFrame(buf, OpPush, flags, 0, 0, 0, data)
}

// AppendGoAway 追加 GoAway 帧
//
// GoAway 携带 code 而非 seq reason 可为空
func AppendGoAway(buf *Buffer, flags uint8, code uint16, reason []byte) (int, error) {
	return appendFrame(buf, OpGoAway, flags, 0, code, 0, reason)
}

// AppendError 追加 Error 帧
func AppendError(buf *Buffer, flags uint8, code uint16, seq uint32, data []byte) (int, error) {
	return appendFrame(buf, OpError, flags, seq, code, 0, data)
}
