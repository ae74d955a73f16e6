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

// Opcode Toku 帧类型 1 字节标识
type Opcode uint8

const (
	OpHello    Opcode = 0x00
	OpHelloAck Opcode = 0x01
	OpPing     Opcode = 0x02
	OpPong     Opcode = 0x03
	OpRequest  Opcode = 0x04
	OpResponse Opcode = 0x05
	OpPush     Opcode = 0x06
	OpGoAway   Opcode = 0x07

	// 0x08 为保留值 不允许出现在数据流中

	OpError Opcode = 0x09
)

const (
	// FlagCompressed 标识 Payload 已被压缩
	FlagCompressed uint8 = 1 << 0
)

var opcodeNames = map[Opcode]string{
	OpHello:    "Hello",
	OpHelloAck: "HelloAck",
	OpPing:     "Ping",
	OpPong:     "Pong",
	OpRequest:  "Request",
	OpResponse: "Response",
	OpPush:     "Push",
	OpGoAway:   "GoAway",
	OpError:    "Error",
}

func (op Opcode) String() string {
	s, ok := opcodeNames[op]
	if !ok {
		return "Unknown"
	}
	return s
}

// layout 描述了单种帧类型 header 的固定布局
//
// 所有字段均为大端序 字段按以下顺序排列 缺失的字段不占用空间
// - opcode (1B)
// - flags (1B)
// - seq (4B)
// - code (2B)
// - pingInterval (4B)
// - payloadSize (4B)
type layout struct {
	headerSize      int
	hasPayload      bool
	hasSeq          bool
	hasCode         bool
	hasPingInterval bool
}

const (
	// maxHeaderSize 所有帧类型中最大的 header 长度
	// HelloAck: opcode + flags + seq + pingInterval + payloadSize
	maxHeaderSize = 14

	flagsOffset = 1
	seqOffset   = 2
)

// layouts 按 opcode 索引的 header 布局表
//
// 保留的 0x08 为 nil 解码器据此拒绝
var layouts = [...]*layout{
	OpHello:    {headerSize: 10, hasPayload: true, hasSeq: true},
	OpHelloAck: {headerSize: 14, hasPayload: true, hasSeq: true, hasPingInterval: true},
	OpPing:     {headerSize: 6, hasSeq: true},
	OpPong:     {headerSize: 6, hasSeq: true},
	OpRequest:  {headerSize: 10, hasPayload: true, hasSeq: true},
	OpResponse: {headerSize: 10, hasPayload: true, hasSeq: true},
	OpPush:     {headerSize: 6, hasPayload: true},
	OpGoAway:   {headerSize: 8, hasPayload: true, hasCode: true},
	8:          nil,
	OpError:    {headerSize: 12, hasPayload: true, hasSeq: true, hasCode: true},
}

// layoutOf 返回 opcode 对应的布局 未知或保留的 opcode 返回 nil
func layoutOf(op Opcode) *layout {
	if int(op) >= len(layouts) {
		return nil
	}
	return layouts[op]
}

// codeOffset 返回 code 字段在 header 中的偏移
func (l *layout) codeOffset() int {
	if l.hasSeq {
		return seqOffset + 4
	}
	return seqOffset
}

// pingIntervalOffset 返回 pingInterval 字段在 header 中的偏移
func (l *layout) pingIntervalOffset() int {
	return seqOffset + 4
}

// payloadSizeOffset 返回 payloadSize 字段在 header 中的偏移
//
// payloadSize 始终是 header 的最后 4 个字节
func (l *layout) payloadSizeOffset() int {
	return l.headerSize - 4
}
