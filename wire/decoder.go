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

	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "toku/wire: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrInvalidOpcode 数据流中出现未定义或保留的 opcode
	ErrInvalidOpcode = newError("invalid opcode")

	// ErrInvalidSize payloadSize 字段超出安全上限
	ErrInvalidSize = newError("invalid payload size")

	// ErrIncomplete 在未完成的 DecodeBuffer 上取帧
	ErrIncomplete = newError("decode not complete")

	// ErrPayloadTooLarge 编码侧 payload 超出安全上限
	ErrPayloadTooLarge = newError("payload too large")
)

// MaxPayloadSize 单帧 payload 的安全上限
//
// 超出即返回 DecodeInvalidSize 以约束单链接的内存开销
const MaxPayloadSize = 16 * 1024 * 1024

// DecodeStatus 解码器单次推进的结果
type DecodeStatus int

const (
	// DecodeNeedsMore 字节已消费 帧尚未完整
	DecodeNeedsMore DecodeStatus = 1

	// DecodeComplete DecodeBuffer 中已有一个完整帧
	DecodeComplete DecodeStatus = 2

	// DecodeMemoryError 缓冲区分配失败
	DecodeMemoryError DecodeStatus = -1

	// DecodeInvalidOpcode opcode 不在已定义集合内
	DecodeInvalidOpcode DecodeStatus = -2

	// DecodeInvalidSize payloadSize 超限或不一致
	DecodeInvalidSize DecodeStatus = -3
)

// statusErrors 负向状态与错误的映射
var statusErrors = map[DecodeStatus]error{
	DecodeInvalidOpcode: ErrInvalidOpcode,
	DecodeInvalidSize:   ErrInvalidSize,
}

// Err 返回状态对应的错误 正向状态返回 nil
func (s DecodeStatus) Err() error {
	if s >= 0 {
		return nil
	}
	if err, ok := statusErrors[s]; ok {
		return err
	}
	return newError("decoder failed with status %d", s)
}

// DecodeBuffer 恰好一个入站帧的部分解析状态
//
// header 与 payload 累积在同一个 Buffer 中 避免二次分配
// decode_complete 为 true 时 buffer 持有 headerSize+payloadSize 的完整帧
type DecodeBuffer struct {
	buf Buffer

	opcode            Opcode
	lay               *layout
	dataSizeRemaining uint32
	headerSize        int
	complete          bool
	maxPayloadSize    uint32
}

// Reset 清空解析状态 回到等待 header 阶段
//
// payload 上限配置跨 Reset 保留
func (d *DecodeBuffer) Reset() {
	d.buf.Reset()
	d.opcode = 0
	d.lay = nil
	d.dataSizeRemaining = 0
	d.headerSize = 0
	d.complete = false
}

// SetMaxPayloadSize 覆盖默认的 payload 安全上限 n<=0 时恢复默认
func (d *DecodeBuffer) SetMaxPayloadSize(n int) {
	if n <= 0 {
		d.maxPayloadSize = 0
		return
	}
	d.maxPayloadSize = uint32(n)
}

// payloadSizeCap 返回生效的 payload 上限
func (d *DecodeBuffer) payloadSizeCap() uint32 {
	if d.maxPayloadSize > 0 {
		return d.maxPayloadSize
	}
	return MaxPayloadSize
}

// Complete 返回是否已持有完整帧
func (d *DecodeBuffer) Complete() bool {
	return d.complete
}

// Read 以增量方式推进解析 返回状态与本次消费的字节数
//
// 解码器对任意切分的字节块都能推进 一次 TCP recv 可能携带
// 半个 header 也可能携带多个帧 调用方按 consumed 自行切进
//
// 状态机只有两个阶段
// - 等待 header: 先累积 1 字节确定 opcode 与 headerSize 再补齐 header
// - 等待 payload: 按 dataSizeRemaining 递减累积 清零即 DecodeComplete
func (d *DecodeBuffer) Read(p []byte) (DecodeStatus, int) {
	if d.complete {
		return DecodeComplete, 0
	}
	if len(p) == 0 {
		return DecodeNeedsMore, 0
	}

	var consumed int

	// 等待 header 阶段
	if d.lay == nil || d.buf.Len() < d.headerSize {
		if d.lay == nil {
			d.opcode = Opcode(p[0])
			d.lay = layoutOf(d.opcode)
			if d.lay == nil {
				return DecodeInvalidOpcode, 0
			}
			d.headerSize = d.lay.headerSize
		}

		need := d.headerSize - d.buf.Len()
		if need > len(p) {
			need = len(p)
		}
		d.buf.Append(p[:need])
		consumed += need
		p = p[need:]

		if d.buf.Len() < d.headerSize {
			return DecodeNeedsMore, consumed
		}

		// header 补齐 读取 payloadSize
		if d.lay.hasPayload {
			size := binary.BigEndian.Uint32(d.buf.Bytes(0)[d.lay.payloadSizeOffset():])
			if size > d.payloadSizeCap() {
				return DecodeInvalidSize, consumed
			}
			d.dataSizeRemaining = size
		}

		if d.dataSizeRemaining == 0 {
			d.complete = true
			return DecodeComplete, consumed
		}
	}

	// 等待 payload 阶段
	need := int(d.dataSizeRemaining)
	if need > len(p) {
		need = len(p)
	}
	d.buf.Append(p[:need])
	consumed += need
	d.dataSizeRemaining -= uint32(need)

	if d.dataSizeRemaining == 0 {
		d.complete = true
		return DecodeComplete, consumed
	}
	return DecodeNeedsMore, consumed
}

// Opcode 返回当前帧的 opcode
func (d *DecodeBuffer) Opcode() Opcode {
	return d.opcode
}

// Flags 返回当前帧的 flags
func (d *DecodeBuffer) Flags() uint8 {
	return d.buf.Bytes(0)[flagsOffset]
}

// Seq 返回当前帧的 seq 不携带 seq 的帧返回 0
func (d *DecodeBuffer) Seq() uint32 {
	if d.lay == nil || !d.lay.hasSeq {
		return 0
	}
	return binary.BigEndian.Uint32(d.buf.Bytes(0)[seqOffset:])
}

// Code 返回当前帧的 code 不携带 code 的帧返回 0
func (d *DecodeBuffer) Code() uint16 {
	if d.lay == nil || !d.lay.hasCode {
		return 0
	}
	return binary.BigEndian.Uint16(d.buf.Bytes(0)[d.lay.codeOffset():])
}

// PingInterval 返回当前帧的 pingInterval 不携带的帧返回 0
func (d *DecodeBuffer) PingInterval() uint32 {
	if d.lay == nil || !d.lay.hasPingInterval {
		return 0
	}
	return binary.BigEndian.Uint32(d.buf.Bytes(0)[d.lay.pingIntervalOffset():])
}

// PayloadSize 返回当前帧 payload 的字节数
func (d *DecodeBuffer) PayloadSize() int {
	if d.lay == nil || !d.lay.hasPayload {
		return 0
	}
	return int(binary.BigEndian.Uint32(d.buf.Bytes(0)[d.lay.payloadSizeOffset():]))
}

// Payload 返回当前帧 payload 的独立拷贝
//
// 空 payload 返回空切片而非 nil
func (d *DecodeBuffer) Payload() []byte {
	size := d.PayloadSize()
	if size == 0 {
		return []byte{}
	}
	p := make([]byte, size)
	copy(p, d.buf.Bytes(d.headerSize))
	return p
}
