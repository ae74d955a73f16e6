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
	"testing"

	"github.com/stretchr/testify/assert"
)

// decodeAll 将 b 一次性喂给 DecodeBuffer 并返回状态
func decodeAll(t *testing.T, d *DecodeBuffer, b []byte) DecodeStatus {
	t.Helper()

	var status DecodeStatus
	for len(b) > 0 {
		var consumed int
		status, consumed = d.Read(b)
		if status < 0 {
			return status
		}
		b = b[consumed:]
	}
	return status
}

func TestDecodeWireBytes(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		frame Frame
	}{
		{
			name:  "Ping",
			input: []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
			frame: &Ping{Flags: 0, Seq: 1},
		},
		{
			name: "Request with payload",
			input: []byte{
				0x04, 0x00,
				0x00, 0x00, 0x00, 0x07,
				0x00, 0x00, 0x00, 0x02,
				'h', 'i',
			},
			frame: &Request{Flags: 0, Seq: 7, Data: []byte("hi")},
		},
		{
			name: "Hello with empty compressors",
			input: append([]byte{
				0x00, 0x00,
				0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x0D,
			}, []byte("json,msgpack|")...),
			frame: &Hello{
				Flags:                0,
				Seq:                  0,
				SupportedEncodings:   []string{"json", "msgpack"},
				SupportedCompressors: []string{},
			},
		},
		{
			name: "GoAway carries code not seq",
			input: append([]byte{
				0x07, 0x00,
				0x00, 0x05,
				0x00, 0x00, 0x00, 0x03,
			}, []byte("bye")...),
			frame: &GoAway{Flags: 0, Code: 5, Reason: []byte("bye")},
		},
		{
			name: "Pong",
			input: []byte{0x03, 0x01, 0x00, 0x00, 0x00, 0x2A},
			frame: &Pong{Flags: 1, Seq: 42},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d DecodeBuffer
			status := decodeAll(t, &d, tt.input)
			assert.Equal(t, DecodeComplete, status)
			assert.True(t, d.Complete())

			frame, err := d.Frame()
			assert.NoError(t, err)
			assert.Equal(t, tt.frame, frame)
		})
	}
}

func TestDecodeInvalidOpcode(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{
			name:  "Unknown opcode",
			input: []byte{0xFF, 0x00, 0x00, 0x00, 0x00, 0x00},
		},
		{
			name:  "Reserved opcode 8",
			input: []byte{0x08, 0x00, 0x00, 0x00, 0x00, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d DecodeBuffer
			status, consumed := d.Read(tt.input)
			assert.Equal(t, DecodeInvalidOpcode, status)
			assert.Equal(t, 0, consumed)
			assert.ErrorIs(t, status.Err(), ErrInvalidOpcode)
		})
	}
}

func TestDecodeInvalidSize(t *testing.T) {
	// Request header 的 payloadSize 超过安全上限
	input := []byte{0x04, 0x00, 0x00, 0x00, 0x00, 0x01}
	input = binary.BigEndian.AppendUint32(input, MaxPayloadSize+1)

	var d DecodeBuffer
	status := decodeAll(t, &d, input)
	assert.Equal(t, DecodeInvalidSize, status)
	assert.ErrorIs(t, status.Err(), ErrInvalidSize)
}

func TestDecodeChunkInvariance(t *testing.T) {
	var buf Buffer
	_, err := AppendRequest(&buf, 0, 7, []byte("hello toku"))
	assert.NoError(t, err)
	AppendPing(&buf, 0, 8)
	_, err = AppendPush(&buf, 0, []byte("push-data"))
	assert.NoError(t, err)
	encoded := buf.Bytes(0)

	// 任意切分方式得到的帧序列应当与一次性解码一致
	chunkSizes := []int{1, 2, 3, 5, 7, len(encoded)}
	for _, size := range chunkSizes {
		var frames []Frame
		var d DecodeBuffer

		rest := encoded
		for len(rest) > 0 {
			chunk := rest
			if len(chunk) > size {
				chunk = chunk[:size]
			}
			rest = rest[len(chunk):]

			for len(chunk) > 0 {
				status, consumed := d.Read(chunk)
				assert.GreaterOrEqual(t, int(status), 0)
				chunk = chunk[consumed:]

				if status == DecodeComplete {
					frame, err := d.Frame()
					assert.NoError(t, err)
					frames = append(frames, frame)
					d.Reset()
				}
			}
		}

		assert.Equal(t, []Frame{
			&Request{Flags: 0, Seq: 7, Data: []byte("hello toku")},
			&Ping{Flags: 0, Seq: 8},
			&Push{Flags: 0, Data: []byte("push-data")},
		}, frames, "chunk size %d", size)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	var buf Buffer
	_, err := AppendResponse(&buf, 0, 3, nil)
	assert.NoError(t, err)

	var d DecodeBuffer
	status := decodeAll(t, &d, buf.Bytes(0))
	assert.Equal(t, DecodeComplete, status)

	// 空 payload 返回空值而非 nil
	frame, err := d.Frame()
	assert.NoError(t, err)
	assert.Equal(t, &Response{Flags: 0, Seq: 3, Data: []byte{}}, frame)
}

func TestDecodeBadHelloPayload(t *testing.T) {
	var buf Buffer
	_, err := AppendHello(&buf, 0, 0, []byte("no-separator"))
	assert.NoError(t, err)

	var d DecodeBuffer
	status := decodeAll(t, &d, buf.Bytes(0))
	assert.Equal(t, DecodeComplete, status)

	_, err = d.Frame()
	assert.ErrorIs(t, err, ErrBadHelloPayload)
}

func TestDecodeFrameOnIncomplete(t *testing.T) {
	var d DecodeBuffer
	status, consumed := d.Read([]byte{0x02, 0x00})
	assert.Equal(t, DecodeNeedsMore, status)
	assert.Equal(t, 2, consumed)

	_, err := d.Frame()
	assert.ErrorIs(t, err, ErrIncomplete)
}
