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

const (
	// InitialBufferSize Reset 之后 Buffer 的初始容量
	InitialBufferSize = 512 * 1024

	// BigBufferSize 容量超过该阈值的 Buffer 在 Reset 时会被回收至初始容量
	//
	// 长链接的 Buffer 生命周期与链接一致 如果某次突发流量将其撑大
	// 不回收的话这块内存会一直被持有
	BigBufferSize = 2 * 1024 * 1024
)

// Buffer 可增长的字节缓冲区
//
// 持有自己的底层存储 length <= capacity 恒成立
// 被 StreamHandler 用作编码输出缓冲以及解码暂存区
type Buffer struct {
	data []byte
	n    int
}

// Len 返回当前有效字节数
func (b *Buffer) Len() int {
	return b.n
}

// Cap 返回当前容量
func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Bytes 返回 [from, length) 区间的字节视图
//
// 视图在下一次写操作前有效 调用方不允许修改
func (b *Buffer) Bytes(from int) []byte {
	return b.data[from:b.n]
}

// Reset 逻辑清空 Buffer
//
// 容量超过 BigBufferSize 时重新分配为 InitialBufferSize
// 避免突发流量后一直持有大块内存
func (b *Buffer) Reset() {
	if cap(b.data) > BigBufferSize {
		b.data = make([]byte, 0, InitialBufferSize)
	}
	b.data = b.data[:0]
	b.n = 0
}

// Append 追加 p 至 Buffer 末尾
//
// 容量不足时增长至 max(2*(length+len(p)), capacity)
func (b *Buffer) Append(p []byte) int {
	need := b.n + len(p)
	if need > cap(b.data) {
		grow := need * 2
		if grow < cap(b.data) {
			grow = cap(b.data)
		}
		data := make([]byte, b.n, grow)
		copy(data, b.data[:b.n])
		b.data = data
	}
	b.data = b.data[:need]
	copy(b.data[b.n:], p)
	b.n = need
	return len(p)
}

// Compact 将 [from, length) 区间平移至起始位置
//
// 用于长期存活的输出缓冲被部分消费之后回收头部空间
func (b *Buffer) Compact(from int) {
	if from <= 0 {
		return
	}
	if from >= b.n {
		b.data = b.data[:0]
		b.n = 0
		return
	}
	copy(b.data, b.data[from:b.n])
	b.n -= from
	b.data = b.data[:b.n]
}
