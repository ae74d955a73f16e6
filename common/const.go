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

package common

const (
	// App 应用程序名称
	App = "tokud"

	// Version 应用程序版本
	Version = "v0.0.1"

	// ReadBlockSize 单次 socket 读取的块大小
	//
	// 解码器是纯增量的 对块的切分方式没有任何要求
	// 取一个适中的值 避免为每条链接持有过大的读缓冲
	ReadBlockSize = 4096

	// OutbufSoftMax 输出缓冲的软上限
	//
	// 超过该值时 Session 会挂起生产方的发送直到缓冲被消费
	// 这是传输层策略 StreamHandler 本身不设上限
	OutbufSoftMax = 64 * 1024
)
