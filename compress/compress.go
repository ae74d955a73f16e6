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

package compress

import (
	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "toku/compress: " + format
	return errors.Errorf(format, args...)
}

// Compressor Toku payload 的压缩器
//
// 帧 flags bit0 置位时 payload 为压缩后的字节
// 是否压缩由发送方按阈值决定 接收方见位即解压
type Compressor interface {
	// Name 注册与协商使用的名称
	Name() string

	// Encode 压缩 src 并返回结果 dst 可为 nil
	Encode(dst []byte, src []byte) []byte

	// Decode 解压 src 并返回结果 dst 可为 nil
	Decode(dst []byte, src []byte) ([]byte, error)
}

var (
	registry = map[string]Compressor{}
	ordered  []string
)

// Register 注册 Compressor 实现 注册顺序即协商时的偏好顺序
func Register(c Compressor) {
	name := c.Name()
	if _, ok := registry[name]; !ok {
		ordered = append(ordered, name)
	}
	registry[name] = c
}

// Get 按名称获取 Compressor 实现
func Get(name string) (Compressor, error) {
	c, ok := registry[name]
	if !ok {
		return nil, newError("compressor (%s) not found", name)
	}
	return c, nil
}

// Names 返回已注册的 Compressor 名称 按注册顺序
func Names() []string {
	names := make([]string, len(ordered))
	copy(names, ordered)
	return names
}

// Select 从偏好列表中选出对端也支持的第一个压缩器
//
// 压缩是可选能力 选不出来返回 nil 链接以明文继续
func Select(preferred []string, supported []string) Compressor {
	for _, name := range preferred {
		for _, s := range supported {
			if s != name {
				continue
			}
			if c, ok := registry[name]; ok {
				return c
			}
		}
	}
	return nil
}
