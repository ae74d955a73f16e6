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

package codec

import (
	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "toku/codec: " + format
	return errors.Errorf(format, args...)
}

// ErrNoCodec 双方没有可协商的编码
var ErrNoCodec = newError("no mutual codec available")

// Codec Toku payload 的编解码器
//
// 握手阶段双方以名称协商 此后所有 Request/Response/Push
// 的 payload 均经由选中的 Codec 编解码
type Codec interface {
	// Name 注册与协商使用的名称
	Name() string

	// Marshal 编码 v 为字节
	Marshal(v any) ([]byte, error)

	// Unmarshal 解码字节至 v
	Unmarshal(b []byte, v any) error
}

var (
	registry = map[string]Codec{}
	ordered  []string
)

// Register 注册 Codec 实现 注册顺序即协商时的偏好顺序
func Register(c Codec) {
	name := c.Name()
	if _, ok := registry[name]; !ok {
		ordered = append(ordered, name)
	}
	registry[name] = c
}

// Get 按名称获取 Codec 实现
func Get(name string) (Codec, error) {
	c, ok := registry[name]
	if !ok {
		return nil, newError("codec (%s) not found", name)
	}
	return c, nil
}

// Names 返回已注册的 Codec 名称 按注册顺序
func Names() []string {
	names := make([]string, len(ordered))
	copy(names, ordered)
	return names
}

// Select 从客户端偏好列表中选出服务端也支持的第一个编码
//
// supported 为空时退化为本地注册表
func Select(preferred []string, supported []string) (Codec, error) {
	match := func(name string) bool {
		if len(supported) == 0 {
			_, ok := registry[name]
			return ok
		}
		for _, s := range supported {
			if s == name {
				return true
			}
		}
		return false
	}

	for _, name := range preferred {
		if !match(name) {
			continue
		}
		if c, ok := registry[name]; ok {
			return c, nil
		}
	}
	return nil, ErrNoCodec
}
