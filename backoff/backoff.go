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

package backoff

import (
	"math"
	"math/rand"
	"time"
)

const (
	// DefaultMinDelay 默认起始延迟
	DefaultMinDelay = 500 * time.Millisecond

	// maxDelayFactor max 未指定时为 min 的倍数
	maxDelayFactor = 10
)

// Backoff 重连场景使用的指数退避
//
// fail 的步长为 current*2 抖动开启时步长再乘以 [0,1) 的随机数
// 步长是加在 current 之上而非覆盖 因此即便有抖动
// 连续失败时依旧保有增长下限 current 始终被钳制在 [min, max]
//
// 实例不做并发保护 预期由单个重连循环持有
type Backoff struct {
	min    float64
	max    float64
	jitter bool

	current float64
	fails   int
}

// Option Backoff 可选参数
type Option func(*Backoff)

// WithMaxDelay 指定延迟上限
func WithMaxDelay(d time.Duration) Option {
	return func(b *Backoff) {
		b.max = d.Seconds()
	}
}

// WithoutJitter 关闭抖动 退避序列变为确定性的
func WithoutJitter() Option {
	return func(b *Backoff) {
		b.jitter = false
	}
}

// New 创建并返回 Backoff 实例
//
// max 未指定时取 min 的 10 倍
func New(min time.Duration, opts ...Option) *Backoff {
	if min <= 0 {
		min = DefaultMinDelay
	}
	b := &Backoff{
		min:    min.Seconds(),
		jitter: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.max <= 0 {
		b.max = b.min * maxDelayFactor
	}
	b.current = b.min
	return b
}

// Fails 返回连续失败次数
func (b *Backoff) Fails() int {
	return b.fails
}

// Current 返回当前延迟
func (b *Backoff) Current() time.Duration {
	return time.Duration(b.current * float64(time.Second))
}

// Succeed 成功后重置 延迟回到 min
func (b *Backoff) Succeed() {
	b.fails = 0
	b.current = b.min
}

// Fail 记录一次失败并返回下一次重试前的等待时长
func (b *Backoff) Fail() time.Duration {
	b.fails++

	step := b.current * 2
	if b.jitter {
		step *= rand.Float64()
	}
	b.current += step

	if b.current > b.max {
		b.current = b.max
	}
	// 保留两位小数 与时间轮盘粒度对齐
	b.current = math.Round(b.current*100) / 100
	return b.Current()
}
