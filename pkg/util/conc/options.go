// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	"time"

	ants "github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lk2023060901/formpack-go/pkg/log"
)

type poolOption struct {
	// nonBlocking 为 true 时，协程池已满会让 Submit 立即失败。
	nonBlocking bool
	// expiry 为空闲 worker 的回收间隔，0 使用 ants 的默认值。
	expiry time.Duration
	// concealPanic 为 true 时任务 panic 只记录日志，错误通过 Future 返回。
	concealPanic bool
	onPanic      func(any)
	preHandler   func()
	logger       *log.MLogger
}

func defaultPoolOption() *poolOption {
	return &poolOption{}
}

func (opt *poolOption) antsOptions() []ants.Option {
	result := []ants.Option{
		ants.WithNonblocking(opt.nonBlocking),
		ants.WithPanicHandler(opt.handlePanic),
	}
	if opt.expiry > 0 {
		result = append(result, ants.WithExpiryDuration(opt.expiry))
	}
	return result
}

// handlePanic 在 worker 协程中执行，此时 Future 已经记录了 panic 信息。
func (opt *poolOption) handlePanic(v any) {
	if opt.onPanic != nil {
		opt.onPanic(v)
		return
	}
	logger := opt.logger
	if logger == nil {
		logger = log.With(log.FieldComponent("conc"))
	}
	logger.Error("task panicked", zap.Any("panic", v), zap.Stack("stack"))
	if !opt.concealPanic {
		panic(v)
	}
}

// PoolOption 用于配置协程池行为的选项函数。
type PoolOption func(opt *poolOption)

func WithNonBlocking(v bool) PoolOption {
	return func(opt *poolOption) {
		opt.nonBlocking = v
	}
}

func WithExpiryDuration(d time.Duration) PoolOption {
	return func(opt *poolOption) {
		opt.expiry = d
	}
}

func WithConcealPanic(v bool) PoolOption {
	return func(opt *poolOption) {
		opt.concealPanic = v
	}
}

// WithPanicHandler 设置任务 panic 时的处理函数，替换默认的记录日志并重新 panic 的行为。
func WithPanicHandler(fn func(any)) PoolOption {
	return func(opt *poolOption) {
		opt.onPanic = fn
	}
}

// WithPreHandler 设置每个任务执行前调用的函数。
func WithPreHandler(fn func()) PoolOption {
	return func(opt *poolOption) {
		opt.preHandler = fn
	}
}

// WithLogger 设置记录 panic 的日志实例。
func WithLogger(l *log.MLogger) PoolOption {
	return func(opt *poolOption) {
		opt.logger = l
	}
}
