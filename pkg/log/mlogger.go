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

package log

import (
	"sync"
	"sync/atomic"

	"github.com/uber/jaeger-client-go/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MLogger 在 zap.Logger 的基础上增加按分组限流的日志能力。
type MLogger struct {
	*zap.Logger
	rl atomic.Value // RateLimiter
}

// With 返回携带额外字段的新 MLogger，字段在第一次真正写日志时才编码。
// 新实例继承当前实例的限流分组。
func (l *MLogger) With(fields ...zap.Field) *MLogger {
	nl := &MLogger{
		Logger: l.Logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return newLazyWith(core, fields)
		})),
	}
	if rl := l.rl.Load(); rl != nil {
		nl.rl.Store(rl)
	}
	return nl
}

// WithComponent 是 With(FieldComponent(name)) 的简写。
func (l *MLogger) WithComponent(name string) *MLogger {
	return l.With(FieldComponent(name))
}

// WithRateGroup 把当前实例绑定到名为 groupName 的限流器上，同名分组共享额度，
// 后一次调用的参数会覆盖之前的配置。
func (l *MLogger) WithRateGroup(groupName string, creditPerSecond, maxBalance float64) *MLogger {
	rl := utils.NewRateLimiter(creditPerSecond, maxBalance)
	if actual, loaded := _namedRateLimiters.LoadOrStore(groupName, rl); loaded {
		rl = actual.(*utils.ReconfigurableRateLimiter)
		rl.Update(creditPerSecond, maxBalance)
	}
	l.rl.Store(RateLimiter(rl))
	return l
}

func (l *MLogger) limiter() RateLimiter {
	if rl, ok := l.rl.Load().(RateLimiter); ok {
		return rl
	}
	return R()
}

// RatedDebug 在额度足够时输出 Debug 日志并返回 true。
func (l *MLogger) RatedDebug(cost float64, msg string, fields ...zap.Field) bool {
	return l.rated(zapcore.DebugLevel, cost, msg, fields)
}

// RatedInfo 在额度足够时输出 Info 日志并返回 true。
func (l *MLogger) RatedInfo(cost float64, msg string, fields ...zap.Field) bool {
	return l.rated(zapcore.InfoLevel, cost, msg, fields)
}

// RatedWarn 在额度足够时输出 Warn 日志并返回 true。
func (l *MLogger) RatedWarn(cost float64, msg string, fields ...zap.Field) bool {
	return l.rated(zapcore.WarnLevel, cost, msg, fields)
}

func (l *MLogger) rated(level zapcore.Level, cost float64, msg string, fields []zap.Field) bool {
	if !l.limiter().CheckCredit(cost) {
		return false
	}
	// 跳过 rated 与 Rated* 两层调用。
	if ce := l.WithOptions(zap.AddCallerSkip(2)).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
	return true
}

// lazyWithCore 推迟 core.With 的字段编码，直到 core 第一次被使用。
// 参考 https://github.com/uber-go/zap/issues/1426。
type lazyWithCore struct {
	core   atomic.Pointer[zapcore.Core]
	once   sync.Once
	fields []zapcore.Field
}

var _ zapcore.Core = (*lazyWithCore)(nil)

func newLazyWith(core zapcore.Core, fields []zapcore.Field) zapcore.Core {
	c := &lazyWithCore{fields: fields}
	c.core.Store(&core)
	return c
}

func (c *lazyWithCore) load() zapcore.Core {
	c.once.Do(func() {
		withFields := (*c.core.Load()).With(c.fields)
		c.core.Store(&withFields)
	})
	return *c.core.Load()
}

// Enabled 只读取级别，不触发字段编码。
func (c *lazyWithCore) Enabled(level zapcore.Level) bool {
	return (*c.core.Load()).Enabled(level)
}

func (c *lazyWithCore) With(fields []zapcore.Field) zapcore.Core {
	return c.load().With(fields)
}

func (c *lazyWithCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return c.load().Check(e, ce)
}

func (c *lazyWithCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.load().Write(entry, fields)
}

func (c *lazyWithCore) Sync() error {
	return c.load().Sync()
}

var (
	_ WithLogger   = (*Binder)(nil)
	_ LoggerBinder = (*Binder)(nil)
)

// WithLogger 由持有本地 Logger 的组件实现。
type WithLogger interface {
	Logger() *MLogger
}

// LoggerBinder 由允许注入 Logger 的组件实现。
type LoggerBinder interface {
	SetLogger(logger *MLogger)
}

// Binder 嵌入到长期存在的组件（Packer、Unpacker 等）中，保存注入的 Logger。
type Binder struct {
	logger atomic.Pointer[MLogger]
}

func (b *Binder) SetLogger(logger *MLogger) {
	b.logger.Store(logger)
}

// Logger 返回注入的 Logger，未注入时返回全局 Logger。
func (b *Binder) Logger() *MLogger {
	if l := b.logger.Load(); l != nil {
		return l
	}
	return With()
}
