// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxLogKeyType struct{}

var CtxLogKey = ctxLogKeyType{}

// With 创建一个携带额外字段的子 Logger。
// 子 Logger 添加的字段不会影响父 Logger，反之亦然。
func With(fields ...zap.Field) *MLogger {
	return &MLogger{
		Logger: L().WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return newLazyWith(core, fields)
		})),
	}
}

// WithTraceID 返回一个携带 traceID 字段的上下文。
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return WithFields(ctx, zap.String("traceID", traceID))
}

// WithSpanContext 从 ctx 中的 otel span 取出 traceID/spanID 并附加到 Logger 上。
// ctx 中没有有效 span 时原样返回。
func WithSpanContext(ctx context.Context) context.Context {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ctx
	}
	return WithFields(ctx,
		zap.String("traceID", sc.TraceID().String()),
		zap.String("spanID", sc.SpanID().String()),
	)
}

// WithModule 为 ctx 中的 Logger 添加模块名字段。
func WithModule(ctx context.Context, module string) context.Context {
	return WithFields(ctx, zap.String(FieldNameModule, module))
}

// WithFields 返回一个附加了指定字段的上下文。
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, CtxLogKey, Ctx(ctx).With(fields...))
}

// Ctx 返回一个基于 ctx 附加字段输出日志的 Logger。
func Ctx(ctx context.Context) *MLogger {
	if logger, ok := FromContext(ctx); ok {
		return logger
	}
	return &MLogger{Logger: L()}
}

// FromContext 返回 ctx 上已附加的 Logger，没有时第二个返回值为 false。
func FromContext(ctx context.Context) (*MLogger, bool) {
	if ctx == nil {
		return nil, false
	}
	logger, ok := ctx.Value(CtxLogKey).(*MLogger)
	return logger, ok
}

// WithLevel 返回一个携带固定级别 Logger 的上下文，用于按请求调整日志级别。
// 之前附加在 ctx 上的字段会被丢弃。
func WithLevel(ctx context.Context, level zapcore.Level) context.Context {
	return context.WithValue(ctx, CtxLogKey, &MLogger{Logger: leveledL(level)})
}
