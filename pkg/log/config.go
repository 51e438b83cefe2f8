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
	"time"

	"github.com/uber/jaeger-client-go/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultLogMaxSize     = 300 // MB
	defaultRateMaxBalance = 60
)

// FileLogConfig 为滚动文件输出的配置。
type FileLogConfig struct {
	RootPath   string `mapstructure:"rootpath" json:"rootpath"`
	Filename   string `mapstructure:"filename" json:"filename"` // 为空时不写文件
	MaxSize    int    `mapstructure:"max-size" json:"max-size"` // MB
	MaxDays    int    `mapstructure:"max-days" json:"max-days"`
	MaxBackups int    `mapstructure:"max-backups" json:"max-backups"`
}

// Config 为日志配置，可直接由 viper 解码。
type Config struct {
	// Level 为 debug、info、warn 或 error，trace 视同 debug。
	Level string `mapstructure:"level" json:"level"`
	// Format 为 json 或 console。
	Format           string        `mapstructure:"format" json:"format"`
	DisableTimestamp bool          `mapstructure:"disable-timestamp" json:"disable-timestamp"`
	Stdout           bool          `mapstructure:"stdout" json:"stdout"`
	File             FileLogConfig `mapstructure:"file" json:"file"`

	Development       bool                `mapstructure:"development" json:"development"`
	DisableCaller     bool                `mapstructure:"disable-caller" json:"disable-caller"`
	DisableStacktrace bool                `mapstructure:"disable-stacktrace" json:"disable-stacktrace"`
	Sampling          *zap.SamplingConfig `mapstructure:"sampling" json:"sampling"`

	// RateCreditPerSecond 大于 0 时为 Rated* 日志开启全局限流。
	RateCreditPerSecond float64 `mapstructure:"rate-credit-per-second" json:"rate-credit-per-second"`
	RateMaxBalance      float64 `mapstructure:"rate-max-balance" json:"rate-max-balance"`
}

// ZapProperties 记录 Logger 的 core、输出与可调级别。
type ZapProperties struct {
	Core   zapcore.Core
	Syncer zapcore.WriteSyncer
	Level  zap.AtomicLevel

	// base 不受 Level 限制，用于派生按请求覆盖级别的 Logger。
	base *zap.Logger
}

// rateLimiter 未开启限流时返回 nil。
func (cfg *Config) rateLimiter() RateLimiter {
	if cfg.RateCreditPerSecond <= 0 {
		return nil
	}
	maxBalance := cfg.RateMaxBalance
	if maxBalance <= 0 {
		maxBalance = defaultRateMaxBalance
	}
	return utils.NewRateLimiter(cfg.RateCreditPerSecond, maxBalance)
}

func newZapEncoder(cfg *Config) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder
	if cfg.DisableTimestamp {
		encCfg.TimeKey = zapcore.OmitKey
	}
	if cfg.Format == "json" {
		return zapcore.NewJSONEncoder(encCfg)
	}
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.ConsoleSeparator = " "
	return zapcore.NewConsoleEncoder(encCfg)
}

func (cfg *Config) buildOptions(errSink zapcore.WriteSyncer) []zap.Option {
	opts := []zap.Option{zap.ErrorOutput(errSink)}
	if !cfg.DisableCaller {
		opts = append(opts, zap.AddCaller())
	}

	stackLevel := zap.ErrorLevel
	if cfg.Development {
		opts = append(opts, zap.Development())
		stackLevel = zap.WarnLevel
	}
	if !cfg.DisableStacktrace {
		opts = append(opts, zap.AddStacktrace(stackLevel))
	}

	if s := cfg.Sampling; s != nil {
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewSamplerWithOptions(core, time.Second, s.Initial, s.Thereafter, zapcore.SamplerHook(s.Hook))
		}))
	}
	return opts
}
