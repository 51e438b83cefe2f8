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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 请求级别覆盖可用的级别，顺序即 Sync 的顺序。
var leveled = []zapcore.Level{
	zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel,
}

// globals 是一次 ReplaceGlobals 之后的完整全局状态，整体替换。
type globals struct {
	logger  *zap.Logger
	sugar   *zap.SugaredLogger
	props   *ZapProperties
	byLevel map[zapcore.Level]*zap.Logger
}

var (
	_globals           atomic.Pointer[globals]
	_globalR           atomic.Value // limiterBox
	_namedRateLimiters sync.Map
)

// RateLimiter 是限流日志所依赖的最小接口。
type RateLimiter interface {
	CheckCredit(delta float64) bool
}

type nopRateLimiter struct{}

// limiterBox 让 atomic.Value 始终存放同一具体类型。
type limiterBox struct{ RateLimiter }

func (nopRateLimiter) CheckCredit(float64) bool { return true }

func init() {
	_globalR.Store(limiterBox{nopRateLimiter{}})
	lg, props, err := InitLogger(&Config{Level: "info", Stdout: true, Format: "console"}, zap.OnFatal(zapcore.WriteThenPanic))
	if err != nil {
		panic(err)
	}
	ReplaceGlobals(lg, props)
	if rl := rateLimiterFromEnv(); rl != nil {
		_globalR.Store(limiterBox{rl})
	}
}

// InitLogger 根据配置创建 Logger，输出到文件和/或标准输出。
// 返回的 Logger 级别受 ZapProperties.Level 控制，请求级别覆盖不受其限制。
func InitLogger(cfg *Config, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	output, err := openOutputs(cfg)
	if err != nil {
		return nil, nil, err
	}

	// 底层 core 始终开在 debug，对外的级别由 AtomicLevel 单独控制。
	unlimited := *cfg
	unlimited.Level = zapcore.DebugLevel.String()
	base, props, err := InitLoggerWithWriteSyncer(&unlimited, output, opts...)
	if err != nil {
		return nil, nil, err
	}
	props.Level = zap.NewAtomicLevelAt(level)
	props.base = base

	if rl := cfg.rateLimiter(); rl != nil {
		_globalR.Store(limiterBox{rl})
	}
	lg := base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return levelGate{Core: core, level: props.Level}
	}))
	return lg, props, nil
}

// InitLoggerWithWriteSyncer 使用给定的 WriteSyncer 创建 Logger。
func InitLoggerWithWriteSyncer(cfg *Config, output zapcore.WriteSyncer, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	atom := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(newZapEncoder(cfg), output, atom)
	lg := zap.New(core, append(cfg.buildOptions(output), opts...)...)
	return lg, &ZapProperties{Core: core, Syncer: output, Level: atom}, nil
}

// levelGate 在底层 core 之上再套一层可动态调整的级别。
type levelGate struct {
	zapcore.Core
	level zap.AtomicLevel
}

func (g levelGate) Enabled(l zapcore.Level) bool {
	return g.level.Enabled(l) && g.Core.Enabled(l)
}

func (g levelGate) With(fields []zapcore.Field) zapcore.Core {
	return levelGate{Core: g.Core.With(fields), level: g.level}
}

func (g levelGate) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !g.level.Enabled(ent.Level) {
		return ce
	}
	return g.Core.Check(ent, ce)
}

func parseLevel(text string) (zapcore.Level, error) {
	if text == "" || strings.EqualFold(text, "trace") {
		return zapcore.DebugLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(text)); err != nil {
		return level, errors.Wrapf(err, "invalid log level %q", text)
	}
	return level, nil
}

func openOutputs(cfg *Config) (zapcore.WriteSyncer, error) {
	var outputs []zapcore.WriteSyncer
	if cfg.File.Filename != "" {
		lj, err := newFileWriter(&cfg.File)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, zapcore.AddSync(lj))
	}
	if cfg.Stdout || len(outputs) == 0 {
		outputs = append(outputs, zapcore.Lock(os.Stdout))
	}
	return zap.CombineWriteSyncers(outputs...), nil
}

// newFileWriter 返回按大小滚动的文件输出。
func newFileWriter(cfg *FileLogConfig) (*lumberjack.Logger, error) {
	path := cfg.Filename
	if cfg.RootPath != "" {
		path = filepath.Join(cfg.RootPath, cfg.Filename)
	}
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		return nil, errors.Newf("log file %s is a directory", path)
	}
	maxSize := cfg.MaxSize
	if maxSize == 0 {
		maxSize = defaultLogMaxSize
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxDays,
		LocalTime:  true,
	}, nil
}

func current() *globals {
	return _globals.Load()
}

// L 返回全局 Logger，并发安全。
func L() *zap.Logger {
	return current().logger
}

// S 返回全局 SugaredLogger。
func S() *zap.SugaredLogger {
	return current().sugar
}

// R 返回 Rated* 日志共用的全局限流器，未开启限流时从不丢弃。
func R() RateLimiter {
	if box, ok := _globalR.Load().(limiterBox); ok && box.RateLimiter != nil {
		return box.RateLimiter
	}
	return nopRateLimiter{}
}

// Level 返回全局日志级别，可在运行时调整。
func Level() zap.AtomicLevel {
	return current().props.Level
}

// ReplaceGlobals 替换全局 Logger。
// props 来自 InitLogger 时，按级别覆盖的 Logger 也一并更新。
func ReplaceGlobals(logger *zap.Logger, props *ZapProperties) {
	base := props.base
	if base == nil {
		base = logger
	}
	g := &globals{
		logger:  logger,
		sugar:   logger.Sugar(),
		props:   props,
		byLevel: make(map[zapcore.Level]*zap.Logger, len(leveled)),
	}
	for _, level := range leveled {
		g.byLevel[level] = base.WithOptions(zap.IncreaseLevel(level))
	}
	_globals.Store(g)
}

// leveledL 返回固定在 level 的 Logger，未知级别退回全局 Logger。
func leveledL(level zapcore.Level) *zap.Logger {
	if l, ok := current().byLevel[level]; ok {
		return l
	}
	return L()
}

// Sync 刷新所有缓冲中的日志。
func Sync() error {
	g := current()
	err := g.logger.Sync()
	for _, level := range leveled {
		err = errors.CombineErrors(err, g.byLevel[level].Sync())
	}
	return err
}

// rateLimiterFromEnv 读取 FORMPACK_LOG_RATE_* 环境变量。
// FORMPACK_LOG_RATE_ENABLE 为真时开启，额度与余额默认 1 和 60。
func rateLimiterFromEnv() RateLimiter {
	if on, _ := strconv.ParseBool(os.Getenv("FORMPACK_LOG_RATE_ENABLE")); !on {
		return nil
	}
	cfg := Config{
		RateCreditPerSecond: envFloat("FORMPACK_LOG_RATE_CREDIT_PER_SECOND", 1),
		RateMaxBalance:      envFloat("FORMPACK_LOG_RATE_MAX_BALANCE", 0),
	}
	return cfg.rateLimiter()
}

func envFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return f
}
