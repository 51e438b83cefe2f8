// Copyright (C) 2019-2020 Zilliz. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package retry

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/formpack-go/pkg/log"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return file + ":" + strconv.Itoa(line)
}

func (c *config) backOff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.sleep),
		backoff.WithMaxInterval(c.maxSleepTime),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0.2),
		backoff.WithMaxElapsedTime(0),
	)
	var b backoff.BackOff = eb
	if c.attempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(c.attempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Do 使用指数退避重试执行 fn。
// fn 返回 Unrecoverable 包装的错误，或 RetryErr 判定不可重试时立即返回。
// ctx 结束时返回最后一次 fn 的错误。
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	logger := log.Ctx(ctx)
	c := newDefaultConfig()
	for _, opt := range opts {
		opt(c)
	}

	caller := getCaller(2)
	var (
		lastErr error
		retried uint
	)
	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRecoverable(err) {
			logger.Warn("retry func failed, not be recoverable",
				zap.Uint("retried", retried),
				zap.Uint("attempt", c.attempts),
				zap.String("caller", caller),
				zap.Error(err))
			return backoff.Permanent(err)
		}
		if c.isRetryErr != nil && !c.isRetryErr(err) {
			logger.Warn("retry func failed, not be retryable",
				zap.Uint("retried", retried),
				zap.Uint("attempt", c.attempts),
				zap.String("caller", caller),
				zap.Error(err))
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}
	notify := func(err error, next time.Duration) {
		if retried%4 == 0 {
			logger.Warn("retry func failed",
				zap.Uint("retried", retried),
				zap.Duration("next", next),
				zap.String("caller", caller),
				zap.Error(err))
		}
		retried++
	}

	err := backoff.RetryNotify(operation, c.backOff(ctx), notify)
	if err == nil {
		return nil
	}
	if merr.IsCanceledOrTimeout(err) && lastErr != nil {
		logger.Warn("retry func failed, ctx done",
			zap.Uint("retried", retried),
			zap.String("caller", caller))
		return lastErr
	}
	return err
}

// errUnrecoverable 表示不可恢复错误的标记实例。
var errUnrecoverable = errors.New("unrecoverable error")

// Unrecoverable 将错误包装为不可恢复错误，使重试逻辑能够快速返回。
func Unrecoverable(err error) error {
	return merr.Combine(err, errUnrecoverable)
}

// IsRecoverable 判断给定错误是否为“可恢复”错误。
func IsRecoverable(err error) bool {
	return !errors.Is(err, errUnrecoverable)
}
