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

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// 叶子错误统一定义在这里。
// WARN: 新增错误前请先确认下面已有的错误是否可以复用。
// 命名规则：Err + 相关前缀 + 错误名
var (
	// 编码（pack）相关
	ErrCyclicStructure  = newFormpackError("cyclic structure", 100, false, WithErrorType(InputError))
	ErrUnsupportedValue = newFormpackError("unsupported value", 101, false, WithErrorType(InputError))

	// 解码（unpack）相关
	ErrTransportParse = newFormpackError("transport parse failed", 200, false, WithErrorType(InputError))
	ErrSizeLimit      = newFormpackError("size limit exceeded", 201, false, WithErrorType(InputError))
	ErrJSONParse      = newFormpackError("json parse failed", 202, false, WithErrorType(InputError))

	// mapFiles 回调
	ErrMapping = newFormpackError("map files callback failed", 300, false)

	// Envelope 相关
	ErrEnvelopeInvalid = newFormpackError("invalid envelope", 400, false)

	// 暂存（staging）相关
	ErrStaging = newFormpackError("staging failed", 500, true)

	// 传输（发送端）相关
	ErrTransportSend = newFormpackError("transport send failed", 600, true)

	// 参数相关
	ErrParameterInvalid = newFormpackError("invalid parameter", 1100, false, WithErrorType(InputError))

	// 不要导出，仅用于把未知错误转换成 formpackError
	errUnexpected = newFormpackError("unexpected error", (1<<16)-1, false)
)

type errorOption func(*formpackError)

func WithDetail(detail string) errorOption {
	return func(err *formpackError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *formpackError) {
		err.errType = etype
	}
}

type formpackError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
}

func newFormpackError(msg string, code int32, retriable bool, options ...errorOption) formpackError {
	err := formpackError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e formpackError) code() int32 {
	return e.errCode
}

func (e formpackError) Error() string {
	return e.msg
}

func (e formpackError) Detail() string {
	return e.detail
}

func (e formpackError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(formpackError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// 多个错误的 cause 定义为最后一个错误，merr 的判断依赖于此
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
