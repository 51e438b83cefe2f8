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
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	var fe formpackError
	if errors.As(err, &fe) {
		return fe.code()
	}
	if errors.Is(err, context.Canceled) {
		return CanceledCode
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutCode
	}
	return errUnexpected.code()
}

func IsRetryableErr(err error) bool {
	var fe formpackError
	if errors.As(err, &fe) {
		return fe.retriable
	}
	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

func GetErrorType(err error) ErrorType {
	var fe formpackError
	if errors.As(err, &fe) {
		return fe.errType
	}
	return SystemError
}

// 编码相关错误封装。
func WrapErrCyclicStructure(path string, msg ...string) error {
	err := wrapFields(ErrCyclicStructure, value("path", path))
	return withMsg(err, msg)
}

func WrapErrUnsupportedValue(path string, typeName string, msg ...string) error {
	err := wrapFields(ErrUnsupportedValue,
		value("path", path),
		value("type", typeName),
	)
	return withMsg(err, msg)
}

// 解码相关错误封装。
func WrapErrTransportParse(cause error, msg ...string) error {
	err := wrapFieldsWithDesc(ErrTransportParse, causeDesc(cause))
	return withMsg(err, msg)
}

func WrapErrSizeLimit(what string, size, limit int64, msg ...string) error {
	err := wrapFields(ErrSizeLimit,
		value("what", what),
		value("size", size),
		value("limit", limit),
	)
	return withMsg(err, msg)
}

func WrapErrJSONParse(cause error, msg ...string) error {
	err := wrapFieldsWithDesc(ErrJSONParse, causeDesc(cause))
	return withMsg(err, msg)
}

// MarkErrMapping 保留回调返回的原始错误（错误信息不变），
// 同时使 errors.Is(err, ErrMapping) 成立。
func MarkErrMapping(cause error) error {
	if cause == nil {
		return nil
	}
	return errors.Mark(cause, ErrMapping)
}

func WrapErrEnvelopeInvalid(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrEnvelopeInvalid, reason)
	return withMsg(err, msg)
}

func WrapErrStaging(path string, cause error, msg ...string) error {
	err := wrapFieldsWithDesc(ErrStaging, causeDesc(cause), value("path", path))
	return withMsg(err, msg)
}

func WrapErrTransportSend(url string, cause error, msg ...string) error {
	err := wrapFieldsWithDesc(ErrTransportSend, causeDesc(cause), value("url", url))
	return withMsg(err, msg)
}

// 参数相关错误封装。
func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		value("expected", expected),
		value("actual", actual),
	)
	return withMsg(err, msg)
}

func WrapErrParameterInvalidMsg(fmtMsg string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmtMsg, args...)
}

// withMsg 把调用方补充的说明用 "->" 连接后包在 err 外层。
func withMsg(err error, msg []string) error {
	if len(msg) == 0 {
		return err
	}
	return errors.Wrap(err, strings.Join(msg, "->"))
}

func causeDesc(cause error) string {
	if cause == nil {
		return "unknown"
	}
	return cause.Error()
}

func wrapFields(err formpackError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err formpackError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}
