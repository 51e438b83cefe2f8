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

type future interface {
	wait()
	OK() bool
	Err() error
}

// Future 是异步任务的结果，只能在任务结束后读取。
type Future[T any] struct {
	ch    chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{
		ch: make(chan struct{}),
	}
}

func (future *Future[T]) wait() {
	<-future.ch
}

// Await 阻塞直到任务完成，返回结果与错误。
func (future *Future[T]) Await() (T, error) {
	future.wait()
	return future.value, future.err
}

// Value 阻塞直到任务完成，仅返回结果。
func (future *Future[T]) Value() T {
	future.wait()
	return future.value
}

// OK 阻塞直到任务完成，返回任务是否成功。
func (future *Future[T]) OK() bool {
	future.wait()
	return future.err == nil
}

// Err 阻塞直到任务完成，返回任务错误。
func (future *Future[T]) Err() error {
	future.wait()
	return future.err
}

// AwaitAll 等待所有 future 结束，返回第一个（按参数顺序）出现的错误。
// 无论是否出错，都会等待全部 future 完成。
func AwaitAll[T future](futures ...T) error {
	var first error
	for i := range futures {
		if err := futures[i].Err(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// BlockOnAll 与 AwaitAll 相同，但返回所有错误的组合。
func BlockOnAll[T future](futures ...T) []error {
	var errs []error
	for i := range futures {
		if err := futures[i].Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
