// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dill implements a cooperative, single-threaded concurrency
// runtime built around unbuffered rendezvous channels.
//
// Tasks are scheduled cooperatively: exactly one task runs at a time and
// control changes hands only at blocking operations. A channel is a pair
// of half-channels addressed by integer handles; a send and a receive meet
// in a single direct copy between the two callers' buffers, with no
// intermediate storage. Multi-way waiting over several channel operations
// is provided by Choose.
//
// All blocking operations take a deadline in milliseconds on the clock
// returned by Now: 0 means "do not block", a negative deadline means
// "never time out".
//
// Package dill 实现了一个协作式单线程并发运行时，核心是无缓冲的 rendezvous channel 。
// 任意时刻只有一个任务在运行，只有阻塞操作才会交出控制权。
package dill

import "errors"

// Errors returned by the runtime. They mirror the errno values the
// operations would carry on a POSIX surface.
// 运行时返回的错误值，对应 POSIX 的 errno 。
var (
	ErrBadHandle    = errors.New("bad handle")                // EBADF	// 句柄不存在
	ErrBrokenPipe   = errors.New("broken pipe")               // EPIPE	// 该方向已经终止
	ErrCanceled     = errors.New("operation canceled")        // ECANCELED	// 当前任务正在被取消
	ErrInvalid      = errors.New("invalid argument")          // EINVAL	// 非法参数
	ErrMessageSize  = errors.New("message size mismatch")     // EMSGSIZE	// 两端的消息长度不一致
	ErrNotSupported = errors.New("operation not supported")   // ENOTSUP	// 对象不支持该操作
	ErrTimedOut     = errors.New("deadline reached")          // ETIMEDOUT	// 截止时间已到
)

// throw reports a state the API contract rules out. It is the analog of
// the runtime's throw: the caller has corrupted the scheduler and there is
// no way to continue.
// throw 对应 runtime 的 throw ：调度器状态已被破坏，无法继续。
func throw(s string) {
	panic("dill: " + s)
}
