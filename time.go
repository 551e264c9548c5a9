// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dill

import "time"

// Timers are clauses kept in a binary min-heap ordered by expiry, with the
// heap index stored on the clause so removal is O(log n) from any position.
// The scheduler fires due timers before picking the next task and sleeps
// until the nearest expiry when idle.
//
// 定时器即挂在最小堆中的 clause ，堆按到期时间排序，clause 记录自己的堆下标，
// 因而可以在任意位置 O(log n) 摘除。

var clockzero = time.Now()

// Now returns the runtime clock in milliseconds. The clock is monotonic
// and starts near zero; deadlines passed to blocking operations are
// absolute values of this clock.
// Now 返回运行时时钟，单位毫秒；传给阻塞操作的 deadline 均为该时钟的绝对值。
func Now() int64 {
	return int64(time.Since(clockzero) / time.Millisecond)
}

// timer registers cl with the current task and arms it to fire at
// deadline. A fired timer triggers with a nil status; the caller maps the
// timer's id to its own result.
// timer 将 cl 注册到当前任务并在 deadline 触发；触发状态为 nil ，
// 由调用方根据 id 自行映射结果。
func timer(cl *clause, id int, deadline int64) {
	cl.when = deadline
	waitfor(cl, id, timercancel)
	timerpush(cl)
}

func timercancel(cl *clause) {
	timerdel(cl)
}

// timerpush 将 cl 加入堆并上浮。
func timerpush(cl *clause) {
	cl.ti = len(sched.timers)
	sched.timers = append(sched.timers, cl)
	timersiftup(cl.ti)
}

// timerdel removes cl from the heap wherever it sits.
// timerdel 将 cl 从堆中任意位置摘除。
func timerdel(cl *clause) {
	i := cl.ti
	if i < 0 {
		return
	}
	last := len(sched.timers) - 1
	sched.timers[i] = sched.timers[last]
	sched.timers[i].ti = i
	sched.timers[last] = nil
	sched.timers = sched.timers[:last]
	if i != last {
		timersiftdown(i)
		timersiftup(i)
	}
	cl.ti = -1
}

// timersiftup 上浮
func timersiftup(i int) {
	h := sched.timers
	for i > 0 {
		p := (i - 1) / 2 // parent
		if h[p].when <= h[i].when {
			break
		}
		h[p], h[i] = h[i], h[p]
		h[p].ti = p
		h[i].ti = i
		i = p
	}
}

// timersiftdown 下沉
func timersiftdown(i int) {
	h := sched.timers
	n := len(h)
	for {
		j := 2*i + 1 // left child
		if j >= n {
			break
		}
		if j1 := j + 1; j1 < n && h[j1].when < h[j].when {
			j = j1 // right child
		}
		if h[i].when <= h[j].when {
			break
		}
		h[i], h[j] = h[j], h[i]
		h[i].ti = i
		h[j].ti = j
		i = j
	}
}

// checktimers fires every timer whose expiry has passed.
// checktimers 触发所有已到期的定时器。
func checktimers() {
	now := Now()
	for len(sched.timers) > 0 && sched.timers[0].when <= now {
		cl := sched.timers[0]
		timerdel(cl)
		trigger(cl, nil)
	}
}

// timersleep blocks the idle scheduler until the nearest timer is due.
// Nothing can happen in the meantime: there is no other thread to produce
// an event.
// timersleep 在调度器空闲时睡到最近的定时器到期；单线程下期间不会有任何事件。
func timersleep() {
	d := sched.timers[0].when - Now()
	if d > 0 {
		time.Sleep(time.Duration(d) * time.Millisecond)
	}
}

// Msleep parks the current task until the deadline. A deadline of 0
// returns at the scheduler's next pass; a negative deadline parks until
// the task is cancelled.
// Msleep 挂起当前任务直到 deadline ；负的 deadline 表示一直挂起到任务被取消。
func Msleep(deadline int64) error {
	if err := canblock(); err != nil {
		return err
	}
	var tcl clause
	if deadline >= 0 {
		timer(&tcl, 0, deadline)
	}
	id, err := wait()
	if id == 0 {
		return nil
	}
	return err
}
