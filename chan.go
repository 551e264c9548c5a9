// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dill

// This file contains the implementation of rendezvous channels.
//
// Invariants:
//  At least one of a half-channel's in and out queues is empty, except
//  when a single task has parked on both directions of the pair using
//  Choose; it cannot rendezvous with itself, so both queues may hold its
//  clauses until a peer arrives.
//
//  A parked clause is linked in exactly one queue; trigger and the cancel
//  callbacks unlink it before its owner resumes.
//
// 不变式：
//  半端的 in 和 out 队列至少有一个为空；唯一的例外是同一个任务通过 Choose
//  同时挂在一对 channel 的两个方向上 —— 它无法与自己会合。
//  parked clause 恰好挂在一个队列中；trigger 与 cancel 回调保证在任务恢复前
//  将其摘除。

const debugChan = false

// A halfchan is one endpoint of a channel pair, the unit addressed by a
// handle. Sending through a half delivers into its peer: a send on h
// rendezvouses with a receiver parked on peer(h).in, or parks on
// peer(h).out; a receive on h rendezvouses with a sender parked on h.out,
// or parks on h.in.
//
// halfchan 是 channel 对的一个端点。发送方向指向对端：
// 在 h 上发送与挂在 peer(h).in 的接收者会合，否则挂入 peer(h).out ；
// 在 h 上接收与挂在 h.out 的发送者会合，否则挂入 h.in 。
type halfchan struct {
	in       clauseq // receivers parked on this half				// 挂在本端的接收者
	out      clauseq // senders delivering into this half			// 向本端投递的发送者
	index    int     // which half of the pair, 0 or 1				// 本端在 pair 中的下标
	sendDone bool    // sends into this half fail from now on		// 置位后不再接受投递
	mem      bool    // pair storage is caller-supplied				// 存储由调用方提供
	closed   bool    // this half's handle has been closed			// 本端句柄已关闭
	pair     *ChanStorage
}

// ChanStorage holds a channel pair. Callers that want to control the
// pair's allocation pass one to ChMakeMem; it must stay untouched until
// both halves have been closed.
// ChanStorage 承载一对半端；通过 ChMakeMem 使用时，在两端都关闭前不得改动。
type ChanStorage struct {
	halves [2]halfchan
}

var chanType = &htype{"chan"}

// peer 返回同一 pair 中的另一个半端。
func (hc *halfchan) peer() *halfchan {
	return &hc.pair.halves[hc.index^1]
}

func (hc *halfchan) query(tp *htype) any {
	if tp == chanType {
		return hc
	}
	return nil
}

// done poisons the direction flowing out of this half: the peer stops
// accepting deliveries and everything parked on it is woken with
// ErrBrokenPipe. The opposite direction is unaffected. Idempotent at the
// observable level: a second done fails with ErrBrokenPipe itself.
// done 毒化本端的发送方向：对端不再接受投递，挂在对端的所有 clause 以
// ErrBrokenPipe 唤醒；反方向不受影响。
func (hc *halfchan) done(deadline int64) error {
	peer := hc.peer()
	if peer.sendDone {
		return ErrBrokenPipe
	}
	peer.sendDone = true
	chandrain(peer)
	return nil
}

// close implements the two-phase destruction of the pair. The first close
// only marks its half: tasks holding the peer handle may still be using
// the channel, and waking their clauses now would poison a live channel
// under them. The second close drains every parked clause on both halves
// with ErrBrokenPipe and lets the pair go.
// close 实现两阶段析构：第一次 close 只打标记 —— 对端句柄的持有者可能仍在
// 正常使用 channel ；第二次 close 以 ErrBrokenPipe 唤醒两端的全部 clause 。
func (hc *halfchan) close() {
	hc.closed = true
	if !hc.peer().closed {
		return
	}
	p := hc.pair
	chandrain(&p.halves[0])
	chandrain(&p.halves[1])
}

// chandrain wakes everything parked on hc with ErrBrokenPipe.
// chandrain 以 ErrBrokenPipe 唤醒挂在 hc 上的所有 clause 。
func chandrain(hc *halfchan) {
	for cl := hc.in.dequeue(); cl != nil; cl = hc.in.dequeue() {
		trigger(cl, ErrBrokenPipe)
	}
	for cl := hc.out.dequeue(); cl != nil; cl = hc.out.dequeue() {
		trigger(cl, ErrBrokenPipe)
	}
}

// chmake initialises the pair in mem and registers both halves.
// chmake 在 mem 中初始化一对半端并注册句柄。
func chmake(mem *ChanStorage, inplace bool) (Handle, Handle, error) {
	if err := canblock(); err != nil {
		return -1, -1, err
	}
	if mem == nil {
		return -1, -1, ErrInvalid
	}
	*mem = ChanStorage{}
	for i := range mem.halves {
		hc := &mem.halves[i]
		hc.index = i
		hc.mem = inplace
		hc.pair = mem
	}
	h0 := hmake(&mem.halves[0])
	h1 := hmake(&mem.halves[1])
	if debugChan {
		println("chmake: pair=", mem, "h0=", int(h0), "h1=", int(h1))
	}
	return h0, h1, nil
}

// ChMake creates a channel and returns the handles of its two halves.
// Either both handles are valid or the call fails with no effect.
// ChMake 创建一个 channel 并返回两个半端的句柄；要么两个句柄都有效，要么
// 调用无任何副作用地失败。
func ChMake() (Handle, Handle, error) {
	return chmake(new(ChanStorage), false)
}

// ChMakeMem is like ChMake but builds the pair in caller-supplied storage.
// ChMakeMem 与 ChMake 相同，但使用调用方提供的存储。
func ChMakeMem(mem *ChanStorage) (Handle, Handle, error) {
	return chmake(mem, true)
}

// chanquery 鉴别句柄并取出半端。
func chanquery(h Handle) (*halfchan, error) {
	obj, err := hquery(h, chanType)
	if err != nil {
		return nil, err
	}
	return obj.(*halfchan), nil
}

// ChSend sends the bytes of buf through h and returns once a receiver has
// taken them. The payload is copied exactly once, directly into the
// receiver's buffer; the two buffers must be the same length or both
// sides fail with ErrMessageSize. buf is borrowed until ChSend returns.
//
// A deadline of 0 tries only the immediate rendezvous; note that it still
// succeeds against an already parked receiver.
//
// ChSend 通过 h 发送 buf ，接收者取走后返回。载荷只拷贝一次，直接写入接收者
// 的缓冲区；两端长度必须一致，否则双方都以 ErrMessageSize 失败。
// deadline 为 0 时只尝试立即会合 —— 对已挂起的接收者依然会成功。
func ChSend(h Handle, buf []byte, deadline int64) error {
	if err := canblock(); err != nil {
		return err
	}
	hc, err := chanquery(h)
	if err != nil {
		return err
	}
	target := hc.peer()
	if target.sendDone {
		return ErrBrokenPipe
	}

	// Fast path: a receiver is parked, rendezvous right now.
	// 快速路径：已有接收者挂起，立即会合。
	if cl := target.in.dequeue(); cl != nil {
		if len(cl.buf) != len(buf) {
			trigger(cl, ErrMessageSize)
			return ErrMessageSize
		}
		copy(cl.buf, buf)
		trigger(cl, nil)
		return nil
	}

	if deadline == 0 {
		return ErrTimedOut
	}

	// Slow path: park on the peer's sender queue. Some receiver will
	// complete our operation for us.
	// 慢速路径：挂入对端的发送队列，由到来的接收者完成本次操作。
	var scl clause
	scl.buf = buf
	target.out.enqueue(&scl)
	waitfor(&scl, 0, func(c *clause) { target.out.remove(c) })
	var tcl clause
	if deadline > 0 {
		timer(&tcl, 1, deadline)
	}
	id, err := wait()
	if id == 1 {
		return ErrTimedOut
	}
	return err
}

// ChRecv receives a payload from h into buf. Symmetric to ChSend: it
// rendezvouses with a sender parked on h.out or parks on h.in.
// ChRecv 从 h 接收载荷到 buf ，与 ChSend 对称。
func ChRecv(h Handle, buf []byte, deadline int64) error {
	if err := canblock(); err != nil {
		return err
	}
	hc, err := chanquery(h)
	if err != nil {
		return err
	}
	if hc.sendDone {
		return ErrBrokenPipe
	}

	// Fast path: a sender is parked, take its payload directly.
	// 快速路径：已有发送者挂起，直接取走其载荷。
	if cl := hc.out.dequeue(); cl != nil {
		if len(cl.buf) != len(buf) {
			trigger(cl, ErrMessageSize)
			return ErrMessageSize
		}
		copy(buf, cl.buf)
		trigger(cl, nil)
		return nil
	}

	if deadline == 0 {
		return ErrTimedOut
	}

	// Slow path: park on this half's receiver queue.
	// 慢速路径：挂入本端的接收队列。
	var rcl clause
	rcl.buf = buf
	hc.in.enqueue(&rcl)
	waitfor(&rcl, 0, func(c *clause) { hc.in.remove(c) })
	var tcl clause
	if deadline > 0 {
		timer(&tcl, 1, deadline)
	}
	id, err := wait()
	if id == 1 {
		return ErrTimedOut
	}
	return err
}
