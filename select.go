// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dill

// This file contains the implementation of multi-way channel waits.

// Choose clause operations. The values are part of the public ABI.
// Choose 的操作类型，取值属于公开 ABI 。
type Op int

const (
	OpSend Op = 1 + iota // send the clause's buffer		// 发送
	OpRecv               // receive into the clause's buffer	// 接收
)

// A ChClause describes one branch of a Choose.
// ChClause 描述 Choose 的一个分支。
type ChClause struct {
	Ch  Handle // channel half to operate on		// 操作的半端
	Op  Op
	Buf []byte // payload source (OpSend) or destination (OpRecv)	// 载荷的来源或去处
}

// Choose waits until any one of the clauses can be performed, performs it
// and returns its index. Clauses are scanned in input order, so an earlier
// clause that is ready wins over a later one; while parked, whichever
// clause a peer resolves first wins.
//
// On a per-clause failure (bad handle, unknown op, poisoned direction,
// size mismatch) Choose returns that clause's index together with the
// error. On timeout it returns -1 and ErrTimedOut.
//
// Choose 等待任意一个分支就绪并执行之，返回其下标。扫描按输入顺序进行，
// 先就绪的靠前分支优先；挂起后由先到的对端决定胜者。
// 分支级错误随该分支的下标返回；超时返回 -1 与 ErrTimedOut 。
func Choose(clauses []ChClause, deadline int64) (int, error) {
	if err := canblock(); err != nil {
		return -1, err
	}

	// Pass 1: look for a clause that can complete right now.
	// 第一遍：寻找可以立即完成的分支。
	halves := make([]*halfchan, len(clauses))
	for i := range clauses {
		cc := &clauses[i]
		hc, err := chanquery(cc.Ch)
		if err != nil {
			return i, err
		}
		halves[i] = hc
		switch cc.Op {
		case OpSend:
			target := hc.peer()
			if target.sendDone {
				return i, ErrBrokenPipe
			}
			if cl := target.in.dequeue(); cl != nil {
				if len(cl.buf) != len(cc.Buf) {
					trigger(cl, ErrMessageSize)
					return i, ErrMessageSize
				}
				copy(cl.buf, cc.Buf)
				trigger(cl, nil)
				return i, nil
			}
		case OpRecv:
			if hc.sendDone {
				return i, ErrBrokenPipe
			}
			if cl := hc.out.dequeue(); cl != nil {
				if len(cl.buf) != len(cc.Buf) {
					trigger(cl, ErrMessageSize)
					return i, ErrMessageSize
				}
				copy(cc.Buf, cl.buf)
				trigger(cl, nil)
				return i, nil
			}
		default:
			return i, ErrInvalid
		}
	}

	// The timeout check comes after the scan: an immediate match beats a
	// zero deadline.
	// 超时检查放在扫描之后：能立即会合就不报超时。
	if deadline == 0 {
		return -1, ErrTimedOut
	}

	// Pass 2: park on every queue at once. Each clause carries its input
	// index; whichever is triggered first resolves the wait, and trigger
	// unlinks the rest through their cancel callbacks.
	// 第二遍：同时挂入所有队列。每个 clause 携带自己的输入下标；最先被触发者
	// 胜出，trigger 通过 cancel 回调摘除其余 clause 。
	ccls := make([]clause, len(clauses))
	for i := range clauses {
		cl := &ccls[i]
		cl.buf = clauses[i].Buf
		var q *clauseq
		if clauses[i].Op == OpSend {
			q = &halves[i].peer().out
		} else {
			q = &halves[i].in
		}
		q.enqueue(cl)
		waitfor(cl, i, func(c *clause) { q.remove(c) })
	}
	var tcl clause
	if deadline > 0 {
		// The timer's tag is len(clauses), distinct from every index.
		// 定时器的标识取 len(clauses) ，与任何分支下标都不同。
		timer(&tcl, len(clauses), deadline)
	}
	id, err := wait()
	if id == len(clauses) {
		return -1, ErrTimedOut
	}
	return id, err
}
