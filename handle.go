// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dill

// The handle table maps small integers to the objects the runtime hands
// out: channel halves and coroutines. Slots of closed handles are reused
// through a free list. A closed handle fails with ErrBadHandle until its
// slot is handed out again; after that it addresses the new object.
//
// handle 表将小整数映射到运行时对象（channel 半端与协程）。
// 关闭后的槽位通过 free list 复用。

// Handle addresses one runtime object.
// Handle 指向一个运行时对象。
type Handle int

// htype is a type token; object identity is the token pointer itself.
// htype 是类型标记，以指针本身作为类型标识。
type htype struct {
	name string
}

// hvfs is the vtable every handle-exposed object implements.
// hvfs 是 handle 对象的虚表。
type hvfs interface {
	// query returns the object if tp matches its type, nil otherwise.
	// query 在类型匹配时返回对象本身，否则返回 nil 。
	query(tp *htype) any
	// close releases the object. The handle is already gone when it runs.
	// close 释放对象；执行时 handle 已经失效。
	close()
	// done terminates the object's outbound direction, if it has one.
	// done 终止对象的输出方向（若有）。
	done(deadline int64) error
}

// hmake registers vfs in the table and returns its handle.
// hmake 将 vfs 注册进表中并返回句柄。
func hmake(vfs hvfs) Handle {
	if vfs == nil {
		throw("hmake: nil object")
	}
	if n := len(sched.hfree); n > 0 {
		i := sched.hfree[n-1]
		sched.hfree = sched.hfree[:n-1]
		sched.htable[i] = vfs
		return Handle(i)
	}
	sched.htable = append(sched.htable, vfs)
	return Handle(len(sched.htable) - 1)
}

// hresolve 根据句柄取出对象。
func hresolve(h Handle) (hvfs, error) {
	if h < 0 || int(h) >= len(sched.htable) || sched.htable[h] == nil {
		return nil, ErrBadHandle
	}
	return sched.htable[h], nil
}

// hquery returns the object behind h if it exposes the type tp.
// hquery 返回 h 背后的对象，要求其类型与 tp 匹配。
func hquery(h Handle, tp *htype) (any, error) {
	vfs, err := hresolve(h)
	if err != nil {
		return nil, err
	}
	obj := vfs.query(tp)
	if obj == nil {
		return nil, ErrNotSupported
	}
	return obj, nil
}

// Hclose closes the handle h. The slot is released before the object's
// close runs, so the handle is invalid for the whole teardown.
// Hclose 关闭句柄；槽位先于对象的 close 释放，因此整个析构期间句柄都无效。
func Hclose(h Handle) error {
	vfs, err := hresolve(h)
	if err != nil {
		return err
	}
	sched.htable[h] = nil
	sched.hfree = append(sched.hfree, int(h))
	vfs.close()
	return nil
}

// Hdone terminates the outbound direction of the object behind h. For a
// channel half this poisons the direction flowing out of it; later
// operations in that direction fail with ErrBrokenPipe.
// Hdone 终止 h 背后对象的输出方向；对 channel 半端即毒化其发送方向。
func Hdone(h Handle, deadline int64) error {
	vfs, err := hresolve(h)
	if err != nil {
		return err
	}
	return vfs.done(deadline)
}
