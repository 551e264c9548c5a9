// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dill

// This file contains the cooperative scheduler.
//
// The model is deliberately single-threaded: one task (or the scheduler
// loop itself) holds the baton at any moment, and the baton changes hands
// only at park points. That is what lets the channel code mutate waiter
// queues and status bits without any locking.
//
// 协作式调度器。整个运行时是严格单线程的：任意时刻只有一个任务（或调度循环本身）
// 持有执行权，执行权只在 park 点交接。channel 代码因此可以在无锁的情况下修改
// 等待队列和状态位。

const debugSched = false

// Task states.
// 任务状态。
const (
	taskRunnable = iota // on the run queue, waiting to be scheduled	// 在运行队列中等待调度
	taskRunning         // holds the baton								// 正在运行
	taskWaiting         // parked on clauses or a join					// 阻塞中
	taskDead            // the task function has returned				// 已退出
)

// A clause is the unit a task blocks on. One clause is created per pending
// operation: a channel send or receive, a timer, a join. While the task is
// parked the clause is linked in exactly one wait structure (a half-channel
// queue, a join queue, or the timer heap); cancel unlinks it from there.
//
// Clauses are shared between the scheduler, the timer heap and the channel
// code the same way sudogs are shared across the runtime: the struct
// carries the union of their fields.
//
// clause 是任务阻塞的基本单元，作用相当于 runtime 的 sudog ：
// 一次挂起的操作对应一个 clause ，park 期间恰好挂在一个等待结构里，
// cancel 负责把它从该结构中摘除。
type clause struct {
	task   *task          // owning task							// 所属任务
	id     int            // caller-chosen tag returned by wait		// 调用方选择的标识，由 wait 返回
	cancel func(*clause)  // unlinks the clause from its structure	// 从等待结构中摘除本 clause

	// Links in a clauseq while parked there.
	// 挂在 clauseq 中时的前后指针。
	prev, next *clause

	// Next clause registered by the same task (head is task.waiting).
	// 同一任务注册的下一个 clause （链表头为 task.waiting ）。
	waitlink *clause

	// Channel payload; the rendezvous copies between two of these.
	// channel 载荷；rendezvous 在两个 buf 之间直接拷贝。
	buf []byte

	// Timer fields: expiry on the Now clock and heap index, set to -1
	// when the clause is removed from the heap.
	// 定时器字段：到期时间与堆下标，从堆中摘除后置为 -1 。
	when int64
	ti   int
}

// A clauseq is a FIFO queue of parked clauses.
// clauseq 是 parked clause 的 FIFO 队列。
type clauseq struct {
	first *clause
	last  *clause
}

func (q *clauseq) empty() bool {
	return q.first == nil
}

// enqueue 入队
func (q *clauseq) enqueue(cl *clause) {
	cl.next = nil
	x := q.last
	if x == nil {
		cl.prev = nil
		q.first = cl
		q.last = cl
		return
	}
	cl.prev = x
	x.next = cl
	q.last = cl
}

// dequeue 出队
func (q *clauseq) dequeue() *clause {
	cl := q.first
	if cl == nil {
		return nil
	}
	y := cl.next
	if y == nil {
		q.first = nil
		q.last = nil
	} else {
		y.prev = nil
		q.first = y
		cl.next = nil
	}
	return cl
}

// remove takes cl out of the queue wherever it sits. Safe to call on a
// clause that has already been dequeued.
// remove 将 cl 从队列中任意位置摘除；对已出队的 clause 调用也是安全的。
func (q *clauseq) remove(cl *clause) {
	x := cl.prev
	y := cl.next
	if x != nil {
		if y != nil {
			// middle of queue
			x.next = y
			y.prev = x
			cl.next = nil
			cl.prev = nil
			return
		}
		// end of queue
		x.next = nil
		q.last = x
		cl.prev = nil
		return
	}
	if y != nil {
		// start of queue
		y.prev = nil
		q.first = y
		cl.next = nil
		return
	}

	// x==y==nil. Either cl is the only element in the queue,
	// or it has already been removed. Use q.first to disambiguate.
	// x==y==nil ：cl 要么是队列中唯一的元素，要么已经被摘除，用 q.first 区分。
	if q.first == cl {
		q.first = nil
		q.last = nil
	}
}

// A task is one cooperatively scheduled flow of control.
// task 是一个协作式调度的控制流，相当于 runtime 的 g 。
type task struct {
	fn        func()
	state     int32
	schedlink *task         // next task in the run queue				// 运行队列中的下一个任务
	resume    chan struct{} // baton handed to the task by execute		// 调度器交给任务的执行权
	waiting   *clause       // clauses registered by waitfor			// waitfor 注册的 clause 链表
	firing    *clause       // the clause that resolved the last park	// 唤醒本次 park 的 clause
	status    error         // resume status set by trigger				// trigger 设置的唤醒状态
	canceled  bool          // the task is being torn down				// 任务正在被取消
	joinq     clauseq       // tasks parked in a close-join on this one	// 等待本任务退出的 join 队列
}

// taskq is a FIFO run queue of tasks linked through schedlink.
// taskq 是通过 schedlink 链接的任务 FIFO 队列。
type taskq struct {
	head *task
	tail *task
}

func (q *taskq) push(t *task) {
	t.schedlink = nil
	if q.tail == nil {
		q.head = t
	} else {
		q.tail.schedlink = t
	}
	q.tail = t
}

func (q *taskq) pop() *task {
	t := q.head
	if t != nil {
		q.head = t.schedlink
		if q.head == nil {
			q.tail = nil
		}
		t.schedlink = nil
	}
	return t
}

type schedt struct {
	runq    taskq
	timers  []*clause // min-heap ordered by when		// 按 when 排序的最小堆
	current *task     // the task holding the baton		// 当前持有执行权的任务
	maint   *task     // the main task of this Run		// 本次 Run 的主任务
	allt    []*task   // every task ever spawned		// 本次 Run 创建的所有任务
	ntasks  int       // tasks not yet dead				// 尚未退出的任务数
	yieldc  chan struct{}
	running bool
	htable  []hvfs
	hfree   []int
}

var sched schedt

// Run boots the scheduler, runs main as the first task and returns once
// every task has exited. When the main task returns, any task still alive
// is cancelled and scheduled until it exits, so no task outlives Run.
//
// Every other operation of this package must be called from inside a task,
// directly or transitively from main.
//
// Run 启动调度器并以 main 作为首个任务运行，所有任务退出后返回。
// 主任务返回时，仍存活的任务会被取消并调度至退出，因此没有任务能活过 Run 。
func Run(main func()) {
	if sched.running {
		throw("nested Run")
	}
	sched = schedt{
		yieldc:  make(chan struct{}),
		running: true,
	}
	defer func() { sched.running = false }()
	t := newtask(main)
	sched.maint = t
	schedule()
}

// newtask creates a task, makes it runnable and starts its goroutine. The
// goroutine blocks on the baton until the scheduler executes the task for
// the first time.
// newtask 创建任务并入运行队列；其 goroutine 在首次被调度前阻塞在 resume 上。
func newtask(fn func()) *task {
	t := &task{
		fn:     fn,
		state:  taskRunnable,
		resume: make(chan struct{}),
	}
	sched.allt = append(sched.allt, t)
	sched.ntasks++
	sched.runq.push(t)
	go taskentry(t)
	return t
}

func taskentry(t *task) {
	<-t.resume
	t.fn()
	taskexit(t)
}

// taskexit marks t dead, wakes its joiners and hands the baton back to the
// scheduler. If t is the main task it also cancels every remaining task so
// the scheduler can drain them.
// taskexit 标记任务退出并唤醒 join 者；若退出的是主任务，则取消其余所有任务。
func taskexit(t *task) {
	t.state = taskDead
	sched.ntasks--
	for cl := t.joinq.dequeue(); cl != nil; cl = t.joinq.dequeue() {
		trigger(cl, nil)
	}
	if t == sched.maint {
		for _, u := range sched.allt {
			if u.state != taskDead {
				canceltask(u)
			}
		}
	}
	sched.current = nil
	sched.yieldc <- struct{}{}
	// The goroutine ends here; the baton is already with the scheduler.
	// goroutine 在此结束，执行权已交还调度器。
}

// schedule is the scheduler loop. It fires due timers, runs runnable tasks
// and sleeps until the nearest timer when there is nothing to run. With no
// runnable task, no timer and live tasks remaining, every task is parked on
// an event that can never happen.
// schedule 是调度循环：触发到期定时器、运行就绪任务，空闲时睡到最近的定时器。
func schedule() {
	for {
		checktimers()
		if t := sched.runq.pop(); t != nil {
			execute(t)
			continue
		}
		if sched.ntasks == 0 {
			return
		}
		if len(sched.timers) > 0 {
			timersleep()
			continue
		}
		throw("all tasks are blocked")
	}
}

// execute hands the baton to t and blocks until t parks or exits.
// execute 将执行权交给 t ，直到 t park 或退出。
func execute(t *task) {
	if t.state != taskRunnable {
		throw("execute: bad task state")
	}
	t.state = taskRunning
	sched.current = t
	if debugSched {
		println("execute: task=", t)
	}
	t.resume <- struct{}{}
	<-sched.yieldc
}

// gopark hands the baton back to the scheduler and blocks until the task
// is executed again. The caller has already recorded why the task is
// parked (task state, run queue or wait structures).
// gopark 交还执行权并阻塞，直到任务再次被调度。
func gopark() {
	t := sched.current
	if t == nil {
		throw("gopark: not in a task")
	}
	sched.current = nil
	sched.yieldc <- struct{}{}
	<-t.resume
}

// ready makes a parked task runnable again.
// ready 将一个阻塞中的任务重新置为就绪。
func ready(t *task) {
	if t.state != taskWaiting {
		throw("ready: bad task state")
	}
	t.state = taskRunnable
	sched.runq.push(t)
}

// canblock reports whether the current task may start a blocking operation.
// The channel constructors, ChSend, ChRecv, Choose, Go, Yield and Msleep
// check this before touching any state; Hclose and Hdone do not.
// canblock 判断当前任务是否允许发起阻塞操作；channel 构造函数、ChSend 、ChRecv 、
// Choose 、Go 、Yield 与 Msleep 都先做此检查，Hclose 与 Hdone 不做。
func canblock() error {
	t := sched.current
	if t == nil {
		throw("operation outside a task")
	}
	if t.canceled {
		return ErrCanceled
	}
	return nil
}

// waitfor registers cl with the current task. The clause will be reported
// by wait under the given id; cancelfn must unlink the clause from
// whatever wait structure the caller is about to put it in.
// waitfor 将 cl 注册到当前任务；cancelfn 负责把 clause 从其等待结构中摘除。
func waitfor(cl *clause, id int, cancelfn func(*clause)) {
	t := sched.current
	cl.task = t
	cl.id = id
	cl.cancel = cancelfn
	cl.waitlink = t.waiting
	t.waiting = cl
}

// wait parks the current task until one of its registered clauses is
// triggered, and returns that clause's id along with the trigger status.
// If the task was cancelled instead, wait returns (-1, ErrCanceled). In
// either case every registered clause has been unlinked by the time wait
// returns.
// wait 挂起当前任务直到某个 clause 被触发，返回该 clause 的 id 与状态；
// 返回时所有注册的 clause 都已经被摘除。
func wait() (int, error) {
	t := sched.current
	t.state = taskWaiting
	gopark()
	fired := t.firing
	t.firing = nil
	status := t.status
	t.status = nil
	if fired == nil {
		return -1, ErrCanceled
	}
	return fired.id, status
}

// trigger resolves cl: it unlinks every other clause registered by the
// owning task, records the firing clause and status, and makes the task
// runnable. cl itself must already have been removed from its wait
// structure by the caller.
//
// Unlinking the losers here, before the owner runs again, is what makes
// multi-way waits safe: no queue ever holds a clause of a task that is no
// longer parked.
//
// trigger 触发 cl ：先通过 cancel 回调摘除该任务的其余 clause ，再记录触发结果并
// 唤醒任务。cl 本身必须已由调用方从等待结构中移除。
// 在任务恢复运行之前摘除其余 clause ，是多路等待安全性的关键。
func trigger(cl *clause, status error) {
	t := cl.task
	if t.state != taskWaiting {
		throw("trigger: task is not waiting")
	}
	for c := t.waiting; c != nil; c = c.waitlink {
		if c != cl && c.cancel != nil {
			c.cancel(c)
		}
	}
	for c := t.waiting; c != nil; {
		next := c.waitlink
		c.waitlink = nil
		c.task = nil
		c.cancel = nil
		c = next
	}
	t.waiting = nil
	t.firing = cl
	t.status = status
	ready(t)
}

// canceltask starts tearing t down. A parked task is woken with the
// cancellation status and all its clauses are unlinked; a runnable or
// running task only gets the flag and fails its next blocking operation.
// canceltask 取消任务：阻塞中的任务被立即唤醒并摘除全部 clause ，
// 就绪或运行中的任务只置标志，在下一个阻塞操作处失败。
func canceltask(t *task) {
	t.canceled = true
	if t.state != taskWaiting {
		return
	}
	for c := t.waiting; c != nil; {
		next := c.waitlink
		if c.cancel != nil {
			c.cancel(c)
		}
		c.waitlink = nil
		c.task = nil
		c.cancel = nil
		c = next
	}
	t.waiting = nil
	t.firing = nil
	t.status = nil
	ready(t)
}

// Coroutine handles. Closing the handle cancels the task and waits for it
// to exit.
// 协程句柄：关闭句柄即取消任务并等待其退出。
var coroutineType = &htype{"coroutine"}

// Go spawns fn as a new task and returns a handle for it. The task starts
// running at the current task's next park point. Closing the handle
// cancels the task and joins it.
// Go 创建新任务并返回其句柄；新任务在当前任务下一次 park 时开始运行。
func Go(fn func()) (Handle, error) {
	if err := canblock(); err != nil {
		return -1, err
	}
	t := newtask(fn)
	return hmake(t), nil
}

func (t *task) query(tp *htype) any {
	if tp == coroutineType {
		return t
	}
	return nil
}

func (t *task) done(deadline int64) error {
	return ErrNotSupported
}

// close cancels the task and parks the caller until it has exited.
// close 取消任务，并挂起调用方直到该任务退出。
func (t *task) close() {
	if t == sched.current {
		throw("task closing its own handle")
	}
	if t.state == taskDead {
		return
	}
	canceltask(t)
	var cl clause
	t.joinq.enqueue(&cl)
	waitfor(&cl, 0, func(c *clause) { t.joinq.remove(c) })
	// The join target always exits; if the joiner is itself cancelled
	// first, the clause has been unlinked and the wait reports it.
	// join 目标总会退出；若 join 者先被取消，clause 已被摘除。
	wait()
}

// Yield hands the rest of the current task's time slice to the scheduler.
// Yield 主动让出执行权。
func Yield() error {
	if err := canblock(); err != nil {
		return err
	}
	t := sched.current
	t.state = taskRunnable
	sched.runq.push(t)
	gopark()
	if t.canceled {
		return ErrCanceled
	}
	return nil
}
