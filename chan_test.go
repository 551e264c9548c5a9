// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dill

import (
	"bytes"
	"testing"
)

// checkqueues fails the test if both waiter queues of a half are occupied.
func checkqueues(t *testing.T, hc *halfchan) {
	t.Helper()
	if !hc.in.empty() && !hc.out.empty() {
		t.Errorf("half %d: in and out both non-empty", hc.index)
	}
}

func TestRendezvous(t *testing.T) {
	Run(func() {
		h0, h1, err := ChMake()
		if err != nil {
			t.Errorf("ChMake: %v", err)
			return
		}
		w, err := Go(func() {
			if err := ChSend(h0, []byte("hi"), -1); err != nil {
				t.Errorf("ChSend: %v", err)
			}
		})
		if err != nil {
			t.Errorf("Go: %v", err)
			return
		}
		buf := make([]byte, 2)
		if err := ChRecv(h1, buf, -1); err != nil {
			t.Errorf("ChRecv: %v", err)
		}
		if !bytes.Equal(buf, []byte("hi")) {
			t.Errorf("received %q, want %q", buf, "hi")
		}
		Hclose(w)
		Hclose(h0)
		Hclose(h1)
	})
}

func TestNonblockingNoPeer(t *testing.T) {
	Run(func() {
		h0, h1, _ := ChMake()
		if err := ChSend(h0, []byte("x"), 0); err != ErrTimedOut {
			t.Errorf("ChSend with no receiver: %v, want %v", err, ErrTimedOut)
		}
		if err := ChRecv(h1, make([]byte, 1), 0); err != ErrTimedOut {
			t.Errorf("ChRecv with no sender: %v, want %v", err, ErrTimedOut)
		}
		hc, _ := chanquery(h0)
		if !hc.in.empty() || !hc.out.empty() || !hc.peer().in.empty() || !hc.peer().out.empty() {
			t.Errorf("queues disturbed by failed non-blocking operations")
		}
		Hclose(h0)
		Hclose(h1)
	})
}

// A zero deadline still completes against an already parked peer: the fast
// path runs before the deadline is looked at.
func TestNonblockingParkedPeer(t *testing.T) {
	Run(func() {
		h0, h1, _ := ChMake()
		buf := make([]byte, 1)
		w, _ := Go(func() {
			if err := ChRecv(h1, buf, -1); err != nil {
				t.Errorf("ChRecv: %v", err)
			}
		})
		Yield()
		if err := ChSend(h0, []byte("x"), 0); err != nil {
			t.Errorf("ChSend with parked receiver and zero deadline: %v", err)
		}
		Hclose(w)
		if buf[0] != 'x' {
			t.Errorf("received %q, want %q", buf, "x")
		}
		Hclose(h0)
		Hclose(h1)
	})
}

func TestSizeMismatch(t *testing.T) {
	Run(func() {
		h0, h1, _ := ChMake()
		w, _ := Go(func() {
			if err := ChSend(h0, []byte("ab"), -1); err != ErrMessageSize {
				t.Errorf("sender: %v, want %v", err, ErrMessageSize)
			}
		})
		Yield()
		buf := []byte{1, 2, 3}
		if err := ChRecv(h1, buf, -1); err != ErrMessageSize {
			t.Errorf("receiver: %v, want %v", err, ErrMessageSize)
		}
		if !bytes.Equal(buf, []byte{1, 2, 3}) {
			t.Errorf("receive buffer modified on size mismatch: %v", buf)
		}
		hc, _ := chanquery(h1)
		if !hc.out.empty() {
			t.Errorf("sender clause still linked after size mismatch")
		}
		Hclose(w)
		Hclose(h0)
		Hclose(h1)
	})
}

func TestDone(t *testing.T) {
	Run(func() {
		h0, h1, _ := ChMake()
		if err := Hdone(h0, -1); err != nil {
			t.Errorf("Hdone: %v", err)
		}
		if err := ChSend(h0, []byte("x"), -1); err != ErrBrokenPipe {
			t.Errorf("ChSend after done: %v, want %v", err, ErrBrokenPipe)
		}
		if err := ChRecv(h1, make([]byte, 1), 0); err != ErrBrokenPipe {
			t.Errorf("ChRecv after done: %v, want %v", err, ErrBrokenPipe)
		}
		// A second done on the same direction fails.
		if err := Hdone(h0, -1); err != ErrBrokenPipe {
			t.Errorf("second Hdone: %v, want %v", err, ErrBrokenPipe)
		}
		// The opposite direction still works.
		buf := make([]byte, 1)
		w, _ := Go(func() {
			if err := ChSend(h1, []byte("y"), -1); err != nil {
				t.Errorf("ChSend on live direction: %v", err)
			}
		})
		if err := ChRecv(h0, buf, -1); err != nil {
			t.Errorf("ChRecv on live direction: %v", err)
		}
		if buf[0] != 'y' {
			t.Errorf("received %q, want %q", buf, "y")
		}
		Hclose(w)
		Hclose(h0)
		Hclose(h1)
	})
}

func TestDoneWakesParked(t *testing.T) {
	Run(func() {
		h0, h1, _ := ChMake()
		w, _ := Go(func() {
			if err := ChSend(h0, []byte("x"), -1); err != ErrBrokenPipe {
				t.Errorf("parked sender: %v, want %v", err, ErrBrokenPipe)
			}
		})
		Yield()
		if err := Hdone(h0, -1); err != nil {
			t.Errorf("Hdone: %v", err)
		}
		Hclose(w)
		hc, _ := chanquery(h1)
		if !hc.out.empty() {
			t.Errorf("sender clause still linked after done")
		}
		Hclose(h0)
		Hclose(h1)
	})
}

func TestFIFO(t *testing.T) {
	Run(func() {
		h0, h1, _ := ChMake()
		var ws []Handle
		for _, p := range []string{"1", "2", "3"} {
			p := p
			w, _ := Go(func() {
				if err := ChSend(h0, []byte(p), -1); err != nil {
					t.Errorf("ChSend(%q): %v", p, err)
				}
			})
			ws = append(ws, w)
		}
		Yield()
		buf := make([]byte, 1)
		for _, want := range []string{"1", "2", "3"} {
			if err := ChRecv(h1, buf, -1); err != nil {
				t.Errorf("ChRecv: %v", err)
			}
			if string(buf) != want {
				t.Errorf("received %q, want %q", buf, want)
			}
		}
		for _, w := range ws {
			Hclose(w)
		}
		Hclose(h0)
		Hclose(h1)
	})
}

func TestSendTimeout(t *testing.T) {
	Run(func() {
		h0, h1, _ := ChMake()
		start := Now()
		err := ChSend(h0, []byte("x"), start+20)
		if err != ErrTimedOut {
			t.Errorf("ChSend: %v, want %v", err, ErrTimedOut)
		}
		if d := Now() - start; d < 20 {
			t.Errorf("ChSend returned after %dms, want >=20ms", d)
		}
		hc, _ := chanquery(h1)
		if !hc.out.empty() {
			t.Errorf("sender clause still linked after timeout")
		}
		checkqueues(t, hc)
		Hclose(h0)
		Hclose(h1)
	})
}

func TestRecvTimeout(t *testing.T) {
	Run(func() {
		h0, h1, _ := ChMake()
		start := Now()
		if err := ChRecv(h1, make([]byte, 1), start+20); err != ErrTimedOut {
			t.Errorf("ChRecv: %v, want %v", err, ErrTimedOut)
		}
		hc, _ := chanquery(h1)
		if !hc.in.empty() {
			t.Errorf("receiver clause still linked after timeout")
		}
		Hclose(h0)
		Hclose(h1)
	})
}

func TestCloseWhileParked(t *testing.T) {
	Run(func() {
		h0, h1, _ := ChMake()
		w, _ := Go(func() {
			if err := ChRecv(h1, make([]byte, 1), -1); err != ErrBrokenPipe {
				t.Errorf("parked receiver: %v, want %v", err, ErrBrokenPipe)
			}
		})
		Yield()
		// The first close only marks its half; the receiver stays parked.
		Hclose(h0)
		hc, _ := chanquery(h1)
		if hc.in.empty() {
			t.Errorf("receiver woken by the first close")
		}
		// The second close tears the pair down and drains both halves.
		Hclose(h1)
		if !hc.in.empty() {
			t.Errorf("receiver clause still linked after pair teardown")
		}
		Hclose(w)
	})
}

func TestCloseOneHalfKeepsPeerUsable(t *testing.T) {
	Run(func() {
		h0, h1, _ := ChMake()
		Hclose(h0)
		// Operations on the open half behave normally: no peer means a
		// timeout, not a broken pipe.
		if err := ChSend(h1, []byte("x"), 0); err != ErrTimedOut {
			t.Errorf("ChSend on open half: %v, want %v", err, ErrTimedOut)
		}
		if err := ChRecv(h1, make([]byte, 1), 0); err != ErrTimedOut {
			t.Errorf("ChRecv on open half: %v, want %v", err, ErrTimedOut)
		}
		Hclose(h1)
	})
}

func TestZeroLengthPayload(t *testing.T) {
	Run(func() {
		h0, h1, _ := ChMake()
		w, _ := Go(func() {
			if err := ChSend(h0, nil, -1); err != nil {
				t.Errorf("zero-length ChSend: %v", err)
			}
		})
		if err := ChRecv(h1, nil, -1); err != nil {
			t.Errorf("zero-length ChRecv: %v", err)
		}
		Hclose(w)
		Hclose(h0)
		Hclose(h1)
	})
}

func TestChMakeMem(t *testing.T) {
	Run(func() {
		var mem ChanStorage
		h0, h1, err := ChMakeMem(&mem)
		if err != nil {
			t.Errorf("ChMakeMem: %v", err)
			return
		}
		hc, _ := chanquery(h0)
		if !hc.mem || !hc.peer().mem {
			t.Errorf("in-place pair not marked mem")
		}
		if hc.pair != &mem {
			t.Errorf("pair not built in caller storage")
		}
		w, _ := Go(func() {
			if err := ChSend(h0, []byte("m"), -1); err != nil {
				t.Errorf("ChSend: %v", err)
			}
		})
		buf := make([]byte, 1)
		if err := ChRecv(h1, buf, -1); err != nil {
			t.Errorf("ChRecv: %v", err)
		}
		Hclose(w)
		Hclose(h0)
		Hclose(h1)
	})
}

func TestChMakeMemNil(t *testing.T) {
	Run(func() {
		if _, _, err := ChMakeMem(nil); err != ErrInvalid {
			t.Errorf("ChMakeMem(nil): %v, want %v", err, ErrInvalid)
		}
	})
}

func TestChMakeHeapStorage(t *testing.T) {
	Run(func() {
		h0, h1, _ := ChMake()
		hc, _ := chanquery(h0)
		if hc.mem || hc.peer().mem {
			t.Errorf("heap pair marked mem")
		}
		Hclose(h0)
		Hclose(h1)
	})
}

func TestCanceledTaskChannelOps(t *testing.T) {
	Run(func() {
		h0, h1, _ := ChMake()
		var recvErr, sendErr error
		w, _ := Go(func() {
			recvErr = ChRecv(h1, make([]byte, 1), -1)
			sendErr = ChSend(h0, []byte("x"), -1)
		})
		Yield()
		Hclose(w)
		if recvErr != ErrCanceled {
			t.Errorf("parked ChRecv on cancel: %v, want %v", recvErr, ErrCanceled)
		}
		if sendErr != ErrCanceled {
			t.Errorf("ChSend in cancelled task: %v, want %v", sendErr, ErrCanceled)
		}
		hc, _ := chanquery(h1)
		if !hc.in.empty() {
			t.Errorf("receiver clause still linked after cancellation")
		}
		Hclose(h0)
		Hclose(h1)
	})
}
