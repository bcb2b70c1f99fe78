package builder

import (
	"fmt"
	"os"
	"sync"
)

// wakeChannel delivers completion callbacks from the builder goroutine
// to whatever loop calls Next (typically the process's main event
// loop, which also services fsnotify and HTTP). A single byte is
// written to the pipe for every queued callback, and Next blocks
// reading exactly one byte per call, so a loop built around Next
// wakes exactly once per callback instead of busy-polling.
type wakeChannel struct {
	r, w *os.File

	mu        sync.Mutex
	callbacks []func()
}

func newWakeChannel() (*wakeChannel, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &wakeChannel{r: r, w: w}, nil
}

// post queues fn for delivery and writes one byte to the pipe. A
// failed pipe write means the main loop can never be woken for this
// (or any later) callback, so it is treated as fatal.
func (wc *wakeChannel) post(fn func()) {
	wc.mu.Lock()
	wc.callbacks = append(wc.callbacks, fn)
	wc.mu.Unlock()
	if _, err := wc.w.Write([]byte{0}); err != nil {
		panic(fmt.Sprintf("builder: wake-pipe write failed: %v", err))
	}
}

// ReadFD exposes the read end's file descriptor for registration with
// an external poller (select/epoll/kqueue).
func (wc *wakeChannel) ReadFD() uintptr {
	return wc.r.Fd()
}

// Next blocks until one callback is ready, runs it, and returns. It
// returns false once the pipe has been closed; callbacks still queued
// at that point are not run.
func (wc *wakeChannel) Next() bool {
	buf := make([]byte, 1)
	n, err := wc.r.Read(buf)
	if n == 0 || err != nil {
		return false
	}

	wc.mu.Lock()
	var fn func()
	if len(wc.callbacks) > 0 {
		fn, wc.callbacks = wc.callbacks[0], wc.callbacks[1:]
	}
	wc.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// Drain calls Next n times, blocking until each of n callbacks has
// been delivered, for callers (tests, synchronous command paths) that
// already know how many completions to expect.
func (wc *wakeChannel) Drain(n int) {
	for i := 0; i < n; i++ {
		wc.Next()
	}
}

// Close closes both ends of the pipe.
func (wc *wakeChannel) Close() error {
	wc.w.Close()
	return wc.r.Close()
}
