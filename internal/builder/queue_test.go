package builder

import (
	"testing"
	"time"
)

func TestQueuePushPop(t *testing.T) {
	q := newQueue()
	q.push(Command{ID: Noop})
	q.push(Command{ID: Shutdown})

	cmd, ok := q.pop()
	if !ok || cmd.ID != Noop {
		t.Fatalf("pop 1 = (%v, %v), want (Noop, true)", cmd.ID, ok)
	}
	cmd, ok = q.pop()
	if !ok || cmd.ID != Shutdown {
		t.Fatalf("pop 2 = (%v, %v), want (Shutdown, true)", cmd.ID, ok)
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newQueue()
	done := make(chan Command, 1)
	go func() {
		cmd, ok := q.pop()
		if ok {
			done <- cmd
		}
	}()

	select {
	case <-done:
		t.Fatal("pop returned before any push")
	case <-time.After(50 * time.Millisecond):
	}

	q.push(Command{ID: Reconfigure})
	select {
	case cmd := <-done:
		if cmd.ID != Reconfigure {
			t.Errorf("cmd.ID = %v, want Reconfigure", cmd.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pop never woke after push")
	}
}

func TestQueueCloseDrainsThenStops(t *testing.T) {
	q := newQueue()
	q.push(Command{ID: Noop})
	q.close()

	cmd, ok := q.pop()
	if !ok || cmd.ID != Noop {
		t.Fatalf("pop after close (queued item) = (%v, %v), want (Noop, true)", cmd.ID, ok)
	}
	_, ok = q.pop()
	if ok {
		t.Error("pop after close and drain: want ok=false")
	}
}

func TestQueuePushAfterCloseIsDropped(t *testing.T) {
	q := newQueue()
	q.close()
	q.push(Command{ID: Noop})

	_, ok := q.pop()
	if ok {
		t.Error("pop after push-after-close: want ok=false")
	}
}
