package lock

import (
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zulandar/gitdeploy/internal/failure"
)

func TestTryLock_Exclusive(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	target := filepath.Join(t.TempDir(), "widget")

	release, err := l.TryLock(target, "deploy")
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if !l.Held(target) {
		t.Error("Held = false after TryLock")
	}

	_, err = l.TryLock(target, "webhook")
	if !failure.Is(err, failure.Busy) {
		t.Fatalf("second TryLock err = %v, want Busy", err)
	}
	if !strings.Contains(err.Error(), `lock held by "deploy"`) {
		t.Errorf("error = %q, want holder named", err)
	}

	release()
	release()
	if l.Held(target) {
		t.Error("Held = true after release")
	}

	release2, err := l.TryLock(target, "webhook")
	if err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	release2()

	if got := l.Acquisitions(); got != 2 {
		t.Errorf("Acquisitions = %d, want 2", got)
	}
}

func TestTryLock_IndependentTargets(t *testing.T) {
	l, _ := New("")
	r1, err := l.TryLock("/srv/plugins/a", "x")
	if err != nil {
		t.Fatalf("TryLock a: %v", err)
	}
	defer r1()
	r2, err := l.TryLock("/srv/plugins/b", "y")
	if err != nil {
		t.Fatalf("TryLock b: %v", err)
	}
	r2()
}

func TestTryLock_Concurrent(t *testing.T) {
	l, _ := New(t.TempDir())
	target := "/srv/plugins/widget"

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
		busy    atomic.Int32
		start   = make(chan struct{})
		hold    = make(chan struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release, err := l.TryLock(target, "worker")
			if err != nil {
				if failure.Is(err, failure.Busy) {
					busy.Add(1)
				}
				return
			}
			granted.Add(1)
			<-hold
			release()
		}()
	}
	close(start)
	// Wait until the losers have all reported Busy.
	for busy.Load() < 7 {
		if granted.Load() > 1 {
			break
		}
		runtime.Gosched()
	}
	close(hold)
	wg.Wait()

	if granted.Load() != 1 {
		t.Errorf("granted = %d, want 1", granted.Load())
	}
	if busy.Load() != 7 {
		t.Errorf("busy = %d, want 7", busy.Load())
	}
}

func TestKey_Stable(t *testing.T) {
	if Key("/a/b/../b/c") != Key("/a/b/c") {
		t.Error("Key should normalize paths")
	}
	if Key("/a/b") == Key("/a/c") {
		t.Error("distinct paths share a key")
	}
}
