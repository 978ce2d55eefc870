package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tunez/coverart/internal/logging"
)

func TestPostRunsOnMainInOrder(t *testing.T) {
	loop := New(Options{Logger: logging.Discard(), Strict: true})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []int
	go func() {
		for i := 0; i < 100; i++ {
			i := i
			loop.Post(func() {
				if !loop.OnMain() {
					t.Error("callback ran off main")
				}
				got = append(got, i)
				if i == 99 {
					cancel()
				}
			})
		}
	}()

	if err := loop.Run(ctx); err != context.Canceled {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 callbacks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("callback %d ran at position %d", v, i)
		}
	}
}

func TestPanicDoesNotStopLoop(t *testing.T) {
	loop := New(Options{Logger: logging.Discard()})
	ran := false
	loop.Post(func() { panic("boom") })
	loop.Post(func() { ran = true })
	if n := loop.Drain(); n != 2 {
		t.Fatalf("expected 2 callbacks drained, got %d", n)
	}
	if !ran {
		t.Fatal("callback after panic did not run")
	}
}

func TestPostDuringDrainRunsNextDrain(t *testing.T) {
	loop := New(Options{Logger: logging.Discard()})
	second := false
	loop.Post(func() {
		loop.Post(func() { second = true })
	})
	loop.Drain()
	if second {
		t.Fatal("nested post ran in the same drain")
	}
	loop.Drain()
	if !second {
		t.Fatal("nested post never ran")
	}
}

func TestCloseRefusesPosts(t *testing.T) {
	loop := New(Options{Logger: logging.Discard()})
	loop.Post(func() {})
	loop.Close()
	if loop.Post(func() {}) {
		t.Fatal("post accepted after close")
	}
	if loop.Len() != 1 {
		t.Fatalf("expected queued callback to survive close, got %d", loop.Len())
	}
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run after close: %v", err)
	}
	if loop.Len() != 0 {
		t.Fatal("Run did not drain remaining callbacks")
	}
}

func TestRunOffMainFails(t *testing.T) {
	loop := New(Options{Logger: logging.Discard()})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(context.Background()); err != ErrWrongThread {
			t.Errorf("expected ErrWrongThread, got %v", err)
		}
		if loop.OnMain() {
			t.Error("background goroutine reported as main")
		}
	}()
	wg.Wait()
}

func TestStrictAssertPanics(t *testing.T) {
	loop := New(Options{Logger: logging.Discard(), Strict: true})
	done := make(chan any)
	go func() {
		defer func() { done <- recover() }()
		loop.AssertMain("test")
	}()
	if r := <-done; r == nil {
		t.Fatal("expected panic off main in strict mode")
	}
}

func TestNotifyOncePerPost(t *testing.T) {
	loop := New(Options{Logger: logging.Discard()})
	count := 0
	loop.SetNotify(func() { count++ })
	for i := 0; i < 3; i++ {
		loop.Post(func() {})
	}
	if count != 3 {
		t.Fatalf("expected 3 notifications, got %d", count)
	}
}

func TestInline(t *testing.T) {
	ran := false
	if !Inline.Post(func() { ran = true }) || !ran {
		t.Fatal("inline executor did not run closure")
	}
}

func TestGoid(t *testing.T) {
	main := goid()
	if main <= 0 {
		t.Fatalf("unexpected goroutine id %d", main)
	}
	other := make(chan int64)
	go func() { other <- goid() }()
	if id := <-other; id == main {
		t.Fatal("different goroutines share an id")
	}
}
