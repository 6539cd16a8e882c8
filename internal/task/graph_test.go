package task

import (
	"errors"
	"testing"
	"time"
)

func TestGraphDispatchRunsStagesInOrder(t *testing.T) {
	var order []string

	g := NewGraph(
		func() (interface{}, error) { order = append(order, "write_request"); return nil, nil },
		func() (interface{}, error) { order = append(order, "read_reply"); return "reply", nil },
		func() (interface{}, error) { order = append(order, "release_handles_and_clear_busy"); return "done", nil },
	)

	f := g.Dispatch()
	if got := f.State(); got != InFlight && got != Done {
		t.Fatalf("unexpected initial state %v", got)
	}

	result, err := f.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result != "done" {
		t.Fatalf("got result %v, want done", result)
	}
	if f.State() != Done {
		t.Fatalf("expected Done after Wait")
	}

	want := []string{"write_request", "read_reply", "release_handles_and_clear_busy"}
	if len(order) != len(want) {
		t.Fatalf("got stage order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got stage order %v, want %v", order, want)
		}
	}
}

func TestGraphDispatchStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	var ran2 bool

	g := NewGraph(
		func() (interface{}, error) { return nil, boom },
		func() (interface{}, error) { ran2 = true; return nil, nil },
	)

	f := g.Dispatch()
	_, err := f.Wait()
	if !errors.Is(err, boom) {
		t.Fatalf("got err %v, want %v", err, boom)
	}
	if ran2 {
		t.Fatal("stage after error must not run")
	}
}

func TestFutureWaitBlocksUntilDone(t *testing.T) {
	release := make(chan struct{})
	g := NewGraph(func() (interface{}, error) {
		<-release
		return 42, nil
	})
	f := g.Dispatch()

	done := make(chan struct{})
	go func() {
		v, err := f.Wait()
		if err != nil || v != 42 {
			t.Errorf("got %v, %v", v, err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before stage finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
}
