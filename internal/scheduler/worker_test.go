package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingRunner struct {
	calls int32
	ran   bool
	err   error
}

func (r *countingRunner) SendReminders() (bool, error) {
	atomic.AddInt32(&r.calls, 1)
	return r.ran, r.err
}

func TestNextRun(t *testing.T) {
	w := NewWorker(&countingRunner{}, 12)

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before the hour fires today",
			now:  time.Date(2020, 6, 1, 8, 0, 0, 0, time.UTC),
			want: time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "after the hour fires tomorrow",
			now:  time.Date(2020, 6, 1, 15, 0, 0, 0, time.UTC),
			want: time.Date(2020, 6, 2, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly on the hour fires tomorrow",
			now:  time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC),
			want: time.Date(2020, 6, 2, 12, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w.now = func() time.Time { return tc.now }
			if got := w.nextRun(); !got.Equal(tc.want) {
				t.Fatalf("nextRun() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRunToleratesFailures(t *testing.T) {
	// Neither a dispatch error nor a lost lock may panic or propagate; the worker
	// logs and waits for the next day.
	for _, runner := range []*countingRunner{
		{ran: true},
		{ran: false},
		{err: context.DeadlineExceeded},
	} {
		w := NewWorker(runner, 12)
		w.run()
		if atomic.LoadInt32(&runner.calls) != 1 {
			t.Fatalf("expected one dispatch call, got %d", runner.calls)
		}
	}
}

func TestWorkerStops(t *testing.T) {
	w := NewWorker(&countingRunner{}, 12)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.loop(ctx)
		close(done)
	}()

	w.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
