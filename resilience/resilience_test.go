package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetry(t *testing.T) {
	errFlaky := errors.New("flaky")
	errBad := errors.New("bad callback")

	tests := []struct {
		name      string
		cfg       RetryConfig
		failures  int
		failWith  error
		wantCalls int
		wantErr   error
	}{
		{"first attempt", fastRetry(3), 0, nil, 1, nil},
		{"recovers", fastRetry(3), 2, errFlaky, 3, nil},
		{"exhausted", fastRetry(3), 5, errFlaky, 3, errFlaky},
		{"single attempt", fastRetry(1), 5, errFlaky, 1, errFlaky},
		{"open breaker not retried", fastRetry(3), 5, ErrCircuitOpen, 1, ErrCircuitOpen},
		{"custom RetryIf", func() RetryConfig {
			c := fastRetry(3)
			c.RetryIf = func(err error) bool { return !errors.Is(err, errBad) }
			return c
		}(), 5, errBad, 1, errBad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := Retry(context.Background(), tt.cfg, func() (int, error) {
				calls++
				if calls <= tt.failures {
					return 0, tt.failWith
				}
				return calls, nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Retry() error = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if err == nil && got != calls {
				t.Errorf("result = %d, want %d", got, calls)
			}
		})
	}
}

func TestRetry_OnRetryAndCancel(t *testing.T) {
	cfg := fastRetry(5)
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	var notified atomic.Int32
	cfg.OnRetry = func(error, time.Duration) { notified.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := Retry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() error = %v, want context.Canceled", err)
	}
	if notified.Load() != 1 {
		t.Errorf("OnRetry calls = %d, want 1", notified.Load())
	}
}

func TestBreaker_Lifecycle(t *testing.T) {
	now := time.Unix(0, 0)
	var transitions []BreakerState
	b := NewBreaker(CircuitBreakerConfig{
		Name:        "webhook",
		MaxFailures: 2,
		Cooldown:    time.Minute,
		OnStateChange: func(_ string, _, to BreakerState) {
			transitions = append(transitions, to)
		},
	})
	b.now = func() time.Time { return now }

	fail := func() error { return errors.New("502") }
	ok := func() error { return nil }

	_ = b.Execute(fail)
	_ = b.Execute(ok) // a success resets the count
	_ = b.Execute(fail)
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed", b.State())
	}
	_ = b.Execute(fail)
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	called := false
	if err := b.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("Execute() while open = %v, called = %v", err, called)
	}

	now = now.Add(time.Minute)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state after cooldown = %s, want half-open", b.State())
	}
	_ = b.Execute(fail)
	if b.State() != BreakerOpen {
		t.Fatalf("failed probe: state = %s, want open", b.State())
	}

	now = now.Add(time.Minute)
	if err := b.Execute(ok); err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed", b.State())
	}

	want := []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerOpen, BreakerHalfOpen, BreakerClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_HalfOpenAdmitsOnlyProbes(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(CircuitBreakerConfig{MaxFailures: 1, Cooldown: time.Second, Probes: 1})
	b.now = func() time.Time { return now }
	_ = b.Execute(func() error { return errors.New("down") })
	now = now.Add(time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	entered := make(chan struct{})
	go func() {
		done <- b.Execute(func() error { close(entered); <-release; return nil })
	}()
	<-entered
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second call during probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("probe = %v", err)
	}
}

func TestBulkhead(t *testing.T) {
	tests := []struct {
		name    string
		wait    time.Duration
		ctx     func() (context.Context, context.CancelFunc)
		wantErr error
	}{
		{"full", 0, func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) }, ErrBulkheadFull},
		{"wait expires", 10 * time.Millisecond, func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) }, ErrBulkheadTimeout},
		{"caller cancels", time.Hour, func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), 10*time.Millisecond)
		}, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rejected atomic.Int32
			b := NewBulkhead(BulkheadConfig{
				Name:          "submissions",
				MaxConcurrent: 1,
				MaxWait:       tt.wait,
				OnReject:      func(string) { rejected.Add(1) },
			})
			hold, release := make(chan struct{}), make(chan struct{})
			go func() {
				_ = b.Execute(context.Background(), func() error { close(hold); <-release; return nil })
			}()
			<-hold
			defer close(release)

			ctx, cancel := tt.ctx()
			defer cancel()
			err := b.Execute(ctx, func() error {
				t.Error("fn ran without a slot")
				return nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Execute() error = %v, want %v", err, tt.wantErr)
			}
			if rejected.Load() != 1 {
				t.Errorf("OnReject calls = %d, want 1", rejected.Load())
			}
		})
	}
}

func TestBulkhead_WaitsForSlot(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: time.Second})
	hold := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func() error {
			close(hold)
			time.Sleep(10 * time.Millisecond)
			return nil
		})
	}()
	<-hold
	ran := false
	if err := b.Execute(context.Background(), func() error { ran = true; return nil }); err != nil || !ran {
		t.Errorf("Execute() = %v, ran = %v", err, ran)
	}
	if b.MaxConcurrent() != 1 {
		t.Errorf("MaxConcurrent() = %d", b.MaxConcurrent())
	}
}
