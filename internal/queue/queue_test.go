package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func startedManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(testLogger(), opts...)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return m
}

func openQueue(t *testing.T, s *Session, name string) *Queue {
	t.Helper()
	q, err := s.Queue(context.Background(), name)
	if err != nil {
		t.Fatalf("Queue(%q) error = %v", name, err)
	}
	return q
}

func mustPut(t *testing.T, q *Queue, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		if err := q.Put(context.Background(), []byte(p)); err != nil {
			t.Fatalf("Put(%q) error = %v", p, err)
		}
	}
}

// drain polls every visible item without blocking.
func drain(t *testing.T, q *Queue) []string {
	t.Helper()
	var out []string
	for {
		b, ok, err := q.Poll(context.Background(), 0)
		if err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, string(b))
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- Basic queue tests ---

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	q := openQueue(t, m.Session(), "fifo")
	mustPut(t, q, "a", "b", "c")

	if got := q.Size(context.Background()); got != 3 {
		t.Fatalf("Size() = %d, want 3", got)
	}
	head, ok, err := q.Peek(context.Background())
	if err != nil || !ok || string(head) != "a" {
		t.Fatalf("Peek() = %q, %v, %v; want a, true, nil", head, ok, err)
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Take(context.Background())
		if err != nil {
			t.Fatalf("Take() error = %v", err)
		}
		if string(got) != want {
			t.Errorf("Take() = %q, want %q", got, want)
		}
	}
	if _, ok, _ := q.Peek(context.Background()); ok {
		t.Error("Peek() on empty queue ok = true, want false")
	}
}

func TestQueue_SizeNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	const capacity = 3
	m := startedManager(t)
	if err := m.SetQueueConfig("bounded", Config{Capacity: capacity}); err != nil {
		t.Fatalf("SetQueueConfig() error = %v", err)
	}
	q := openQueue(t, m.Session(), "bounded")

	ops := []string{"offer", "offer", "poll", "offer", "offer", "offer", "offer", "poll", "offer", "offer"}
	for i, op := range ops {
		switch op {
		case "offer":
			if _, err := q.Offer(context.Background(), []byte("x"), 0); err != nil {
				t.Fatalf("op %d Offer() error = %v", i, err)
			}
		case "poll":
			if _, _, err := q.Poll(context.Background(), 0); err != nil {
				t.Fatalf("op %d Poll() error = %v", i, err)
			}
		}
		if got := q.Size(context.Background()); got > capacity {
			t.Fatalf("after op %d Size() = %d, want <= %d", i, got, capacity)
		}
	}
}

func TestQueue_OfferZeroTimeoutOnFullQueue(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	_ = m.SetQueueConfig("full", Config{Capacity: 1})
	q := openQueue(t, m.Session(), "full")
	mustPut(t, q, "a")

	start := time.Now()
	ok, err := q.Offer(context.Background(), []byte("b"), 0)
	if err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	if ok {
		t.Error("Offer() on full queue = true, want false")
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Offer(0) took %v, want immediate", elapsed)
	}
}

func TestQueue_UnboundedOfferAlwaysSucceeds(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	q := openQueue(t, m.Session(), "unbounded")
	for i := 0; i < 1000; i++ {
		ok, err := q.Offer(context.Background(), []byte("x"), 0)
		if err != nil || !ok {
			t.Fatalf("Offer() #%d = %v, %v; want true, nil", i, ok, err)
		}
	}
}

func TestQueue_PollTimeout(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	q := openQueue(t, m.Session(), "empty")

	start := time.Now()
	_, ok, err := q.Poll(context.Background(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if ok {
		t.Error("Poll() on empty queue ok = true, want false")
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Poll() returned after %v, want about 30ms", elapsed)
	}
}

func TestQueue_TakeBlocksUntilPut(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	consumer := openQueue(t, m.Session(), "handoff")
	producer := openQueue(t, m.Session(), "handoff")

	got := make(chan string, 1)
	go func() {
		b, err := consumer.Take(context.Background())
		if err != nil {
			got <- "error: " + err.Error()
			return
		}
		got <- string(b)
	}()

	time.Sleep(20 * time.Millisecond)
	mustPut(t, producer, "hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("Take() = %q, want hello", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Take() did not return after Put")
	}
}

func TestQueue_TakeInterrupted(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	q := openQueue(t, m.Session(), "interrupt")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Take(ctx)
	if !errors.Is(err, ErrInterrupted) {
		t.Errorf("Take() error = %v, want ErrInterrupted", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Take() error = %v, want wrapped context.DeadlineExceeded", err)
	}
	if got := q.Size(context.Background()); got != 0 {
		t.Errorf("Size() after interrupted take = %d, want 0", got)
	}
}

func TestQueue_PutBlocksUntilRoom(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	_ = m.SetQueueConfig("room", Config{Capacity: 1})
	q := openQueue(t, m.Session(), "room")
	mustPut(t, q, "a")

	done := make(chan error, 1)
	go func() {
		done <- q.Put(context.Background(), []byte("b"))
	}()

	select {
	case err := <-done:
		t.Fatalf("Put() on full queue returned early: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	if _, err := q.Take(context.Background()); err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Put() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Put() did not unblock after Take")
	}
}

func TestQueue_Untake(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	q := openQueue(t, m.Session(), "untake")
	mustPut(t, q, "a", "b", "c")

	a, _ := q.Take(context.Background())
	b, _ := q.Take(context.Background())
	if err := q.Untake(context.Background(), b); err != nil {
		t.Fatalf("Untake() error = %v", err)
	}
	if err := q.Untake(context.Background(), a); err != nil {
		t.Fatalf("Untake() error = %v", err)
	}

	if got, want := drain(t, q), []string{"a", "b", "c"}; !equalStrings(got, want) {
		t.Errorf("queue = %v, want %v", got, want)
	}
}

func TestQueue_Clear(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	q := openQueue(t, m.Session(), "clear")
	mustPut(t, q, "a", "b")

	if err := q.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got := q.Size(context.Background()); got != 0 {
		t.Errorf("Size() after Clear = %d, want 0", got)
	}
}

func TestQueue_DisposeThenLookupIsEmpty(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	s := m.Session()
	q := openQueue(t, s, "scratch")
	mustPut(t, q, "a", "b")

	if err := q.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	if err := q.Put(context.Background(), []byte("c")); !errors.Is(err, ErrDisposed) {
		t.Errorf("Put() after Dispose error = %v, want ErrDisposed", err)
	}
	if err := q.Dispose(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Errorf("second Dispose() error = %v, want ErrDisposed", err)
	}

	fresh := openQueue(t, s, "scratch")
	if got := fresh.Size(context.Background()); got != 0 {
		t.Errorf("Size() of re-looked-up queue = %d, want 0", got)
	}
}

func TestQueue_DisposeWakesBlockedTake(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	q := openQueue(t, m.Session(), "wake")

	done := make(chan error, 1)
	go func() {
		_, err := q.Take(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = q.Dispose(context.Background())

	select {
	case err := <-done:
		if !errors.Is(err, ErrDisposed) {
			t.Errorf("Take() error = %v, want ErrDisposed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Take() did not return after Dispose")
	}
}

// --- Manager tests ---

func TestManager_SetQueueConfigAfterMaterialization(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	_ = m.SetQueueConfig("q", Config{Capacity: 5})
	openQueue(t, m.Session(), "q")

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "same config", cfg: Config{Capacity: 5}},
		{name: "different capacity", cfg: Config{Capacity: 6}, wantErr: ErrQueueMaterialized},
		{name: "negative capacity", cfg: Config{Capacity: -1}, wantErr: errAny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.SetQueueConfig("q", tt.cfg)
			switch {
			case tt.wantErr == nil && err != nil:
				t.Errorf("SetQueueConfig() error = %v, want nil", err)
			case tt.wantErr == errAny && err == nil:
				t.Error("SetQueueConfig() error = nil, want error")
			case tt.wantErr != nil && tt.wantErr != errAny && !errors.Is(err, tt.wantErr):
				t.Errorf("SetQueueConfig() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if got := m.QueueConfig("q"); got != (Config{Capacity: 5}) {
		t.Errorf("QueueConfig() = %+v, want capacity 5", got)
	}
}

var errAny = errors.New("any error")

func TestManager_DefaultConfig(t *testing.T) {
	t.Parallel()

	m := startedManager(t, WithDefaultConfig(Config{Capacity: 2}))
	q := openQueue(t, m.Session(), "defaulted")
	if got := q.Config().Capacity; got != 2 {
		t.Errorf("Config().Capacity = %d, want 2", got)
	}
	if err := m.SetDefaultConfig(Config{Capacity: 7}); err != nil {
		t.Fatalf("SetDefaultConfig() error = %v", err)
	}
	if got := q.Config().Capacity; got != 2 {
		t.Errorf("materialized queue capacity changed to %d", got)
	}
	if got := openQueue(t, m.Session(), "later").Config().Capacity; got != 7 {
		t.Errorf("new queue capacity = %d, want 7", got)
	}
}

func TestManager_PersistentWithoutDurableBackend(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	_ = m.SetQueueConfig("durable", Config{Persistent: true})
	_, err := m.Session().Queue(context.Background(), "durable")
	if !errors.Is(err, ErrNoDurableBackend) {
		t.Errorf("Queue() error = %v, want ErrNoDurableBackend", err)
	}
}

func TestManager_WarmRestartKeepsContent(t *testing.T) {
	t.Parallel()

	m := NewManager(testLogger())
	q := openQueue(t, m.Session(), "warm")
	if err := q.Put(context.Background(), []byte("a")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Put() before Start error = %v, want ErrStopped", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	mustPut(t, q, "a")

	_ = m.Stop(context.Background())
	_ = m.Start(context.Background())

	if got := q.Size(context.Background()); got != 1 {
		t.Errorf("Size() after warm restart = %d, want 1", got)
	}
}

func TestManager_StopWakesBlockedTake(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	q := openQueue(t, m.Session(), "stop")

	done := make(chan error, 1)
	go func() {
		_, err := q.Take(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = m.Stop(context.Background())

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Take() error = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Take() did not return after Stop")
	}
}

func TestManager_Lookup(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	if _, ok := m.Lookup("missing"); ok {
		t.Error("Lookup() of unknown queue ok = true, want false")
	}
	mustPut(t, openQueue(t, m.Session(), "known"), "a")
	info, ok := m.Lookup("known")
	if !ok || info.Size != 1 {
		t.Errorf("Lookup() = %+v, %v; want size 1", info, ok)
	}
	if names := m.Names(); !equalStrings(names, []string{"known"}) {
		t.Errorf("Names() = %v, want [known]", names)
	}
}

// --- End-to-end ---

func TestOrdersScenario(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	if err := m.SetQueueConfig("orders", Config{Capacity: 2}); err != nil {
		t.Fatalf("SetQueueConfig() error = %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := m.Session().Queue(context.Background(), "orders")
			if err != nil {
				t.Errorf("Queue() error = %v", err)
				return
			}
			ok, err := q.Offer(context.Background(), []byte("order"), 100*time.Millisecond)
			if err != nil {
				t.Errorf("Offer() error = %v", err)
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	var accepted, rejected int
	for ok := range results {
		if ok {
			accepted++
		} else {
			rejected++
		}
	}
	if accepted != 2 || rejected != 1 {
		t.Fatalf("accepted = %d, rejected = %d; want 2 and 1", accepted, rejected)
	}

	q := openQueue(t, m.Session(), "orders")
	if _, err := q.Take(context.Background()); err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	ok, err := q.Offer(context.Background(), []byte("order"), 100*time.Millisecond)
	if err != nil || !ok {
		t.Errorf("fourth Offer() = %v, %v; want true, nil", ok, err)
	}
}
