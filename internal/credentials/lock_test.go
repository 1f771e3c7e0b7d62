package credentials

import (
	"context"
	"testing"
	"time"
)

func TestLockRegistry_SameNameSameLock(t *testing.T) {
	t.Parallel()

	r := NewLockRegistry()
	if r.Get("a") != r.Get("a") {
		t.Error("Get() returned different locks for the same name")
	}
	if r.Get("a") == r.Get("b") {
		t.Error("Get() returned the same lock for different names")
	}
}

func TestNamedLock(t *testing.T) {
	t.Parallel()

	l := NewLockRegistry().Get("x")
	if !l.TryLock() {
		t.Fatal("TryLock() on free lock = false")
	}
	if l.TryLock() {
		t.Fatal("TryLock() on held lock = true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Lock(ctx); err == nil {
		t.Fatal("Lock() on held lock returned nil before timeout")
	}

	l.Unlock()
	if err := l.Lock(context.Background()); err != nil {
		t.Fatalf("Lock() on free lock error = %v", err)
	}
	l.Unlock()
}

func TestNamedLock_UnlockFreePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("Unlock() of free lock did not panic")
		}
	}()
	NewLockRegistry().Get("free").Unlock()
}

func TestOwnerState_Usable(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		state OwnerState
		want  bool
	}{
		{name: "no token", state: OwnerState{State: StateNoToken}, want: false},
		{name: "refreshing", state: OwnerState{State: StateRefreshing, AccessToken: "t"}, want: false},
		{name: "no expiry", state: OwnerState{State: StateHasToken, AccessToken: "t"}, want: true},
		{name: "valid", state: OwnerState{State: StateHasToken, AccessToken: "t", ExpiresAt: now.Add(time.Hour)}, want: true},
		{name: "inside buffer", state: OwnerState{State: StateHasToken, AccessToken: "t", ExpiresAt: now.Add(time.Minute)}, want: false},
		{name: "empty token", state: OwnerState{State: StateHasToken}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Usable(now, 5*time.Minute); got != tt.want {
				t.Errorf("Usable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemoryStore_LoadCreatesAndCopies(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	st, err := s.Load(context.Background(), "new")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.State != StateNoToken || st.OwnerID != "new" {
		t.Errorf("Load() = %+v, want NO_TOKEN for new", st)
	}

	st.State = StateHasToken
	again, _ := s.Load(context.Background(), "new")
	if again.State != StateNoToken {
		t.Error("mutating a loaded state changed the store")
	}
}
