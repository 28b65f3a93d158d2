package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kspro0090/baradar/internal/store"
)

func TestReserveUnderContention(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory(), nil)

	const k, n = 4, 25
	refs := make([]string, k)
	for i := range refs {
		refs[i] = fmt.Sprint("doc-", i)
	}
	if _, err := m.Register(ctx, "svc", refs...); err != nil {
		t.Fatal(err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		owners  = make(map[string]string)
		emptied int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(requestID string) {
			defer wg.Done()
			res, err := m.Reserve(ctx, "svc", requestID)
			if errors.Is(err, ErrEmptyTemplatePool) {
				mu.Lock()
				emptied++
				mu.Unlock()
				return
			}
			if err != nil {
				t.Error(err)
				return
			}
			if err := res.Commit(ctx); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if other, ok := owners[res.Instance.Ref]; ok {
				t.Errorf("%s assigned to %s and %s", res.Instance.Ref, other, requestID)
			}
			owners[res.Instance.Ref] = requestID
		}(fmt.Sprint("req-", i))
	}
	wg.Wait()

	if len(owners) != k {
		t.Errorf("%d reservations succeeded, want %d", len(owners), k)
	}
	if emptied != n-k {
		t.Errorf("%d requests saw an empty pool, want %d", emptied, n-k)
	}
	if left, _ := m.Available(ctx, "svc"); left != 0 {
		t.Errorf("available = %d, want 0", left)
	}
}

func TestReleaseReturnsInstance(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory(), nil)
	m.Register(ctx, "svc", "doc-1")

	res, err := m.Reserve(ctx, "svc", "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reserve(ctx, "svc", "req-2"); !errors.Is(err, ErrEmptyTemplatePool) {
		t.Fatalf("second reserve err = %v, want ErrEmptyTemplatePool", err)
	}

	if err := res.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if err := res.Release(ctx); err != nil {
		t.Errorf("second release should be a no-op: %v", err)
	}
	if err := res.Commit(ctx); err != nil {
		t.Errorf("commit after release should be a no-op: %v", err)
	}

	pool, _ := m.Instances(ctx, "svc")
	inst := pool[0]
	if inst.Used || inst.RequestID != "" {
		t.Errorf("instance after release = %+v, want unused and free", inst)
	}
	if _, err := m.Reserve(ctx, "svc", "req-2"); err != nil {
		t.Errorf("reserve after release: %v", err)
	}
}

func TestRegisterRejectsEmptyRef(t *testing.T) {
	m := NewManager(store.NewMemory(), nil)
	if _, err := m.Register(context.Background(), "svc", "doc-1", ""); err == nil {
		t.Error("Register accepted an empty reference")
	}
}

func TestDiscardRetiresInstance(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory(), nil)
	m.Register(ctx, "svc", "doc-1")

	res, err := m.Reserve(ctx, "svc", "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := res.Discard(ctx); err != nil {
		t.Fatal(err)
	}
	if err := res.Release(ctx); err != nil {
		t.Errorf("release after discard should be a no-op: %v", err)
	}

	if n, _ := m.Available(ctx, "svc"); n != 0 {
		t.Errorf("available = %d, want 0", n)
	}
	pool, _ := m.Instances(ctx, "svc")
	if inst := pool[0]; !inst.Used || !inst.Discarded || inst.RequestID != "req-1" {
		t.Errorf("instance after discard = %+v", inst)
	}
	if _, err := m.Reserve(ctx, "svc", "req-1"); !errors.Is(err, ErrEmptyTemplatePool) {
		t.Errorf("reserve after discard err = %v, want ErrEmptyTemplatePool", err)
	}
}

func TestHeldFindsOpenReservation(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory(), nil)
	m.Register(ctx, "svc", "doc-1", "doc-2")

	if res, err := m.Held(ctx, "svc", "req-1"); err != nil || res != nil {
		t.Fatalf("Held before reserve = %v, %v", res, err)
	}
	reserved, err := m.Reserve(ctx, "svc", "req-1")
	if err != nil {
		t.Fatal(err)
	}

	held, err := m.Held(ctx, "svc", "req-1")
	if err != nil || held == nil {
		t.Fatalf("Held = %v, %v", held, err)
	}
	if held.Instance.ID != reserved.Instance.ID {
		t.Errorf("held %s, reserved %s", held.Instance.ID, reserved.Instance.ID)
	}
	if err := held.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := m.Available(ctx, "svc"); n != 2 {
		t.Errorf("available = %d, want 2", n)
	}
}
