package lifecycle_test

import (
	"context"
	"testing"

	"telegram-archiver/internal/infra/lifecycle"
)

func TestStartStopOrder(t *testing.T) {
	t.Parallel()

	m := lifecycle.New(context.Background())

	var order []string
	reg := func(name, parent string, deps []string) {
		t.Helper()
		err := m.Register(name, parent, deps,
			func(ctx context.Context) (context.Context, error) {
				order = append(order, "start:"+name)
				return nil, nil
			},
			func(ctx context.Context) error {
				order = append(order, "stop:"+name)
				return nil
			})
		if err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	// broker ← store ← worker: зависимости должны подниматься первыми.
	reg("broker", "", nil)
	reg("store", "", nil)
	reg("worker", "", []string{"broker", "store"})

	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	index := func(s string) int {
		for i, v := range order {
			if v == s {
				return i
			}
		}
		t.Fatalf("event %q not recorded, order=%v", s, order)
		return -1
	}

	if index("start:broker") > index("start:worker") || index("start:store") > index("start:worker") {
		t.Errorf("worker started before its deps: %v", order)
	}
	if index("stop:worker") > index("stop:broker") || index("stop:worker") > index("stop:store") {
		t.Errorf("deps stopped before worker: %v", order)
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	m := lifecycle.New(context.Background())

	if err := m.Register("", "", nil, nil, nil); err == nil {
		t.Error("empty name accepted")
	}
	if err := m.Register("a", "missing", nil, nil, nil); err == nil {
		t.Error("unknown parent accepted")
	}
	if err := m.Register("a", "", nil, nil, nil); err != nil {
		t.Fatalf("Register(a) error = %v", err)
	}
	if err := m.Register("a", "", nil, nil, nil); err == nil {
		t.Error("duplicate name accepted")
	}
	if err := m.Register("b", "", []string{"b"}, nil, nil); err == nil {
		t.Error("self-dependency accepted")
	}
}

func TestDependencyCycleDetected(t *testing.T) {
	t.Parallel()

	m := lifecycle.New(context.Background())
	noop := func(ctx context.Context) (context.Context, error) { return nil, nil }

	if err := m.Register("a", "", []string{"b"}, noop, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Register("b", "", []string{"a"}, noop, nil); err != nil {
		t.Fatal(err)
	}

	if err := m.StartAll(); err == nil {
		t.Error("StartAll() expected cycle error, got nil")
	}
}

func TestContextCancelledOnShutdown(t *testing.T) {
	t.Parallel()

	m := lifecycle.New(context.Background())

	var nodeCtx context.Context
	err := m.Register("svc", "", nil,
		func(ctx context.Context) (context.Context, error) {
			nodeCtx = ctx
			return nil, nil
		}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	select {
	case <-nodeCtx.Done():
		t.Fatal("node context cancelled before shutdown")
	default:
	}

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case <-nodeCtx.Done():
	default:
		t.Error("node context not cancelled after shutdown")
	}
}
