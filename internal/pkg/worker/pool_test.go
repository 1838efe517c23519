package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cvesentinel.io/sentinel/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestNewPools(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	if pools.General == nil {
		t.Error("General pool is nil")
	}
	if pools.Delivery == nil {
		t.Error("Delivery pool is nil")
	}
}

func TestPool_Submit(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, PoolConfig{GeneralPoolSize: 10, DeliveryPoolSize: 5})
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	var executed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)

	err = pools.General.Submit(ctx, func(ctx context.Context) {
		executed.Store(true)
		wg.Done()
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	wg.Wait()
	if !executed.Load() {
		t.Error("Task was not executed")
	}
}

func TestPool_Submit_CancelledContext(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	cancelledCtx, cancel := context.WithCancel(ctx)
	cancel()

	err = pools.Delivery.Submit(cancelledCtx, func(ctx context.Context) {
		t.Error("Task should not execute with cancelled context")
	})
	if err != context.Canceled {
		t.Errorf("Submit() error = %v, want context.Canceled", err)
	}
}

func TestEach(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, PoolConfig{GeneralPoolSize: 2, DeliveryPoolSize: 3})
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	users := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	var seen sync.Map
	failed := Each(ctx, pools.Delivery, users, func(ctx context.Context, id string) error {
		seen.Store(id, true)
		if id == "u2" || id == "u5" {
			return errors.New("boom")
		}
		return nil
	})

	if failed != 2 {
		t.Errorf("Each() failed = %d, want 2", failed)
	}
	for _, id := range users {
		if _, ok := seen.Load(id); !ok {
			t.Errorf("item %s was not processed", id)
		}
	}
}

func TestEach_CancelledContextCountsAsFailure(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	failed := Each(ctx, pools.Delivery, []int{1, 2, 3}, func(ctx context.Context, _ int) error {
		t.Error("fn should not run with cancelled context")
		return nil
	})
	if failed != 3 {
		t.Errorf("Each() failed = %d, want 3", failed)
	}
}

func TestPools_SubmitDetached(t *testing.T) {
	tests := []struct {
		name     string
		poolName string
	}{
		{"general pool", PoolGeneral},
		{"delivery pool", PoolDelivery},
		{"default fallback", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pools, err := NewPools(context.Background(), DefaultPoolConfig())
			if err != nil {
				t.Fatalf("NewPools() error = %v", err)
			}

			var executed atomic.Bool
			var wg sync.WaitGroup
			wg.Add(1)

			err = pools.SubmitDetached(tt.poolName, func(ctx context.Context) {
				executed.Store(true)
				wg.Done()
			})
			if err != nil {
				t.Fatalf("SubmitDetached(%q) error = %v", tt.poolName, err)
			}

			wg.Wait()
			pools.Shutdown()

			if !executed.Load() {
				t.Errorf("SubmitDetached(%q) task was not executed", tt.poolName)
			}
		})
	}
}

func TestPools_Metrics(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{GeneralPoolSize: 10, DeliveryPoolSize: 5})
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	metrics := pools.Metrics()

	general, ok := metrics[PoolGeneral].(map[string]int)
	if !ok {
		t.Fatal("general metrics not found or wrong type")
	}
	if general["cap"] != 10 {
		t.Errorf("general cap = %d, want 10", general["cap"])
	}

	delivery, ok := metrics[PoolDelivery].(map[string]int)
	if !ok {
		t.Fatal("delivery metrics not found or wrong type")
	}
	if delivery["cap"] != 5 {
		t.Errorf("delivery cap = %d, want 5", delivery["cap"])
	}
}

func TestPool_Submit_ContextCancelledWhileQueued(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, PoolConfig{GeneralPoolSize: 1, DeliveryPoolSize: 1})
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	blockCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	_ = pools.General.Submit(ctx, func(ctx context.Context) {
		wg.Done()
		<-blockCh
	})
	wg.Wait()

	cancelCtx, cancel := context.WithCancel(ctx)

	var submitWg sync.WaitGroup
	submitWg.Add(1)
	go func() {
		defer submitWg.Done()
		_ = pools.General.Submit(cancelCtx, func(ctx context.Context) {})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	close(blockCh)
	submitWg.Wait()
}
