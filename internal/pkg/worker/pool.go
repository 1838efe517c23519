// Package worker provides goroutine pool management.
//
// Naked goroutines are not used in request paths.
// Concurrent work goes through a Pool with context propagation.
//
// Import Path: cvesentinel.io/sentinel/internal/pkg/worker
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool names accepted by SubmitDetached.
const (
	PoolGeneral  = "general"
	PoolDelivery = "delivery"
)

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection.
type Pools struct {
	General *Pool
	// Delivery runs per-recipient notification fan-out.
	Delivery *Pool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool configuration.
type PoolConfig struct {
	GeneralPoolSize  int
	DeliveryPoolSize int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize:  100,
		DeliveryPoolSize: 32,
	}
}

// NewPools creates the worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	generalAnts, err := ants.NewPool(cfg.GeneralPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	deliveryAnts, err := ants.NewPool(cfg.DeliveryPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(30*time.Second),
	)
	if err != nil {
		generalAnts.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		General:       &Pool{pool: generalAnts, name: PoolGeneral},
		Delivery:      &Pool{pool: deliveryAnts, name: PoolDelivery},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a context-aware task.
// If ctx is already cancelled, returns ctx.Err() without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		// May have been cancelled while queued.
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Each runs fn for every item on the pool and waits for all of them.
// It returns how many calls failed. Items skipped by cancellation or a closed pool count as failures.
func Each[T any](ctx context.Context, p *Pool, items []T, fn func(ctx context.Context, item T) error) int {
	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	for _, item := range items {
		item := item
		if ctx.Err() != nil {
			failed.Add(1)
			continue
		}
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				failed.Add(1)
				return
			}
			if err := fn(ctx, item); err != nil {
				failed.Add(1)
			}
		})
		if err != nil {
			wg.Done()
			failed.Add(1)
			logger.Warn("Task submit failed",
				zap.String("pool", p.name),
				zap.Error(err),
			)
		}
	}
	wg.Wait()
	return int(failed.Load())
}

// SubmitDetached submits a background task bound to the service lifecycle context.
// Detached tasks survive request cancellation but stop on Shutdown.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	pool := p.General
	if poolName == PoolDelivery {
		pool = p.Delivery
	}

	return pool.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("Detached task skipped: service shutting down",
				zap.String("pool", poolName),
			)
			return
		default:
		}
		task(p.serviceCtx)
	})
}

// Shutdown cancels the service context, then waits for running tasks (max 30s).
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.General.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("General pool shutdown timeout", zap.Error(err))
	}
	if err := p.Delivery.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("Delivery pool shutdown timeout", zap.Error(err))
	}
}

// Metrics returns pool occupancy for the readiness endpoint.
func (p *Pools) Metrics() map[string]interface{} {
	return map[string]interface{}{
		PoolGeneral:  poolMetrics(p.General),
		PoolDelivery: poolMetrics(p.Delivery),
	}
}

func poolMetrics(p *Pool) map[string]int {
	return map[string]int{
		"running": p.pool.Running(),
		"free":    p.pool.Free(),
		"cap":     p.pool.Cap(),
	}
}
