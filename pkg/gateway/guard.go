package gateway

import (
	"context"
	"sync"
	"time"

	apigwv1 "apigw-proxy/api/v1"
)

// releaseTimeout bounds the delete issued when a scope exits.
const releaseTimeout = 30 * time.Second

// Guard holds an opened gateway and deletes it exactly once on Release.
type Guard struct {
	m    *LifecycleManager
	once sync.Once
	op   *apigwv1.Operation
	err  error
}

// Acquire opens m and returns a Guard for it. If Open fails, any gateway it
// already created is deleted before the error is returned.
func Acquire(ctx context.Context, m *LifecycleManager) (*Guard, error) {
	g := &Guard{m: m}
	if _, err := m.Open(ctx); err != nil {
		if relErr := g.Release(ctx); relErr != nil {
			m.log.Error(relErr, "Failed to delete API gateway after open failure")
		}
		return nil, err
	}
	return g, nil
}

// Manager returns the guarded manager.
func (g *Guard) Manager() *LifecycleManager {
	return g.m
}

// Operation returns the delete operation once Release has succeeded.
func (g *Guard) Operation() *apigwv1.Operation {
	return g.op
}

// Release deletes the gateway. Only the first call issues the delete; later
// calls return its result. The delete runs even if ctx is already cancelled.
func (g *Guard) Release(ctx context.Context) error {
	g.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		g.op, g.err = g.m.Close(ctx)
	})
	return g.err
}

// WithGateway opens m, runs fn and deletes the gateway when fn returns or
// panics. The delete is best effort: its error is logged, and fn's error is
// returned.
func WithGateway(ctx context.Context, m *LifecycleManager, fn func(context.Context, *LifecycleManager) error) error {
	g, err := Acquire(ctx, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := g.Release(ctx); err != nil {
			m.log.Error(err, "Failed to delete API gateway")
		}
	}()
	return fn(ctx, m)
}
