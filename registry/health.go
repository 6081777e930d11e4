package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quantfleet/quantfleet/types"
)

// StartHealthLoop runs the periodic health checker until StopHealthLoop or
// ctx cancellation. The loop is independent of in-flight Invoke calls and is
// the only path that moves a service from offline back to online.
func (r *Registry) StartHealthLoop(ctx context.Context) error {
	r.loopMu.Lock()
	if r.running {
		r.loopMu.Unlock()
		return types.NewError(types.ErrValidation, "health loop already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	stopCh, doneCh := r.stopCh, r.doneCh
	r.loopMu.Unlock()

	go func() {
		defer close(doneCh)

		ticker := time.NewTicker(r.config.HealthInterval)
		defer ticker.Stop()

		r.CheckAll(ctx)

		for {
			select {
			case <-stopCh:
				r.logger.Info("health loop stopped")
				return
			case <-ctx.Done():
				r.logger.Info("health loop cancelled")
				return
			case <-ticker.C:
				r.CheckAll(ctx)
			}
		}
	}()

	r.logger.Info("health loop started", zap.Duration("interval", r.config.HealthInterval))
	return nil
}

// StopHealthLoop stops the loop and waits briefly for it to exit.
func (r *Registry) StopHealthLoop() {
	r.loopMu.Lock()
	if !r.running {
		r.loopMu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	doneCh := r.doneCh
	r.loopMu.Unlock()

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		r.logger.Warn("health loop did not stop in time")
	}
}

// CheckAll probes every registered service once. Exported so callers and
// tests can force an immediate sweep between ticks.
func (r *Registry) CheckAll(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.services))
	endpoints := make(map[string]string, len(r.services))
	for id, desc := range r.services {
		ids = append(ids, id)
		endpoints[id] = desc.Endpoint
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.checkOne(ctx, id, endpoints[id])
	}
}

// checkOne probes one service with the standard health operation. Probes
// bypass the circuit breaker: they are the recovery path, and a passing
// probe resets the breaker so regular calls resume immediately.
func (r *Registry) checkOne(ctx context.Context, serviceID, endpoint string) {
	probeCtx, cancel := context.WithTimeout(ctx, r.config.HealthTimeout)
	defer cancel()

	resp, err := r.invoker.Invoke(probeCtx, endpoint, &Request{Operation: HealthOperation})
	if err != nil {
		if merr := r.MarkStatus(serviceID, types.ServiceOffline, "health check: "+err.Error()); merr != nil {
			r.logger.Warn("health mark offline failed", zap.Error(merr))
		}
		return
	}

	status := types.ServiceDegraded
	reason := "health check: degraded"
	if resp != nil {
		if s, ok := resp.Result["status"].(string); ok && s == "healthy" {
			status = types.ServiceOnline
			reason = "health check passed"
		}
	}
	if status == types.ServiceOnline {
		r.breakers.get(serviceID).Reset()
	}
	if merr := r.MarkStatus(serviceID, status, reason); merr != nil {
		r.logger.Warn("health mark status failed", zap.Error(merr))
	}
}
