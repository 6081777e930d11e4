package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quantfleet/quantfleet/internal/metrics"
	"github.com/quantfleet/quantfleet/state"
	"github.com/quantfleet/quantfleet/types"
)

const (
	// CallStream receives one audit record per invocation.
	CallStream = "registry:calls"
	// HealthStream receives one audit record per status transition.
	HealthStream = "registry:health"
	// HealthTopic carries published HealthTransition events.
	HealthTopic = "registry:health"
	// BreakerTopic carries published circuit breaker events.
	BreakerTopic = "registry:breaker"

	// HealthOperation is the standard operation every service implements.
	HealthOperation = "health"
)

// Request is one RPC to a remote service.
type Request struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
}

// Response is the service's reply.
type Response struct {
	Result map[string]any `json:"result,omitempty"`
}

// Invoker is the transport used to reach remote services. The coordination
// core does not prescribe a wire protocol; deployments inject an HTTP, gRPC
// or message-bus transport and tests inject a fake.
type Invoker interface {
	Invoke(ctx context.Context, endpoint string, req *Request) (*Response, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, endpoint string, req *Request) (*Response, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, endpoint string, req *Request) (*Response, error) {
	return f(ctx, endpoint, req)
}

// Config configures the registry.
type Config struct {
	// InvokeTimeout bounds each remote invocation.
	InvokeTimeout time.Duration `yaml:"invoke_timeout" json:"invoke_timeout"`
	// HealthInterval is the period of the health-check loop.
	HealthInterval time.Duration `yaml:"health_interval" json:"health_interval"`
	// HealthTimeout bounds each health probe.
	HealthTimeout time.Duration `yaml:"health_timeout" json:"health_timeout"`
	// Breaker configures per-service circuit breaking.
	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		InvokeTimeout:  30 * time.Second,
		HealthInterval: 30 * time.Second,
		HealthTimeout:  5 * time.Second,
		Breaker:        DefaultBreakerConfig(),
	}
}

// Registry is the directory of remote services: registration, health
// tracking, failure-classified invocation and best-effort broadcast.
//
// Call-time failures can only mark a service offline; the periodic health
// loop is the single path back to online, so one slow call can never
// permanently condemn a healthy service.
type Registry struct {
	config  Config
	invoker Invoker
	store   state.Store
	metrics *metrics.Collector
	logger  *zap.Logger

	mu       sync.RWMutex
	services map[string]*types.ServiceDescriptor

	breakers *breakerGroup

	loopMu  sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New creates a Registry. store carries audit records and published events;
// collector may be nil to disable metrics.
func New(config Config, invoker Invoker, store state.Store, collector *metrics.Collector, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.InvokeTimeout <= 0 {
		config.InvokeTimeout = 30 * time.Second
	}
	if config.HealthInterval <= 0 {
		config.HealthInterval = 30 * time.Second
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 5 * time.Second
	}

	r := &Registry{
		config:   config,
		invoker:  invoker,
		store:    store,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "registry")),
		services: make(map[string]*types.ServiceDescriptor),
	}
	r.breakers = newBreakerGroup(config.Breaker, r.publishBreakerEvent, r.logger)
	return r
}

// Register adds or refreshes a service descriptor. Registration without an
// explicit status starts online.
func (r *Registry) Register(desc *types.ServiceDescriptor) error {
	if desc == nil || desc.ID == "" {
		return types.NewError(types.ErrValidation, "service descriptor requires an id")
	}
	if desc.Endpoint == "" {
		return types.Errorf(types.ErrValidation, "service %q requires an endpoint", desc.ID)
	}

	cp := *desc
	if cp.Status == "" {
		cp.Status = types.ServiceOnline
	}
	cp.LastSeenAt = time.Now()

	r.mu.Lock()
	r.services[cp.ID] = &cp
	r.mu.Unlock()

	r.logger.Info("service registered",
		zap.String("service_id", cp.ID),
		zap.String("endpoint", cp.Endpoint),
		zap.String("status", string(cp.Status)),
	)
	return nil
}

// Get returns a copy of the descriptor for serviceID.
func (r *Registry) Get(serviceID string) (*types.ServiceDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.services[serviceID]
	if !ok {
		return nil, types.Errorf(types.ErrServiceNotFound, "service %q not registered", serviceID)
	}
	cp := *desc
	return &cp, nil
}

// ListOnline returns copies of all online descriptors.
func (r *Registry) ListOnline() []*types.ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.ServiceDescriptor, 0, len(r.services))
	for _, desc := range r.services {
		if desc.Status == types.ServiceOnline {
			cp := *desc
			out = append(out, &cp)
		}
	}
	return out
}

// MarkStatus sets the status of serviceID, publishing a transition event and
// appending an audit record when the status actually changes.
func (r *Registry) MarkStatus(serviceID string, status types.ServiceStatus, reason string) error {
	r.mu.Lock()
	desc, ok := r.services[serviceID]
	if !ok {
		r.mu.Unlock()
		return types.Errorf(types.ErrServiceNotFound, "service %q not registered", serviceID)
	}
	from := desc.Status
	if from == status {
		r.mu.Unlock()
		return nil
	}
	desc.Status = status
	if status == types.ServiceOnline {
		desc.LastSeenAt = time.Now()
	}
	r.mu.Unlock()

	transition := types.HealthTransition{
		ServiceID: serviceID,
		From:      from,
		To:        status,
		Reason:    reason,
		At:        time.Now(),
	}
	r.logger.Info("service status transition",
		zap.String("service_id", serviceID),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
		zap.String("reason", reason),
	)
	if r.metrics != nil {
		r.metrics.RecordHealthTransition(serviceID, string(status))
	}
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.Publish(ctx, HealthTopic, transition); err != nil {
			r.logger.Warn("health transition publish failed", zap.Error(err))
		}
		if _, err := r.store.AppendLog(ctx, HealthStream, map[string]string{
			"service": serviceID,
			"from":    string(from),
			"to":      string(status),
			"reason":  reason,
			"at":      transition.At.Format(time.RFC3339Nano),
		}); err != nil {
			r.logger.Warn("health transition audit failed", zap.Error(err))
		}
	}
	return nil
}

// Invoke calls operation on serviceID with the configured per-call timeout.
//
// Failure classification: timeouts and connection refusals mark the service
// offline and return SERVICE_UNREACHABLE; any other transport or application
// error returns SERVICE_CALL_FAILED without touching the status.
func (r *Registry) Invoke(ctx context.Context, serviceID, operation string, params map[string]any) (map[string]any, error) {
	desc, err := r.Get(serviceID)
	if err != nil {
		return nil, err
	}

	breaker := r.breakers.get(serviceID)
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.InvokeTimeout)
	defer cancel()

	start := time.Now()
	resp, err := r.invoker.Invoke(callCtx, desc.Endpoint, &Request{Operation: operation, Params: params})
	latency := time.Since(start)

	outcome := "success"
	if err != nil {
		if isUnreachable(err) {
			outcome = "unreachable"
			breaker.RecordFailure()
			if merr := r.MarkStatus(serviceID, types.ServiceOffline, "invoke: "+err.Error()); merr != nil {
				r.logger.Warn("mark offline failed", zap.Error(merr))
			}
			err = types.Wrap(types.ErrServiceUnreachable,
				fmt.Sprintf("service %s unreachable during %s", serviceID, operation), err).
				WithService(serviceID)
		} else {
			outcome = "error"
			breaker.RecordFailure()
			err = types.Wrap(types.ErrServiceCallFailed,
				fmt.Sprintf("service %s failed %s", serviceID, operation), err).
				WithService(serviceID)
		}
	} else {
		breaker.RecordSuccess()
		r.touch(serviceID)
	}

	r.auditCall(serviceID, operation, outcome, latency)
	if r.metrics != nil {
		r.metrics.RecordServiceCall(serviceID, operation, outcome, latency)
	}

	if err != nil {
		return nil, err
	}
	if resp == nil {
		return map[string]any{}, nil
	}
	return resp.Result, nil
}

// Broadcast fans message out to every online service, best-effort. Individual
// failures are logged and counted, never propagated.
func (r *Registry) Broadcast(ctx context.Context, message map[string]any) int {
	online := r.ListOnline()
	if len(online) == 0 {
		return 0
	}

	var delivered int64
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, desc := range online {
		desc := desc
		g.Go(func() error {
			_, err := r.Invoke(gctx, desc.ID, "broadcast", message)
			if err != nil {
				r.logger.Warn("broadcast delivery failed",
					zap.String("service_id", desc.ID),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			delivered++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered)
}

// touch refreshes LastSeenAt after a successful call.
func (r *Registry) touch(serviceID string) {
	r.mu.Lock()
	if desc, ok := r.services[serviceID]; ok {
		desc.LastSeenAt = time.Now()
	}
	r.mu.Unlock()
}

// auditCall appends one call record to the audit stream. This sits on the
// invocation hot path, so the append must not block the caller.
func (r *Registry) auditCall(serviceID, operation, outcome string, latency time.Duration) {
	if r.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := r.store.AppendLog(ctx, CallStream, map[string]string{
			"service":    serviceID,
			"operation":  operation,
			"outcome":    outcome,
			"latency_ms": strconv.FormatInt(latency.Milliseconds(), 10),
			"at":         time.Now().Format(time.RFC3339Nano),
		}); err != nil {
			r.logger.Warn("call audit append failed", zap.Error(err))
		}
	}()
}

// publishBreakerEvent forwards breaker transitions to the shared bus.
func (r *Registry) publishBreakerEvent(ev BreakerEvent) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Publish(ctx, BreakerTopic, ev); err != nil {
		r.logger.Warn("breaker event publish failed", zap.Error(err))
	}
}

// isUnreachable classifies hard connectivity failures: call timeout or
// refused connection.
func isUnreachable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
