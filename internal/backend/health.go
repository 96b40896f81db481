package backend

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/slowpost/gateway/internal/config"
	"github.com/slowpost/gateway/internal/observability"
)

// HealthStatusFunc is called when an instance's health status changes.
type HealthStatusFunc func(service, instance string, healthy bool)

// Health check default configuration constants.
const (
	// DefaultHealthCheckTimeout is the default probe timeout. It is
	// deliberately shorter than the default request timeout.
	DefaultHealthCheckTimeout = 2 * time.Second

	// DefaultHealthCheckInterval is the default interval between probes.
	DefaultHealthCheckInterval = 10 * time.Second

	// DefaultHealthyThreshold is the number of consecutive probe
	// successes that flip an instance back to healthy. One success is
	// enough so recovered instances rejoin rotation quickly.
	DefaultHealthyThreshold = 1

	// DefaultUnhealthyThreshold is the number of consecutive probe
	// failures that flip an instance to unhealthy.
	DefaultUnhealthyThreshold = 3
)

// HealthChecker periodically probes the instances of one service and is
// the sole writer of their health status. Probe failures are logged,
// never propagated: health checking is fire-and-forget infrastructure.
type HealthChecker struct {
	service   string
	instances []*Instance
	config    config.HealthCheckConfig
	client    *http.Client
	logger    observability.Logger

	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
	mu        sync.Mutex

	healthyThreshold   int
	unhealthyThreshold int
	successCounts      map[*Instance]int
	failureCounts      map[*Instance]int

	onStatusChange HealthStatusFunc

	useGRPC     bool
	grpcService string
	grpcConns   map[string]*grpc.ClientConn
	grpcMu      sync.Mutex
	grpcCreds   credentials.TransportCredentials
}

// HealthCheckOption is a functional option for the health checker.
type HealthCheckOption func(*HealthChecker)

// WithHealthCheckLogger sets the logger.
func WithHealthCheckLogger(logger observability.Logger) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.logger = logger
	}
}

// WithHealthCheckClient sets the HTTP client used for probes.
func WithHealthCheckClient(client *http.Client) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.client = client
	}
}

// WithHealthStatusCallback sets a callback for health status changes.
func WithHealthStatusCallback(fn HealthStatusFunc) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.onStatusChange = fn
	}
}

// WithGRPCTransportCredentials sets transport credentials for gRPC probes.
func WithGRPCTransportCredentials(creds credentials.TransportCredentials) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.grpcCreds = creds
	}
}

// NewHealthChecker creates a health checker for a service's instances.
func NewHealthChecker(service string, instances []*Instance, cfg config.HealthCheckConfig, opts ...HealthCheckOption) *HealthChecker {
	timeout := cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = DefaultHealthCheckTimeout
	}

	hc := &HealthChecker{
		service:   service,
		instances: instances,
		config:    cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		logger:             observability.NopLogger(),
		stopCh:             make(chan struct{}),
		stoppedCh:          make(chan struct{}),
		healthyThreshold:   cfg.HealthyThreshold,
		unhealthyThreshold: cfg.UnhealthyThreshold,
		successCounts:      make(map[*Instance]int),
		failureCounts:      make(map[*Instance]int),
		grpcConns:          make(map[string]*grpc.ClientConn),
	}

	if cfg.UseGRPC {
		hc.useGRPC = true
		hc.grpcService = cfg.GRPCService
	}

	if hc.healthyThreshold == 0 {
		hc.healthyThreshold = DefaultHealthyThreshold
	}
	if hc.unhealthyThreshold == 0 {
		hc.unhealthyThreshold = DefaultUnhealthyThreshold
	}

	for _, opt := range opts {
		opt(hc)
	}

	return hc
}

// Start launches the probe loop.
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	hc.mu.Unlock()

	go hc.run(ctx)
}

// Stop stops the probe loop and waits for it to exit.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	if !hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = false
	hc.mu.Unlock()

	close(hc.stopCh)
	<-hc.stoppedCh
	hc.closeAllGRPCConns()
}

// IsRunning returns true while the probe loop is active.
func (hc *HealthChecker) IsRunning() bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.running
}

func (hc *HealthChecker) run(ctx context.Context) {
	defer close(hc.stoppedCh)

	interval := hc.config.Interval.Duration()
	if interval == 0 {
		interval = DefaultHealthCheckInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	hc.checkAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hc.stopCh:
			return
		case <-ticker.C:
			hc.checkAll(ctx)
		}
	}
}

// checkAll probes every instance in parallel.
func (hc *HealthChecker) checkAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, inst := range hc.instances {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			hc.checkInstance(ctx, inst)
		}(inst)
	}

	wg.Wait()
}

func (hc *HealthChecker) checkInstance(ctx context.Context, inst *Instance) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	inst.MarkProbed()

	if hc.useGRPC {
		hc.checkInstanceGRPC(ctx, inst)
		return
	}

	hc.checkInstanceHTTP(ctx, inst)
}

func (hc *HealthChecker) checkInstanceHTTP(ctx context.Context, inst *Instance) {
	port := inst.Port
	if hc.config.Port > 0 {
		port = hc.config.Port
	}
	url := "http://" + net.JoinHostPort(inst.Address, strconv.Itoa(port)) + hc.config.Path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		hc.recordFailure(inst, err)
		return
	}

	probeStart := time.Now()
	resp, err := hc.client.Do(req)
	probeDuration := time.Since(probeStart)

	if err != nil {
		hc.recordFailure(inst, err)
		RecordHealthCheck(hc.service, "failure", probeDuration.Seconds())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		hc.recordSuccess(inst)
		RecordHealthCheck(hc.service, "success", probeDuration.Seconds())
	} else {
		hc.recordFailure(inst, nil)
		RecordHealthCheck(hc.service, "failure", probeDuration.Seconds())
	}
}

func (hc *HealthChecker) checkInstanceGRPC(ctx context.Context, inst *Instance) {
	addr := inst.Name()

	conn, err := hc.getGRPCConn(addr)
	if err != nil {
		hc.recordFailure(inst, err)
		RecordHealthCheck(hc.service, "failure", 0)
		return
	}

	client := healthpb.NewHealthClient(conn)

	timeout := hc.config.Timeout.Duration()
	if timeout == 0 {
		timeout = DefaultHealthCheckTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	probeStart := time.Now()
	resp, err := client.Check(probeCtx, &healthpb.HealthCheckRequest{
		Service: hc.grpcService,
	})
	probeDuration := time.Since(probeStart)

	if err != nil {
		hc.recordFailure(inst, err)
		RecordHealthCheck(hc.service, "failure", probeDuration.Seconds())
		hc.closeGRPCConn(addr)
		return
	}

	if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
		hc.recordSuccess(inst)
		RecordHealthCheck(hc.service, "success", probeDuration.Seconds())
	} else {
		hc.recordFailure(inst, nil)
		RecordHealthCheck(hc.service, "failure", probeDuration.Seconds())
	}
}

// getGRPCConn returns a pooled gRPC connection for the address.
func (hc *HealthChecker) getGRPCConn(addr string) (*grpc.ClientConn, error) {
	hc.grpcMu.Lock()
	defer hc.grpcMu.Unlock()

	if conn, ok := hc.grpcConns[addr]; ok {
		state := conn.GetState()
		if state != connectivity.Shutdown && state != connectivity.TransientFailure {
			return conn, nil
		}
		if err := conn.Close(); err != nil {
			hc.logger.Warn("failed to close stale gRPC connection",
				observability.String("addr", addr),
				observability.Error(err),
			)
		}
		delete(hc.grpcConns, addr)
	}

	creds := hc.grpcCreds
	if creds == nil {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, err
	}

	hc.grpcConns[addr] = conn
	return conn, nil
}

func (hc *HealthChecker) closeGRPCConn(addr string) {
	hc.grpcMu.Lock()
	defer hc.grpcMu.Unlock()

	if conn, ok := hc.grpcConns[addr]; ok {
		if err := conn.Close(); err != nil {
			hc.logger.Warn("failed to close gRPC connection",
				observability.String("addr", addr),
				observability.Error(err),
			)
		}
		delete(hc.grpcConns, addr)
	}
}

func (hc *HealthChecker) closeAllGRPCConns() {
	hc.grpcMu.Lock()
	defer hc.grpcMu.Unlock()

	for addr, conn := range hc.grpcConns {
		if err := conn.Close(); err != nil {
			hc.logger.Warn("failed to close gRPC connection",
				observability.String("addr", addr),
				observability.Error(err),
			)
		}
		delete(hc.grpcConns, addr)
	}
}

// recordSuccess records a successful probe and applies hysteresis.
func (hc *HealthChecker) recordSuccess(inst *Instance) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.successCounts[inst]++
	hc.failureCounts[inst] = 0

	if hc.successCounts[inst] >= hc.healthyThreshold && inst.Status() != StatusHealthy {
		hc.logger.Info("instance became healthy",
			observability.String("service", hc.service),
			observability.String("instance", inst.Name()),
		)
		inst.SetStatus(StatusHealthy)
		RecordInstanceHealth(hc.service, inst.Name(), true)
		if hc.onStatusChange != nil {
			hc.onStatusChange(hc.service, inst.Name(), true)
		}
	}
}

// recordFailure records a failed probe and applies hysteresis.
func (hc *HealthChecker) recordFailure(inst *Instance, err error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.failureCounts[inst]++
	hc.successCounts[inst] = 0

	if hc.failureCounts[inst] >= hc.unhealthyThreshold && inst.Status() != StatusUnhealthy {
		hc.logger.Warn("instance became unhealthy",
			observability.String("service", hc.service),
			observability.String("instance", inst.Name()),
			observability.Error(err),
		)
		inst.SetStatus(StatusUnhealthy)
		RecordInstanceHealth(hc.service, inst.Name(), false)
		if hc.onStatusChange != nil {
			hc.onStatusChange(hc.service, inst.Name(), false)
		}
	}
}
