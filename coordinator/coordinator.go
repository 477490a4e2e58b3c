package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edge-robotics/command-core/eventbus"
	"github.com/edge-robotics/command-core/logger"
	"github.com/edge-robotics/command-core/queue/retry"
)

// AlertThreshold default mirrors Coordinator config.
const defaultAlertThreshold = 3

// Coordinator supervises registered Services. The services/states maps are
// guarded by mu; the periodic health-check loop runs on its own goroutine,
// stopped cooperatively via a shutdown channel.
type Coordinator struct {
	mu       sync.Mutex
	services map[string]Service
	states   map[string]*State

	healthCheckInterval time.Duration
	maxRestartAttempts  int
	restartDelay        time.Duration
	alertThreshold      int

	bus    eventbus.Bus
	log    logger.Interface
	cancel context.CancelFunc
	wg     sync.WaitGroup
	running bool
}

// Option configures a Coordinator at construction.
type Option func(*Coordinator)

// WithHealthCheckInterval overrides the default 30s probe cadence.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.healthCheckInterval = d }
}

// WithMaxRestartAttempts overrides the default restart cap of 3.
func WithMaxRestartAttempts(n int) Option {
	return func(c *Coordinator) { c.maxRestartAttempts = n }
}

// WithRestartDelay overrides the default 2s delay before a restart attempt.
func WithRestartDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.restartDelay = d }
}

// WithAlertThreshold overrides the default 3 consecutive-failure alert trigger.
func WithAlertThreshold(n int) Option {
	return func(c *Coordinator) { c.alertThreshold = n }
}

// WithEventBus wires state-change and alert notifications onto bus.
func WithEventBus(bus eventbus.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithLogger overrides the default discard logger.
func WithLogger(l logger.Interface) Option {
	return func(c *Coordinator) { c.log = l }
}

// New creates a Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		services:            make(map[string]Service),
		states:              make(map[string]*State),
		healthCheckInterval: 30 * time.Second,
		maxRestartAttempts:  3,
		restartDelay:        2 * time.Second,
		alertThreshold:       defaultAlertThreshold,
		log:                 logger.Discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a service under the coordinator's supervision. Re-
// registering a running service, or registering an already-present name,
// fails.
func (c *Coordinator) Register(svc Service, cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.services[svc.Name()]; ok {
		if existing.IsRunning() {
			return fmt.Errorf("coordinator: cannot replace running service %q", svc.Name())
		}
		return fmt.Errorf("coordinator: service %q already registered", svc.Name())
	}

	if cfg.Name == "" {
		cfg = DefaultConfig(svc.Name(), cfg.ServiceType)
	}
	c.services[svc.Name()] = svc
	c.states[svc.Name()] = &State{Config: cfg, Status: StatusStopped}
	return nil
}

// Replace registers svc, discarding any previous state for the same name.
// Fails if the previous instance is still running.
func (c *Coordinator) Replace(svc Service, cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.services[svc.Name()]; ok {
		if existing.IsRunning() {
			return fmt.Errorf("coordinator: cannot replace running service %q", svc.Name())
		}
		delete(c.states, svc.Name())
	}
	if cfg.Name == "" {
		cfg = DefaultConfig(svc.Name(), cfg.ServiceType)
	}
	c.services[svc.Name()] = svc
	c.states[svc.Name()] = &State{Config: cfg, Status: StatusStopped}
	return nil
}

// Unregister removes a service entirely.
func (c *Coordinator) Unregister(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.services[name]; !ok {
		return false
	}
	delete(c.services, name)
	delete(c.states, name)
	return true
}

func (c *Coordinator) notify(ctx context.Context, name string, oldStatus, newStatus Status) {
	if oldStatus == newStatus || c.bus == nil {
		return
	}
	c.bus.Publish(ctx, eventbus.TopicServiceHealthChanged, map[string]any{
		"service": name,
		"old":     string(oldStatus),
		"new":     string(newStatus),
	})
}

func (c *Coordinator) alert(ctx context.Context, alertType, title, body string) {
	c.log.Warn(ctx, fmt.Sprintf("[%s] %s: %s", alertType, title, body))
	if c.bus != nil {
		c.bus.Publish(ctx, eventbus.TopicServiceHealthChanged, map[string]any{
			"alert_type": alertType,
			"title":      title,
			"body":       body,
		})
	}
}

// StartService starts a single registered service, applying the
// startup-retry policy on failure.
func (c *Coordinator) StartService(ctx context.Context, name string) bool {
	c.mu.Lock()
	svc, ok := c.services[name]
	state, stateOK := c.states[name]
	c.mu.Unlock()
	if !ok || !stateOK {
		c.log.Error(ctx, fmt.Sprintf("service not found: %s", name))
		return false
	}
	if svc.IsRunning() {
		return true
	}

	c.mu.Lock()
	state.StartupRetryCount = 0
	c.mu.Unlock()

	success := c.doStartService(ctx, name, svc, state)

	if !success && state.Config.StartupRetryEnabled {
		maxRetries := state.Config.MaxStartupRetryAttempts
		delay := state.Config.StartupRetryDelay

		for state.StartupRetryCount < maxRetries {
			c.mu.Lock()
			state.StartupRetryCount++
			attempt := state.StartupRetryCount
			c.mu.Unlock()

			c.alert(ctx, "startup_retry", "service start failed, retrying",
				fmt.Sprintf("%s failed to start, attempt %d/%d", name, attempt, maxRetries))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false
			}

			success = c.doStartService(ctx, name, svc, state)
			if success {
				break
			}
		}
		if !success {
			c.alert(ctx, "startup_failed", "service start exhausted retries",
				fmt.Sprintf("%s did not start after %d retries", name, maxRetries))
		}
	}
	return success
}

func (c *Coordinator) doStartService(ctx context.Context, name string, svc Service, state *State) bool {
	c.mu.Lock()
	old := state.Status
	state.Status = StatusStarting
	c.mu.Unlock()
	c.notify(ctx, name, old, StatusStarting)

	startCtx, cancel := context.WithTimeout(ctx, nonZero(state.Config.StartupTimeout, 30*time.Second))
	defer cancel()

	ok, err := runWithTimeout(startCtx, svc.Start)

	c.mu.Lock()
	defer c.mu.Unlock()
	old = state.Status
	if err != nil {
		state.Status = StatusError
		state.LastError = err.Error()
		c.notify(ctx, name, old, StatusError)
		c.log.Error(ctx, fmt.Sprintf("service %s start error: %v", name, err))
		return false
	}
	if !ok {
		state.Status = StatusError
		state.LastError = "start returned false"
		c.notify(ctx, name, old, StatusError)
		return false
	}

	state.Status = StatusRunning
	state.StartedAt = time.Now().UTC()
	state.RestartAttempts = 0
	state.LastError = ""
	c.notify(ctx, name, old, StatusRunning)
	if c.bus != nil {
		c.bus.Publish(ctx, eventbus.TopicServiceStarted, map[string]any{"service": name})
	}
	return true
}

// StopService stops a single registered service.
func (c *Coordinator) StopService(ctx context.Context, name string, timeout time.Duration) bool {
	c.mu.Lock()
	svc, ok := c.services[name]
	state, stateOK := c.states[name]
	c.mu.Unlock()
	if !ok || !stateOK {
		return false
	}
	if !svc.IsRunning() {
		return true
	}

	c.mu.Lock()
	old := state.Status
	state.Status = StatusStopping
	c.mu.Unlock()
	c.notify(ctx, name, old, StatusStopping)

	success, err := svc.Stop(ctx, timeout)

	c.mu.Lock()
	defer c.mu.Unlock()
	old = state.Status
	if err != nil || !success {
		state.Status = StatusError
		if err != nil {
			state.LastError = err.Error()
		} else {
			state.LastError = "stop returned false"
		}
		c.notify(ctx, name, old, StatusError)
		return false
	}

	state.Status = StatusStopped
	state.RestartAttempts = 0
	state.ConsecutiveFailures = 0
	state.StartedAt = time.Time{}
	c.notify(ctx, name, old, StatusStopped)
	if c.bus != nil {
		c.bus.Publish(ctx, eventbus.TopicServiceStopped, map[string]any{"service": name})
	}
	return true
}

// StartAll starts every registered, enabled service. Sequential by default
// (dependency order); concurrent when the caller asserts independence.
func (c *Coordinator) StartAll(ctx context.Context, concurrent bool) map[string]bool {
	c.mu.Lock()
	names := make([]string, 0, len(c.states))
	results := make(map[string]bool, len(c.states))
	for name, state := range c.states {
		if !state.Config.Enabled {
			results[name] = true
			continue
		}
		names = append(names, name)
	}
	c.mu.Unlock()

	if concurrent {
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, name := range names {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				ok := c.StartService(ctx, name)
				mu.Lock()
				results[name] = ok
				mu.Unlock()
			}(name)
		}
		wg.Wait()
		return results
	}

	for _, name := range names {
		results[name] = c.StartService(ctx, name)
	}
	return results
}

// StopAll stops every registered service.
func (c *Coordinator) StopAll(ctx context.Context, timeout time.Duration, concurrent bool) map[string]bool {
	c.mu.Lock()
	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	c.mu.Unlock()

	results := make(map[string]bool, len(names))
	if concurrent {
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, name := range names {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				ok := c.StopService(ctx, name, timeout)
				mu.Lock()
				results[name] = ok
				mu.Unlock()
			}(name)
		}
		wg.Wait()
		return results
	}

	for _, name := range names {
		results[name] = c.StopService(ctx, name, timeout)
	}
	return results
}

// CheckHealth probes one service and updates its state.
func (c *Coordinator) CheckHealth(ctx context.Context, name string) bool {
	c.mu.Lock()
	svc, ok := c.services[name]
	state, stateOK := c.states[name]
	c.mu.Unlock()
	if !ok || !stateOK || !svc.IsRunning() {
		return false
	}

	health, err := svc.HealthCheck(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	state.LastHealthCheck = time.Now().UTC()
	old := state.Status

	if err == nil && health.healthy() {
		state.Status = StatusHealthy
		state.ConsecutiveFailures = 0
		c.notify(ctx, name, old, StatusHealthy)
		return true
	}

	if err != nil {
		state.LastError = err.Error()
	}
	state.ConsecutiveFailures++
	state.Status = StatusUnhealthy
	c.notify(ctx, name, old, StatusUnhealthy)

	c.handleHealthFailure(ctx, name, state)
	return false
}

// CheckAllHealth probes every running service concurrently.
func (c *Coordinator) CheckAllHealth(ctx context.Context) map[string]bool {
	c.mu.Lock()
	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	c.mu.Unlock()
	if len(names) == 0 {
		return map[string]bool{}
	}

	results := make(map[string]bool, len(names))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			ok := c.CheckHealth(ctx, name)
			mu.Lock()
			results[name] = ok
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return results
}

func (c *Coordinator) handleHealthFailure(ctx context.Context, name string, state *State) {
	threshold := nonZeroInt(c.alertThreshold, defaultAlertThreshold)
	if state.ConsecutiveFailures < threshold {
		return
	}

	c.alert(ctx, "health_failure", "service unhealthy",
		fmt.Sprintf("%s has failed %d consecutive health checks", name, state.ConsecutiveFailures))

	if state.Config.AutoRestart && state.RestartAttempts < nonZeroInt(state.Config.MaxRestartAttempts, c.maxRestartAttempts) && state.Status != StatusStarting {
		go c.attemptRestart(ctx, name)
	}
}

func (c *Coordinator) attemptRestart(ctx context.Context, name string) {
	c.mu.Lock()
	state, ok := c.states[name]
	if !ok {
		c.mu.Unlock()
		return
	}
	state.RestartAttempts++
	attempt := state.RestartAttempts
	maxAttempts := nonZeroInt(state.Config.MaxRestartAttempts, c.maxRestartAttempts)
	baseDelay := nonZero(state.Config.RestartDelay, c.restartDelay)
	warmup := state.Config.WarmupDuration
	c.mu.Unlock()

	policy := retry.Exponential(maxAttempts, baseDelay, 2.0)
	delay := policy.NextInterval(attempt - 1)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return
	}

	c.StopService(ctx, name, 10*time.Second)
	success := c.StartService(ctx, name)
	if !success {
		c.alert(ctx, "restart_failed", "service restart failed",
			fmt.Sprintf("%s failed to restart (attempt %d/%d)", name, attempt, maxAttempts))
		c.maybeExhaustRestarts(ctx, name, attempt, maxAttempts)
		return
	}

	if warmup > 0 {
		select {
		case <-time.After(warmup):
		case <-ctx.Done():
			return
		}
	}

	if c.CheckHealth(ctx, name) {
		c.mu.Lock()
		state.RestartAttempts = 0
		state.ConsecutiveFailures = 0
		c.mu.Unlock()
		return
	}

	c.alert(ctx, "restart_unhealthy", "service unhealthy after restart",
		fmt.Sprintf("%s still unhealthy after restart (attempt %d/%d)", name, attempt, maxAttempts))
	c.maybeExhaustRestarts(ctx, name, attempt, maxAttempts)
}

func (c *Coordinator) maybeExhaustRestarts(ctx context.Context, name string, attempt, maxAttempts int) {
	if attempt >= maxAttempts {
		c.alert(ctx, "restart_exhausted", "service restart attempts exhausted",
			fmt.Sprintf("%s exhausted %d restart attempts, giving up", name, maxAttempts))
	}
}

// Start starts the coordinator: starts all enabled services, runs an initial
// health check, then launches the periodic health-check loop.
func (c *Coordinator) Start(ctx context.Context) bool {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return true
	}
	c.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	results := c.StartAll(ctx, false)
	c.CheckAllHealth(ctx)

	c.wg.Add(1)
	go c.healthCheckLoop(loopCtx)

	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// Stop stops the periodic health-check loop and every registered service.
func (c *Coordinator) Stop(ctx context.Context, timeout time.Duration) bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return true
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	results := c.StopAll(ctx, timeout, false)
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

func (c *Coordinator) healthCheckLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(nonZero(c.healthCheckInterval, 30*time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAllHealth(ctx)
		}
	}
}

// Status returns a snapshot of every registered service's state.
func (c *Coordinator) Status() map[string]State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]State, len(c.states))
	for name, state := range c.states {
		out[name] = *state
	}
	return out
}

func runWithTimeout(ctx context.Context, fn func(context.Context) (bool, error)) (bool, error) {
	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := fn(ctx)
		done <- result{ok, err}
	}()

	select {
	case r := <-done:
		return r.ok, r.err
	case <-ctx.Done():
		return false, fmt.Errorf("startup timeout: %w", ctx.Err())
	}
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func nonZeroInt(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}
