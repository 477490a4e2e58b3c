// Package main wires the library packages into a runnable edge-robot-core
// binary: a cobra CLI exposing a "serve" command (HTTP submit endpoint +
// worker pool, all supervised by the coordinator) and a "submit" command
// for one-shot batch-file dispatch.
package main

import (
	"context"
	"time"

	"github.com/edge-robotics/command-core/coordinator"
	"github.com/edge-robotics/command-core/queue/worker"
)

// poolService adapts a *worker.Pool to coordinator.Service so the worker
// pool is supervised (health-checked, auto-restarted) the same way any
// other managed service is.
type poolService struct {
	name    string
	pool    *worker.Pool
	running bool
}

func newPoolService(name string, pool *worker.Pool) *poolService {
	return &poolService{name: name, pool: pool}
}

func (s *poolService) Name() string { return s.name }

func (s *poolService) Start(ctx context.Context) (bool, error) {
	s.pool.Start()
	s.running = true
	return true, nil
}

func (s *poolService) Stop(ctx context.Context, timeout time.Duration) (bool, error) {
	s.pool.Stop(timeout)
	s.running = false
	return true, nil
}

func (s *poolService) HealthCheck(ctx context.Context) (coordinator.Health, error) {
	detail := s.pool.HealthCheck()
	status, _ := detail["status"].(string)
	return coordinator.Health{Status: status, Detail: detail}, nil
}

func (s *poolService) IsRunning() bool { return s.running }
