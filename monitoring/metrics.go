package monitoring

import (
	"sync"
	"time"
)

// Metrics is a lightweight, non-otel snapshot counter for dispatch activity,
// kept alongside the /observability otel stack for a cheap summary endpoint
// that doesn't require a collector.
type Metrics struct {
	mu sync.RWMutex

	TotalDispatched int64             `json:"total_dispatched"`
	TotalFailed     int64             `json:"total_failed"`
	DispatchByRobot map[string]int64  `json:"dispatch_by_robot"`
	FailsByRobot    map[string]int64  `json:"fails_by_robot"`
	LastErrors      map[string]string `json:"last_errors"`
	AvgDuration     time.Duration     `json:"avg_duration"`
	MaxDuration     time.Duration     `json:"max_duration"`
	RobotHealth     map[string]bool   `json:"robot_health"`
	StartTime       time.Time         `json:"start_time"`
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		DispatchByRobot: make(map[string]int64),
		FailsByRobot:    make(map[string]int64),
		LastErrors:      make(map[string]string),
		RobotHealth:     make(map[string]bool),
		StartTime:       time.Now(),
	}
}

// RecordDispatch records a command dispatch result for a robot.
func (m *Metrics) RecordDispatch(robotID string, success bool, duration time.Duration, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if success {
		m.TotalDispatched++
		m.DispatchByRobot[robotID]++
	} else {
		m.TotalFailed++
		m.FailsByRobot[robotID]++
		if errMsg != "" {
			m.LastErrors[robotID] = errMsg
		}
	}

	total := m.TotalDispatched + m.TotalFailed
	if total > 0 {
		m.AvgDuration = time.Duration((int64(m.AvgDuration)*(total-1) + int64(duration)) / total)
	}
	if duration > m.MaxDuration {
		m.MaxDuration = duration
	}
}

// RecordHealth records a robot's (or backend's) health status.
func (m *Metrics) RecordHealth(name string, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RobotHealth[name] = healthy
}

// GetSuccessRate returns the overall dispatch success rate.
func (m *Metrics) GetSuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := m.TotalDispatched + m.TotalFailed
	if total == 0 {
		return 1.0
	}
	return float64(m.TotalDispatched) / float64(total)
}

// GetUptime returns the time since metrics collection started.
func (m *Metrics) GetUptime() time.Duration {
	return time.Since(m.StartTime)
}

// GetSnapshot returns a complete snapshot of current metrics.
func (m *Metrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"total_dispatched":  m.TotalDispatched,
		"total_failed":      m.TotalFailed,
		"success_rate":      m.GetSuccessRate(),
		"dispatch_by_robot": m.DispatchByRobot,
		"fails_by_robot":    m.FailsByRobot,
		"last_errors":       m.LastErrors,
		"avg_duration":      m.AvgDuration.String(),
		"max_duration":      m.MaxDuration.String(),
		"robot_health":      m.RobotHealth,
		"uptime":            m.GetUptime().String(),
	}
}
