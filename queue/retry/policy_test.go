package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault_MaxRetriesThree(t *testing.T) {
	p := Default()
	assert.Equal(t, 3, p.MaxRetries)
	assert.True(t, p.ShouldRetry(0))
	assert.True(t, p.ShouldRetry(2))
	assert.False(t, p.ShouldRetry(3))
}

func TestNone_NeverRetries(t *testing.T) {
	p := None()
	assert.False(t, p.ShouldRetry(0))
	assert.Equal(t, time.Duration(0), p.NextInterval(0))
	assert.True(t, p.NextRetry(0).IsZero())
}

func TestExponential_IntervalGrowsWithAttempts(t *testing.T) {
	p := Exponential(5, 100*time.Millisecond, 2.0)

	first := p.NextInterval(0)
	second := p.NextInterval(1)
	third := p.NextInterval(2)

	assert.Greater(t, second, first/2) // randomized jitter, just assert rough growth
	assert.Greater(t, third, first)
}

func TestExponential_ZeroAfterBudgetExhausted(t *testing.T) {
	p := Exponential(2, 10*time.Millisecond, 2.0)
	assert.True(t, p.ShouldRetry(1))
	assert.False(t, p.ShouldRetry(2))
	assert.Equal(t, time.Duration(0), p.NextInterval(2))
}

func TestLinear_StepsByFixedInterval(t *testing.T) {
	p := Linear(3, time.Second)
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 1.0, p.Multiplier)
	assert.True(t, p.ShouldRetry(2))
	assert.False(t, p.ShouldRetry(3))
}

func TestNextRetry_ReturnsFutureTime(t *testing.T) {
	p := Exponential(3, 50*time.Millisecond, 2.0)
	before := time.Now()
	next := p.NextRetry(0)
	assert.True(t, next.After(before))
}
