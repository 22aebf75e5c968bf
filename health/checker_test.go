package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckerRegisterAndCheck(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.RegisterCheck("broker", func(ctx context.Context) error { return nil })

	result, err := h.Check(context.Background(), "broker")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, result.Status)
}

func TestHealthCheckerFailingCheck(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.RegisterCheck("identity", func(ctx context.Context) error {
		return errors.New("identity file missing")
	})

	result, err := h.Check(context.Background(), "identity")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "identity file missing", result.Message)
}

func TestHealthCheckerUnknownCheck(t *testing.T) {
	h := NewHealthChecker(time.Second)
	_, err := h.Check(context.Background(), "nonexistent")
	assert.Error(t, err)
}

func TestHealthCheckerCaching(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.SetCacheTTL(time.Minute)

	calls := 0
	h.RegisterCheck("broker", func(ctx context.Context) error {
		calls++
		return nil
	})

	_, err := h.Check(context.Background(), "broker")
	require.NoError(t, err)
	_, err = h.Check(context.Background(), "broker")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestHealthCheckerOverallStatus(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.RegisterCheck("broker", func(ctx context.Context) error { return nil })
	h.RegisterCheck("routes-group", func(ctx context.Context) error {
		return errors.New("no active connections")
	})

	status := h.GetOverallStatus(context.Background())
	assert.Equal(t, StatusUnhealthy, status)
}

func TestHealthCheckerSystemHealth(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.RegisterCheck("broker", func(ctx context.Context) error { return nil })

	sys := h.GetSystemHealth(context.Background())
	assert.Equal(t, StatusHealthy, sys.Status)
	assert.Contains(t, sys.Checks, "broker")
}

func TestBrokerHealthCheck(t *testing.T) {
	check := BrokerHealthCheck(func(ctx context.Context) error { return nil })
	assert.NoError(t, check(context.Background()))

	check = BrokerHealthCheck(nil)
	assert.Error(t, check(context.Background()))
}

func TestIdentityHealthCheck(t *testing.T) {
	check := IdentityHealthCheck(func() error { return nil })
	assert.NoError(t, check(context.Background()))

	check = IdentityHealthCheck(nil)
	assert.Error(t, check(context.Background()))
}

func TestRoutesGroupHealthCheck(t *testing.T) {
	check := RoutesGroupHealthCheck(func(ctx context.Context) error { return nil })
	assert.NoError(t, check(context.Background()))
}

func TestUnregisterCheck(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.RegisterCheck("broker", func(ctx context.Context) error { return nil })
	h.UnregisterCheck("broker")

	_, err := h.Check(context.Background(), "broker")
	assert.Error(t, err)
}
