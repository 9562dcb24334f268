package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	return cfg
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, testConfig()) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Currency = "nope"

	err := Run(context.Background(), cfg)
	require.ErrorContains(t, err, "invalid currency")
}

func TestRunFailsOnBadListenAddress(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPAddr = "256.0.0.1:bad"

	err := Run(context.Background(), cfg)
	require.Error(t, err)
}

func TestInitTracingWithoutEndpoint(t *testing.T) {
	shutdown, err := initTracing(context.Background(), "", "eshop")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracingWithEndpoint(t *testing.T) {
	shutdown, err := initTracing(context.Background(), "http://127.0.0.1:4318", "eshop")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, shutdown(ctx))
}
