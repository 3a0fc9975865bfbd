package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oxSaturn/chainsync/internal/config"
	"github.com/oxSaturn/chainsync/internal/logger"
)

func TestNewServer(t *testing.T) {
	t.Parallel()

	cfg := &config.APIConfig{
		Enabled:       true,
		ListenAddress: "localhost:8080",
	}
	log := logger.NewNopLogger()

	server := NewServer(cfg, nil, nil, log)

	require.NotNil(t, server)
	require.NotNil(t, server.handler)
	require.NotNil(t, server.server)
	require.Equal(t, "localhost:8080", server.server.Addr)
}

func TestServer_Start_Disabled(t *testing.T) {
	t.Parallel()

	cfg := &config.APIConfig{
		Enabled:       false,
		ListenAddress: ":8080",
	}
	log := logger.NewNopLogger()

	server := NewServer(cfg, nil, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- server.Start(ctx)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(1 * time.Second):
		t.Fatal("Start() did not return when server is disabled")
	}
}

func TestServer_Start_GracefulShutdown(t *testing.T) {
	t.Parallel()

	cfg := &config.APIConfig{
		Enabled:       true,
		ListenAddress: "localhost:0",
	}
	log := logger.NewNopLogger()

	server := NewServer(cfg, nil, nil, log)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down gracefully within timeout")
	}
}

func TestServer_ListenAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
	}{
		{name: "localhost with port", address: "localhost:8080"},
		{name: "all interfaces with port", address: ":8080"},
		{name: "specific IP with port", address: "127.0.0.1:9090"},
		{name: "dynamic port", address: ":0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &config.APIConfig{
				Enabled:       true,
				ListenAddress: tt.address,
			}
			log := logger.NewNopLogger()

			server := NewServer(cfg, nil, nil, log)

			require.Equal(t, tt.address, server.server.Addr)
		})
	}
}
