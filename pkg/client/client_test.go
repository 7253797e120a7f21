package client

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/storeforge/pkg/api"
	"github.com/cuemby/storeforge/pkg/events"
	"github.com/cuemby/storeforge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestDialAddr(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":12000", "localhost:12000"},
		{"0.0.0.0:12001", "localhost:12001"},
		{"[::]:12001", "localhost:12001"},
		{"10.0.0.5:12000", "10.0.0.5:12000"},
		{"storeforge.internal", "storeforge.internal"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, DialAddr(tt.addr))
		})
	}
}

func TestHealth(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := api.NewServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewClient(lis.Addr().String(), "127.0.0.1:0")
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := c.Health(ctx, api.ReconcilerService)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	srv.SetServing(true)
	status, err = c.Health(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)
}

func TestFollowEvents(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	hs := api.NewHealthServer(nil, "test")
	hs.StreamEvents(broker)
	srv := httptest.NewServer(hs.Handler())
	defer srv.Close()

	c, err := NewClient("127.0.0.1:0", strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	defer c.Close()

	go func() {
		assert.Eventually(t, func() bool { return broker.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)
		broker.Publish(&types.StoreEvent{ID: 1, StoreID: "ab12cd34", Action: types.ActionProvision, Status: types.StatusProvisioning})
		broker.Publish(&types.StoreEvent{ID: 2, StoreID: "ab12cd34", Action: types.ActionReady, Status: types.StatusReady})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errEnough := errors.New("enough")
	var got []types.Action
	err = c.FollowEvents(ctx, "ab12cd34", func(ev *types.StoreEvent) error {
		got = append(got, ev.Action)
		if len(got) == 2 {
			return errEnough
		}
		return nil
	})
	assert.ErrorIs(t, err, errEnough)
	assert.Equal(t, []types.Action{types.ActionProvision, types.ActionReady}, got)
}

func TestFollowEventsEndsWithServer(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()

	hs := api.NewHealthServer(nil, "test")
	hs.StreamEvents(broker)
	srv := httptest.NewServer(hs.Handler())
	defer srv.Close()

	c, err := NewClient("127.0.0.1:0", strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	defer c.Close()

	go func() {
		assert.Eventually(t, func() bool { return broker.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)
		broker.Stop()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = c.FollowEvents(ctx, "", func(*types.StoreEvent) error { return nil })
	assert.NoError(t, err)
}
