package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/cuemby/storeforge/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client talks to a running storeforge serve process
type Client struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the gRPC health service at grpcAddr and the
// HTTP endpoints at httpAddr. Addresses without a host (":12000") refer to
// localhost. No connection is made until the first call.
func NewClient(grpcAddr, httpAddr string) (*Client, error) {
	conn, err := grpc.NewClient(DialAddr(grpcAddr), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client: %w", err)
	}

	return &Client{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		baseURL: "http://" + DialAddr(httpAddr),
		http:    &http.Client{},
	}, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// DialAddr turns a listen address into one a client can dial
func DialAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// Health returns the serving status of service ("" for the whole server)
func (c *Client) Health(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus(), nil
}

// FollowEvents calls fn for every store event the server records until ctx
// is cancelled, the server ends the stream, or fn returns an error. An empty
// storeID follows every store.
func (c *Client) FollowEvents(ctx context.Context, storeID string, fn func(*types.StoreEvent) error) error {
	target := c.baseURL + "/events"
	if storeID != "" {
		target += "?store=" + url.QueryEscape(storeID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("event stream: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var ev types.StoreEvent
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if err := fn(&ev); err != nil {
			return err
		}
	}
}
