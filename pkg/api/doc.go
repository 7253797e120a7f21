/*
Package api exposes storeforge's operational endpoints.

storeforge has no public CRUD API: stores are requested through the CLI and
reconciled in the background. What this package serves is for the platform
running storeforge.

# HTTP

	GET /health   component health; 503 when any component reports unhealthy
	GET /ready    503 until storage and the reconciler are up and storage answers a read
	GET /live     200 while the process runs
	GET /metrics  Prometheus exposition
	GET /events   live store events as NDJSON, when StreamEvents was called;
	              ?store=<id> follows one store

	hs := api.NewHealthServer(store, version)
	hs.StreamEvents(broker)
	go hs.Start(":12000")
	defer hs.Shutdown(ctx)

# gRPC

Server registers the standard grpc.health.v1.Health service. Both the
overall status ("") and ReconcilerService follow component readiness:

	srv := api.NewServer()
	go srv.Start(":12001")
	go srv.WatchReadiness(ctx, 5*time.Second)
	defer srv.Stop()

Unary calls pass through RecoveryInterceptor and LoggingInterceptor.
*/
package api
