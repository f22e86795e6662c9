// Package gateway hosts the IRC side of the bridge.
//
// # Overview
//
// A Gateway wires the client pool, Matrix broker, IPv6 allocator, identd
// responder and observability endpoints together, then runs them until its
// context is cancelled.
//
// # Endpoints
//
// gRPC (server.grpc_addr):
//
//   - grpc.health.v1.Health, with one service per network named
//     "irc/<domain>" reporting whether that network's bot is connected.
//     The empty service name reports the gateway as a whole.
//
// HTTP (server.http_addr):
//
//   - GET /health - Liveness check
//   - GET /health/ready - Ready once every enabled bot is connected
//   - GET /metrics - Prometheus metrics (when metrics.enabled)
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx)
//
// Run connects the network bots, serves until ctx is cancelled, then shuts
// everything down with a fresh timeout.
package gateway
