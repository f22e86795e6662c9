// ABOUTME: Health reporting over gRPC and HTTP, derived from network bot state
// ABOUTME: Also mounts the Prometheus handler on the HTTP mux

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Handler returns the HTTP mux of the gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		mux.Handle(g.config.Metrics.Path, promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once every enabled bot is connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	missing := g.missingBots()
	if len(missing) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "bots not connected: %s", strings.Join(missing, ", "))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d clients)", g.pool.Len())
}

// missingBots lists the networks whose enabled bot is not connected.
func (g *Gateway) missingBots() []string {
	var missing []string
	for _, s := range g.pool.Servers() {
		if !s.IsBotEnabled() {
			continue
		}
		if _, ok := g.pool.Get(s.Domain, ""); !ok {
			missing = append(missing, s.Domain)
		}
	}
	return missing
}

// refreshHealth publishes per-network bot state to the gRPC health service.
func (g *Gateway) refreshHealth() {
	for _, s := range g.pool.Servers() {
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if s.IsBotEnabled() {
			if _, ok := g.pool.Get(s.Domain, ""); !ok {
				status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			}
		}
		g.health.SetServingStatus(HealthServiceName(s.Domain), status)
	}
	g.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
}

func (g *Gateway) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.refreshHealth()
		}
	}
}
