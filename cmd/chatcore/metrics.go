package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func metricsRouter(gatherer prometheus.Gatherer, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()
	metrics := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	router.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.WithField("endpoint", "/metrics").Debug("Serving metrics endpoint")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		metrics.ServeHTTP(w, r)
	})).Methods(http.MethodGet)
	return router
}

// serveMetrics exposes reg on addr until the returned func is called
func serveMetrics(addr string, reg *prometheus.Registry, logger *logrus.Logger) func() {
	server := &http.Server{
		Addr:              addr,
		Handler:           metricsRouter(reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Metrics server failed")
		}
	}()
	logger.WithField("addr", addr).Info("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
