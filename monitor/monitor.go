// Package monitor exposes prometheus metrics for the touch service together
// with process memory and CPU gauges.
package monitor

import (
	"TouchCounter/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "touch_requests_total",
		Help: "Requests served, by transport and operation",
	}, []string{"transport", "op"})
	FramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "touch_frames_processed_total",
		Help: "Frames applied to a tracking session",
	})
	TouchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "touch_events_total",
		Help: "Touches counted across all sessions",
	})
	DetectorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "touch_detector_errors_total",
		Help: "Frames rejected because the detector failed",
	})
	InferenceSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "touch_inference_seconds",
		Help:    "Detector latency per frame",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "touch_sessions",
		Help: "Live tracking sessions",
	})
)

func init() {
	Registry.MustRegister(memUsage, cpuUsage, RequestsTotal, FramesTotal, TouchesTotal, DetectorErrors, InferenceSeconds, Sessions)
}

// Handler serves the registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func sampleProcess(p *process.Process) {
	memInfo, err := p.MemoryInfo()
	if err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	cpuPercent, err := p.CPUPercent()
	if err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and samples the process every 500ms until
// ctx is cancelled.
func StartMon(ctx context.Context, port int) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Log().Error("process metrics unavailable", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("metrics server failed", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			if p != nil {
				sampleProcess(p)
			}
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("metrics server shutdown", zap.Error(err))
	}
}
