// Package metrics exposes Prometheus metrics for the prediction service
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/visiongrade/gradecast/pkg/logx"
	"github.com/visiongrade/gradecast/pkg/registry"
)

// Server registers and serves Prometheus metrics for predictions, training
// runs and the model registry.
type Server struct {
	registry *registry.Registry
	logger   *logx.Logger
	server   *http.Server
	started  time.Time

	predictions        *prometheus.CounterVec
	predictionDuration *prometheus.HistogramVec
	batchSize          prometheus.Histogram
	saveFailures       prometheus.Counter

	trainingRuns     *prometheus.CounterVec
	trainingDuration prometheus.Histogram
	modelMAE         *prometheus.GaugeVec
	modelR2          *prometheus.GaugeVec

	loadedModels prometheus.GaugeFunc
	uptime       prometheus.GaugeFunc
}

// NewServer creates a metrics server bound to the model registry
func NewServer(reg *registry.Registry, logger *logx.Logger) *Server {
	s := &Server{
		registry: reg,
		logger:   logger.WithComponent("metrics"),
		started:  time.Now(),
	}
	s.registerMetrics()
	return s
}

func (s *Server) registerMetrics() {
	s.predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradecast_predictions_total",
			Help: "Predictions served, by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	s.predictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gradecast_prediction_duration_seconds",
			Help:    "Time spent serving one prediction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	s.batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gradecast_batch_prediction_size",
			Help:    "Number of students per batch prediction request",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)

	s.saveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gradecast_prediction_save_failures_total",
			Help: "Predictions that could not be persisted",
		},
	)

	s.trainingRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradecast_training_runs_total",
			Help: "Training runs, by outcome",
		},
		[]string{"outcome"},
	)

	s.trainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gradecast_training_duration_seconds",
			Help:    "Wall time of one training run",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	s.modelMAE = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gradecast_model_mae",
			Help: "Held-out mean absolute error of each registered model",
		},
		[]string{"model_key", "model_name"},
	)

	s.modelR2 = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gradecast_model_r2",
			Help: "Held-out R-squared of each registered model",
		},
		[]string{"model_key", "model_name"},
	)

	s.loadedModels = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "gradecast_loaded_models",
			Help: "Number of models currently registered",
		},
		func() float64 { return float64(len(s.registry.Keys())) },
	)

	s.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "gradecast_uptime_seconds",
			Help: "Service uptime in seconds",
		},
		func() float64 { return time.Since(s.started).Seconds() },
	)

	prometheus.MustRegister(
		s.predictions,
		s.predictionDuration,
		s.batchSize,
		s.saveFailures,
		s.trainingRuns,
		s.trainingDuration,
		s.modelMAE,
		s.modelR2,
		s.loadedModels,
		s.uptime,
	)
}

// Start serves /metrics and /health on the given port
func (s *Server) Start(port int) error {
	s.logger.Info("starting metrics server", "port", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.healthHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err.Error())
		}
	}()

	return nil
}

// Stop shuts the metrics server down
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","uptime_seconds":%.0f}`, time.Since(s.started).Seconds())
}

// RecordPrediction counts one served prediction
func (s *Server) RecordPrediction(method, outcome string, duration time.Duration) {
	s.predictions.WithLabelValues(method, outcome).Inc()
	s.predictionDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordBatch records the size of a batch prediction request
func (s *Server) RecordBatch(size int) {
	s.batchSize.Observe(float64(size))
}

// RecordSaveFailure counts a prediction that could not be persisted
func (s *Server) RecordSaveFailure() {
	s.saveFailures.Inc()
}

// RecordTraining counts one training run and refreshes the per-model gauges
func (s *Server) RecordTraining(outcome string, duration time.Duration) {
	s.trainingRuns.WithLabelValues(outcome).Inc()
	s.trainingDuration.Observe(duration.Seconds())
	s.UpdateModelMetrics()
}

// UpdateModelMetrics refreshes the per-model quality gauges from the registry
func (s *Server) UpdateModelMetrics() {
	for _, key := range s.registry.Keys() {
		a, ok := s.registry.Get(key)
		if !ok || a.Metrics == nil {
			continue
		}
		s.modelMAE.WithLabelValues(key, a.ModelName).Set(a.Metrics.MAE)
		s.modelR2.WithLabelValues(key, a.ModelName).Set(a.Metrics.R2)
	}
}
