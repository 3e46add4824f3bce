// Package metrics provides Prometheus collectors for the user service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Profile pictures
	ProfilePictureUploads        *prometheus.CounterVec
	ProfilePictureUploadDuration prometheus.Histogram

	// Object store
	ObjectStoreRequests *prometheus.CounterVec

	// Users
	UsersRegistered prometheus.Counter
	LoginAttempts   *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry together
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		ProfilePictureUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profile_picture_uploads_total",
			Help: "Profile picture uploads by outcome (success or failure reason).",
		}, []string{"outcome"}),

		ProfilePictureUploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "profile_picture_upload_duration_seconds",
			Help:    "End-to-end duration of the profile picture workflow.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		ObjectStoreRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "object_store_requests_total",
			Help: "Requests made to the object store by operation and result.",
		}, []string{"op", "result"}),

		UsersRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "users_registered_total",
			Help: "Number of successful registrations.",
		}),

		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ProfilePictureUploads,
		m.ProfilePictureUploadDuration,
		m.ObjectStoreRequests,
		m.UsersRegistered,
		m.LoginAttempts,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordUpload records a finished profile picture workflow.
func (m *Metrics) RecordUpload(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProfilePictureUploads.WithLabelValues(outcome).Inc()
	m.ProfilePictureUploadDuration.Observe(d.Seconds())
}

// RecordStoreRequest records one object store call.
func (m *Metrics) RecordStoreRequest(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ObjectStoreRequests.WithLabelValues(op, result).Inc()
}

// RecordRegistration increments the registration counter.
func (m *Metrics) RecordRegistration() {
	if m == nil {
		return
	}
	m.UsersRegistered.Inc()
}

// RecordLogin records a login attempt result ("success", "invalid", "locked").
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}
