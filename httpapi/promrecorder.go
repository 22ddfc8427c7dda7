package httpapi

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/claims-pipeline/core"
)

// PrometheusRecorder bridges the pipeline's metrics contract onto a
// prometheus registry. Metric names keep their dotted form in the pipeline
// and are flattened to underscore form on the wire. A metric keeps the label
// set it was first observed with.
type PrometheusRecorder struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

func NewPrometheusRecorder(registerer prometheus.Registerer) *PrometheusRecorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PrometheusRecorder{
		registerer: registerer,
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

func (r *PrometheusRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value <= 0 {
		return
	}
	vec := r.counterVec(name, labelKeys(tags))
	if vec == nil {
		return
	}
	vec.With(prometheus.Labels(normalizeTags(tags))).Add(float64(value))
}

func (r *PrometheusRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	vec := r.histogramVec(name, labelKeys(tags))
	if vec == nil {
		return
	}
	vec.With(prometheus.Labels(normalizeTags(tags))).Observe(value)
}

func (r *PrometheusRecorder) counterVec(name string, labels []string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	wireName := wireMetricName(name)
	if vec, ok := r.counters[wireName]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: wireName}, labels)
	if err := r.registerer.Register(vec); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				r.counters[wireName] = existing
				return existing
			}
		}
		return nil
	}
	r.counters[wireName] = vec
	return vec
}

func (r *PrometheusRecorder) histogramVec(name string, labels []string) *prometheus.HistogramVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	wireName := wireMetricName(name)
	if vec, ok := r.histograms[wireName]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    wireName,
		Buckets: prometheus.DefBuckets,
	}, labels)
	if err := r.registerer.Register(vec); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				r.histograms[wireName] = existing
				return existing
			}
		}
		return nil
	}
	r.histograms[wireName] = vec
	return vec
}

func wireMetricName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return name
}

func labelKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeTags(tags map[string]string) map[string]string {
	if tags == nil {
		return map[string]string{}
	}
	return tags
}

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)
