package prometheus

import (
	"context"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-autoreply/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "autoreply"

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// Recorder implements core.MetricsRecorder on a Prometheus registry. Vectors are
// created on first use; the label set seen first is kept for the metric and later
// calls fill missing labels with "" and drop unknown ones.
type Recorder struct {
	registry   *prom.Registry
	namespace  string
	buckets    []float64
	mu         sync.Mutex
	counters   map[string]*labelledCounter
	histograms map[string]*labelledHistogram
}

type labelledCounter struct {
	vec    *prom.CounterVec
	labels []string
}

type labelledHistogram struct {
	vec    *prom.HistogramVec
	labels []string
}

type Option func(*Recorder)

func WithRegistry(registry *prom.Registry) Option {
	return func(r *Recorder) {
		if registry != nil {
			r.registry = registry
		}
	}
}

func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		r.namespace = sanitize(namespace)
	}
}

func WithBuckets(buckets ...float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		registry:   prom.NewRegistry(),
		namespace:  DefaultNamespace,
		buckets:    []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		counters:   map[string]*labelledCounter{},
		histograms: map[string]*labelledHistogram{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) Registry() *prom.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	counter := r.counter(name, tags)
	if counter == nil {
		return
	}
	counter.vec.With(labelValues(counter.labels, tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	histogram := r.histogram(name, tags)
	if histogram == nil {
		return
	}
	histogram.vec.With(labelValues(histogram.labels, tags)).Observe(value)
}

func (r *Recorder) counter(name string, tags map[string]string) *labelledCounter {
	metric := r.metricName(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[metric]; ok {
		return existing
	}
	labels := labelNames(tags)
	vec := prom.NewCounterVec(prom.CounterOpts{Name: metric, Help: "Counter " + name}, labels)
	if err := r.registry.Register(vec); err != nil {
		already, ok := err.(prom.AlreadyRegisteredError)
		if !ok {
			return nil
		}
		existing, ok := already.ExistingCollector.(*prom.CounterVec)
		if !ok {
			return nil
		}
		vec = existing
	}
	entry := &labelledCounter{vec: vec, labels: labels}
	r.counters[metric] = entry
	return entry
}

func (r *Recorder) histogram(name string, tags map[string]string) *labelledHistogram {
	metric := r.metricName(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[metric]; ok {
		return existing
	}
	labels := labelNames(tags)
	vec := prom.NewHistogramVec(prom.HistogramOpts{Name: metric, Help: "Histogram " + name, Buckets: r.buckets}, labels)
	if err := r.registry.Register(vec); err != nil {
		already, ok := err.(prom.AlreadyRegisteredError)
		if !ok {
			return nil
		}
		existing, ok := already.ExistingCollector.(*prom.HistogramVec)
		if !ok {
			return nil
		}
		vec = existing
	}
	entry := &labelledHistogram{vec: vec, labels: labels}
	r.histograms[metric] = entry
	return entry
}

// metricName maps "autoreply.send.total" to "autoreply_send_total", adding the
// namespace when the name does not already carry it.
func (r *Recorder) metricName(name string) string {
	base := sanitize(name)
	if base == "" {
		return ""
	}
	if r.namespace != "" && !strings.HasPrefix(base, r.namespace+"_") {
		base = r.namespace + "_" + base
	}
	return base
}

func labelNames(tags map[string]string) []string {
	labels := make([]string, 0, len(tags))
	for key := range tags {
		if label := sanitize(key); label != "" {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return dedupe(labels)
}

func labelValues(labels []string, tags map[string]string) prom.Labels {
	values := make(prom.Labels, len(labels))
	for _, label := range labels {
		values[label] = ""
	}
	for key, value := range tags {
		label := sanitize(key)
		if _, ok := values[label]; ok {
			values[label] = value
		}
	}
	return values
}

func sanitize(name string) string {
	cleaned := invalidNameChars.ReplaceAllString(strings.TrimSpace(name), "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return ""
	}
	if cleaned[0] >= '0' && cleaned[0] <= '9' {
		cleaned = "_" + cleaned
	}
	return cleaned
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, value := range sorted {
		if i > 0 && value == sorted[i-1] {
			continue
		}
		out = append(out, value)
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
