package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// family is one metric name with a fixed label schema.
type family interface {
	write(b *strings.Builder)
}

// exposition lists every family in the order it is scraped.
var exposition = []family{
	httpRequests,
	httpErrors,
	httpLatency,
	transactions,
	instructions,
	transactionLatency,
}

const labelSep = "\xff"

type counterSample struct {
	values []string
	value  uint64
}

type counterVec struct {
	name   string
	help   string
	labels []string

	mu      sync.Mutex
	samples map[string]*counterSample
}

func newCounterVec(name, help string, labels ...string) *counterVec {
	return &counterVec{name: name, help: help, labels: labels, samples: make(map[string]*counterSample)}
}

func (c *counterVec) inc(values ...string) {
	key := strings.Join(values, labelSep)
	c.mu.Lock()
	defer c.mu.Unlock()
	sample := c.samples[key]
	if sample == nil {
		sample = &counterSample{values: append([]string(nil), values...)}
		c.samples[key] = sample
	}
	sample.value++
}

func (c *counterVec) write(b *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name)
	for _, key := range sortedKeys(c.samples) {
		sample := c.samples[key]
		fmt.Fprintf(b, "%s{%s} %d\n", c.name, labelPairs(c.labels, sample.values), sample.value)
	}
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	// values above the last bound only show up in +Inf, which is h.count
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

type histogramSample struct {
	values []string
	*histogram
}

type histogramVec struct {
	name    string
	help    string
	labels  []string
	buckets []float64

	mu      sync.Mutex
	samples map[string]*histogramSample
}

func newHistogramVec(name, help string, buckets []float64, labels ...string) *histogramVec {
	return &histogramVec{name: name, help: help, labels: labels, buckets: buckets, samples: make(map[string]*histogramSample)}
}

func (h *histogramVec) observe(d time.Duration, values ...string) {
	key := strings.Join(values, labelSep)
	h.mu.Lock()
	defer h.mu.Unlock()
	sample := h.samples[key]
	if sample == nil {
		sample = &histogramSample{values: append([]string(nil), values...), histogram: newHistogram(h.buckets)}
		h.samples[key] = sample
	}
	sample.observe(d.Seconds())
}

func (h *histogramVec) write(b *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
	for _, key := range sortedKeys(h.samples) {
		sample := h.samples[key]
		labels := labelPairs(h.labels, sample.values)
		for idx, bound := range sample.buckets {
			fmt.Fprintf(b, "%s_bucket{%s,le=\"%s\"} %d\n", h.name, labels, formatFloat(bound), sample.counts[idx])
		}
		fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", h.name, labels, sample.count)
		fmt.Fprintf(b, "%s_sum{%s} %s\n", h.name, labels, formatFloat(sample.sum))
		fmt.Fprintf(b, "%s_count{%s} %d\n", h.name, labels, sample.count)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func labelPairs(names, values []string) string {
	pairs := make([]string, len(names))
	for i, name := range names {
		var value string
		if i < len(values) {
			value = values[i]
		}
		pairs[i] = name + "=\"" + escape(value) + "\""
	}
	return strings.Join(pairs, ",")
}

func render() string {
	var b strings.Builder
	b.Grow(2048)
	for _, f := range exposition {
		f.write(&b)
	}
	return b.String()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, render())
	})
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
