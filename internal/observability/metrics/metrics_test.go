package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "Awe-Chain/internal/errors"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	return string(body)
}

func TestRuntimeObserverExposition(t *testing.T) {
	var obs Observer
	obs.ObserveTransaction("committed", "", 3*time.Millisecond)
	obs.ObserveTransaction("failed", xerrors.CodeTransferFailed, 40*time.Millisecond)
	obs.ObserveInstruction("awe", "ok")
	obs.ObserveInstruction("token", string(xerrors.CodeOverflow))
	ObserveHTTPRequest("transactions", "POST", 500, 20*time.Millisecond)

	body := scrape(t)
	for _, want := range []string{
		`awe_transactions_total{outcome="failed",code="TRANSFER_FAILED"} `,
		`awe_instructions_total{program="awe",outcome="ok"} `,
		`awe_instructions_total{program="token",outcome="OVERFLOW"} `,
		`awe_transaction_duration_seconds_bucket{outcome="committed",le="0.005"} `,
		`awe_http_request_errors_total{handler="transactions",method="POST"} `,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in\n%s", want, body)
		}
	}
}

func TestHistogramBuckets(t *testing.T) {
	t.Parallel()

	h := newHistogram([]float64{0.1, 1})
	h.observe(0.05)
	h.observe(0.5)
	h.observe(5)
	if h.count != 3 || h.counts[0] != 1 || h.counts[1] != 2 {
		t.Fatalf("unexpected histogram %+v", h)
	}
}

func TestEscape(t *testing.T) {
	t.Parallel()

	if got := escape("a\"b\\c\n"); got != `a\"b\\c` {
		t.Fatalf("unexpected escape %q", got)
	}
}

func TestCounterVecRendersSortedSamples(t *testing.T) {
	t.Parallel()

	c := newCounterVec("awe_test_total", "Test counter.", "program", "outcome")
	c.inc("token", "ok")
	c.inc("awe", "ok")
	c.inc("awe", "ok")
	c.inc("awe", `bad"code`)

	var b strings.Builder
	c.write(&b)
	want := "# HELP awe_test_total Test counter.\n" +
		"# TYPE awe_test_total counter\n" +
		"awe_test_total{program=\"awe\",outcome=\"bad\\\"code\"} 1\n" +
		"awe_test_total{program=\"awe\",outcome=\"ok\"} 2\n" +
		"awe_test_total{program=\"token\",outcome=\"ok\"} 1\n"
	if b.String() != want {
		t.Fatalf("unexpected exposition\n%s", b.String())
	}
}

func TestHistogramVecSeries(t *testing.T) {
	t.Parallel()

	h := newHistogramVec("awe_test_seconds", "Test histogram.", []float64{0.01, 0.1}, "outcome")
	h.observe(5*time.Millisecond, "committed")
	h.observe(50*time.Millisecond, "committed")

	var b strings.Builder
	h.write(&b)
	for _, want := range []string{
		`awe_test_seconds_bucket{outcome="committed",le="0.01"} 1`,
		`awe_test_seconds_bucket{outcome="committed",le="0.1"} 2`,
		`awe_test_seconds_bucket{outcome="committed",le="+Inf"} 2`,
		`awe_test_seconds_count{outcome="committed"} 2`,
	} {
		if !strings.Contains(b.String(), want) {
			t.Fatalf("missing %q in\n%s", want, b.String())
		}
	}
}
