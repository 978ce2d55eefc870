package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOrNop(t *testing.T) {
	m := OrNop(nil)
	// Must not panic.
	m.TaskDone("pool", false)
	m.CacheLookup("memory", true)
	m.HTTPDone("complete", time.Second, 10)
}

func TestPrometheusExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)
	m.TaskDone("pool", false)
	m.TaskPanicked("pool")
	m.CacheLookup("memory", true)
	m.CacheEvicted("disk", 2)
	m.IODone("read", true, 128)
	m.HTTPDone("truncated", 20*time.Millisecond, 64)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`coverart_tasks_total{component="pool",failed="false"} 1`,
		`coverart_task_panics_total{component="pool"} 1`,
		`coverart_cache_evictions_total{tier="disk"} 2`,
		`coverart_io_bytes_total{kind="read"} 128`,
		`coverart_http_requests_total{outcome="truncated"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
