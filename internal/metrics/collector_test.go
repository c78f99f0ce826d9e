package metrics

import (
	"math"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_ReusesSeries(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "help", `command="ask"`)
	b := c.Counter("x_total", "help", `command="ask"`)
	if a != b {
		t.Fatal("same name and labels must return the same counter")
	}
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Fatalf("expected 3, got %d", a.Value())
	}
}

func TestCollector_RenderGroupsFamilies(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("b_total", "B", `k="2"`).Inc()
	c.Counter("a_total", "A", "").Add(5)
	c.Counter("b_total", "B", `k="1"`).Inc()
	c.Gauge("inflight", "in flight", "").Set(2)
	h := c.Histogram("lat_seconds", "latency", `agent="research"`, []float64{1, 0.5, math.Inf(1)})
	h.Observe(0.7)

	out := c.Render()

	if strings.Count(out, "# HELP b_total") != 1 {
		t.Fatalf("HELP must be written once per family:\n%s", out)
	}
	first := strings.Index(out, `b_total{k="1"} 1`)
	second := strings.Index(out, `b_total{k="2"} 1`)
	if first < 0 || second < 0 || second < first {
		t.Fatalf("series of a family should be contiguous and sorted:\n%s", out)
	}
	for _, want := range []string{
		"a_total 5",
		"inflight 2",
		`lat_seconds_bucket{agent="research",le="0.5"} 0`,
		`lat_seconds_bucket{agent="research",le="1"} 1`,
		`lat_seconds_bucket{agent="research",le="+Inf"} 1`,
		`lat_seconds_count{agent="research"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHandler_ContentType(t *testing.T) {
	c := NewMetricsCollector()
	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "researchbot_uptime_seconds") {
		t.Fatal("uptime gauge missing")
	}
}

func TestHelpers_Labels(t *testing.T) {
	CommandsTotal("deep").Inc()
	AgentLatency("build").Observe(3)
	out := Collector.Render()
	if !strings.Contains(out, `researchbot_commands_total{command="deep"}`) {
		t.Fatalf("command counter not rendered:\n%s", out)
	}
	if !strings.Contains(out, `researchbot_agent_latency_seconds_bucket{agent="build",le="5"} 1`) {
		t.Fatalf("latency histogram not rendered:\n%s", out)
	}
}
