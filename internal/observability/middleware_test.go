package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/groupcomm/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRequestMiddlewareTagsRankAndRoute(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.ReleaseMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(&buf), "rank-2", 2))
	r.Use(RequestMetricsMiddleware("rank-2"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	unmatched := httpRequests.WithLabelValues("rank-2", http.MethodGet, UnmatchedRoute, "404")
	before := testutil.ToFloat64(unmatched)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/no/such/thing", nil))

	if delta := testutil.ToFloat64(unmatched) - before; delta != 1 {
		t.Fatalf("expected one unmatched request, got delta=%v", delta)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["server"] != "rank-2" || entry["rank"] != float64(2) {
		t.Fatalf("log line missing rank fields: %v", entry)
	}
	if entry["route"] != UnmatchedRoute || entry["path"] != "/no/such/thing" || entry["status"] != float64(404) {
		t.Fatalf("unexpected route fields: %v", entry)
	}
	if entry["level"] != "warn" {
		t.Fatalf("expected warn level for 404, got %v", entry["level"])
	}
}
