package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/danmuck/groupcomm/internal/observability"
	"github.com/danmuck/groupcomm/internal/testutil/testlog"
)

type fakeSource struct {
	ready atomic.Bool
}

func (f *fakeSource) Rank() int   { return 1 }
func (f *fakeSource) Size() int   { return 3 }
func (f *fakeSource) Ready() bool { return f.ready.Load() }

func TestHealthAndReadiness(t *testing.T) {
	testlog.Start(t)
	src := &fakeSource{}
	s := New("rank-1", "127.0.0.1:0", src, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready before init status=%d", rec.Code)
	}

	src.ready.Store(true)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status=%d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode ready body: %v", err)
	}
	if body["rank"] != float64(1) || body["size"] != float64(3) || body["ready"] != true {
		t.Fatalf("unexpected ready body: %v", body)
	}
}

func TestMetricsExposeGroupSeries(t *testing.T) {
	testlog.Start(t)
	observability.RecordMessage(0, observability.DirectionSend, "int32", 4)
	s := New("rank-0", "127.0.0.1:0", &fakeSource{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "groupcomm_p2p_messages_total") {
		t.Fatalf("metrics body missing p2p series")
	}
}

func TestStartServesAndShutsDown(t *testing.T) {
	testlog.Start(t)
	s := New("rank-0", "127.0.0.1:0", &fakeSource{}, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatalf("expected second start to fail")
	}
	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status=%d", resp.StatusCode)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
