package otel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/runtask-analyzer/internal/config"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.Telemetry{ServiceName: "test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.ToolCalls == nil || m.CallbacksFailed == nil || m.FulfillDuration == nil {
		t.Fatal("expected instruments to be created")
	}
	m.ToolCalls.Add(context.Background(), 1)
}

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()
	m.CallbacksDelivered.Add(context.Background(), 1)
	m.FulfillDuration.Record(context.Background(), 1.5)
}

func TestSpansEnd(t *testing.T) {
	ctx, span := StartFulfillSpan(context.Background(), "run-1", "post_plan", "ws")
	_, phase := StartPhaseSpan(ctx, "summary")
	EndSpan(phase, errors.New("boom"))
	EndSpan(span, nil)
}

func TestHTTPClientAndMiddleware(t *testing.T) {
	srv := httptest.NewServer(HTTPMiddleware("test")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	defer srv.Close()

	resp, err := NewHTTPClient(time.Second).Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}
