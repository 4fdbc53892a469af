package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vet-scribe-service/internal/observability/metrics"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestServer_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordRecordingStart()

	s := NewServer(":0", reg)
	h := s.Handler()

	if code, body := get(t, h, "/healthz"); code != http.StatusOK || body != "ok" {
		t.Errorf("expected healthz ok, got %d %q", code, body)
	}
	if code, body := get(t, h, "/readyz"); code != http.StatusOK || body != "ready" {
		t.Errorf("expected readyz ready, got %d %q", code, body)
	}
	code, body := get(t, h, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", code)
	}
	if !strings.Contains(body, "vet_scribe_recordings_total 1") {
		t.Errorf("expected recordings counter in metrics output, got:\n%s", body)
	}
}

func TestServer_ReadinessCheckFails(t *testing.T) {
	ok := func(context.Context) error { return nil }
	failing := func(context.Context) error { return errors.New("database is closed") }

	s := NewServer(":0", prometheus.NewRegistry(), ok, failing)

	code, body := get(t, s.Handler(), "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if !strings.Contains(body, "database is closed") {
		t.Errorf("expected failing check in body, got %q", body)
	}
}

func TestUnaryServerInterceptor_RecordsCode(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	intercept := UnaryServerInterceptor(m)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err := intercept(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = intercept(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound to pass through, got %v", err)
	}

	if got := testutil.ToFloat64(m.GRPCRequests.WithLabelValues(info.FullMethod, "OK")); got != 1 {
		t.Errorf("expected 1 OK call, got %v", got)
	}
	if got := testutil.ToFloat64(m.GRPCRequests.WithLabelValues(info.FullMethod, "NotFound")); got != 1 {
		t.Errorf("expected 1 NotFound call, got %v", got)
	}
}

func TestStreamServerInterceptor_RecordsCode(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	intercept := StreamServerInterceptor(m)
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}

	err := intercept(nil, nil, info, func(srv interface{}, ss grpc.ServerStream) error {
		return status.Error(codes.Canceled, "client went away")
	})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("expected Canceled, got %v", err)
	}
	if got := testutil.ToFloat64(m.GRPCRequests.WithLabelValues(info.FullMethod, "Canceled")); got != 1 {
		t.Errorf("expected 1 Canceled call, got %v", got)
	}
}
