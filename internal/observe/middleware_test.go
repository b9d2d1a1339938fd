package observe

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// adminMux mimics the admin routes the middleware fronts.
func adminMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("POST /pause", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"paused":true}`))
	})
	return mux
}

func TestMiddleware_Requests(t *testing.T) {
	tests := []struct {
		method, path string
		wantStatus   int
	}{
		{"POST", "/pause", http.StatusOK},
		{"GET", "/healthz", http.StatusOK},
		{"GET", "/readyz", http.StatusServiceUnavailable},
		{"GET", "/nowhere", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.method+tc.path, func(t *testing.T) {
			exp := useSpanRecorder(t)
			m, reader := newTestMetrics(t)

			rec := httptest.NewRecorder()
			Middleware(m)(adminMux()).ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			if want := "HTTP " + tc.method + " " + tc.path; spans[0].Name != want {
				t.Errorf("span name = %q, want %q", spans[0].Name, want)
			}
			if v, ok := spanAttr(spans[0].Attributes, "http.response.status_code"); !ok || v.AsInt64() != int64(tc.wantStatus) {
				t.Errorf("span status attribute = %v", v)
			}
			if cid := rec.Header().Get("X-Correlation-ID"); cid != spans[0].SpanContext.TraceID().String() {
				t.Errorf("X-Correlation-ID = %q, want span trace id", cid)
			}

			met := findMetric(collect(t, reader), "voxrelay.http.request.duration")
			if met == nil {
				t.Fatal("request duration not recorded")
			}
			dp := met.Data.(metricdata.Histogram[float64]).DataPoints[0]
			if dp.Count != 1 {
				t.Errorf("sample count = %d, want 1", dp.Count)
			}
			for key, want := range map[attribute.Key]string{
				"method": tc.method,
				"path":   tc.path,
				"status": strconv.Itoa(tc.wantStatus),
			} {
				if v, ok := dp.Attributes.Value(key); !ok || v.AsString() != want {
					t.Errorf("attribute %s = %q, want %q", key, v.AsString(), want)
				}
			}
		})
	}
}

func TestMiddleware_QuietPathsLogAtDebug(t *testing.T) {
	useSpanRecorder(t)
	m, _ := newTestMetrics(t)
	buf := captureLog(t, slog.LevelInfo)
	h := Middleware(m)(adminMux())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))
	if buf.Len() != 0 {
		t.Errorf("healthy probe logged at info: %s", buf)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))
	if !strings.Contains(buf.String(), "path=/readyz") {
		t.Errorf("failing probe not logged: %s", buf)
	}
	buf.Reset()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/pause", nil))
	if !strings.Contains(buf.String(), `msg="admin request"`) || !strings.Contains(buf.String(), "path=/pause") {
		t.Errorf("operator request not logged: %s", buf)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	useSpanRecorder(t)
	m, _ := newTestMetrics(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var inner string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest("POST", "/resume", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if inner != traceID {
		t.Errorf("handler correlation id = %q, want %q", inner, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q", got)
	}
	if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, traceID) {
		t.Errorf("traceparent not injected into response: %q", tp)
	}
}
